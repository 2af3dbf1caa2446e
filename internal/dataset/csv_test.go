package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/churnrunner/internal/apperrors"
)

func TestParseRaw(t *testing.T) {
	t.Run("standard and extra columns", func(t *testing.T) {
		data := []byte("Customer_ID, event_date,amount,event_type,plan\n" +
			" c1 ,2025-03-01,10.5,purchase,gold\n" +
			"c2,2025-03-02T10:30:00Z,,login,free\n")

		res, err := ParseRaw(data, false)
		require.NoError(t, err)
		require.Empty(t, res.RowErrors)
		require.Len(t, res.Transactions, 2)

		first := res.Transactions[0]
		require.Equal(t, "c1", first.CustomerID)
		require.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), first.EventDate)
		require.InDelta(t, 10.5, first.Amount, 1e-9)
		require.Equal(t, "purchase", first.EventType)
		require.Equal(t, map[string]string{"plan": "gold"}, first.Extra)

		second := res.Transactions[1]
		require.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), second.EventDate)
		require.Zero(t, second.Amount)
	})

	t.Run("missing required column", func(t *testing.T) {
		_, err := ParseRaw([]byte("customer_id,amount\nc1,10\n"), false)
		require.ErrorIs(t, err, apperrors.ErrValidation)
		require.Contains(t, err.Error(), "event_date")
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := ParseRaw(nil, false)
		require.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("row errors are collected", func(t *testing.T) {
		data := []byte("customer_id,event_date,amount\n" +
			"c1,2025-03-01,5\n" +
			",2025-03-01,5\n" +
			"c3,03/01/2025,5\n" +
			"c4,2025-03-01,-2\n" +
			"c5,2025-03-01,abc\n")

		res, err := ParseRaw(data, false)
		require.NoError(t, err)
		require.Len(t, res.Transactions, 1)
		require.Len(t, res.RowErrors, 4)
		require.Equal(t, 2, res.RowErrors[0].Row)
		require.Equal(t, "c3", res.RowErrors[1].CustomerID)
		require.Contains(t, res.RowErrors[2].Error(), "negative")
	})

	t.Run("churn label only honored when declared", func(t *testing.T) {
		data := []byte("customer_id,event_date,churn_label\nc1,2025-03-01,1\nc2,2025-03-01,\n")

		undeclared, err := ParseRaw(data, false)
		require.NoError(t, err)
		require.Nil(t, undeclared.Transactions[0].ChurnLabel)
		require.Nil(t, undeclared.Transactions[0].Extra)

		declared, err := ParseRaw(data, true)
		require.NoError(t, err)
		require.NotNil(t, declared.Transactions[0].ChurnLabel)
		require.Equal(t, 1, *declared.Transactions[0].ChurnLabel)
		require.Nil(t, declared.Transactions[1].ChurnLabel)
	})

	t.Run("invalid churn label", func(t *testing.T) {
		res, err := ParseRaw([]byte("customer_id,event_date,churn_label\nc1,2025-03-01,yes\n"), true)
		require.NoError(t, err)
		require.Len(t, res.RowErrors, 1)
	})
}

func TestValidateRaw(t *testing.T) {
	t.Run("rejects any invalid row", func(t *testing.T) {
		_, err := ValidateRaw([]byte("customer_id,event_date\nc1,2025-03-01\nc2,not-a-date\n"), false)
		require.ErrorIs(t, err, apperrors.ErrValidation)
		require.Contains(t, err.Error(), "not-a-date")
	})

	t.Run("declared label requires column", func(t *testing.T) {
		_, err := ValidateRaw([]byte("customer_id,event_date\nc1,2025-03-01\n"), true)
		require.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("header only is accepted", func(t *testing.T) {
		res, err := ValidateRaw([]byte("customer_id,event_date\n"), false)
		require.NoError(t, err)
		require.Empty(t, res.Transactions)
	})
}

func TestGroupByCustomer(t *testing.T) {
	res, err := ParseRaw([]byte("customer_id,event_date\nb,2025-01-01\na,2025-01-02\nb,2025-01-03\n"), false)
	require.NoError(t, err)

	order, groups := GroupByCustomer(res.Transactions)
	require.Equal(t, []string{"b", "a"}, order)
	require.Len(t, groups["b"], 2)
	require.Len(t, groups["a"], 1)
}
