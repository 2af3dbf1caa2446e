package features

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/churnrunner/internal/models"
)

var ref = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time {
	return ref.AddDate(0, 0, -n)
}

func txn(customer string, age int, amount float64) models.Transaction {
	return models.Transaction{CustomerID: customer, EventDate: daysAgo(age), Amount: amount}
}

func TestComputeCustomer(t *testing.T) {
	e := NewEngine(Config{})

	t.Run("multiple events", func(t *testing.T) {
		events := []models.Transaction{txn("a", 5, 10), txn("a", 40, 20), txn("a", 100, 30)}
		rec := e.ComputeCustomer("a", events, ref, 60)

		require.InDelta(t, 100*(1-5.0/365), rec.RecencyScore, 1e-9)
		require.InDelta(t, 2.0, rec.FrequencyScore, 1e-9) // 2 events within 90 days
		require.InDelta(t, 50.0, rec.MonetaryScore, 1e-9) // (10+20)/60
		require.InDelta(t, 95.0, rec.TenureDays, 1e-9)
		require.InDelta(t, 20.0, rec.AvgTransactionValue, 1e-9)
		require.InDelta(t, 47.5, rec.DaysBetweenTransactions, 1e-9)
		require.Zero(t, rec.ActivityTrend) // only one day in the trailing 30

		velocity := 3.0 / 95.0
		want := 0.4*rec.RecencyScore + 0.3*rec.FrequencyScore + 0.3*velocity*1000
		require.InDelta(t, want, rec.EngagementScore, 1e-9)
	})

	t.Run("single event", func(t *testing.T) {
		rec := e.ComputeCustomer("b", []models.Transaction{txn("b", 60, 0)}, ref, 1)

		require.Greater(t, rec.FrequencyScore, 0.0)
		require.Zero(t, rec.TenureDays)
		require.Zero(t, rec.DaysBetweenTransactions)
		require.Zero(t, rec.AvgTransactionValue)
		require.InDelta(t, 100*(1-60.0/365), rec.RecencyScore, 1e-9)
	})

	t.Run("long inactivity floors recency", func(t *testing.T) {
		rec := e.ComputeCustomer("c", []models.Transaction{txn("c", 500, 5), txn("c", 400, 5)}, ref, 1)

		require.Zero(t, rec.RecencyScore)
		require.Zero(t, rec.FrequencyScore)
		require.Zero(t, rec.MonetaryScore)
	})

	t.Run("rising activity has positive trend", func(t *testing.T) {
		var events []models.Transaction
		for day := 1; day <= 5; day++ {
			for i := 0; i < day; i++ {
				events = append(events, txn("d", 25-day*4, 1))
			}
		}
		rec := e.ComputeCustomer("d", events, ref, 1)
		require.Greater(t, rec.ActivityTrend, 0.0)
	})

	t.Run("same day events use tenure for gaps", func(t *testing.T) {
		rec := e.ComputeCustomer("e", []models.Transaction{txn("e", 3, 1), txn("e", 3, 1)}, ref, 1)
		require.Zero(t, rec.DaysBetweenTransactions)
		require.InDelta(t, 2.0, rec.FrequencyScore, 1e-9)
	})
}

func TestMonetaryReference(t *testing.T) {
	e := NewEngine(Config{})

	require.Equal(t, 1.0, e.MonetaryReference(nil))
	require.Equal(t, 1.0, e.MonetaryReference([]float64{0, 0, 0}))

	spend := make([]float64, 101)
	for i := range spend {
		spend[i] = float64(i)
	}
	// linear interpolation of the empirical CDF: 0.05*94 + 0.95*95
	require.InDelta(t, 94.95, e.MonetaryReference(spend), 1e-9)
}

func TestComputeProperties(t *testing.T) {
	e := NewEngine(Config{})
	rng := rand.New(rand.NewPCG(7, 11))

	var txns []models.Transaction
	for c := 0; c < 200; c++ {
		n := 1 + rng.IntN(30)
		for i := 0; i < n; i++ {
			txns = append(txns, txn(fmt.Sprintf("cust-%03d", c), rng.IntN(600), rng.Float64()*500))
		}
	}

	records, monetaryRef := e.Compute(txns, ref)
	require.Len(t, records, 200)
	require.Greater(t, monetaryRef, 0.0)

	for i, rec := range records {
		if i > 0 {
			require.Less(t, records[i-1].CustomerID, rec.CustomerID)
		}
		for _, score := range []float64{rec.RecencyScore, rec.FrequencyScore, rec.MonetaryScore, rec.EngagementScore} {
			require.GreaterOrEqual(t, score, 0.0)
			require.LessOrEqual(t, score, 100.0)
		}
		require.GreaterOrEqual(t, rec.TenureDays, 0.0)
		require.GreaterOrEqual(t, rec.AvgTransactionValue, 0.0)
		require.GreaterOrEqual(t, rec.DaysBetweenTransactions, 0.0)
	}

	again, againRef := e.Compute(txns, ref)
	require.Equal(t, records, again)
	require.Equal(t, monetaryRef, againRef)
}
