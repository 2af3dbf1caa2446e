package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/models"
)

func TestFeaturesCodec(t *testing.T) {
	one := 1
	records := []*models.FeatureRecord{
		{
			CustomerID:              "c1",
			RecencyScore:            98.63013698630137,
			FrequencyScore:          3,
			MonetaryScore:           41.25,
			EngagementScore:         55.1,
			TenureDays:              95,
			ActivityTrend:           -0.0123456789,
			AvgTransactionValue:     12.5,
			DaysBetweenTransactions: 47.5,
			ChurnLabel:              &one,
		},
		{CustomerID: "c,2", TenureDays: 0},
	}

	encoded, err := EncodeFeatures(records)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(encoded), "customer_id,recency_score,"))

	decoded, err := DecodeFeatures(encoded)
	require.NoError(t, err)
	require.Equal(t, records, decoded)

	again, err := EncodeFeatures(decoded)
	require.NoError(t, err)
	require.Equal(t, encoded, again)
}

func TestDecodeFeaturesRejectsBadHeader(t *testing.T) {
	_, err := DecodeFeatures([]byte("customer_id,foo\nc1,1\n"))
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestEncodePredictions(t *testing.T) {
	out, err := EncodePredictions([]*models.CustomerPrediction{
		{ExternalCustomerID: "c1", ChurnProbability: 0.25, RiskSegment: models.RiskLow},
		{ExternalCustomerID: "c2", ChurnProbability: 0.75, RiskSegment: models.RiskCritical},
	})
	require.NoError(t, err)
	require.Equal(t, "customer_id,churn_probability,risk_segment\nc1,0.25,Low\nc2,0.75,Critical\n", string(out))
}
