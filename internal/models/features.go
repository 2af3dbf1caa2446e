package models

// FeatureNames lists the model input columns in their canonical order.
var FeatureNames = []string{
	"recency_score",
	"frequency_score",
	"monetary_score",
	"engagement_score",
	"tenure_days",
	"activity_trend",
	"avg_transaction_value",
	"days_between_transactions",
}

// FeatureRecord is one row of a features dataset.
type FeatureRecord struct {
	CustomerID              string  `json:"customer_id"`
	RecencyScore            float64 `json:"recency_score"`
	FrequencyScore          float64 `json:"frequency_score"`
	MonetaryScore           float64 `json:"monetary_score"`
	EngagementScore         float64 `json:"engagement_score"`
	TenureDays              float64 `json:"tenure_days"`
	ActivityTrend           float64 `json:"activity_trend"`
	AvgTransactionValue     float64 `json:"avg_transaction_value"`
	DaysBetweenTransactions float64 `json:"days_between_transactions"`
	ChurnLabel              *int    `json:"churn_label,omitempty"`
}

// Vector returns the numeric features in FeatureNames order.
func (r *FeatureRecord) Vector() []float64 {
	return []float64{
		r.RecencyScore,
		r.FrequencyScore,
		r.MonetaryScore,
		r.EngagementScore,
		r.TenureDays,
		r.ActivityTrend,
		r.AvgTransactionValue,
		r.DaysBetweenTransactions,
	}
}

// SetVector assigns the numeric features from a slice in FeatureNames order.
func (r *FeatureRecord) SetVector(v []float64) {
	r.RecencyScore = v[0]
	r.FrequencyScore = v[1]
	r.MonetaryScore = v[2]
	r.EngagementScore = v[3]
	r.TenureDays = v[4]
	r.ActivityTrend = v[5]
	r.AvgTransactionValue = v[6]
	r.DaysBetweenTransactions = v[7]
}

// Snapshot returns the features keyed by name.
func (r *FeatureRecord) Snapshot() map[string]float64 {
	v := r.Vector()
	out := make(map[string]float64, len(v))
	for i, name := range FeatureNames {
		out[name] = v[i]
	}
	return out
}
