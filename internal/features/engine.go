// Package features derives per-customer behavioral features (recency, frequency,
// monetary, engagement and activity shape) from raw event rows.
package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/wolfeidau/churnrunner/internal/models"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Config holds the windows used by the engine.
type Config struct {
	LookbackDays       int     `yaml:"lookback_days"`        // window for frequency and monetary
	TrendWindowDays    int     `yaml:"trend_window_days"`    // trailing window for activity trend
	RecencyHorizonDays int     `yaml:"recency_horizon_days"` // days of inactivity at which recency reaches 0
	FrequencyCap       int     `yaml:"frequency_cap"`        // events in the lookback window that score 100
	MonetaryQuantile   float64 `yaml:"monetary_quantile"`    // quantile of per-customer spend that scores 100
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.LookbackDays == 0 {
		c.LookbackDays = 90
	}
	if c.TrendWindowDays == 0 {
		c.TrendWindowDays = 30
	}
	if c.RecencyHorizonDays == 0 {
		c.RecencyHorizonDays = 365
	}
	if c.FrequencyCap == 0 {
		c.FrequencyCap = 100
	}
	if c.MonetaryQuantile == 0 {
		c.MonetaryQuantile = 0.95
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.LookbackDays < 1 || c.TrendWindowDays < 1 || c.RecencyHorizonDays < 1 || c.FrequencyCap < 1 {
		return fmt.Errorf("feature windows must be positive")
	}
	if c.MonetaryQuantile <= 0 || c.MonetaryQuantile > 1 {
		return fmt.Errorf("monetary quantile must be in (0, 1]")
	}
	return nil
}

// Engine computes feature records. It is stateless and safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine, applying defaults to cfg.
func NewEngine(cfg Config) *Engine {
	cfg.ApplyDefaults()
	return &Engine{cfg: cfg}
}

// Compute derives one record per customer, ordered by customer id, and returns the
// monetary reference (the configured quantile of per-customer lookback spend) used to
// normalise monetary scores. The same reference must be passed to ComputeCustomer at
// inference time.
func (e *Engine) Compute(txns []models.Transaction, referenceDate time.Time) ([]*models.FeatureRecord, float64) {
	groups := make(map[string][]models.Transaction)
	for _, t := range txns {
		groups[t.CustomerID] = append(groups[t.CustomerID], t)
	}

	ids := make([]string, 0, len(groups))
	spend := make([]float64, 0, len(groups))
	for id, events := range groups {
		ids = append(ids, id)
		spend = append(spend, e.windowSpend(events, referenceDate))
	}
	sort.Strings(ids)

	monetaryRef := e.MonetaryReference(spend)

	records := make([]*models.FeatureRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, e.ComputeCustomer(id, groups[id], referenceDate, monetaryRef))
	}
	return records, monetaryRef
}

// MonetaryReference returns the configured quantile of the given spend totals,
// or 1 when it would otherwise be zero.
func (e *Engine) MonetaryReference(spend []float64) float64 {
	if len(spend) == 0 {
		return 1
	}
	sorted := append([]float64(nil), spend...)
	sort.Float64s(sorted)

	ref := stat.Quantile(e.cfg.MonetaryQuantile, stat.LinInterp, sorted, nil)
	if ref <= 0 || math.IsNaN(ref) {
		return 1
	}
	return ref
}

// ComputeCustomer derives the features for a single customer's events.
func (e *Engine) ComputeCustomer(customerID string, events []models.Transaction, referenceDate time.Time, monetaryRef float64) *models.FeatureRecord {
	rec := &models.FeatureRecord{CustomerID: customerID}
	if len(events) == 0 {
		return rec
	}
	if monetaryRef <= 0 {
		monetaryRef = 1
	}

	dates := make([]time.Time, len(events))
	amounts := make([]float64, len(events))
	var windowCount int
	var windowSpend float64
	for i, t := range events {
		dates[i] = t.EventDate
		amounts[i] = t.Amount
		if age := daysBetween(t.EventDate, referenceDate); age <= float64(e.cfg.LookbackDays) {
			windowCount++
			windowSpend += t.Amount
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	first, last := dates[0], dates[len(dates)-1]
	tenure := math.Max(0, daysBetween(first, last))
	sinceLast := daysBetween(last, referenceDate)

	rec.RecencyScore = 100 * clamp(1-sinceLast/float64(e.cfg.RecencyHorizonDays), 0, 1)
	rec.FrequencyScore = 100 * math.Min(float64(windowCount)/float64(e.cfg.FrequencyCap), 1)
	rec.MonetaryScore = 100 * clamp(windowSpend/monetaryRef, 0, 1)
	rec.TenureDays = tenure

	velocity := float64(len(events)) / math.Max(tenure, 1)
	engagement := 0.4*rec.RecencyScore + 0.3*rec.FrequencyScore + 0.3*math.Min(100, velocity*1000)
	rec.EngagementScore = clamp(engagement, 0, 100)

	rec.ActivityTrend = e.activityTrend(dates, referenceDate)
	rec.AvgTransactionValue = math.Max(0, stat.Mean(amounts, nil))
	rec.DaysBetweenTransactions = meanPositiveGap(dates, tenure)

	return rec
}

func (e *Engine) windowSpend(events []models.Transaction, referenceDate time.Time) float64 {
	var sum float64
	for _, t := range events {
		if daysBetween(t.EventDate, referenceDate) <= float64(e.cfg.LookbackDays) {
			sum += t.Amount
		}
	}
	return sum
}

// activityTrend is the least squares slope of daily event counts against day offset over
// the trailing window. Customers active on fewer than two distinct days have no trend.
func (e *Engine) activityTrend(sortedDates []time.Time, referenceDate time.Time) float64 {
	window := float64(e.cfg.TrendWindowDays)
	counts := make(map[float64]float64)
	for _, d := range sortedDates {
		age := daysBetween(d, referenceDate)
		if age < 0 || age >= window {
			continue
		}
		counts[window-age]++
	}
	if len(counts) < 2 {
		return 0
	}

	xs := make([]float64, 0, len(counts))
	for x := range counts {
		xs = append(xs, x)
	}
	sort.Float64s(xs)
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = counts[x]
	}

	_, slope := stat.LinearRegression(xs, ys, nil, false)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 0
	}
	return slope
}

// meanPositiveGap is the mean number of days between consecutive distinct event days,
// or fallback when there are no gaps.
func meanPositiveGap(sortedDates []time.Time, fallback float64) float64 {
	gaps := make([]float64, 0, len(sortedDates))
	for i := 1; i < len(sortedDates); i++ {
		if gap := daysBetween(sortedDates[i-1], sortedDates[i]); gap > 0 {
			gaps = append(gaps, gap)
		}
	}
	if len(gaps) == 0 {
		return fallback
	}
	return floats.Sum(gaps) / float64(len(gaps))
}

// daysBetween returns the whole number of days from a to b.
func daysBetween(a, b time.Time) float64 {
	return math.Floor(b.Sub(a).Hours() / 24)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
