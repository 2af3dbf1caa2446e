// Package labeler derives binary churn labels from customer inactivity.
package labeler

import (
	"math"
	"time"

	"github.com/wolfeidau/churnrunner/internal/models"
)

// Label returns 1 when the customer has been inactive for at least thresholdDays
// at referenceDate, otherwise 0.
func Label(lastEvent, referenceDate time.Time, thresholdDays int) int {
	days := math.Floor(referenceDate.Sub(lastEvent).Hours() / 24)
	if days >= float64(thresholdDays) {
		return 1
	}
	return 0
}

// LastEvents returns each customer's most recent event date.
func LastEvents(txns []models.Transaction) map[string]time.Time {
	last := make(map[string]time.Time)
	for _, t := range txns {
		if cur, ok := last[t.CustomerID]; !ok || t.EventDate.After(cur) {
			last[t.CustomerID] = t.EventDate
		}
	}
	return last
}

// ExplicitLabels returns the churn label supplied in the data for each customer that has
// one. When a customer has several labeled rows the row with the latest event date wins,
// and for equal dates the later row wins.
func ExplicitLabels(txns []models.Transaction) map[string]int {
	labels := make(map[string]int)
	dates := make(map[string]time.Time)
	for _, t := range txns {
		if t.ChurnLabel == nil {
			continue
		}
		if cur, ok := dates[t.CustomerID]; ok && t.EventDate.Before(cur) {
			continue
		}
		dates[t.CustomerID] = t.EventDate
		labels[t.CustomerID] = *t.ChurnLabel
	}
	return labels
}

// Labels computes a label for every customer in txns. Explicit labels are used only when
// honorExplicit is set; every other customer is auto labeled from inactivity.
func Labels(txns []models.Transaction, referenceDate time.Time, thresholdDays int, honorExplicit bool) map[string]int {
	labels := make(map[string]int)
	for id, last := range LastEvents(txns) {
		labels[id] = Label(last, referenceDate, thresholdDays)
	}
	if honorExplicit {
		for id, label := range ExplicitLabels(txns) {
			labels[id] = label
		}
	}
	return labels
}

// Apply fills missing labels on records from labels. Records that already carry a label
// keep it. It returns the number of records that remain unlabeled.
func Apply(records []*models.FeatureRecord, labels map[string]int) int {
	var missing int
	for _, rec := range records {
		if rec.ChurnLabel != nil {
			continue
		}
		label, ok := labels[rec.CustomerID]
		if !ok {
			missing++
			continue
		}
		rec.ChurnLabel = &label
	}
	return missing
}
