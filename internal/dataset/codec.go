package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/models"
)

// featureHeader is customer_id, the model features in canonical order, then churn_label.
func featureHeader() []string {
	header := append([]string{ColCustomerID}, models.FeatureNames...)
	return append(header, ColChurnLabel)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// EncodeFeatures writes feature records as CSV. Floats use the shortest representation
// that round trips exactly, so re-encoding identical records yields identical bytes.
func EncodeFeatures(records []*models.FeatureRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(featureHeader()); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for _, rec := range records {
		row := make([]string, 0, len(models.FeatureNames)+2)
		row = append(row, rec.CustomerID)
		for _, v := range rec.Vector() {
			row = append(row, formatFloat(v))
		}
		if rec.ChurnLabel != nil {
			row = append(row, strconv.Itoa(*rec.ChurnLabel))
		} else {
			row = append(row, "")
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFeatures parses a features CSV produced by EncodeFeatures.
func DecodeFeatures(data []byte) ([]*models.FeatureRecord, error) {
	r := csv.NewReader(bytes.NewReader(data))
	rows, err := r.ReadAll()
	if err != nil {
		return nil, apperrors.Validation("unreadable features csv: %v", err)
	}
	if len(rows) == 0 {
		return nil, apperrors.Validation("features csv is empty")
	}

	want := featureHeader()
	if len(rows[0]) != len(want) {
		return nil, apperrors.Validation("features csv has %d columns, expected %d", len(rows[0]), len(want))
	}
	for i, name := range want {
		if rows[0][i] != name {
			return nil, apperrors.Validation("features csv column %d is %q, expected %q", i, rows[0][i], name)
		}
	}

	records := make([]*models.FeatureRecord, 0, len(rows)-1)
	for n, row := range rows[1:] {
		rec := &models.FeatureRecord{CustomerID: row[0]}

		vec := make([]float64, len(models.FeatureNames))
		for i := range models.FeatureNames {
			v, err := strconv.ParseFloat(row[i+1], 64)
			if err != nil {
				return nil, apperrors.Validation("features row %d: invalid %s %q", n+1, models.FeatureNames[i], row[i+1])
			}
			vec[i] = v
		}
		rec.SetVector(vec)

		if raw := row[len(row)-1]; raw != "" {
			label, err := parseLabel(raw)
			if err != nil {
				return nil, apperrors.Validation("features row %d: %v", n+1, err)
			}
			rec.ChurnLabel = &label
		}

		records = append(records, rec)
	}

	return records, nil
}

// EncodePredictions writes the batch prediction output file.
func EncodePredictions(predictions []*models.CustomerPrediction) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{ColCustomerID, "churn_probability", "risk_segment"}); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for _, p := range predictions {
		row := []string{p.ExternalCustomerID, formatFloat(p.ChurnProbability), string(p.RiskSegment)}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
