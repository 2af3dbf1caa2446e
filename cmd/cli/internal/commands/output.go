package commands

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/wolfeidau/churnrunner/internal/api"
	"github.com/wolfeidau/churnrunner/internal/models"
)

// openOutput returns stdout for "-" or creates the named file with its parent directories.
func openOutput(path string) (io.Writer, func(), error) {
	if path == "-" || path == "" {
		return os.Stdout, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printTrainingSummary(w io.Writer, status api.TrainingStatus) {
	fmt.Fprintf(w, "Model:            %s (%s)\n", status.ModelType, status.ModelID)
	fmt.Fprintf(w, "Training samples: %d, churn rate %.1f%%\n", status.TrainingSamples, status.ChurnRate*100)
	if m := status.Metrics; m != nil {
		fmt.Fprintf(w, "ROC AUC:          %.3f (cv %.3f ± %.3f)\n", m.ROCAUC, m.CVMean, m.CVStd)
		fmt.Fprintf(w, "Accuracy:         %.3f  precision %.3f  recall %.3f  f1 %.3f\n", m.Accuracy, m.Precision, m.Recall, m.F1)
	}
}

func printBatchSummary(w io.Writer, batch api.Batch) {
	fmt.Fprintf(w, "Scored customers: %d, average churn probability %.3f\n", batch.TotalCustomers-len(batch.Errors), batch.AvgChurnProbability)
	for _, seg := range models.RiskSegments {
		fmt.Fprintf(w, "  %-9s %d\n", seg, batch.RiskDistribution[seg])
	}
	for _, e := range batch.Errors {
		fmt.Fprintf(w, "  skipped %s: %s\n", e.CustomerID, e.Error)
	}
	if batch.SkippedRows > 0 {
		fmt.Fprintf(w, "  skipped %d rows without a customer_id\n", batch.SkippedRows)
	}
}

func writePredictions(w io.Writer, predictions []api.Prediction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"customer_id", "churn_probability", "risk_segment"}); err != nil {
		return err
	}
	for _, p := range predictions {
		record := []string{
			p.CustomerID,
			strconv.FormatFloat(p.ChurnProbability, 'f', 6, 64),
			p.RiskSegment,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
