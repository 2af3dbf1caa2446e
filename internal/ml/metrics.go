package ml

import (
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/wolfeidau/churnrunner/internal/models"
)

// DecisionThreshold is the probability at or above which a customer is predicted to churn.
const DecisionThreshold = 0.5

// ROCAUC returns the area under the ROC curve. It is 0 when only one class is present.
func ROCAUC(y []int, scores []float64) float64 {
	pos, neg := classCounts(y)
	if pos == 0 || neg == 0 {
		return 0
	}

	sorted := append([]float64(nil), scores...)
	classes := make([]bool, len(y))
	for i, v := range y {
		classes[i] = v == 1
	}
	stat.SortWeightedLabeled(sorted, classes, nil)

	tpr, fpr, _ := stat.ROC(nil, sorted, classes, nil)
	return clamp01(integrate.Trapezoidal(fpr, tpr))
}

// Evaluate scores probabilities against true labels at DecisionThreshold.
func Evaluate(y []int, scores []float64) models.ModelMetrics {
	var cm models.ConfusionMatrix
	for i, p := range scores {
		predicted := p >= DecisionThreshold
		switch {
		case y[i] == 1 && predicted:
			cm.TruePositives++
		case y[i] == 1:
			cm.FalseNegatives++
		case predicted:
			cm.FalsePositives++
		default:
			cm.TrueNegatives++
		}
	}

	precision := ratio(cm.TruePositives, cm.TruePositives+cm.FalsePositives)
	recall := ratio(cm.TruePositives, cm.TruePositives+cm.FalseNegatives)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	return models.ModelMetrics{
		Accuracy:        ratio(cm.TruePositives+cm.TrueNegatives, len(y)),
		Precision:       precision,
		Recall:          recall,
		F1:              f1,
		ROCAUC:          ROCAUC(y, scores),
		Specificity:     ratio(cm.TrueNegatives, cm.TrueNegatives+cm.FalsePositives),
		ConfusionMatrix: cm,
	}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
