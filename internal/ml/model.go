package ml

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/models"
)

// Algorithm names a candidate model family.
type Algorithm string

const (
	LogisticRegressionAlgorithm Algorithm = models.ModelTypeLogisticRegression
	RandomForestAlgorithm       Algorithm = models.ModelTypeRandomForest
	GradientBoostingAlgorithm   Algorithm = models.ModelTypeGradientBoosting
)

// Candidates lists every algorithm in tie-break preference order.
var Candidates = []Algorithm{
	LogisticRegressionAlgorithm,
	RandomForestAlgorithm,
	GradientBoostingAlgorithm,
}

// ParseModelType validates a requested model type. "auto" returns an empty Algorithm.
func ParseModelType(s string) (Algorithm, error) {
	if s == "" || s == models.ModelTypeAuto {
		return "", nil
	}
	for _, a := range Candidates {
		if string(a) == s {
			return a, nil
		}
	}
	return "", apperrors.Validation("unknown model_type %q", s)
}

// Params are the hyperparameters of one candidate configuration.
type Params map[string]float64

func (p Params) get(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

func (p Params) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := ""
	for i, k := range keys {
		if i > 0 {
			s += ","
		}
		s += k + "=" + strconv.FormatFloat(p[k], 'g', -1, 64)
	}
	return s
}

// DefaultParams returns the untuned configuration of an algorithm.
func DefaultParams(a Algorithm) Params {
	switch a {
	case LogisticRegressionAlgorithm:
		return Params{"c": 1}
	case RandomForestAlgorithm:
		return Params{"n_estimators": 100, "max_depth": 10}
	case GradientBoostingAlgorithm:
		return Params{"n_estimators": 100, "learning_rate": 0.1, "max_depth": 3}
	}
	return Params{}
}

// ParamGrid returns the tuning grid of an algorithm.
func ParamGrid(a Algorithm) []Params {
	var grid []Params
	switch a {
	case LogisticRegressionAlgorithm:
		for _, c := range []float64{0.01, 0.1, 1, 10} {
			grid = append(grid, Params{"c": c})
		}
	case RandomForestAlgorithm:
		for _, n := range []float64{50, 100} {
			for _, depth := range []float64{5, 10} {
				grid = append(grid, Params{"n_estimators": n, "max_depth": depth})
			}
		}
	case GradientBoostingAlgorithm:
		for _, n := range []float64{50, 100} {
			for _, lr := range []float64{0.05, 0.1} {
				grid = append(grid, Params{"n_estimators": n, "learning_rate": lr, "max_depth": 3})
			}
		}
	}
	return grid
}

// Model is a fitted classifier of one algorithm family. Exactly one of the family fields is
// set once fitted.
type Model struct {
	Algorithm Algorithm           `json:"algorithm"`
	Params    Params              `json:"params"`
	Logistic  *LogisticRegression `json:"logistic,omitempty"`
	Forest    *RandomForest       `json:"forest,omitempty"`
	Boosting  *GradientBoosting   `json:"boosting,omitempty"`
}

// NewModel returns an unfitted model.
func NewModel(a Algorithm, params Params, seed uint64) (*Model, error) {
	m := &Model{Algorithm: a, Params: params}
	switch a {
	case LogisticRegressionAlgorithm:
		m.Logistic = &LogisticRegression{C: params.get("c", 1)}
	case RandomForestAlgorithm:
		m.Forest = &RandomForest{
			NEstimators: int(params.get("n_estimators", 100)),
			MaxDepth:    int(params.get("max_depth", 10)),
			Seed:        seed,
		}
	case GradientBoostingAlgorithm:
		m.Boosting = &GradientBoosting{
			NEstimators:  int(params.get("n_estimators", 100)),
			LearningRate: params.get("learning_rate", 0.1),
			MaxDepth:     int(params.get("max_depth", 3)),
		}
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", a)
	}
	return m, nil
}

// Fit trains the model on standardized rows with per-sample weights.
func (m *Model) Fit(x [][]float64, y []int, w []float64) error {
	switch {
	case m.Logistic != nil:
		return m.Logistic.Fit(x, y, w)
	case m.Forest != nil:
		return m.Forest.Fit(x, y, w)
	case m.Boosting != nil:
		return m.Boosting.Fit(x, y, w)
	}
	return fmt.Errorf("model %q has no estimator", m.Algorithm)
}

// PredictProba returns the churn probability of a standardized row.
func (m *Model) PredictProba(row []float64) float64 {
	switch {
	case m.Logistic != nil:
		return m.Logistic.PredictProba(row)
	case m.Forest != nil:
		return m.Forest.PredictProba(row)
	case m.Boosting != nil:
		return m.Boosting.PredictProba(row)
	}
	return 0
}

// Importance returns per-feature importance, valid after Fit.
func (m *Model) Importance() []float64 {
	switch {
	case m.Logistic != nil:
		return m.Logistic.Importance()
	case m.Forest != nil:
		return m.Forest.Importance()
	case m.Boosting != nil:
		return m.Boosting.Importance()
	}
	return nil
}

func (m *Model) predictAll(x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = m.PredictProba(row)
	}
	return out
}
