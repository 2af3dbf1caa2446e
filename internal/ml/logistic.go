package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// LogisticRegression is an L2 regularised logistic model fitted with L-BFGS.
// C is the inverse regularisation strength; the intercept is not penalised.
type LogisticRegression struct {
	C         float64   `json:"c"`
	MaxIter   int       `json:"max_iter"`
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	ez := math.Exp(z)
	return ez / (1 + ez)
}

// softplus computes log(1 + exp(z)) without overflow.
func softplus(z float64) float64 {
	return math.Max(z, 0) + math.Log1p(math.Exp(-math.Abs(z)))
}

// Fit minimises the weighted log loss plus ||coef||^2 / (2C).
func (m *LogisticRegression) Fit(x [][]float64, y []int, w []float64) error {
	if len(x) == 0 {
		return fmt.Errorf("no training rows")
	}
	if m.C <= 0 {
		m.C = 1
	}
	if m.MaxIter <= 0 {
		m.MaxIter = 500
	}
	d := len(x[0])
	lambda := 1 / m.C

	// params[0] is the intercept, params[1:] the coefficients
	z := make([]float64, len(x))
	linear := func(params []float64) {
		for i, row := range x {
			z[i] = params[0] + floats.Dot(params[1:], row)
		}
	}

	problem := optimize.Problem{
		Func: func(params []float64) float64 {
			linear(params)
			var loss float64
			for i := range x {
				loss += w[i] * (softplus(z[i]) - float64(y[i])*z[i])
			}
			return loss + 0.5*lambda*floats.Dot(params[1:], params[1:])
		},
		Grad: func(grad, params []float64) {
			linear(params)
			for j := range grad {
				grad[j] = 0
			}
			for i, row := range x {
				r := w[i] * (sigmoid(z[i]) - float64(y[i]))
				grad[0] += r
				floats.AddScaled(grad[1:], r, row)
			}
			floats.AddScaled(grad[1:], lambda, params[1:])
		},
	}

	init := make([]float64, d+1)
	result, err := optimize.Minimize(problem, init, &optimize.Settings{
		GradientThreshold: 1e-6,
		MajorIterations:   m.MaxIter,
	}, &optimize.LBFGS{})
	if result == nil {
		return fmt.Errorf("logistic regression did not converge: %w", err)
	}
	for _, v := range result.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("logistic regression diverged")
		}
	}

	m.Intercept = result.X[0]
	m.Coef = append([]float64(nil), result.X[1:]...)
	return nil
}

// PredictProba returns the probability of the positive class.
func (m *LogisticRegression) PredictProba(row []float64) float64 {
	return sigmoid(m.Intercept + floats.Dot(m.Coef, row))
}

// Importance returns the absolute coefficient of each feature.
func (m *LogisticRegression) Importance() []float64 {
	out := make([]float64, len(m.Coef))
	for j, c := range m.Coef {
		out[j] = math.Abs(c)
	}
	return out
}
