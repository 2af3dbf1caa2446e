package ml

import (
	"fmt"
	"math"
)

// GradientBoosting fits an additive model of regression trees on the log loss.
// Each tree is fit to the residuals and its leaves take a Newton step.
type GradientBoosting struct {
	NEstimators  int     `json:"n_estimators"`
	LearningRate float64 `json:"learning_rate"`
	MaxDepth     int     `json:"max_depth"`
	Init         float64 `json:"init"` // prior log odds
	Trees        []*Tree `json:"trees"`
	importance   []float64
}

// Fit grows the ensemble.
func (m *GradientBoosting) Fit(x [][]float64, y []int, w []float64) error {
	if len(x) == 0 {
		return fmt.Errorf("no training rows")
	}
	if m.NEstimators <= 0 {
		m.NEstimators = 100
	}
	if m.LearningRate <= 0 {
		m.LearningRate = 0.1
	}
	if m.MaxDepth <= 0 {
		m.MaxDepth = 3
	}

	n, d := len(x), len(x[0])

	var sumW, sumWy float64
	for i, v := range y {
		sumW += w[i]
		sumWy += w[i] * float64(v)
	}
	prior := math.Min(math.Max(sumWy/sumW, 1e-6), 1-1e-6)
	m.Init = math.Log(prior / (1 - prior))

	raw := make([]float64, n)
	for i := range raw {
		raw[i] = m.Init
	}

	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}

	residual := make([]float64, n)
	hessian := make([]float64, n)
	m.Trees = make([]*Tree, 0, m.NEstimators)
	m.importance = make([]float64, d)

	for t := 0; t < m.NEstimators; t++ {
		for i := range raw {
			p := sigmoid(raw[i])
			residual[i] = float64(y[i]) - p
			hessian[i] = math.Max(p*(1-p), 1e-12)
		}

		tree := buildTree(x, residual, w, hessian, rows, treeParams{
			maxDepth:       m.MaxDepth,
			minSamplesLeaf: 1,
		}, m.importance)
		m.Trees = append(m.Trees, tree)

		for i, row := range x {
			raw[i] += m.LearningRate * tree.Predict(row)
		}
	}

	normalize(m.importance)
	return nil
}

// PredictProba returns the probability of the positive class.
func (m *GradientBoosting) PredictProba(row []float64) float64 {
	raw := m.Init
	for _, t := range m.Trees {
		raw += m.LearningRate * t.Predict(row)
	}
	return sigmoid(raw)
}

// Importance returns normalised impurity decrease per feature.
func (m *GradientBoosting) Importance() []float64 {
	return m.importance
}
