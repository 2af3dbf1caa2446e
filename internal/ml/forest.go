package ml

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// RandomForest averages class probability trees grown on bootstrap samples with a random
// subset of sqrt(d) features considered at each split.
type RandomForest struct {
	NEstimators int     `json:"n_estimators"`
	MaxDepth    int     `json:"max_depth"`
	Seed        uint64  `json:"seed"`
	Trees       []*Tree `json:"trees"`
	importance  []float64
}

// Fit grows the forest. Bootstrap multiplicities are folded into the sample weights.
func (m *RandomForest) Fit(x [][]float64, y []int, w []float64) error {
	if len(x) == 0 {
		return fmt.Errorf("no training rows")
	}
	if m.NEstimators <= 0 {
		m.NEstimators = 100
	}
	if m.MaxDepth <= 0 {
		m.MaxDepth = 10
	}

	n, d := len(x), len(x[0])
	rng := rand.New(rand.NewPCG(m.Seed, m.Seed^0xda942042e4dd58b5))
	maxFeatures := max(1, int(math.Round(math.Sqrt(float64(d)))))

	target := make([]float64, n)
	for i, v := range y {
		target[i] = float64(v)
	}

	m.Trees = make([]*Tree, 0, m.NEstimators)
	m.importance = make([]float64, d)
	counts := make([]float64, n)
	bw := make([]float64, n)

	for t := 0; t < m.NEstimators; t++ {
		for i := range counts {
			counts[i] = 0
		}
		for i := 0; i < n; i++ {
			counts[rng.IntN(n)]++
		}

		rows := make([]int, 0, n)
		for i, c := range counts {
			bw[i] = w[i] * c
			if c > 0 {
				rows = append(rows, i)
			}
		}

		tree := buildTree(x, target, bw, nil, rows, treeParams{
			maxDepth:       m.MaxDepth,
			minSamplesLeaf: 1,
			maxFeatures:    maxFeatures,
			rng:            rng,
		}, m.importance)
		m.Trees = append(m.Trees, tree)
	}

	normalize(m.importance)
	return nil
}

// PredictProba averages the leaf probabilities of every tree.
func (m *RandomForest) PredictProba(row []float64) float64 {
	if len(m.Trees) == 0 {
		return 0
	}
	var sum float64
	for _, t := range m.Trees {
		sum += t.Predict(row)
	}
	return sum / float64(len(m.Trees))
}

// Importance returns normalised impurity decrease per feature.
func (m *RandomForest) Importance() []float64 {
	return m.importance
}

func normalize(v []float64) {
	if total := floats.Sum(v); total > 0 {
		floats.Scale(1/total, v)
	}
}
