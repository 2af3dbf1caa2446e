package ml

import (
	"math"
	"math/rand/v2"
	"sort"
)

// Node is a decision tree node. Leaves have Feature == -1.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"`
}

// Tree is a binary regression tree stored as a flat node slice rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict walks the tree for row.
func (t *Tree) Predict(row []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// treeParams controls tree growth.
type treeParams struct {
	maxDepth       int
	minSamplesLeaf int
	maxFeatures    int // features considered per split, 0 for all
	rng            *rand.Rand
}

// treeBuilder grows a tree minimising weighted squared error of targets. Leaf values are
// sum(w*y) / sum(w*h): with h = 1 the weighted mean, with h the log loss hessian a
// Newton step.
type treeBuilder struct {
	x          [][]float64
	y          []float64
	w          []float64
	h          []float64
	params     treeParams
	importance []float64
	tree       *Tree
}

func buildTree(x [][]float64, y, w, h []float64, rows []int, params treeParams, importance []float64) *Tree {
	b := &treeBuilder{
		x:          x,
		y:          y,
		w:          w,
		h:          h,
		params:     params,
		importance: importance,
		tree:       &Tree{},
	}
	b.grow(rows, 0)
	return b.tree
}

type nodeStats struct {
	sumW, sumWy, sumWy2 float64
}

func (s *nodeStats) add(w, y float64) {
	s.sumW += w
	s.sumWy += w * y
	s.sumWy2 += w * y * y
}

// sse is the weighted sum of squared deviations from the weighted mean.
func (s nodeStats) sse() float64 {
	if s.sumW <= 0 {
		return 0
	}
	return math.Max(0, s.sumWy2-s.sumWy*s.sumWy/s.sumW)
}

func (b *treeBuilder) leafValue(rows []int) float64 {
	var num, den float64
	for _, r := range rows {
		num += b.w[r] * b.y[r]
		if b.h != nil {
			den += b.w[r] * b.h[r]
		} else {
			den += b.w[r]
		}
	}
	if den < 1e-12 {
		return 0
	}
	return num / den
}

func (b *treeBuilder) grow(rows []int, depth int) int {
	idx := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, Node{Feature: -1, Value: b.leafValue(rows)})

	if depth >= b.params.maxDepth || len(rows) < 2*b.params.minSamplesLeaf {
		return idx
	}

	var parent nodeStats
	for _, r := range rows {
		parent.add(b.w[r], b.y[r])
	}
	parentSSE := parent.sse()
	if parentSSE <= 1e-12 {
		return idx
	}

	feature, threshold, gain, ok := b.bestSplit(rows, parentSSE)
	if !ok {
		return idx
	}

	var left, right []int
	for _, r := range rows {
		if b.x[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	if b.importance != nil {
		b.importance[feature] += gain
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.tree.Nodes[idx] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return idx
}

func (b *treeBuilder) candidateFeatures() []int {
	d := len(b.x[0])
	features := make([]int, d)
	for j := range features {
		features[j] = j
	}
	if b.params.maxFeatures <= 0 || b.params.maxFeatures >= d || b.params.rng == nil {
		return features
	}
	b.params.rng.Shuffle(d, func(i, j int) { features[i], features[j] = features[j], features[i] })
	return features[:b.params.maxFeatures]
}

func (b *treeBuilder) bestSplit(rows []int, parentSSE float64) (int, float64, float64, bool) {
	bestFeature, bestThreshold, bestGain := -1, 0.0, 1e-12
	sorted := make([]int, len(rows))
	minLeaf := max(b.params.minSamplesLeaf, 1)

	for _, f := range b.candidateFeatures() {
		copy(sorted, rows)
		sort.SliceStable(sorted, func(i, j int) bool { return b.x[sorted[i]][f] < b.x[sorted[j]][f] })

		var total nodeStats
		for _, r := range sorted {
			total.add(b.w[r], b.y[r])
		}

		var left nodeStats
		for i := 0; i < len(sorted)-1; i++ {
			r := sorted[i]
			left.add(b.w[r], b.y[r])

			cur, next := b.x[r][f], b.x[sorted[i+1]][f]
			if cur == next || i+1 < minLeaf || len(sorted)-(i+1) < minLeaf {
				continue
			}

			right := nodeStats{
				sumW:   total.sumW - left.sumW,
				sumWy:  total.sumWy - left.sumWy,
				sumWy2: total.sumWy2 - left.sumWy2,
			}
			gain := parentSSE - left.sse() - right.sse()
			if gain > bestGain {
				bestFeature = f
				bestThreshold = cur + (next-cur)/2
				bestGain = gain
			}
		}
	}

	return bestFeature, bestThreshold, bestGain, bestFeature >= 0
}
