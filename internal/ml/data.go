package ml

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/wolfeidau/churnrunner/internal/apperrors"
)

// Training data guards.
const (
	DefaultMinSamples  = 50
	DefaultMinMinority = 5
)

// CheckTrainable rejects label sets that cannot support a stratified split and k-fold
// cross validation.
func CheckTrainable(y []int, minSamples, minMinority int) error {
	if len(y) < minSamples {
		return apperrors.Training("need at least %d labeled customers, got %d", minSamples, len(y))
	}
	pos, neg := classCounts(y)
	if pos == 0 || neg == 0 {
		return apperrors.Training("labels contain a single class (%d churned, %d retained)", pos, neg)
	}
	if min(pos, neg) < minMinority {
		return apperrors.Training("minority class has %d samples, need at least %d", min(pos, neg), minMinority)
	}
	return nil
}

func classCounts(y []int) (pos, neg int) {
	for _, v := range y {
		if v == 1 {
			pos++
		} else {
			neg++
		}
	}
	return pos, neg
}

// ClassWeights returns per-sample weights n / (2 * n_class) so both classes carry equal
// total weight. Rows are never resampled.
func ClassWeights(y []int) []float64 {
	pos, neg := classCounts(y)
	n := float64(len(y))
	wPos, wNeg := 1.0, 1.0
	if pos > 0 {
		wPos = n / (2 * float64(pos))
	}
	if neg > 0 {
		wNeg = n / (2 * float64(neg))
	}

	w := make([]float64, len(y))
	for i, v := range y {
		if v == 1 {
			w[i] = wPos
		} else {
			w[i] = wNeg
		}
	}
	return w
}

func shuffledByClass(y []int, rng *rand.Rand) [2][]int {
	var byClass [2][]int
	for i, v := range y {
		byClass[v] = append(byClass[v], i)
	}
	for c := range byClass {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}
	return byClass
}

// StratifiedSplit splits row indices into train and test sets preserving class balance.
func StratifiedSplit(y []int, testFraction float64, seed uint64) (train, test []int) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for _, idx := range shuffledByClass(y, rng) {
		nTest := int(math.Round(float64(len(idx)) * testFraction))
		if nTest == 0 && len(idx) > 1 && testFraction > 0 {
			nTest = 1
		}
		test = append(test, idx[:nTest]...)
		train = append(train, idx[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// Fold is one train/validation partition of a k-fold split.
type Fold struct {
	Train []int
	Valid []int
}

// StratifiedKFold partitions row indices into k folds preserving class balance.
func StratifiedKFold(y []int, k int, seed uint64) []Fold {
	rng := rand.New(rand.NewPCG(seed, seed^0x2545f4914f6cdd1d))
	assign := make([]int, len(y))
	for _, idx := range shuffledByClass(y, rng) {
		for pos, row := range idx {
			assign[row] = pos % k
		}
	}

	folds := make([]Fold, k)
	for row, f := range assign {
		for i := range folds {
			if i == f {
				folds[i].Valid = append(folds[i].Valid, row)
			} else {
				folds[i].Train = append(folds[i].Train, row)
			}
		}
	}
	return folds
}

func subsetRows(x [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, r := range idx {
		out[i] = x[r]
	}
	return out
}

func subsetLabels(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, r := range idx {
		out[i] = y[r]
	}
	return out
}
