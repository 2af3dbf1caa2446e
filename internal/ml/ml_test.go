package ml

import (
	"context"
	"math/rand/v2"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/models"
)

// syntheticChurn returns n rows of 8 features where the top churnRate share by a noisy
// score of the first two features is labeled churned.
func syntheticChurn(n int, churnRate float64, seed uint64) ([][]float64, []int) {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	x := make([][]float64, n)
	score := make([]float64, n)
	for i := range x {
		row := make([]float64, len(models.FeatureNames))
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		x[i] = row
		score[i] = 1.5*row[0] - row[1] + 0.5*rng.NormFloat64()
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return score[order[a]] > score[order[b]] })

	y := make([]int, n)
	for _, i := range order[:int(float64(n)*churnRate)] {
		y[i] = 1
	}
	return x, y
}

func TestTrainerAutoSelectsCandidate(t *testing.T) {
	x, y := syntheticChurn(1000, 0.25, 7)

	trainer := NewTrainer(TrainerConfig{Seed: 42})
	result, err := trainer.Train(context.Background(), TrainRequest{
		X:            x,
		Y:            y,
		FeatureNames: models.FeatureNames,
	})
	require.NoError(t, err)

	require.Contains(t, Candidates, result.Model.Algorithm)
	require.GreaterOrEqual(t, result.Metrics.ROCAUC, 0.0)
	require.LessOrEqual(t, result.Metrics.ROCAUC, 1.0)
	require.Greater(t, result.Metrics.ROCAUC, 0.8)
	require.Equal(t, 800, result.Metrics.TrainSize)
	require.Equal(t, 200, result.Metrics.TestSize)
	require.Equal(t, 250, result.Metrics.PositiveCount)
	require.Equal(t, 750, result.Metrics.NegativeCount)
	require.Len(t, result.Metrics.CandidateScores, len(Candidates))
	require.Len(t, result.Metrics.CVScores, 5)
	require.Len(t, result.Metrics.FeatureImportance, len(models.FeatureNames))

	cm := result.Metrics.ConfusionMatrix
	require.Equal(t, 200, cm.TruePositives+cm.TrueNegatives+cm.FalsePositives+cm.FalseNegatives)
}

func TestTrainerExplicitAlgorithm(t *testing.T) {
	x, y := syntheticChurn(300, 0.3, 11)

	for _, a := range Candidates {
		t.Run(string(a), func(t *testing.T) {
			trainer := NewTrainer(TrainerConfig{Seed: 1})
			result, err := trainer.Train(context.Background(), TrainRequest{
				X:            x,
				Y:            y,
				FeatureNames: models.FeatureNames,
				Algorithm:    a,
			})
			require.NoError(t, err)
			require.Equal(t, a, result.Model.Algorithm)
			require.Len(t, result.Metrics.CandidateScores, 1)

			for _, row := range x[:20] {
				p := result.Model.PredictProba(result.Scaler.Transform(row))
				require.GreaterOrEqual(t, p, 0.0)
				require.LessOrEqual(t, p, 1.0)
			}
		})
	}
}

func TestTrainerTuneIsDeterministic(t *testing.T) {
	x, y := syntheticChurn(200, 0.3, 3)
	req := TrainRequest{X: x, Y: y, FeatureNames: models.FeatureNames, Algorithm: LogisticRegressionAlgorithm, Tune: true}

	first, err := NewTrainer(TrainerConfig{Seed: 9}).Train(context.Background(), req)
	require.NoError(t, err)
	second, err := NewTrainer(TrainerConfig{Seed: 9}).Train(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, first.Metrics.Hyperparameters, second.Metrics.Hyperparameters)
	require.InDelta(t, first.Metrics.ROCAUC, second.Metrics.ROCAUC, 1e-12)
	require.Contains(t, []float64{0.01, 0.1, 1, 10}, first.Metrics.Hyperparameters["c"])
}

func TestTrainerRejectsDegenerateLabels(t *testing.T) {
	tests := []struct {
		name string
		n    int
		rate float64
	}{
		{name: "too few customers", n: 20, rate: 0.5},
		{name: "single class", n: 100, rate: 0},
		{name: "tiny minority", n: 100, rate: 0.03},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := syntheticChurn(tt.n, tt.rate, 5)
			_, err := NewTrainer(TrainerConfig{}).Train(context.Background(), TrainRequest{X: x, Y: y})
			require.ErrorIs(t, err, apperrors.ErrTraining)
		})
	}
}

func TestStratifiedSplitPreservesBalance(t *testing.T) {
	_, y := syntheticChurn(1000, 0.25, 2)

	train, test := StratifiedSplit(y, 0.2, 42)
	require.Len(t, test, 200)
	require.Len(t, train, 800)

	pos, _ := classCounts(subsetLabels(y, test))
	require.Equal(t, 50, pos)

	seen := make(map[int]bool)
	for _, i := range append(append([]int(nil), train...), test...) {
		require.False(t, seen[i])
		seen[i] = true
	}
}

func TestStratifiedKFold(t *testing.T) {
	_, y := syntheticChurn(100, 0.2, 4)

	folds := StratifiedKFold(y, 5, 1)
	require.Len(t, folds, 5)
	for _, f := range folds {
		require.Len(t, f.Valid, 20)
		require.Len(t, f.Train, 80)
		pos, _ := classCounts(subsetLabels(y, f.Valid))
		require.Equal(t, 4, pos)
	}
}

func TestClassWeightsBalanceClasses(t *testing.T) {
	y := []int{1, 0, 0, 0}
	w := ClassWeights(y)
	require.InDelta(t, 2.0, w[0], 1e-12)
	require.InDelta(t, 2.0/3.0, w[1], 1e-12)
	require.InDelta(t, w[0], w[1]+w[2]+w[3], 1e-12)
}

func TestROCAUC(t *testing.T) {
	y := []int{0, 0, 1, 1}

	require.InDelta(t, 1.0, ROCAUC(y, []float64{0.1, 0.2, 0.8, 0.9}), 1e-12)
	require.InDelta(t, 0.0, ROCAUC(y, []float64{0.9, 0.8, 0.2, 0.1}), 1e-12)
	require.InDelta(t, 0.5, ROCAUC(y, []float64{0.5, 0.5, 0.5, 0.5}), 1e-12)
	require.InDelta(t, 0.75, ROCAUC(y, []float64{0.1, 0.8, 0.4, 0.9}), 1e-12)
	require.Zero(t, ROCAUC([]int{1, 1}, []float64{0.2, 0.9}))
}

func TestEvaluate(t *testing.T) {
	y := []int{1, 1, 0, 0, 0}
	scores := []float64{0.9, 0.2, 0.6, 0.1, 0.3}

	m := Evaluate(y, scores)
	require.Equal(t, models.ConfusionMatrix{TrueNegatives: 2, FalsePositives: 1, FalseNegatives: 1, TruePositives: 1}, m.ConfusionMatrix)
	require.InDelta(t, 0.6, m.Accuracy, 1e-12)
	require.InDelta(t, 0.5, m.Precision, 1e-12)
	require.InDelta(t, 0.5, m.Recall, 1e-12)
	require.InDelta(t, 0.5, m.F1, 1e-12)
	require.InDelta(t, 2.0/3.0, m.Specificity, 1e-12)
}

func TestParseModelType(t *testing.T) {
	a, err := ParseModelType("auto")
	require.NoError(t, err)
	require.Empty(t, a)

	a, err = ParseModelType("random_forest")
	require.NoError(t, err)
	require.Equal(t, RandomForestAlgorithm, a)

	_, err = ParseModelType("svm")
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestPickBestPrefersEarlierCandidateOnTie(t *testing.T) {
	best := pickBest([]candidateScore{
		{algorithm: LogisticRegressionAlgorithm, mean: 0.8},
		{algorithm: RandomForestAlgorithm, mean: 0.8},
		{algorithm: GradientBoostingAlgorithm, mean: 0.79},
	})
	require.Equal(t, LogisticRegressionAlgorithm, best.algorithm)

	best = pickBest([]candidateScore{
		{algorithm: LogisticRegressionAlgorithm, mean: 0.7},
		{algorithm: RandomForestAlgorithm, mean: 0.8},
		{algorithm: GradientBoostingAlgorithm, mean: 0.8},
	})
	require.Equal(t, RandomForestAlgorithm, best.algorithm)
}

func TestScalerConstantColumn(t *testing.T) {
	s := FitScaler([][]float64{{1, 5}, {3, 5}})
	require.Equal(t, []float64{2, 5}, s.Mean)
	require.Equal(t, []float64{1, 1}, s.Scale)
	require.Equal(t, []float64{1, 0}, s.Transform([]float64{3, 5}))
}

func TestArtifactPredictsLikeModel(t *testing.T) {
	x, y := syntheticChurn(200, 0.3, 8)
	result, err := NewTrainer(TrainerConfig{Seed: 2}).Train(context.Background(), TrainRequest{
		X: x, Y: y, FeatureNames: models.FeatureNames, Algorithm: GradientBoostingAlgorithm,
	})
	require.NoError(t, err)

	trainedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := EncodeArtifact(NewArtifact(result, models.FeatureNames, 120.5, trainedAt))
	require.NoError(t, err)

	artifact, err := DecodeArtifact(data)
	require.NoError(t, err)
	require.Equal(t, GradientBoostingAlgorithm, artifact.Algorithm)
	require.Equal(t, 120.5, artifact.MonetaryReference)
	require.True(t, trainedAt.Equal(artifact.TrainedAt))

	for _, row := range x[:25] {
		got, err := artifact.PredictProba(row)
		require.NoError(t, err)
		require.InDelta(t, result.Model.PredictProba(result.Scaler.Transform(row)), got, 1e-12)
	}

	_, err = artifact.PredictProba([]float64{1, 2})
	require.Error(t, err)
}

func TestDecodeArtifactRejectsBadInput(t *testing.T) {
	_, err := DecodeArtifact([]byte("not json"))
	require.Error(t, err)

	_, err = DecodeArtifact([]byte(`{"version":99}`))
	require.ErrorContains(t, err, "unsupported")

	_, err = DecodeArtifact([]byte(`{"version":1,"feature_names":["a"]}`))
	require.ErrorContains(t, err, "incomplete")
}
