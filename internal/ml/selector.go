package ml

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/wolfeidau/churnrunner/internal/models"
)

// TrainerConfig controls model selection.
type TrainerConfig struct {
	Folds        int
	TestFraction float64
	Seed         uint64
	MinSamples   int
	MinMinority  int
	Parallelism  int
}

// ApplyDefaults fills unset fields.
func (c *TrainerConfig) ApplyDefaults() {
	if c.Folds <= 1 {
		c.Folds = 5
	}
	if c.TestFraction <= 0 || c.TestFraction >= 1 {
		c.TestFraction = 0.2
	}
	if c.MinSamples <= 0 {
		c.MinSamples = DefaultMinSamples
	}
	if c.MinMinority <= 0 {
		c.MinMinority = DefaultMinMinority
	}
	if c.Parallelism <= 0 {
		c.Parallelism = runtime.GOMAXPROCS(0)
	}
}

// scoreTieTolerance treats mean CV scores this close as equal.
const scoreTieTolerance = 1e-9

// Trainer selects, optionally tunes, fits and evaluates a churn classifier.
type Trainer struct {
	cfg TrainerConfig
}

// NewTrainer returns a trainer with defaults applied to cfg.
func NewTrainer(cfg TrainerConfig) *Trainer {
	cfg.ApplyDefaults()
	return &Trainer{cfg: cfg}
}

// TrainRequest is the labeled feature matrix plus the selection options.
type TrainRequest struct {
	X            [][]float64
	Y            []int
	FeatureNames []string
	Algorithm    Algorithm // empty selects automatically
	Tune         bool
}

// TrainResult is the fitted pipeline and its held-out evaluation.
type TrainResult struct {
	Model   *Model
	Scaler  *Scaler
	Metrics models.ModelMetrics
}

type candidateScore struct {
	algorithm Algorithm
	params    Params
	scores    []float64
	mean      float64
}

// Train runs the full selection protocol: stratified train/test split, k-fold cross
// validation of each candidate on the training split, optional grid search within the
// winning family, a final fit on the training split and one evaluation on the test split.
func (t *Trainer) Train(ctx context.Context, req TrainRequest) (*TrainResult, error) {
	if len(req.X) != len(req.Y) {
		return nil, fmt.Errorf("feature rows (%d) and labels (%d) differ", len(req.X), len(req.Y))
	}
	if err := CheckTrainable(req.Y, t.cfg.MinSamples, t.cfg.MinMinority); err != nil {
		return nil, err
	}

	trainIdx, testIdx := StratifiedSplit(req.Y, t.cfg.TestFraction, t.cfg.Seed)
	xTrain, yTrain := subsetRows(req.X, trainIdx), subsetLabels(req.Y, trainIdx)
	xTest, yTest := subsetRows(req.X, testIdx), subsetLabels(req.Y, testIdx)

	candidates := Candidates
	if req.Algorithm != "" {
		candidates = []Algorithm{req.Algorithm}
	}

	configs := make([]candidateScore, len(candidates))
	for i, a := range candidates {
		configs[i] = candidateScore{algorithm: a, params: DefaultParams(a)}
	}
	if err := t.crossValidate(ctx, xTrain, yTrain, configs); err != nil {
		return nil, err
	}

	best := pickBest(configs)
	candidateScores := make(map[string]float64, len(configs))
	for _, c := range configs {
		candidateScores[string(c.algorithm)] = c.mean
	}

	log.Ctx(ctx).Info().
		Str("algorithm", string(best.algorithm)).
		Float64("cv_mean", best.mean).
		Msg("selected candidate")

	if req.Tune {
		grid := ParamGrid(best.algorithm)
		tuned := make([]candidateScore, len(grid))
		for i, p := range grid {
			tuned[i] = candidateScore{algorithm: best.algorithm, params: p}
		}
		if err := t.crossValidate(ctx, xTrain, yTrain, tuned); err != nil {
			return nil, err
		}
		if winner := pickBest(tuned); winner.mean > best.mean+scoreTieTolerance {
			best = winner
		}
		log.Ctx(ctx).Info().
			Str("algorithm", string(best.algorithm)).
			Str("params", best.params.String()).
			Float64("cv_mean", best.mean).
			Msg("tuned candidate")
	}

	scaler := FitScaler(xTrain)
	model, err := NewModel(best.algorithm, best.params, t.cfg.Seed)
	if err != nil {
		return nil, err
	}
	if err := model.Fit(scaler.TransformAll(xTrain), yTrain, ClassWeights(yTrain)); err != nil {
		return nil, fmt.Errorf("failed to fit %s: %w", best.algorithm, err)
	}

	metrics := Evaluate(yTest, model.predictAll(scaler.TransformAll(xTest)))
	metrics.CVScores = best.scores
	metrics.CVMean, metrics.CVStd = meanStd(best.scores)
	metrics.CandidateScores = candidateScores
	metrics.FeatureImportance = namedImportance(req.FeatureNames, model.Importance())
	metrics.Hyperparameters = best.params
	metrics.TrainSize = len(trainIdx)
	metrics.TestSize = len(testIdx)
	metrics.PositiveCount, metrics.NegativeCount = classCounts(req.Y)

	return &TrainResult{Model: model, Scaler: scaler, Metrics: metrics}, nil
}

// crossValidate scores every configuration concurrently, filling scores and mean in place.
func (t *Trainer) crossValidate(ctx context.Context, x [][]float64, y []int, configs []candidateScore) error {
	folds := StratifiedKFold(y, t.cfg.Folds, t.cfg.Seed+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Parallelism)

	for i := range configs {
		g.Go(func() error {
			scores, err := t.cvScores(gctx, x, y, folds, configs[i].algorithm, configs[i].params)
			if err != nil {
				return err
			}
			configs[i].scores = scores
			configs[i].mean, _ = meanStd(scores)
			return nil
		})
	}

	return g.Wait()
}

// cvScores returns the validation ROC-AUC of each fold. Folds whose validation rows hold a
// single class are skipped since AUC is undefined there.
func (t *Trainer) cvScores(ctx context.Context, x [][]float64, y []int, folds []Fold, a Algorithm, params Params) ([]float64, error) {
	scores := make([]float64, 0, len(folds))
	for _, fold := range folds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		yValid := subsetLabels(y, fold.Valid)
		if pos, neg := classCounts(yValid); pos == 0 || neg == 0 {
			continue
		}
		yTrain := subsetLabels(y, fold.Train)
		if pos, neg := classCounts(yTrain); pos == 0 || neg == 0 {
			continue
		}

		scaler := FitScaler(subsetRows(x, fold.Train))
		model, err := NewModel(a, params, t.cfg.Seed)
		if err != nil {
			return nil, err
		}
		if err := model.Fit(scaler.TransformAll(subsetRows(x, fold.Train)), yTrain, ClassWeights(yTrain)); err != nil {
			return nil, fmt.Errorf("failed to fit %s fold: %w", a, err)
		}

		scores = append(scores, ROCAUC(yValid, model.predictAll(scaler.TransformAll(subsetRows(x, fold.Valid)))))
	}
	return scores, nil
}

// pickBest returns the highest mean score. Configs are ordered by preference so the first
// within tolerance of the best wins a tie.
func pickBest(configs []candidateScore) candidateScore {
	best := configs[0]
	for _, c := range configs[1:] {
		if c.mean > best.mean+scoreTieTolerance {
			best = c
		}
	}
	return best
}

func meanStd(scores []float64) (float64, float64) {
	if len(scores) == 0 {
		return 0, 0
	}
	mean, variance := stat.PopMeanVariance(scores, nil)
	return mean, math.Sqrt(variance)
}

func namedImportance(names []string, importance []float64) map[string]float64 {
	out := make(map[string]float64, len(importance))
	for j, v := range importance {
		name := fmt.Sprintf("feature_%d", j)
		if j < len(names) {
			name = names[j]
		}
		out[name] = v
	}
	return out
}
