package models

import (
	"time"

	"github.com/google/uuid"
)

// ModelStatus is the lifecycle state of a training run.
type ModelStatus string

const (
	ModelStatusTraining  ModelStatus = "training"
	ModelStatusCompleted ModelStatus = "completed"
	ModelStatusFailed    ModelStatus = "failed"
)

// TrainingStatusNotStarted is reported when an organization has never trained a model.
const TrainingStatusNotStarted = "not_started"

// Model type names accepted by train requests.
const (
	ModelTypeAuto               = "auto"
	ModelTypeLogisticRegression = "logistic_regression"
	ModelTypeRandomForest       = "random_forest"
	ModelTypeGradientBoosting   = "gradient_boosting"
)

// ConfusionMatrix holds binary classification counts at the 0.5 threshold.
type ConfusionMatrix struct {
	TrueNegatives  int `json:"tn"`
	FalsePositives int `json:"fp"`
	FalseNegatives int `json:"fn"`
	TruePositives  int `json:"tp"`
}

// ModelMetrics is the evaluation payload recorded for a completed model.
type ModelMetrics struct {
	Accuracy          float64            `json:"accuracy"`
	Precision         float64            `json:"precision"`
	Recall            float64            `json:"recall"`
	F1                float64            `json:"f1"`
	ROCAUC            float64            `json:"roc_auc"`
	Specificity       float64            `json:"specificity"`
	ConfusionMatrix   ConfusionMatrix    `json:"confusion_matrix"`
	CVMean            float64            `json:"cv_mean"`
	CVStd             float64            `json:"cv_std"`
	CVScores          []float64          `json:"cv_scores"`
	CandidateScores   map[string]float64 `json:"candidate_scores,omitempty"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
	Hyperparameters   map[string]float64 `json:"hyperparameters"`
	TrainSize         int                `json:"train_size"`
	TestSize          int                `json:"test_size"`
	PositiveCount     int                `json:"positive_count"`
	NegativeCount     int                `json:"negative_count"`
}

// ModelMetadata records a single training run and, once completed, its artifact.
type ModelMetadata struct {
	ModelID           uuid.UUID // UUIDv7
	OrgID             uuid.UUID
	Location          string // artifact object key, empty until completed
	ModelType         string // requested type while training, selected algorithm once completed
	Tune              bool
	Status            ModelStatus
	Metrics           *ModelMetrics
	TrainingSamples   int
	ChurnRate         float64
	FeaturesDatasetID *uuid.UUID
	ErrorMessage      string
	CreatedAt         time.Time
	TrainedAt         *time.Time
}

// IsTerminal reports whether the run has finished, successfully or not.
func (m *ModelMetadata) IsTerminal() bool {
	return m.Status == ModelStatusCompleted || m.Status == ModelStatusFailed
}

// ActiveModel is the per-organization pointer to the model used for inference.
// Version increments every time the pointer advances and is used for optimistic writes.
type ActiveModel struct {
	OrgID     uuid.UUID
	ModelID   uuid.UUID
	Version   int64
	UpdatedAt time.Time
}
