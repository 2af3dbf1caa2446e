package ml

import (
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"
)

// ArtifactVersion is the current artifact encoding version.
const ArtifactVersion = 1

// Artifact bundles everything needed to score a customer: the fitted scaler, the model,
// and the monetary reference the features were normalised against.
type Artifact struct {
	Version           int       `json:"version"`
	Algorithm         Algorithm `json:"algorithm"`
	FeatureNames      []string  `json:"feature_names"`
	Scaler            *Scaler   `json:"scaler"`
	Model             *Model    `json:"model"`
	MonetaryReference float64   `json:"monetary_reference"`
	TrainedAt         time.Time `json:"trained_at"`
}

// NewArtifact packages a training result.
func NewArtifact(result *TrainResult, featureNames []string, monetaryReference float64, trainedAt time.Time) *Artifact {
	return &Artifact{
		Version:           ArtifactVersion,
		Algorithm:         result.Model.Algorithm,
		FeatureNames:      featureNames,
		Scaler:            result.Scaler,
		Model:             result.Model,
		MonetaryReference: monetaryReference,
		TrainedAt:         trainedAt.UTC(),
	}
}

// EncodeArtifact serialises an artifact.
func EncodeArtifact(a *Artifact) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode model artifact: %w", err)
	}
	return data, nil
}

// DecodeArtifact parses and checks an artifact.
func DecodeArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}
	if a.Version != ArtifactVersion {
		return nil, fmt.Errorf("unsupported model artifact version %d", a.Version)
	}
	if a.Model == nil || a.Scaler == nil {
		return nil, fmt.Errorf("model artifact is incomplete")
	}
	if len(a.Scaler.Mean) != len(a.FeatureNames) {
		return nil, fmt.Errorf("model artifact scaler has %d columns for %d features", len(a.Scaler.Mean), len(a.FeatureNames))
	}
	return &a, nil
}

// PredictProba scales a raw feature vector and returns the churn probability in [0, 1].
func (a *Artifact) PredictProba(features []float64) (float64, error) {
	if len(features) != len(a.FeatureNames) {
		return 0, fmt.Errorf("expected %d features, got %d", len(a.FeatureNames), len(features))
	}
	p := a.Model.PredictProba(a.Scaler.Transform(features))
	if math.IsNaN(p) {
		return 0, fmt.Errorf("model produced an invalid probability")
	}
	return clamp01(p), nil
}
