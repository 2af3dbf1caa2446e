package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/churnrunner/internal/features"
	"github.com/wolfeidau/churnrunner/internal/ml"
	"github.com/wolfeidau/churnrunner/internal/worker"
)

// TrainingConfig controls model selection.
type TrainingConfig struct {
	Folds        int     `yaml:"folds"`
	TestFraction float64 `yaml:"test_fraction"`
	Seed         uint64  `yaml:"seed"`
	MinSamples   int     `yaml:"min_samples"`
	MinMinority  int     `yaml:"min_minority"`
	Parallelism  int     `yaml:"parallelism"`
	Tune         bool    `yaml:"tune"` // tune every run, regardless of the request
}

// Config is the pipeline configuration, loadable from YAML.
type Config struct {
	Features            features.Config `yaml:"features"`
	Training            TrainingConfig  `yaml:"training"`
	Worker              worker.Config   `yaml:"worker"`
	PredictionFlushSize int             `yaml:"prediction_flush_size"`
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	c.Features.ApplyDefaults()
	c.Worker.ApplyDefaults()

	if c.Training.Folds == 0 {
		c.Training.Folds = 5
	}
	if c.Training.TestFraction == 0 {
		c.Training.TestFraction = 0.2
	}
	if c.Training.Seed == 0 {
		c.Training.Seed = 42
	}
	if c.Training.MinSamples == 0 {
		c.Training.MinSamples = ml.DefaultMinSamples
	}
	if c.Training.MinMinority == 0 {
		c.Training.MinMinority = ml.DefaultMinMinority
	}
	if c.PredictionFlushSize == 0 {
		c.PredictionFlushSize = 500
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Features.Validate(); err != nil {
		return fmt.Errorf("features: %w", err)
	}
	if err := c.Worker.Validate(); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	if c.Training.Folds < 2 {
		return fmt.Errorf("training: folds must be at least 2, got %d", c.Training.Folds)
	}
	if c.Training.TestFraction <= 0 || c.Training.TestFraction >= 1 {
		return fmt.Errorf("training: test_fraction must be in (0, 1), got %g", c.Training.TestFraction)
	}
	if c.Training.MinMinority < c.Training.Folds {
		return fmt.Errorf("training: min_minority (%d) must be at least folds (%d)", c.Training.MinMinority, c.Training.Folds)
	}
	if c.Training.MinSamples < 2*c.Training.MinMinority {
		return fmt.Errorf("training: min_samples (%d) must be at least twice min_minority (%d)", c.Training.MinSamples, c.Training.MinMinority)
	}
	if c.PredictionFlushSize < 1 {
		return fmt.Errorf("prediction_flush_size must be positive")
	}
	return nil
}

func (c TrainingConfig) trainerConfig() ml.TrainerConfig {
	return ml.TrainerConfig{
		Folds:        c.Folds,
		TestFraction: c.TestFraction,
		Seed:         c.Seed,
		MinSamples:   c.MinSamples,
		MinMinority:  c.MinMinority,
		Parallelism:  c.Parallelism,
	}
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// LoadConfig reads a YAML configuration file. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read pipeline config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML, rejecting unknown keys, then applies defaults and validates.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse pipeline config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid pipeline config: %w", err)
	}
	return cfg, nil
}
