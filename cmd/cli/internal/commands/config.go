package commands

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/churnrunner/internal/pipeline"
)

type ConfigCmd struct {
	Config string `arg:"" optional:"" help:"pipeline YAML configuration to validate" type:"existingfile"`
}

// Run prints the effective configuration with defaults applied.
func (c *ConfigCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := pipeline.LoadConfig(c.Config)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return enc.Close()
}
