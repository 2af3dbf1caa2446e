package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/wolfeidau/churnrunner/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Local   commands.LocalCmd  `cmd:"" help:"Engineer features, train and score local CSV files in one process"`
		Remote  commands.RemoteCmd `cmd:"" help:"Drive a churn server over HTTP"`
		Config  commands.ConfigCmd `cmd:"" help:"Print the effective pipeline configuration"`
		Debug   bool               `help:"Enable debug mode."`
		Version kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
