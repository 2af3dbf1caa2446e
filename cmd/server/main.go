package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/wolfeidau/churnrunner/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool `help:"Enable debug mode." env:"CHURN_DEBUG"`
		Version kong.VersionFlag
		Serve   commands.ServeCmd   `cmd:"" help:"Start the HTTP API and background worker"`
		Migrate commands.MigrateCmd `cmd:"" help:"Apply PostgreSQL schema migrations"`
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
