// Package commands implements the CLI surface: the serve command running the
// proxy, and auth subcommands for managing the OAuth credential.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/awenger/anthropic-oauth-proxy/internal/config"
	"github.com/awenger/anthropic-oauth-proxy/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	// A local .env is a convenience for development; absence is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	cmd := &cli.Command{
		Name:  "anthropic-oauth-proxy",
		Usage: "Loopback OpenAI-compatible gateway for Anthropic consumer OAuth",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a TOML config file",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			authCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

// setup loads configuration and installs the logger for a command
// invocation.
func setup(ctx context.Context, cmd *cli.Command) (*config.Config, func(context.Context) error, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}

	shutdown, err := observability.Instrument(ctx, level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	return cfg, shutdown, nil
}
