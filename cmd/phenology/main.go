// Command phenology turns per-parcel vegetation-index observations and daily
// weather into smoothed curves, phenology indices, curve metrics, SAFY growth
// trajectories and feature records.
//
// Usage:
//
//	phenology run        # full pipeline, all configured sinks
//	phenology curves     # smoothing, indices and metrics only
//	phenology simulate   # full pipeline plus simulated trajectories
//
// Settings come from environment variables, optionally loaded from a .env file.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/crop-phenology-etl/internal/config"
)

// app carries state shared by every subcommand once the root has loaded it.
type app struct {
	envFile  string
	progress bool
	serve    bool

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		// NewLogger installs the configured logger as the default once setup succeeds.
		slog.Error("phenology failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "phenology",
		Short:         "Crop phenology and growth feature extraction",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().BoolVar(&a.progress, "progress", false, "show a progress bar on stderr")

	root.AddCommand(
		newRunCmd(a),
		newCurvesCmd(a),
		newSimulateCmd(a),
	)
	return root
}

// setup loads the dotenv file, the configuration and the logger.
func (a *app) setup() error {
	if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", a.envFile, err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	a.logger = sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	return nil
}
