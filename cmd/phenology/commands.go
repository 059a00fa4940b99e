package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	httpadapter "github.com/couchcryptid/crop-phenology-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/crop-phenology-etl/internal/adapter/kafka"
	"github.com/couchcryptid/crop-phenology-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/crop-phenology-etl/internal/adapter/table"
	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
	"github.com/couchcryptid/crop-phenology-etl/internal/features"
	"github.com/couchcryptid/crop-phenology-etl/internal/observability"
	"github.com/couchcryptid/crop-phenology-etl/internal/pipeline"
	"github.com/couchcryptid/crop-phenology-etl/internal/safy"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline and write every configured sink",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := a.execute(cmd.Context(), true)
			return err
		},
	}
	cmd.Flags().BoolVar(&a.serve, "serve", false, "keep serving health and metrics after the run until interrupted")
	return cmd
}

func newCurvesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "curves",
		Short: "Smooth curves and detect indices and metrics, without simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := a.execute(cmd.Context(), false)
			return err
		},
	}
}

func newSimulateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Run the full pipeline and also export simulated LAI and grain trajectories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := a.execute(cmd.Context(), true)
			if err != nil {
				return err
			}
			return a.writeTrajectories(report)
		},
	}
}

// execute loads the inputs, runs the pipeline and, when configured, serves
// health and metrics while it runs.
func (a *app) execute(ctx context.Context, withFeatures bool) (*pipeline.Report, error) {
	cfg := a.cfg
	metrics := observability.NewMetrics()

	in, err := a.loadInput(withFeatures)
	if err != nil {
		return nil, err
	}

	stages := pipeline.Stages{Smoother: cfg.Smoother, MinDefinedSamples: cfg.MinDefinedSamples}
	if withFeatures {
		if stages.Features, err = a.newBuilder(metrics); err != nil {
			return nil, err
		}
	}

	sinks, closeSinks, err := a.openSinks(withFeatures)
	if err != nil {
		return nil, err
	}
	defer closeSinks()

	opts := pipeline.Options{Workers: cfg.Workers, BatchSize: cfg.BatchSize}
	if a.progress {
		bar := progressbar.Default(int64(len(in.Series)), "processing parcels")
		opts.Progress = func(finished int) { _ = bar.Add(finished) }
	}

	p, err := pipeline.New(stages, sinks, a.logger, metrics, opts)
	if err != nil {
		return nil, err
	}

	if cfg.MetricsAddr != "" {
		srv := httpadapter.NewServer(cfg.MetricsAddr, p, p, nil, a.logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", "error", err)
			}
		}()
		defer a.shutdown(srv)
	}

	report, err := p.Run(ctx, in)
	if err != nil {
		return report, err
	}

	if cfg.MetricsAddr != "" && a.serve {
		a.logger.Info("run complete, serving until interrupted", "addr", cfg.MetricsAddr)
		<-ctx.Done()
	}
	return report, nil
}

func (a *app) shutdown(srv *httpadapter.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.logger.Error("http server shutdown error", "error", err)
	}
}

func (a *app) loadInput(withWeather bool) (pipeline.Input, error) {
	cfg := a.cfg
	in := pipeline.Input{Feature: cfg.Feature, Season: cfg.Season}

	obs, err := os.Open(cfg.ObservationsPath)
	if err != nil {
		return in, fmt.Errorf("open observations: %w", err)
	}
	defer obs.Close()
	if in.Series, err = table.ReadObservations(obs, cfg.Feature, a.logger); err != nil {
		return in, fmt.Errorf("read %s: %w", cfg.ObservationsPath, err)
	}
	a.logger.Info("observations loaded", "path", cfg.ObservationsPath, "parcels", len(in.Series))

	if !withWeather {
		return in, nil
	}
	wf, err := os.Open(cfg.WeatherPath)
	if err != nil {
		return in, fmt.Errorf("open weather: %w", err)
	}
	defer wf.Close()
	if in.Weather, err = table.ReadWeather(wf, cfg.Season, a.logger); err != nil {
		return in, fmt.Errorf("read %s: %w", cfg.WeatherPath, err)
	}
	a.logger.Info("weather loaded", "path", cfg.WeatherPath, "parcels", len(in.Weather))
	return in, nil
}

func (a *app) newBuilder(metrics *observability.Metrics) (*features.Builder, error) {
	cfg := a.cfg
	params, err := safy.LoadParams(cfg.SAFYParamsPath)
	if err != nil {
		return nil, err
	}

	var sim safy.Simulator = safy.Model{}
	if cfg.SimCacheSize > 0 {
		cached, err := safy.NewCachedSimulator(sim, cfg.SimCacheSize, metrics)
		if err != nil {
			return nil, err
		}
		sim = cached
	}
	return features.NewBuilder(sim, params, cfg.Emergence)
}

// openSinks builds the output sinks. The returned func closes them.
func (a *app) openSinks(withFeatures bool) ([]pipeline.Sink, func(), error) {
	cfg := a.cfg
	var (
		sinks   []pipeline.Sink
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				a.logger.Error("sink close error", "error", err)
			}
		}
	}

	files, err := table.NewFileSink(cfg.OutputDir, withFeatures)
	if err != nil {
		return nil, closeAll, err
	}
	sinks = append(sinks, files)

	if cfg.SQLitePath != "" {
		store, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		sinks = append(sinks, store)
		closers = append(closers, store.Close)
	}

	if withFeatures && cfg.KafkaEnabled() {
		w := kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaFeatureTopic, cfg.BatchSize, a.logger)
		sinks = append(sinks, w)
		closers = append(closers, w.Close)
	}
	return sinks, closeAll, nil
}

func (a *app) writeTrajectories(report *pipeline.Report) error {
	var (
		ids   []domain.ParcelID
		trajs []safy.Trajectory
	)
	for _, r := range report.Results {
		if t, ok := report.Trajectories[r.ParcelID]; ok {
			ids = append(ids, r.ParcelID)
			trajs = append(trajs, t)
		}
	}

	path := filepath.Join(a.cfg.OutputDir, table.TrajectoriesFile())
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := table.WriteTrajectories(f, report.Run.Season, ids, trajs); err != nil {
		_ = f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	a.logger.Info("trajectories written", "path", path, "parcels", len(ids))
	return nil
}
