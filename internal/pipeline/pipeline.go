package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
	"github.com/couchcryptid/crop-phenology-etl/internal/features"
	"github.com/couchcryptid/crop-phenology-etl/internal/observability"
	"github.com/couchcryptid/crop-phenology-etl/internal/phenology"
	"github.com/couchcryptid/crop-phenology-etl/internal/safy"
)

// Sink persists the sorted results of a completed run.
type Sink interface {
	Name() string
	Write(ctx context.Context, run domain.Run, results []domain.ParcelResult) error
}

// Stages configures the per-parcel processing chain.
type Stages struct {
	Smoother          phenology.SmootherConfig
	MinDefinedSamples int
	// Features runs the growth simulation and feature aggregation. Nil stops
	// processing after the curve metrics.
	Features *features.Builder
}

// Options tunes the worker pool.
type Options struct {
	Workers   int
	BatchSize int
	Clock     clockwork.Clock
	// Progress, if set, receives the size of every finished batch. It is
	// called from worker goroutines.
	Progress func(finished int)
}

// Input is everything a run reads.
type Input struct {
	Feature string
	Season  domain.Season
	Series  []domain.ObservationSeries
	Weather map[domain.ParcelID]domain.WeatherSeries
}

// Summary describes a completed run. It is served on /status.
type Summary struct {
	RunID        string            `json:"run_id"`
	Feature      string            `json:"feature"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Parcels      int               `json:"parcels"`
	Processed    int               `json:"processed"`
	WithFeatures int               `json:"with_features"`
	Skipped      map[string]int    `json:"skipped"`
	SinkErrors   map[string]string `json:"sink_errors,omitempty"`
}

// Report is the outcome of Run. Results are sorted by ParcelID.
type Report struct {
	Run          domain.Run
	Results      []domain.ParcelResult
	Trajectories map[domain.ParcelID]safy.Trajectory
	Summary      Summary
}

// Pipeline fans parcels out over a bounded worker pool, collects the results
// and hands them to every sink.
type Pipeline struct {
	stages  Stages
	sinks   []Sink
	logger  *slog.Logger
	metrics *observability.Metrics
	opts    Options
	ready   atomic.Bool
	last    atomic.Pointer[Summary]
}

// New validates the stages and creates a Pipeline.
func New(stages Stages, sinks []Sink, logger *slog.Logger, metrics *observability.Metrics, opts Options) (*Pipeline, error) {
	if err := stages.Smoother.Validate(); err != nil {
		return nil, err
	}
	if stages.MinDefinedSamples < 1 {
		return nil, fmt.Errorf("%w: minimum defined samples %d must be at least 1",
			domain.ErrConfiguration, stages.MinDefinedSamples)
	}
	if opts.Workers < 1 {
		return nil, fmt.Errorf("%w: workers %d must be at least 1", domain.ErrConfiguration, opts.Workers)
	}
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("%w: batch size %d must be at least 1", domain.ErrConfiguration, opts.BatchSize)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		stages:  stages,
		sinks:   sinks,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
	}, nil
}

// CheckReadiness returns nil once a run has completed.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// LastRun returns the Summary of the most recent completed run, or nil.
func (p *Pipeline) LastRun() any {
	if s := p.last.Load(); s != nil {
		return *s
	}
	return nil
}

// outcome is one arena slot, written by exactly one worker.
type outcome struct {
	result     domain.ParcelResult
	trajectory *safy.Trajectory
	err        error
}

// Run processes every series and writes the sorted results to all sinks.
// Per-parcel failures are logged and counted; only cancellation and sink
// failures are returned as errors. The report is returned even when a sink
// fails.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Report, error) {
	tf, err := newTransformer(p.stages, in, p.logger)
	if err != nil {
		return nil, err
	}

	run := domain.Run{
		ID:        uuid.NewString(),
		StartedAt: p.opts.Clock.Now().UTC(),
		Feature:   in.Feature,
		Season:    in.Season,
	}
	p.logger.Info("run started", "run_id", run.ID, "feature", run.Feature,
		"parcels", len(in.Series), "workers", p.opts.Workers, "batch_size", p.opts.BatchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)
	p.metrics.ParcelsLoaded.Add(float64(len(in.Series)))

	arena := make([]outcome, len(in.Series))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for lo := 0; lo < len(in.Series); lo += p.opts.BatchSize {
		if gctx.Err() != nil {
			break
		}
		hi := min(lo+p.opts.BatchSize, len(in.Series))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := p.opts.Clock.Now()
			for i := lo; i < hi; i++ {
				arena[i] = tf.transform(in.Series[i])
			}
			p.metrics.BatchSize.Observe(float64(hi - lo))
			p.metrics.BatchProcessingDuration.Observe(p.opts.Clock.Since(start).Seconds())
			if p.opts.Progress != nil {
				p.opts.Progress(hi - lo)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("run %s: %w", run.ID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run %s: %w", run.ID, err)
	}

	report := p.collect(run, arena)

	var sinkErrs []error
	for _, s := range p.sinks {
		if err := s.Write(ctx, run, report.Results); err != nil {
			p.metrics.SinkWrites.WithLabelValues(s.Name(), "error").Inc()
			p.logger.Error("sink write failed", "run_id", run.ID, "sink", s.Name(), "error", err)
			if report.Summary.SinkErrors == nil {
				report.Summary.SinkErrors = make(map[string]string)
			}
			report.Summary.SinkErrors[s.Name()] = err.Error()
			sinkErrs = append(sinkErrs, fmt.Errorf("sink %s: %w", s.Name(), err))
			continue
		}
		p.metrics.SinkWrites.WithLabelValues(s.Name(), "success").Inc()
	}

	finished := p.opts.Clock.Now().UTC()
	report.Summary.FinishedAt = finished
	p.metrics.RunDuration.Observe(finished.Sub(run.StartedAt).Seconds())

	summary := report.Summary
	p.last.Store(&summary)
	p.ready.Store(true)

	p.logger.Info("run finished", "run_id", run.ID,
		"processed", summary.Processed, "with_features", summary.WithFeatures,
		"skipped", summary.Parcels-summary.Processed, "duration", finished.Sub(run.StartedAt))

	return report, errors.Join(sinkErrs...)
}

// collect classifies the arena, records skips and sorts results by ParcelID.
func (p *Pipeline) collect(run domain.Run, arena []outcome) *Report {
	report := &Report{
		Run:          run,
		Results:      make([]domain.ParcelResult, 0, len(arena)),
		Trajectories: make(map[domain.ParcelID]safy.Trajectory),
		Summary: Summary{
			RunID:     run.ID,
			Feature:   run.Feature,
			StartedAt: run.StartedAt,
			Parcels:   len(arena),
			Skipped:   make(map[string]int),
		},
	}

	for _, o := range arena {
		report.Results = append(report.Results, o.result)
		if o.err != nil {
			reason := domain.SkipReason(o.err)
			report.Summary.Skipped[reason]++
			p.metrics.ParcelsSkipped.WithLabelValues(reason).Inc()
			if errors.Is(o.err, domain.ErrWorkerFailure) {
				p.metrics.WorkerFailures.Inc()
				p.logger.Warn("parcel failed", "parcel_id", o.result.ParcelID, "error", o.err)
			} else {
				p.logger.Info("parcel skipped", "parcel_id", o.result.ParcelID, "reason", reason, "error", o.err)
			}
			continue
		}
		report.Summary.Processed++
		p.metrics.ParcelsProcessed.Inc()
		if o.result.Features != nil {
			report.Summary.WithFeatures++
		}
		if o.trajectory != nil {
			report.Trajectories[o.result.ParcelID] = *o.trajectory
		}
	}

	sort.SliceStable(report.Results, func(i, j int) bool {
		return report.Results[i].ParcelID < report.Results[j].ParcelID
	})
	return report
}
