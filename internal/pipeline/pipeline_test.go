package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
	"github.com/couchcryptid/crop-phenology-etl/internal/features"
	"github.com/couchcryptid/crop-phenology-etl/internal/observability"
	"github.com/couchcryptid/crop-phenology-etl/internal/phenology"
	"github.com/couchcryptid/crop-phenology-etl/internal/pipeline"
	"github.com/couchcryptid/crop-phenology-etl/internal/safy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- fixtures ---

var testStart = time.Date(2024, time.April, 26, 15, 10, 0, 0, time.UTC)

func testSeason(t *testing.T) domain.Season {
	t.Helper()
	s, err := domain.NewSeason(2023, "01-01", "11-30")
	require.NoError(t, err)
	return s
}

// bellSeries observes a single-peaked canopy every five days from day 20 to 300.
func bellSeries(season domain.Season, id domain.ParcelID, peak float64) domain.ObservationSeries {
	s := domain.ObservationSeries{ParcelID: id, Feature: "LAI"}
	for d := 20; d <= 300; d += 5 {
		x := (float64(d) - peak) / 35
		s.Observations = append(s.Observations, domain.Observation{
			Date:        season.Date(d),
			Mean:        1000 * (0.3 + 4*math.Exp(-x*x)),
			ValidPixels: 95,
			TotalPixels: 100,
		})
	}
	return s
}

// sparseSeries covers fewer days than the smoothing window.
func sparseSeries(season domain.Season, id domain.ParcelID) domain.ObservationSeries {
	s := domain.ObservationSeries{ParcelID: id, Feature: "LAI"}
	for _, d := range []int{100, 105, 110} {
		s.Observations = append(s.Observations, domain.Observation{
			Date: season.Date(d), Mean: 2000, ValidPixels: 100, TotalPixels: 100,
		})
	}
	return s
}

func mildWeather(season domain.Season, id domain.ParcelID) domain.WeatherSeries {
	days := make([]domain.WeatherDay, season.GridLength())
	for i := range days {
		days[i] = domain.WeatherDay{
			Tmin: 10, Tmax: 30, Tmean: 20,
			Precipitation: 1, ET: 2, Radiation: 15000,
			SoilMoisture: [domain.SoilLayers]float64{0.3, 0.3, 0.3, 0.3},
		}
	}
	return domain.WeatherSeries{ParcelID: id, Start: season.Start, Days: days}
}

type recordingSink struct {
	name    string
	err     error
	runs    []domain.Run
	results [][]domain.ParcelResult
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(_ context.Context, run domain.Run, results []domain.ParcelResult) error {
	s.runs = append(s.runs, run)
	s.results = append(s.results, results)
	return s.err
}

type panickingSimulator struct{}

func (panickingSimulator) Simulate([]domain.WeatherDay, safy.Params) safy.Trajectory {
	panic("simulation blew up")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBuilder(t *testing.T, sim safy.Simulator) *features.Builder {
	t.Helper()
	b, err := features.NewBuilder(sim, safy.DefaultParams(), features.EmergenceFromParams)
	require.NoError(t, err)
	return b
}

func newPipeline(t *testing.T, b *features.Builder, sinks []pipeline.Sink, metrics *observability.Metrics, opts pipeline.Options) *pipeline.Pipeline {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = clockwork.NewFakeClockAt(testStart)
	}
	stages := pipeline.Stages{
		Smoother:          phenology.DefaultSmootherConfig(),
		MinDefinedSamples: phenology.DefaultMinDefinedSamples,
		Features:          b,
	}
	p, err := pipeline.New(stages, sinks, discardLogger(), metrics, opts)
	require.NoError(t, err)
	return p
}

// standardInput holds four complete parcels out of order, one parcel without
// weather and one without enough observations.
func standardInput(t *testing.T) pipeline.Input {
	season := testSeason(t)
	in := pipeline.Input{
		Feature: "LAI",
		Season:  season,
		Weather: make(map[domain.ParcelID]domain.WeatherSeries),
	}
	for i, id := range []domain.ParcelID{"p-4", "p-2", "p-3", "p-1"} {
		in.Series = append(in.Series, bellSeries(season, id, 130+float64(10*i)))
		in.Weather[id] = mildWeather(season, id)
	}
	in.Series = append(in.Series, bellSeries(season, "p-0", 150), sparseSeries(season, "p-5"))
	return in
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	sink := &recordingSink{name: "memory"}
	metrics := observability.NewMetricsForTesting()
	p := newPipeline(t, newBuilder(t, safy.Model{}), []pipeline.Sink{sink}, metrics,
		pipeline.Options{Workers: 4, BatchSize: 2})

	in := standardInput(t)
	report, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	ids := make([]domain.ParcelID, len(report.Results))
	for i, r := range report.Results {
		ids[i] = r.ParcelID
	}
	assert.Equal(t, []domain.ParcelID{"p-0", "p-1", "p-2", "p-3", "p-4", "p-5"}, ids)

	n := in.Season.GridLength()
	for _, r := range report.Results {
		assert.Len(t, r.Curve.Curve, n, "parcel %s", r.ParcelID)
		switch r.ParcelID {
		case "p-5":
			assert.Nil(t, r.Indices)
			assert.Nil(t, r.Metrics)
			assert.Nil(t, r.Features)
		case "p-0":
			require.NotNil(t, r.Indices)
			assert.NotNil(t, r.Metrics)
			assert.Nil(t, r.Features, "no weather for p-0")
		default:
			require.NotNil(t, r.Indices, "parcel %s", r.ParcelID)
			require.NoError(t, r.Indices.Validate(n))
			require.NotNil(t, r.Features)
			assert.Equal(t, r.ParcelID, r.Features.ParcelID)
			assert.Contains(t, report.Trajectories, r.ParcelID)
		}
	}

	assert.Equal(t, 6, report.Summary.Parcels)
	assert.Equal(t, 5, report.Summary.Processed)
	assert.Equal(t, 4, report.Summary.WithFeatures)
	assert.Equal(t, map[string]int{"insufficient_data": 1}, report.Summary.Skipped)
	assert.Len(t, report.Trajectories, 4)

	require.Len(t, sink.runs, 1)
	assert.Equal(t, report.Run, sink.runs[0])
	assert.Equal(t, report.Results, sink.results[0])

	assert.InDelta(t, 6, testutil.ToFloat64(metrics.ParcelsLoaded), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(metrics.ParcelsProcessed), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ParcelsSkipped.WithLabelValues("insufficient_data")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SinkWrites.WithLabelValues("memory", "success")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.PipelineRunning), 0)
}

func TestPipeline_Run_RunIdentity(t *testing.T) {
	p := newPipeline(t, nil, nil, observability.NewMetricsForTesting(), pipeline.Options{Workers: 1, BatchSize: 10})

	in := standardInput(t)
	report, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	_, err = uuid.Parse(report.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, testStart, report.Run.StartedAt)
	assert.Equal(t, "LAI", report.Run.Feature)
	assert.Equal(t, in.Season, report.Run.Season)
	assert.Equal(t, testStart, report.Summary.FinishedAt)

	second, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.NotEqual(t, report.Run.ID, second.Run.ID)
}

func TestPipeline_Run_WithoutFeatures(t *testing.T) {
	p := newPipeline(t, nil, nil, observability.NewMetricsForTesting(), pipeline.Options{Workers: 2, BatchSize: 3})

	report, err := p.Run(context.Background(), standardInput(t))
	require.NoError(t, err)

	assert.Equal(t, 5, report.Summary.Processed)
	assert.Zero(t, report.Summary.WithFeatures)
	assert.Empty(t, report.Trajectories)
	for _, r := range report.Results {
		assert.Nil(t, r.Features)
	}
}

func TestPipeline_Run_ParallelMatchesSequential(t *testing.T) {
	in := standardInput(t)
	season := in.Season
	for i := 0; i < 40; i++ {
		id := domain.ParcelID(string(rune('a'+i%26)) + "-" + string(rune('A'+i/26)))
		in.Series = append(in.Series, bellSeries(season, id, 120+float64(i)))
		in.Weather[id] = mildWeather(season, id)
	}

	sequential := newPipeline(t, newBuilder(t, safy.Model{}), nil, observability.NewMetricsForTesting(),
		pipeline.Options{Workers: 1, BatchSize: len(in.Series)})
	parallel := newPipeline(t, newBuilder(t, safy.Model{}), nil, observability.NewMetricsForTesting(),
		pipeline.Options{Workers: 8, BatchSize: 1})

	want, err := sequential.Run(context.Background(), in)
	require.NoError(t, err)
	got, err := parallel.Run(context.Background(), in)
	require.NoError(t, err)

	if diff := cmp.Diff(want.Results, got.Results, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("results differ (-sequential +parallel):\n%s", diff)
	}
	if diff := cmp.Diff(want.Trajectories, got.Trajectories, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("trajectories differ (-sequential +parallel):\n%s", diff)
	}
	assert.Equal(t, want.Summary.Skipped, got.Summary.Skipped)
}

func TestPipeline_Run_WorkerPanicIsIsolated(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	p := newPipeline(t, newBuilder(t, panickingSimulator{}), nil, metrics, pipeline.Options{Workers: 3, BatchSize: 1})

	in := standardInput(t)
	report, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"worker_failure": 4, "insufficient_data": 1}, report.Summary.Skipped)
	assert.Equal(t, 1, report.Summary.Processed, "p-0 has no weather and never simulates")
	assert.InDelta(t, 4, testutil.ToFloat64(metrics.WorkerFailures), 0)

	for _, r := range report.Results {
		if r.ParcelID == "p-0" || r.ParcelID == "p-5" {
			continue
		}
		assert.Nil(t, r.Indices, "parcel %s", r.ParcelID)
		assert.Zero(t, r.Curve.Curve.DefinedCount())
		assert.Len(t, r.Curve.Curve, in.Season.GridLength())
	}
}

func TestPipeline_Run_SimulationCacheSharesWeather(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	sim, err := safy.NewCachedSimulator(safy.Model{}, 16, metrics)
	require.NoError(t, err)
	p := newPipeline(t, newBuilder(t, sim), nil, metrics, pipeline.Options{Workers: 1, BatchSize: 1})

	_, err = p.Run(context.Background(), standardInput(t))
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SimulationCache.WithLabelValues("miss")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.SimulationCache.WithLabelValues("hit")), 0)
	assert.Equal(t, 1, sim.Len())
}

func TestPipeline_Run_SinkFailure(t *testing.T) {
	failing := &recordingSink{name: "broken", err: errors.New("disk full")}
	healthy := &recordingSink{name: "memory"}
	metrics := observability.NewMetricsForTesting()
	p := newPipeline(t, nil, []pipeline.Sink{failing, healthy}, metrics, pipeline.Options{Workers: 2, BatchSize: 2})

	report, err := p.Run(context.Background(), standardInput(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	require.NotNil(t, report)
	assert.Len(t, healthy.runs, 1, "later sinks still receive results")
	assert.Equal(t, map[string]string{"broken": "disk full"}, report.Summary.SinkErrors)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SinkWrites.WithLabelValues("broken", "error")), 0)
}

func TestPipeline_Run_Cancelled(t *testing.T) {
	sink := &recordingSink{name: "memory"}
	p := newPipeline(t, nil, []pipeline.Sink{sink}, observability.NewMetricsForTesting(), pipeline.Options{Workers: 2, BatchSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := p.Run(ctx, standardInput(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, report)
	assert.Empty(t, sink.runs)
	assert.Error(t, p.CheckReadiness(context.Background()))
	assert.Nil(t, p.LastRun())
}

func TestPipeline_Run_Progress(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
	)
	p := newPipeline(t, nil, nil, observability.NewMetricsForTesting(), pipeline.Options{
		Workers:   3,
		BatchSize: 2,
		Progress: func(finished int) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, finished)
		},
	})

	_, err := p.Run(context.Background(), standardInput(t))
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 2}, seen)
}

func TestPipeline_Readiness(t *testing.T) {
	p := newPipeline(t, nil, nil, observability.NewMetricsForTesting(), pipeline.Options{Workers: 1, BatchSize: 1})

	require.Error(t, p.CheckReadiness(context.Background()))
	assert.Nil(t, p.LastRun())

	report, err := p.Run(context.Background(), standardInput(t))
	require.NoError(t, err)

	require.NoError(t, p.CheckReadiness(context.Background()))
	last, ok := p.LastRun().(pipeline.Summary)
	require.True(t, ok)
	assert.Equal(t, report.Run.ID, last.RunID)
	assert.Equal(t, 5, last.Processed)
}

func TestPipeline_EmptyInput(t *testing.T) {
	sink := &recordingSink{name: "memory"}
	p := newPipeline(t, nil, []pipeline.Sink{sink}, observability.NewMetricsForTesting(), pipeline.Options{Workers: 2, BatchSize: 5})

	report, err := p.Run(context.Background(), pipeline.Input{Feature: "LAI", Season: testSeason(t)})
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	require.Len(t, sink.results, 1)
	assert.Empty(t, sink.results[0])
}

func TestNew_InvalidSettings(t *testing.T) {
	valid := pipeline.Stages{Smoother: phenology.DefaultSmootherConfig(), MinDefinedSamples: 50}
	evenWindow := valid
	evenWindow.Smoother.Window = 20
	noSamples := valid
	noSamples.MinDefinedSamples = 0

	tests := []struct {
		name   string
		stages pipeline.Stages
		opts   pipeline.Options
	}{
		{"even window", evenWindow, pipeline.Options{Workers: 1, BatchSize: 1}},
		{"no samples", noSamples, pipeline.Options{Workers: 1, BatchSize: 1}},
		{"no workers", valid, pipeline.Options{Workers: 0, BatchSize: 1}},
		{"no batch", valid, pipeline.Options{Workers: 1, BatchSize: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pipeline.New(tt.stages, nil, discardLogger(), observability.NewMetricsForTesting(), tt.opts)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}
