package phenology

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
)

const testParcel = domain.ParcelID("parcel-001")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSeason(t *testing.T) domain.Season {
	t.Helper()
	s, err := domain.NewSeason(2024, "01-01", "03-31")
	require.NoError(t, err)
	return s
}

func newTestSmoother(t *testing.T) *Smoother {
	t.Helper()
	s, err := NewSmoother(DefaultSmootherConfig(), testSeason(t), discardLogger())
	require.NoError(t, err)
	return s
}

func obs(season domain.Season, day int, mean float64, valid, total int) domain.Observation {
	return domain.Observation{Date: season.Date(day), Mean: mean, ValidPixels: valid, TotalPixels: total}
}

func bits(c domain.DailyCurve) []uint64 {
	out := make([]uint64, len(c))
	for i, v := range c {
		out[i] = math.Float64bits(v)
	}
	return out
}

func TestSmootherConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SmootherConfig)
	}{
		{"zero ratio", func(c *SmootherConfig) { c.ValidPixelRatio = 0 }},
		{"ratio above one", func(c *SmootherConfig) { c.ValidPixelRatio = 1.2 }},
		{"zero divisor", func(c *SmootherConfig) { c.RawValueDivisor = 0 }},
		{"even window", func(c *SmootherConfig) { c.Window = 20 }},
		{"tiny window", func(c *SmootherConfig) { c.Window = 1 }},
		{"negative degree", func(c *SmootherConfig) { c.Degree = -1 }},
		{"degree too large", func(c *SmootherConfig) { c.Window, c.Degree = 5, 5 }},
	}

	require.NoError(t, DefaultSmootherConfig().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSmootherConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrConfiguration))
		})
	}
}

func TestSmooth_ConstantSeriesCoveringGrid(t *testing.T) {
	s := newTestSmoother(t)
	season := testSeason(t)
	n := season.GridLength()

	out := s.Smooth(domain.ObservationSeries{
		ParcelID: testParcel,
		Observations: []domain.Observation{
			obs(season, 0, 500, 100, 100),
			obs(season, n-1, 500, 100, 100),
		},
	})

	require.Len(t, out.Curve, n)
	for i, v := range out.Curve {
		assert.Equal(t, 0.5, v, "day %d", i)
	}
	assert.Equal(t, []float64{0.5, 0.5}, out.RawValues)
}

func TestSmooth_DropsLowValidityObservations(t *testing.T) {
	s := newTestSmoother(t)
	season := testSeason(t)

	out := s.Smooth(domain.ObservationSeries{
		ParcelID: testParcel,
		Observations: []domain.Observation{
			obs(season, 0, 500, 79, 100),
			obs(season, 60, 900, 10, 100),
			obs(season, 70, 900, 0, 0),
		},
	})

	assert.Zero(t, out.Curve.DefinedCount())
	assert.Empty(t, out.RawValues)
}

func TestSmooth_RangeShorterThanWindow(t *testing.T) {
	s := newTestSmoother(t)
	season := testSeason(t)

	out := s.Smooth(domain.ObservationSeries{
		ParcelID: testParcel,
		Observations: []domain.Observation{
			obs(season, 5, 100, 10, 10),
			obs(season, 24, 300, 10, 10),
		},
	})

	assert.Zero(t, out.Curve.DefinedCount(), "20 covered days is below the 21-day window")
	assert.Len(t, out.RawValues, 2)
}

func TestSmooth_UndefinedOutsideObservedRange(t *testing.T) {
	s := newTestSmoother(t)
	season := testSeason(t)

	out := s.Smooth(domain.ObservationSeries{
		ParcelID: testParcel,
		Observations: []domain.Observation{
			obs(season, 10, 1000, 10, 10),
			obs(season, 35, 3000, 10, 10),
			obs(season, 60, 1000, 10, 10),
		},
	})

	first, last, ok := out.Curve.DefinedSpan()
	require.True(t, ok)
	assert.Equal(t, 10, first)
	assert.Equal(t, 60, last)
	assert.Equal(t, 51, out.Curve.DefinedCount())
	assert.False(t, out.Curve.Defined(9))
	assert.False(t, out.Curve.Defined(61))
}

func TestSmooth_ObservationsOutsideSeasonBoundInterpolation(t *testing.T) {
	s := newTestSmoother(t)
	season := testSeason(t)
	n := season.GridLength()

	out := s.Smooth(domain.ObservationSeries{
		ParcelID: testParcel,
		Observations: []domain.Observation{
			obs(season, -10, 1000, 10, 10),
			obs(season, n+10, 1000, 10, 10),
		},
	})

	assert.Equal(t, n, out.Curve.DefinedCount())
	assert.InDelta(t, 1.0, out.Curve[0], 1e-12)
}

func TestSmooth_RawValuesOnlyInsideSeason(t *testing.T) {
	s := newTestSmoother(t)
	season := testSeason(t)
	n := season.GridLength()

	out := s.Smooth(domain.ObservationSeries{
		ParcelID: testParcel,
		Observations: []domain.Observation{
			obs(season, -5, 9000, 10, 10),
			obs(season, 0, 1000, 10, 10),
			obs(season, n-1, 2000, 10, 10),
			obs(season, n+5, 9000, 10, 10),
		},
	})

	assert.Equal(t, []float64{1, 2}, out.RawValues)
}

func TestSmooth_Idempotent(t *testing.T) {
	s := newTestSmoother(t)
	season := testSeason(t)
	series := domain.ObservationSeries{
		ParcelID: testParcel,
		Observations: []domain.Observation{
			obs(season, 3, 210, 90, 100),
			obs(season, 14, 480, 95, 100),
			obs(season, 14, 520, 95, 100),
			obs(season, 29, 1730, 100, 100),
			obs(season, 41, 3120, 85, 100),
			obs(season, 55, 2890, 99, 100),
			obs(season, 80, 900, 100, 100),
		},
	}

	a := s.Smooth(series)
	b := s.Smooth(series)
	assert.Equal(t, bits(a.Curve), bits(b.Curve))
}

func TestMergeSameDay(t *testing.T) {
	got := mergeSameDay([]point{{day: 5, value: 3}, {day: 1, value: 1}, {day: 5, value: 1}})
	assert.Equal(t, []point{{day: 1, value: 1}, {day: 5, value: 2}}, got)
}

func TestInterpolate(t *testing.T) {
	got := interpolate([]point{{day: -2, value: 0}, {day: 2, value: 4}, {day: 4, value: 0}}, 0, 4)
	assert.Equal(t, []float64{2, 3, 4, 2, 0}, got)
}

func TestSavgol(t *testing.T) {
	t.Run("linear data is reproduced by a linear fit", func(t *testing.T) {
		y := make([]float64, 40)
		for i := range y {
			y[i] = 2*float64(i) + 1
		}
		got := savgol(y, 21, 1)
		for i := range y {
			assert.InDelta(t, y[i], got[i], 1e-9, "sample %d", i)
		}
	})

	t.Run("quadratic data is reproduced by a quadratic fit", func(t *testing.T) {
		y := make([]float64, 30)
		for i := range y {
			x := float64(i)
			y[i] = 0.5*x*x - 3*x + 7
		}
		got := savgol(y, 7, 2)
		for i := range y {
			assert.InDelta(t, y[i], got[i], 1e-6, "sample %d", i)
		}
	})

	t.Run("linear window averages the interior", func(t *testing.T) {
		y := []float64{0, 0, 3, 0, 0, 6, 0}
		got := savgol(y, 3, 1)
		assert.InDelta(t, 1.0, got[1], 1e-12)
		assert.InDelta(t, 1.0, got[2], 1e-12)
		assert.InDelta(t, 2.0, got[4], 1e-12)
	})
}

func TestNewSmoother_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultSmootherConfig()
	cfg.Window = 4
	_, err := NewSmoother(cfg, testSeason(t), discardLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
