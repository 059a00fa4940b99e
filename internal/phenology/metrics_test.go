package phenology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
)

func TestBuildMetrics(t *testing.T) {
	curve := domain.DailyCurve{0, 1, 2, 3, 4, 5, 6, 5, 4, 3, 2, 1, 0}
	idx := DetectIndices(curve)

	m, err := BuildMetrics(curve, idx, []float64{0.2, 6.4, 3.1})
	require.NoError(t, err)

	assert.Equal(t, domain.CurveMetrics{
		MeanPreEmerg:  0.5,
		SumGreenUp:    10,
		SumLateGrowth: 15,
		SumSenescence: 21,
		MaxSmoothed:   6,
		ArgMaxDay:     6,
		MaxObserved:   6.4,
	}, m)
}

func TestBuildMetrics_DegeneratePeak(t *testing.T) {
	curve := domain.DailyCurve{3, 3, 3, 3}
	idx := DetectIndices(curve)

	m, err := BuildMetrics(curve, idx, []float64{3})
	require.NoError(t, err)

	assert.Equal(t, 3.0, m.MeanPreEmerg)
	assert.Equal(t, 3.0, m.SumGreenUp)
	assert.Equal(t, 3.0, m.SumLateGrowth)
	assert.Equal(t, 12.0, m.SumSenescence)
	assert.Equal(t, 0, m.ArgMaxDay)
}

func TestBuildMetrics_Errors(t *testing.T) {
	curve := domain.DailyCurve{0, 1, 2, 1, 0}

	t.Run("indices outside the grid", func(t *testing.T) {
		_, err := BuildMetrics(curve, domain.PhenologyIndices{IndEndLai: 9}, []float64{1})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrMalformedRecord)
	})

	t.Run("unordered indices", func(t *testing.T) {
		_, err := BuildMetrics(curve, domain.PhenologyIndices{IndEmerg: 3, IndHalfLai: 1, IndMaxLai: 2, IndEndLai: 4}, []float64{1})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrMalformedRecord)
	})

	t.Run("no observed values", func(t *testing.T) {
		_, err := BuildMetrics(curve, DetectIndices(curve), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInsufficientData)
	})
}
