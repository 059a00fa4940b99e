package phenology

import (
	"fmt"

	"github.com/montanaflynn/stats"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
)

// BuildMetrics derives the summary metrics of an edge-extended curve. All
// interval bounds are inclusive. idx must be valid for the curve.
func BuildMetrics(curve domain.DailyCurve, idx domain.PhenologyIndices, raw []float64) (domain.CurveMetrics, error) {
	if err := idx.Validate(len(curve)); err != nil {
		return domain.CurveMetrics{}, err
	}

	var (
		m   domain.CurveMetrics
		err error
	)
	data := stats.Float64Data(curve)

	if m.MeanPreEmerg, err = stats.Mean(data[:idx.IndEmerg+1]); err != nil {
		return domain.CurveMetrics{}, fmt.Errorf("pre-emergence mean: %w", err)
	}
	if m.SumGreenUp, err = stats.Sum(data[idx.IndEmerg : idx.IndHalfLai+1]); err != nil {
		return domain.CurveMetrics{}, fmt.Errorf("green-up sum: %w", err)
	}
	if m.SumLateGrowth, err = stats.Sum(data[idx.IndHalfLai : idx.IndMaxLai+1]); err != nil {
		return domain.CurveMetrics{}, fmt.Errorf("late growth sum: %w", err)
	}
	if m.SumSenescence, err = stats.Sum(data[idx.IndMaxLai : idx.IndEndLai+1]); err != nil {
		return domain.CurveMetrics{}, fmt.Errorf("senescence sum: %w", err)
	}
	if m.MaxSmoothed, err = stats.Max(data); err != nil {
		return domain.CurveMetrics{}, fmt.Errorf("smoothed max: %w", err)
	}
	m.ArgMaxDay = argmax(curve)

	if m.MaxObserved, err = stats.Max(raw); err != nil {
		return domain.CurveMetrics{}, fmt.Errorf("%w: no observed values: %v", domain.ErrInsufficientData, err)
	}
	return m, nil
}
