package domain

import "fmt"

// PhenologyIndices holds the four transition day offsets of a parcel's season.
type PhenologyIndices struct {
	IndEmerg   int `csv:"IndEmerg"`
	IndHalfLai int `csv:"IndHalfLai"`
	IndMaxLai  int `csv:"IndMaxLai"`
	IndEndLai  int `csv:"IndEndLai"`
}

// Validate checks ordering and that every index lies on a grid of gridLength days.
func (p PhenologyIndices) Validate(gridLength int) error {
	idx := [4]int{p.IndEmerg, p.IndHalfLai, p.IndMaxLai, p.IndEndLai}
	for i, v := range idx {
		if v < 0 || v >= gridLength {
			return fmt.Errorf("%w: index %d out of grid [0,%d)", ErrMalformedRecord, v, gridLength)
		}
		if i > 0 && idx[i-1] > v {
			return fmt.Errorf("%w: indices not ordered: %v", ErrMalformedRecord, idx)
		}
	}
	return nil
}

// ParcelIndices is one row of the phenology index table.
type ParcelIndices struct {
	ParcelID ParcelID `csv:"id"`
	PhenologyIndices
}

// CurveMetrics are the seven summary values derived from a smoothed curve.
type CurveMetrics struct {
	MeanPreEmerg  float64 `csv:"mean_pre_emerg"`
	SumGreenUp    float64 `csv:"sum_emerg_half"`
	SumLateGrowth float64 `csv:"sum_half_max"`
	SumSenescence float64 `csv:"sum_max_end"`
	MaxSmoothed   float64 `csv:"max_smoothed"`
	ArgMaxDay     int     `csv:"argmax_smoothed"`
	MaxObserved   float64 `csv:"max_observed"`
}

// ParcelMetrics is one row of the metrics table.
type ParcelMetrics struct {
	ParcelID ParcelID `csv:"id"`
	CurveMetrics
}
