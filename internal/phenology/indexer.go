package phenology

import (
	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
)

// DefaultMinDefinedSamples is the minimum number of defined curve days
// required before indices are detected.
const DefaultMinDefinedSamples = 50

const (
	halfGreenUp    = 0.5 // normalized level marking IndHalfLai
	baselineMargin = 0.1 // normalized level below which the curve counts as flat
)

// Indexer detects phenology indices on smoothed curves.
type Indexer struct {
	minDefined int
}

// NewIndexer returns an indexer requiring minDefined defined days per curve.
func NewIndexer(minDefined int) *Indexer {
	return &Indexer{minDefined: minDefined}
}

// Detect edge-extends curve and locates the four phenology indices. It
// returns the extended curve alongside, or an ErrInsufficientData error when
// the curve has fewer than the required defined days.
func (ix *Indexer) Detect(id domain.ParcelID, curve domain.DailyCurve) (domain.PhenologyIndices, domain.DailyCurve, error) {
	if have := curve.DefinedCount(); have < ix.minDefined {
		return domain.PhenologyIndices{}, nil, domain.InsufficientData(id, have, ix.minDefined)
	}
	ext := EdgeExtend(curve)
	return DetectIndices(ext), ext, nil
}

// EdgeExtend replicates the first defined value backward and the last
// defined value forward over the whole grid. Interior gaps carry the
// previous defined value. An all-undefined curve is returned unchanged.
func EdgeExtend(curve domain.DailyCurve) domain.DailyCurve {
	out := curve.Clone()
	first, _, ok := curve.DefinedSpan()
	if !ok {
		return out
	}
	for i := 0; i < first; i++ {
		out[i] = curve[first]
	}
	for i := first + 1; i < len(out); i++ {
		if !out.Defined(i) {
			out[i] = out[i-1]
		}
	}
	return out
}

// DetectIndices locates the indices on a fully defined, non-empty curve.
func DetectIndices(curve []float64) domain.PhenologyIndices {
	var idx domain.PhenologyIndices

	peak := argmax(curve)
	top := curve[peak]
	idx.IndMaxLai = peak

	if peak > 0 {
		floor := minOf(curve[:peak])
		span := top - floor
		idx.IndHalfLai = peak
		for i := 0; i <= peak; i++ {
			if (curve[i]-floor)/span > halfGreenUp {
				idx.IndHalfLai = i
				break
			}
		}
		for i := idx.IndHalfLai - 1; i >= 0; i-- {
			if (curve[i]-floor)/span < baselineMargin {
				idx.IndEmerg = i + 1
				break
			}
		}
	}

	// No decline after the peak: senescence ends on the last grid day.
	tail := curve[peak:]
	floor := minOf(tail)
	if floor == top {
		idx.IndEndLai = len(curve) - 1
		return idx
	}
	span := top - floor
	idx.IndEndLai = len(curve) - 1
	for k, v := range tail {
		if (v-floor)/span < baselineMargin {
			idx.IndEndLai = peak + k
			break
		}
	}
	return idx
}

// argmax returns the offset of the first occurrence of the maximum.
func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func minOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x < m {
			m = x
		}
	}
	return m
}
