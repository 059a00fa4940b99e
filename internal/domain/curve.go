package domain

import "math"

// DailyCurve is a dense per-day series on the season grid. NaN marks an
// undefined day.
type DailyCurve []float64

// NewUndefinedCurve returns a curve of length n with every day undefined.
func NewUndefinedCurve(n int) DailyCurve {
	c := make(DailyCurve, n)
	for i := range c {
		c[i] = math.NaN()
	}
	return c
}

// Defined reports whether day i holds a value.
func (c DailyCurve) Defined(i int) bool {
	return i >= 0 && i < len(c) && !math.IsNaN(c[i])
}

// DefinedCount returns the number of defined days.
func (c DailyCurve) DefinedCount() int {
	n := 0
	for _, v := range c {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// DefinedSpan returns the first and last defined offsets, or ok=false when
// nothing is defined.
func (c DailyCurve) DefinedSpan() (first, last int, ok bool) {
	first, last = -1, -1
	for i, v := range c {
		if math.IsNaN(v) {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	return first, last, first >= 0
}

// Clone returns an independent copy.
func (c DailyCurve) Clone() DailyCurve {
	out := make(DailyCurve, len(c))
	copy(out, c)
	return out
}

// ParcelCurve pairs a smoothed curve with the parcel and the observed values it came from.
type ParcelCurve struct {
	ParcelID ParcelID
	Curve    DailyCurve
	// RawValues are the rescaled observations that passed the validity filter.
	RawValues []float64
}
