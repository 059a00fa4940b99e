package phenology

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
)

// SmootherConfig controls observation filtering and the smoothing filter.
type SmootherConfig struct {
	ValidPixelRatio float64 // minimum validPixels/totalPixels to keep an observation
	RawValueDivisor float64 // raw integer encoding divisor
	Window          int     // smoothing window in days, odd
	Degree          int     // local polynomial degree
}

// DefaultSmootherConfig returns the production filter: 80% valid pixels,
// values stored in thousandths, 21-day linear Savitzky-Golay window.
func DefaultSmootherConfig() SmootherConfig {
	return SmootherConfig{
		ValidPixelRatio: 0.8,
		RawValueDivisor: 1000,
		Window:          21,
		Degree:          1,
	}
}

// Validate rejects parameter sets the filter cannot run with.
func (c SmootherConfig) Validate() error {
	switch {
	case c.ValidPixelRatio <= 0 || c.ValidPixelRatio > 1:
		return fmt.Errorf("%w: valid pixel ratio %g not in (0,1]", domain.ErrConfiguration, c.ValidPixelRatio)
	case c.RawValueDivisor <= 0:
		return fmt.Errorf("%w: raw value divisor %g must be positive", domain.ErrConfiguration, c.RawValueDivisor)
	case c.Window < 3 || c.Window%2 == 0:
		return fmt.Errorf("%w: smoothing window %d must be odd and at least 3", domain.ErrConfiguration, c.Window)
	case c.Degree < 0 || c.Degree >= c.Window:
		return fmt.Errorf("%w: smoothing degree %d must be in [0,%d)", domain.ErrConfiguration, c.Degree, c.Window)
	}
	return nil
}

// Smoother turns an irregular observation series into a daily curve.
type Smoother struct {
	cfg    SmootherConfig
	season domain.Season
	logger *slog.Logger
}

// NewSmoother validates cfg and binds it to a season grid.
func NewSmoother(cfg SmootherConfig, season domain.Season, logger *slog.Logger) (*Smoother, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Smoother{cfg: cfg, season: season, logger: logger}, nil
}

type point struct {
	day   int
	value float64
}

// Smooth filters, rescales, interpolates and smooths one series. Days outside
// the observed range stay undefined. A series without enough support yields
// an all-undefined curve.
func (s *Smoother) Smooth(series domain.ObservationSeries) domain.ParcelCurve {
	n := s.season.GridLength()
	out := domain.ParcelCurve{
		ParcelID: series.ParcelID,
		Curve:    domain.NewUndefinedCurve(n),
	}

	points := make([]point, 0, len(series.Observations))
	for _, o := range series.Observations {
		if o.ValidRatio() < s.cfg.ValidPixelRatio {
			continue
		}
		v := o.Mean / s.cfg.RawValueDivisor
		day := s.season.Offset(o.Date)
		points = append(points, point{day: day, value: v})
		// Acquisitions outside the grid still anchor the interpolation.
		if day >= 0 && day < n {
			out.RawValues = append(out.RawValues, v)
		}
	}
	points = mergeSameDay(points)

	if len(points) == 0 {
		s.logger.Info("no valid observations, curve left undefined",
			"parcel_id", series.ParcelID, "feature", series.Feature)
		return out
	}

	lo := max(points[0].day, 0)
	hi := min(points[len(points)-1].day, n-1)
	if hi-lo+1 < s.cfg.Window {
		s.logger.Info("observed range shorter than smoothing window, curve left undefined",
			"parcel_id", series.ParcelID, "feature", series.Feature,
			"covered_days", max(hi-lo+1, 0), "window", s.cfg.Window)
		return out
	}

	smoothed := savgol(interpolate(points, lo, hi), s.cfg.Window, s.cfg.Degree)
	copy(out.Curve[lo:hi+1], smoothed)
	return out
}

// mergeSameDay sorts points by day and averages points sharing a day.
func mergeSameDay(points []point) []point {
	sort.SliceStable(points, func(i, j int) bool { return points[i].day < points[j].day })
	merged := points[:0]
	for i := 0; i < len(points); {
		j, sum := i, 0.0
		for j < len(points) && points[j].day == points[i].day {
			sum += points[j].value
			j++
		}
		merged = append(merged, point{day: points[i].day, value: sum / float64(j-i)})
		i = j
	}
	return merged
}

// interpolate evaluates the piecewise-linear interpolant of points at every
// day in [lo, hi]. points must be sorted, unique and span [lo, hi].
func interpolate(points []point, lo, hi int) []float64 {
	out := make([]float64, 0, hi-lo+1)
	k := 0
	for d := lo; d <= hi; d++ {
		for k+1 < len(points) && points[k+1].day <= d {
			k++
		}
		a := points[k]
		if a.day >= d || k+1 == len(points) {
			out = append(out, a.value)
			continue
		}
		b := points[k+1]
		t := float64(d-a.day) / float64(b.day-a.day)
		out = append(out, a.value+t*(b.value-a.value))
	}
	return out
}

// savgol applies a Savitzky-Golay filter: every sample is replaced by the
// value at the window centre of a least-squares polynomial fitted over the
// surrounding window. The first and last half-windows are evaluated on the
// fit of the first and last full window. len(y) must be at least window.
func savgol(y []float64, window, degree int) []float64 {
	n := len(y)
	half := window / 2
	out := make([]float64, n)

	for i := half; i < n-half; i++ {
		out[i] = polyfit(y[i-half:i+half+1], degree)[0]
	}

	head := polyfit(y[:window], degree)
	for i := 0; i < half; i++ {
		out[i] = polyval(head, float64(i-half))
	}
	tail := polyfit(y[n-window:], degree)
	centre := n - 1 - half
	for i := n - half; i < n; i++ {
		out[i] = polyval(tail, float64(i-centre))
	}
	return out
}

// polyfit fits a polynomial of the given degree to y sampled at
// x = -len(y)/2 .. len(y)/2 and returns its coefficients, constant first.
func polyfit(y []float64, degree int) []float64 {
	m := degree + 1
	half := len(y) / 2

	a := make([][]float64, m)
	for p := range a {
		a[p] = make([]float64, m+1)
	}
	for j, v := range y {
		x := float64(j - half)
		xp := 1.0
		pows := make([]float64, 2*m-1)
		for k := range pows {
			pows[k] = xp
			xp *= x
		}
		for p := 0; p < m; p++ {
			for q := 0; q < m; q++ {
				a[p][q] += pows[p+q]
			}
			a[p][m] += pows[p] * v
		}
	}
	return solve(a)
}

// solve runs Gaussian elimination with partial pivoting on an augmented
// m x (m+1) system.
func solve(a [][]float64) []float64 {
	m := len(a)
	for col := 0; col < m; col++ {
		pivot := col
		for r := col + 1; r < m; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		a[col], a[pivot] = a[pivot], a[col]
		for r := col + 1; r < m; r++ {
			f := a[r][col] / a[col][col]
			if f == 0 {
				continue
			}
			for c := col; c <= m; c++ {
				a[r][c] -= f * a[col][c]
			}
		}
	}
	coef := make([]float64, m)
	for r := m - 1; r >= 0; r-- {
		sum := a[r][m]
		for c := r + 1; c < m; c++ {
			sum -= a[r][c] * coef[c]
		}
		coef[r] = sum / a[r][r]
	}
	return coef
}

func polyval(coef []float64, x float64) float64 {
	v := 0.0
	for i := len(coef) - 1; i >= 0; i-- {
		v = v*x + coef[i]
	}
	return v
}
