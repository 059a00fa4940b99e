package domain

import (
	"fmt"
	"time"
)

// ParcelID identifies a field. It is opaque and only compared and sorted.
type ParcelID string

// Observation is one acquisition of a vegetation index over a parcel.
type Observation struct {
	Date        time.Time
	Mean        float64 // raw integer-encoded value
	ValidPixels int
	TotalPixels int
}

// ValidRatio returns the share of cloud-free pixels, or 0 for an empty parcel.
func (o Observation) ValidRatio() float64 {
	if o.TotalPixels <= 0 {
		return 0
	}
	return float64(o.ValidPixels) / float64(o.TotalPixels)
}

// ObservationSeries is the date-ordered observation list of one parcel for one feature.
type ObservationSeries struct {
	ParcelID     ParcelID
	Feature      string
	Observations []Observation
}

// Season is the inclusive date range every day-indexed array is laid out on.
type Season struct {
	Start time.Time
	End   time.Time
}

// NewSeason builds a season for year from "MM-DD" bounds.
func NewSeason(year int, startMMDD, endMMDD string) (Season, error) {
	start, err := time.Parse("2006-01-02", fmt.Sprintf("%04d-%s", year, startMMDD))
	if err != nil {
		return Season{}, fmt.Errorf("%w: season start %q: %v", ErrConfiguration, startMMDD, err)
	}
	end, err := time.Parse("2006-01-02", fmt.Sprintf("%04d-%s", year, endMMDD))
	if err != nil {
		return Season{}, fmt.Errorf("%w: season end %q: %v", ErrConfiguration, endMMDD, err)
	}
	if !end.After(start) {
		return Season{}, fmt.Errorf("%w: season end %s is not after start %s",
			ErrConfiguration, end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return Season{Start: start, End: end}, nil
}

// GridLength is the number of days in the season, both bounds included.
func (s Season) GridLength() int {
	return s.Offset(s.End) + 1
}

// Offset returns the day offset of t from the season start. Dates before the
// start give negative offsets.
func (s Season) Offset(t time.Time) int {
	a := time.Date(s.Start.Year(), s.Start.Month(), s.Start.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// Date returns the calendar date at a day offset.
func (s Season) Date(offset int) time.Time {
	return s.Start.AddDate(0, 0, offset)
}
