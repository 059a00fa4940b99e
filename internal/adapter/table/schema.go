// Package table reads the wide per-parcel observation and weather tables and
// writes the tabular artifacts of a run.
//
// A wide table has one row per parcel. The first column holds the parcel ID;
// the remaining column names encode a date and a variable, for example
// "2023-04-12_mean_LAI" or "20230412_tmax".
package table

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
)

var dateLayouts = []string{time.DateOnly, "20060102"}

// ParseDate accepts ISO dates and compact yyyymmdd dates.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: date %q", domain.ErrMalformedRecord, s)
}

// Statistic is the per-acquisition value a column carries.
type Statistic int

const (
	StatMean Statistic = iota
	StatValid
	StatTotal
)

var statisticNames = map[string]Statistic{
	"mean":        StatMean,
	"valid":       StatValid,
	"count_valid": StatValid,
	"total":       StatTotal,
	"count_total": StatTotal,
}

// Variable is a daily weather quantity.
type Variable int

const (
	VarTmin Variable = iota
	VarTmax
	VarTmean
	VarPrecipitation
	VarET
	VarRadiation
	VarSoil1
	VarSoil2
	VarSoil3
	VarSoil4
)

var variableNames = map[string]Variable{
	"tmin":  VarTmin,
	"tmax":  VarTmax,
	"tmean": VarTmean,
	"prec":  VarPrecipitation,
	"et0":   VarET,
	"rad":   VarRadiation,
	"sm1":   VarSoil1,
	"sm2":   VarSoil2,
	"sm3":   VarSoil3,
	"sm4":   VarSoil4,
}

// acquisition locates the three columns of one observation date.
type acquisition struct {
	date  time.Time
	mean  int
	valid int
	total int
}

// ObservationSchema is the parsed header of an observation table for one feature.
type ObservationSchema struct {
	Feature      string
	acquisitions []acquisition // sorted by date
	width        int
}

// Dates returns the acquisition dates in order.
func (s ObservationSchema) Dates() []time.Time {
	out := make([]time.Time, len(s.acquisitions))
	for i, a := range s.acquisitions {
		out[i] = a.date
	}
	return out
}

// ParseObservationHeader maps the header to acquisitions of feature. Columns
// of other features and unrecognized names are ignored. Dates lacking one of
// the mean/valid/total columns are returned as incomplete.
func ParseObservationHeader(header []string, feature string) (ObservationSchema, []time.Time, error) {
	if err := checkIDColumn(header); err != nil {
		return ObservationSchema{}, nil, err
	}

	type cols struct{ mean, valid, total int }
	byDate := make(map[time.Time]*cols)
	suffix := "_" + strings.ToLower(feature)

	for i, name := range header[1:] {
		lower := strings.ToLower(strings.TrimSpace(name))
		if !strings.HasSuffix(lower, suffix) {
			continue
		}
		datePart, stat, ok := strings.Cut(strings.TrimSuffix(lower, suffix), "_")
		if !ok {
			continue
		}
		st, known := statisticNames[stat]
		if !known {
			continue
		}
		date, err := ParseDate(datePart)
		if err != nil {
			continue
		}
		c, exists := byDate[date]
		if !exists {
			c = &cols{-1, -1, -1}
			byDate[date] = c
		}
		switch st {
		case StatMean:
			c.mean = i + 1
		case StatValid:
			c.valid = i + 1
		case StatTotal:
			c.total = i + 1
		}
	}

	schema := ObservationSchema{Feature: feature, width: len(header)}
	var incomplete []time.Time
	for date, c := range byDate {
		if c.mean < 0 || c.valid < 0 || c.total < 0 {
			incomplete = append(incomplete, date)
			continue
		}
		schema.acquisitions = append(schema.acquisitions, acquisition{date: date, mean: c.mean, valid: c.valid, total: c.total})
	}
	if len(schema.acquisitions) == 0 {
		return ObservationSchema{}, nil, fmt.Errorf("%w: no complete %s columns in header", domain.ErrConfiguration, feature)
	}
	sort.Slice(schema.acquisitions, func(i, j int) bool {
		return schema.acquisitions[i].date.Before(schema.acquisitions[j].date)
	})
	sort.Slice(incomplete, func(i, j int) bool { return incomplete[i].Before(incomplete[j]) })
	return schema, incomplete, nil
}

type weatherColumn struct {
	index    int
	date     time.Time
	variable Variable
}

// WeatherSchema is the parsed header of a weather table.
type WeatherSchema struct {
	columns []weatherColumn
	width   int
}

// ParseWeatherHeader maps "{date}_{variable}" columns. Unrecognized columns are ignored.
func ParseWeatherHeader(header []string) (WeatherSchema, error) {
	if err := checkIDColumn(header); err != nil {
		return WeatherSchema{}, err
	}
	schema := WeatherSchema{width: len(header)}
	for i, name := range header[1:] {
		datePart, varName, ok := strings.Cut(strings.ToLower(strings.TrimSpace(name)), "_")
		if !ok {
			continue
		}
		v, known := variableNames[varName]
		if !known {
			continue
		}
		date, err := ParseDate(datePart)
		if err != nil {
			continue
		}
		schema.columns = append(schema.columns, weatherColumn{index: i + 1, date: date, variable: v})
	}
	if len(schema.columns) == 0 {
		return WeatherSchema{}, fmt.Errorf("%w: no weather columns in header", domain.ErrConfiguration)
	}
	return schema, nil
}

func checkIDColumn(header []string) error {
	if len(header) == 0 {
		return fmt.Errorf("%w: empty header", domain.ErrConfiguration)
	}
	switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header[0], "\ufeff"))) {
	case "id", "parcel_id":
		return nil
	default:
		return fmt.Errorf("%w: first column %q must be id or parcel_id", domain.ErrConfiguration, header[0])
	}
}
