package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
)

// ObservationReader streams parcels from a wide observation table.
type ObservationReader struct {
	r      gocsv.CSVReader
	schema ObservationSchema
	logger *slog.Logger
	line   int
}

// NewObservationReader reads the header and prepares to stream the rows of
// feature.
func NewObservationReader(in io.Reader, feature string, logger *slog.Logger) (*ObservationReader, error) {
	r := gocsv.LazyCSVReader(in)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read observation header: %w", err)
	}
	schema, incomplete, err := ParseObservationHeader(header, feature)
	if err != nil {
		return nil, err
	}
	for _, d := range incomplete {
		logger.Warn("observation date lacks mean/valid/total columns, ignored",
			"feature", feature, "date", d.Format(time.DateOnly))
	}
	logger.Debug("observation header parsed", "feature", feature, "acquisitions", len(schema.acquisitions))
	return &ObservationReader{r: r, schema: schema, logger: logger, line: 1}, nil
}

// Schema returns the parsed header.
func (o *ObservationReader) Schema() ObservationSchema { return o.schema }

// Next returns the next parcel's series, or io.EOF after the last row.
// Malformed rows and cells are logged and skipped.
func (o *ObservationReader) Next() (domain.ObservationSeries, error) {
	for {
		row, err := o.r.Read()
		o.line++
		if err == io.EOF {
			return domain.ObservationSeries{}, io.EOF
		}
		if err != nil {
			if errors.Is(err, csv.ErrFieldCount) {
				o.logger.Warn("skipping observation row", "line", o.line, "error", err)
				continue
			}
			return domain.ObservationSeries{}, fmt.Errorf("read observation line %d: %w", o.line, err)
		}

		series, err := o.parseRow(row)
		if err != nil {
			o.logger.Warn("skipping observation row", "line", o.line, "error", err)
			continue
		}
		return series, nil
	}
}

func (o *ObservationReader) parseRow(row []string) (domain.ObservationSeries, error) {
	if len(row) != o.schema.width {
		return domain.ObservationSeries{}, fmt.Errorf("%w: %d fields, header has %d", domain.ErrMalformedRecord, len(row), o.schema.width)
	}
	id := strings.TrimSpace(row[0])
	if id == "" {
		return domain.ObservationSeries{}, fmt.Errorf("%w: empty parcel id", domain.ErrMalformedRecord)
	}

	series := domain.ObservationSeries{
		ParcelID:     domain.ParcelID(id),
		Feature:      o.schema.Feature,
		Observations: make([]domain.Observation, 0, len(o.schema.acquisitions)),
	}
	for _, a := range o.schema.acquisitions {
		obs, ok, err := parseAcquisition(row, a)
		if err != nil {
			o.logger.Warn("skipping malformed observation",
				"parcel_id", id, "date", a.date.Format(time.DateOnly), "error", err)
			continue
		}
		if ok {
			series.Observations = append(series.Observations, obs)
		}
	}
	return series, nil
}

// parseAcquisition returns ok=false when the parcel has no value on that
// date, which is the case for fully clouded acquisitions.
func parseAcquisition(row []string, a acquisition) (domain.Observation, bool, error) {
	meanCell := strings.TrimSpace(row[a.mean])
	if meanCell == "" {
		return domain.Observation{}, false, nil
	}

	mean, err := parseValue(meanCell)
	if err != nil {
		return domain.Observation{}, false, err
	}
	if math.IsNaN(mean) {
		return domain.Observation{}, false, nil
	}
	valid, err := parseCount(strings.TrimSpace(row[a.valid]))
	if err != nil {
		return domain.Observation{}, false, err
	}
	total, err := parseCount(strings.TrimSpace(row[a.total]))
	if err != nil {
		return domain.Observation{}, false, err
	}
	return domain.Observation{Date: a.date, Mean: mean, ValidPixels: valid, TotalPixels: total}, true, nil
}

func parseValue(cell string) (float64, error) {
	if cell == "" {
		return 0, fmt.Errorf("%w: empty value", domain.ErrMalformedRecord)
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: value %q", domain.ErrMalformedRecord, cell)
	}
	return v, nil
}

// parseCount accepts integral counts written as floats, as spreadsheet exports do.
func parseCount(cell string) (int, error) {
	v, err := parseValue(cell)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || v < 0 || v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: pixel count %q", domain.ErrMalformedRecord, cell)
	}
	return int(v), nil
}

// ReadObservations loads every parcel of feature from in.
func ReadObservations(in io.Reader, feature string, logger *slog.Logger) ([]domain.ObservationSeries, error) {
	r, err := NewObservationReader(in, feature, logger)
	if err != nil {
		return nil, err
	}
	var out []domain.ObservationSeries
	for {
		s, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
}
