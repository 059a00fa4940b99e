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

	"github.com/gocarina/gocsv"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
)

// ReadWeather loads a wide weather table and lays every parcel's values out
// on the season grid. Days without a column, and malformed cells, are NaN.
// A missing tmean is derived from tmin and tmax. Columns outside the season
// are ignored.
func ReadWeather(in io.Reader, season domain.Season, logger *slog.Logger) (map[domain.ParcelID]domain.WeatherSeries, error) {
	r := gocsv.LazyCSVReader(in)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read weather header: %w", err)
	}
	schema, err := ParseWeatherHeader(header)
	if err != nil {
		return nil, err
	}

	n := season.GridLength()
	inSeason := make([]weatherColumn, 0, len(schema.columns))
	for _, c := range schema.columns {
		if off := season.Offset(c.date); off >= 0 && off < n {
			inSeason = append(inSeason, c)
		}
	}
	if len(inSeason) < len(schema.columns) {
		logger.Debug("weather columns outside the season ignored", "count", len(schema.columns)-len(inSeason))
	}

	out := make(map[domain.ParcelID]domain.WeatherSeries)
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			if errors.Is(err, csv.ErrFieldCount) {
				logger.Warn("skipping weather row", "line", line, "error", err)
				continue
			}
			return nil, fmt.Errorf("read weather line %d: %w", line, err)
		}

		id := domain.ParcelID(strings.TrimSpace(row[0]))
		if id == "" {
			logger.Warn("skipping weather row", "line", line, "error", "empty parcel id")
			continue
		}
		if _, dup := out[id]; dup {
			logger.Warn("duplicate weather row, keeping the first", "parcel_id", id, "line", line)
			continue
		}

		series := domain.WeatherSeries{ParcelID: id, Start: season.Start, Days: make([]domain.WeatherDay, n)}
		for i := range series.Days {
			series.Days[i] = domain.MissingWeatherDay()
		}
		malformed := 0
		for _, c := range inSeason {
			v, err := parseWeatherCell(row[c.index])
			if err != nil {
				malformed++
				continue
			}
			setVariable(&series.Days[season.Offset(c.date)], c.variable, v)
		}
		fillMeanTemperature(series.Days)
		if malformed > 0 {
			logger.Warn("malformed weather cells left missing", "parcel_id", id, "count", malformed)
		}
		out[id] = series
	}
}

func parseWeatherCell(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: weather value %q", domain.ErrMalformedRecord, cell)
	}
	return v, nil
}

func setVariable(d *domain.WeatherDay, v Variable, value float64) {
	switch v {
	case VarTmin:
		d.Tmin = value
	case VarTmax:
		d.Tmax = value
	case VarTmean:
		d.Tmean = value
	case VarPrecipitation:
		d.Precipitation = value
	case VarET:
		d.ET = value
	case VarRadiation:
		d.Radiation = value
	case VarSoil1, VarSoil2, VarSoil3, VarSoil4:
		d.SoilMoisture[v-VarSoil1] = value
	}
}

func fillMeanTemperature(days []domain.WeatherDay) {
	for i := range days {
		d := &days[i]
		if math.IsNaN(d.Tmean) && !math.IsNaN(d.Tmin) && !math.IsNaN(d.Tmax) {
			d.Tmean = (d.Tmin + d.Tmax) / 2
		}
	}
}
