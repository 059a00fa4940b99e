package domain

import (
	"math"
	"time"
)

// SoilLayers is the number of soil-moisture layers carried per day.
const SoilLayers = 4

// WeatherDay holds the daily aggregates extracted for a parcel. Missing
// values are NaN.
type WeatherDay struct {
	Tmin          float64
	Tmax          float64
	Tmean         float64
	Precipitation float64
	ET            float64
	Radiation     float64
	SoilMoisture  [SoilLayers]float64
}

// MissingWeatherDay returns a day with every value NaN.
func MissingWeatherDay() WeatherDay {
	nan := math.NaN()
	return WeatherDay{
		Tmin: nan, Tmax: nan, Tmean: nan,
		Precipitation: nan, ET: nan, Radiation: nan,
		SoilMoisture: [SoilLayers]float64{nan, nan, nan, nan},
	}
}

// WeatherSeries is a parcel's weather laid out on the season grid: Days[i]
// is the weather at offset i.
type WeatherSeries struct {
	ParcelID ParcelID
	Start    time.Time
	Days     []WeatherDay
}

// Len returns the number of days in the series.
func (w WeatherSeries) Len() int { return len(w.Days) }
