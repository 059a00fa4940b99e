// Package features merges phenology-bounded weather aggregates with growth
// simulation outputs into the per-parcel records consumed by the yield model.
package features

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
	"github.com/couchcryptid/crop-phenology-etl/internal/safy"
)

const (
	coldThreshold    = 0.0  // tmin at or below, °C
	heatThreshold    = 35.0 // tmax at or above, °C
	radiationDivisor = 1000.0
)

// interval is an inclusive range of season day offsets.
type interval struct{ lo, hi int }

// Aggregate builds the feature record of one parcel. days must be laid out
// on the same grid as idx. Missing weather values are left out of sums and
// means; a mean with no values is NaN.
func Aggregate(id domain.ParcelID, idx domain.PhenologyIndices, days []domain.WeatherDay, traj safy.Trajectory) (domain.FeatureRecord, error) {
	if err := idx.Validate(len(days)); err != nil {
		return domain.FeatureRecord{}, fmt.Errorf("parcel %s: %w", id, err)
	}

	e := interval{idx.IndEmerg, idx.IndHalfLai}
	m := interval{idx.IndHalfLai, idx.IndMaxLai}
	l := interval{idx.IndMaxLai, idx.IndEndLai}
	s1 := interval{idx.IndEmerg, idx.IndMaxLai}
	s2 := l
	s3 := interval{idx.IndEndLai, len(days) - 1}

	w := weather(days)
	tmean := func(d domain.WeatherDay) float64 { return clipPositive(d.Tmean) }
	prec := func(d domain.WeatherDay) float64 { return d.Precipitation }
	rad := func(d domain.WeatherDay) float64 { return d.Radiation / radiationDivisor }
	et := func(d domain.WeatherDay) float64 { return d.ET }
	cold := func(d domain.WeatherDay) bool { return d.Tmin <= coldThreshold }
	heat := func(d domain.WeatherDay) bool { return d.Tmax >= heatThreshold }

	rec := domain.FeatureRecord{
		ParcelID: id,

		ColdDaysE: w.count(e, cold),
		ColdDaysM: w.count(m, cold),
		HeatDaysL: w.count(l, heat),

		TempSumE:  w.sum(e, tmean),
		TempSumM:  w.sum(m, tmean),
		TempSumL:  w.sum(l, tmean),
		TempMeanE: w.mean(e, tmean),
		TempMeanM: w.mean(m, tmean),
		TempMeanL: w.mean(l, tmean),

		PrecSumE: w.sum(e, prec),
		PrecSumM: w.sum(m, prec),
		PrecSumL: w.sum(l, prec),

		RadSumE: w.sum(e, rad),
		RadSumM: w.sum(m, rad),
		RadSumL: w.sum(l, rad),

		EtSumE: w.sum(e, et),
		EtSumM: w.sum(m, et),
		EtSumL: w.sum(l, et),

		SM1S1: w.mean(s1, soil(0)),
		SM2S1: w.mean(s1, soil(1)),
		SM3S1: w.mean(s1, soil(2)),
		SM4S1: w.mean(s1, soil(3)),
		SM1S2: w.mean(s2, soil(0)),
		SM2S2: w.mean(s2, soil(1)),
		SM3S2: w.mean(s2, soil(2)),
		SM4S2: w.mean(s2, soil(3)),
		SM1S3: w.mean(s3, soil(0)),
		SM2S3: w.mean(s3, soil(1)),
		SM3S3: w.mean(s3, soil(2)),
		SM4S3: w.mean(s3, soil(3)),

		AnthesisDay: traj.AnthesisDay,
	}

	rec.SimMaxLAI, _ = traj.Peak()
	if idx.IndMaxLai < len(traj.GreenLAI) {
		rec.SimLAIAtPeak = traj.GreenLAI[idx.IndMaxLai]
	}
	rec.SimGrainMass = traj.FinalGrain()
	return rec, nil
}

type weather []domain.WeatherDay

// values collects the defined values of f over iv.
func (w weather) values(iv interval, f func(domain.WeatherDay) float64) stats.Float64Data {
	out := make(stats.Float64Data, 0, iv.hi-iv.lo+1)
	for _, d := range w[iv.lo : iv.hi+1] {
		if v := f(d); !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func (w weather) sum(iv interval, f func(domain.WeatherDay) float64) float64 {
	s, err := stats.Sum(w.values(iv, f))
	if err != nil {
		return 0
	}
	return s
}

func (w weather) mean(iv interval, f func(domain.WeatherDay) float64) float64 {
	m, err := stats.Mean(w.values(iv, f))
	if err != nil {
		return math.NaN()
	}
	return m
}

func (w weather) count(iv interval, pred func(domain.WeatherDay) bool) int {
	n := 0
	for _, d := range w[iv.lo : iv.hi+1] {
		if pred(d) {
			n++
		}
	}
	return n
}

func soil(layer int) func(domain.WeatherDay) float64 {
	return func(d domain.WeatherDay) float64 { return d.SoilMoisture[layer] }
}

func clipPositive(v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	return math.Max(v, 0)
}
