// Command genmock writes a reproducible synthetic observation table and
// weather table for local runs and tests. Parcels are grouped into weather
// cells that share one daily series, the way gridded reanalysis data is
// extracted for neighbouring fields.
//
// Usage:
//
//	go run ./cmd/genmock -parcels 200 -year 2023 -out data
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
)

const (
	revisitDays  = 5   // satellite revisit interval
	cloudyShare  = 0.2 // share of acquisitions with too few valid pixels
	missingShare = 0.05
	parcelPixels = 400
)

type options struct {
	parcels int
	perCell int
	year    int
	feature string
	outDir  string
	seed    uint64
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var o options
	flag.IntVar(&o.parcels, "parcels", 100, "number of parcels")
	flag.IntVar(&o.perCell, "per-cell", 4, "parcels sharing one weather cell")
	flag.IntVar(&o.year, "year", 2023, "season year")
	flag.StringVar(&o.feature, "feature", "LAI", "vegetation index feature name")
	flag.StringVar(&o.outDir, "out", "data", "output directory")
	flag.Uint64Var(&o.seed, "seed", 42, "random seed")
	flag.Parse()

	if o.parcels < 1 || o.perCell < 1 {
		flag.Usage()
		return fmt.Errorf("-parcels and -per-cell must be positive")
	}

	season, err := domain.NewSeason(o.year, "01-01", "11-30")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(o.outDir, 0o755); err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))
	ids := make([]domain.ParcelID, o.parcels)
	for i := range ids {
		ids[i] = domain.ParcelID(fmt.Sprintf("parcel-%05d", i+1))
	}

	obsPath := filepath.Join(o.outDir, "observations.csv")
	stats, err := writeFile(obsPath, func(w io.Writer) (int, error) {
		return writeObservations(w, rng, season, o.feature, ids)
	})
	if err != nil {
		return fmt.Errorf("writing observations: %w", err)
	}
	log.Printf("wrote %s: %d parcels, %d cloudy acquisitions", obsPath, len(ids), stats)

	weatherPath := filepath.Join(o.outDir, "weather.csv")
	cells, err := writeFile(weatherPath, func(w io.Writer) (int, error) {
		return writeWeather(w, rng, season, ids, o.perCell)
	})
	if err != nil {
		return fmt.Errorf("writing weather: %w", err)
	}
	log.Printf("wrote %s: %d weather cells", weatherPath, cells)
	return nil
}

func writeFile(path string, write func(io.Writer) (int, error)) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := write(f)
	if err != nil {
		_ = f.Close()
		return 0, err
	}
	return n, f.Close()
}

// canopy is a double-logistic LAI curve with a parcel-specific sowing shift.
type canopy struct {
	greenUp, senescence float64 // inflection days
	peak                float64
}

func (c canopy) at(day float64) float64 {
	up := 1 / (1 + math.Exp(-(day-c.greenUp)/8))
	down := 1 / (1 + math.Exp((day-c.senescence)/10))
	return 0.2 + c.peak*up*down
}

// writeObservations returns the number of cloudy acquisitions written.
func writeObservations(w io.Writer, rng *rand.Rand, season domain.Season, feature string, ids []domain.ParcelID) (int, error) {
	out := gocsv.DefaultCSVWriter(w)
	n := season.GridLength()

	var days []int
	for d := 0; d < n; d += revisitDays {
		days = append(days, d)
	}

	header := []string{"id"}
	for _, d := range days {
		date := season.Date(d).Format(time.DateOnly)
		header = append(header,
			date+"_mean_"+feature,
			date+"_valid_"+feature,
			date+"_total_"+feature)
	}
	if err := out.Write(header); err != nil {
		return 0, err
	}

	cloudy := 0
	for _, id := range ids {
		c := canopy{
			greenUp:    90 + rng.Float64()*40,
			senescence: 190 + rng.Float64()*40,
			peak:       3 + rng.Float64()*3,
		}
		row := []string{string(id)}
		for _, d := range days {
			if rng.Float64() < missingShare {
				row = append(row, "", "0", strconv.Itoa(parcelPixels))
				continue
			}
			valid := parcelPixels
			if rng.Float64() < cloudyShare {
				valid = rng.IntN(parcelPixels / 2)
				cloudy++
			}
			lai := c.at(float64(d)) + rng.NormFloat64()*0.1
			raw := math.Round(math.Max(lai, 0) * 1000)
			row = append(row,
				strconv.FormatFloat(raw, 'f', -1, 64),
				strconv.Itoa(valid),
				strconv.Itoa(parcelPixels))
		}
		if err := out.Write(row); err != nil {
			return 0, err
		}
	}
	out.Flush()
	return cloudy, out.Error()
}

// writeWeather returns the number of weather cells generated.
func writeWeather(w io.Writer, rng *rand.Rand, season domain.Season, ids []domain.ParcelID, perCell int) (int, error) {
	out := gocsv.DefaultCSVWriter(w)
	n := season.GridLength()
	vars := []string{"tmin", "tmax", "prec", "et0", "rad", "sm1", "sm2", "sm3", "sm4"}

	header := []string{"id"}
	for d := 0; d < n; d++ {
		date := season.Date(d).Format("20060102")
		for _, v := range vars {
			header = append(header, date+"_"+v)
		}
	}
	if err := out.Write(header); err != nil {
		return 0, err
	}

	var cell []string
	cells := 0
	for i, id := range ids {
		if i%perCell == 0 {
			cell = weatherCell(rng, season, n)
			cells++
		}
		row := append([]string{string(id)}, cell...)
		if err := out.Write(row); err != nil {
			return 0, err
		}
	}
	out.Flush()
	return cells, out.Error()
}

// weatherCell draws one seasonal daily series, flattened day by day in the
// header's variable order. tmean is left out for the reader to derive.
func weatherCell(rng *rand.Rand, season domain.Season, n int) []string {
	offset := rng.NormFloat64() * 2
	cells := make([]string, 0, n*9)
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

	for d := 0; d < n; d++ {
		doy := float64(season.Date(d).YearDay())
		seasonal := -math.Cos(2 * math.Pi * (doy - 15) / 365)
		tmean := 10 + 12*seasonal + offset + rng.NormFloat64()*3
		amp := 4 + rng.Float64()*4
		prec := 0.0
		if rng.Float64() < 0.3 {
			prec = rng.ExpFloat64() * 5
		}
		rad := 12000 + 10000*seasonal + rng.NormFloat64()*2000
		et0 := math.Max(0.5, 2.5+2*seasonal+rng.NormFloat64()*0.5)
		cells = append(cells,
			f(tmean-amp), f(tmean+amp), f(prec), f(et0), f(math.Max(rad, 500)))
		for layer := 0; layer < domain.SoilLayers; layer++ {
			cells = append(cells, f(0.35-0.05*float64(layer)-0.1*seasonal*rng.Float64()))
		}
	}
	return cells
}
