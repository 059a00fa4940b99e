package table

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
	"github.com/couchcryptid/crop-phenology-etl/internal/safy"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteCurves writes one row per parcel with a "{date}_{feature}_SG" column
// per season day. Undefined days are empty cells.
func WriteCurves(w io.Writer, feature string, season domain.Season, curves []domain.ParcelCurve) error {
	out := gocsv.DefaultCSVWriter(w)
	n := season.GridLength()

	header := make([]string, 0, n+1)
	header = append(header, "id")
	for i := 0; i < n; i++ {
		header = append(header, fmt.Sprintf("%s_%s_SG", season.Date(i).Format(time.DateOnly), feature))
	}
	if err := out.Write(header); err != nil {
		return fmt.Errorf("write curve header: %w", err)
	}

	row := make([]string, n+1)
	for _, c := range curves {
		if len(c.Curve) != n {
			return fmt.Errorf("%w: parcel %s curve has %d days, season has %d",
				domain.ErrMalformedRecord, c.ParcelID, len(c.Curve), n)
		}
		row[0] = string(c.ParcelID)
		for i := range c.Curve {
			if c.Curve.Defined(i) {
				row[i+1] = formatFloat(c.Curve[i])
			} else {
				row[i+1] = ""
			}
		}
		if err := out.Write(row); err != nil {
			return fmt.Errorf("write curve of parcel %s: %w", c.ParcelID, err)
		}
	}
	out.Flush()
	return out.Error()
}

// WriteTrajectories writes simulated green LAI and grain mass per parcel as
// "{date}_LAI" and "{date}_GRAIN" columns.
func WriteTrajectories(w io.Writer, season domain.Season, ids []domain.ParcelID, trajs []safy.Trajectory) error {
	if len(ids) != len(trajs) {
		return fmt.Errorf("%d parcel ids for %d trajectories", len(ids), len(trajs))
	}
	out := gocsv.DefaultCSVWriter(w)
	n := season.GridLength()

	header := make([]string, 0, 2*n+2)
	header = append(header, "id")
	for i := 0; i < n; i++ {
		header = append(header, season.Date(i).Format(time.DateOnly)+"_LAI")
	}
	for i := 0; i < n; i++ {
		header = append(header, season.Date(i).Format(time.DateOnly)+"_GRAIN")
	}
	header = append(header, "anthesis_day")
	if err := out.Write(header); err != nil {
		return fmt.Errorf("write trajectory header: %w", err)
	}

	row := make([]string, len(header))
	for k, t := range trajs {
		if len(t.GreenLAI) != n || len(t.GrainMass) != n {
			return fmt.Errorf("%w: parcel %s trajectory does not span the season", domain.ErrMalformedRecord, ids[k])
		}
		row[0] = string(ids[k])
		for i := 0; i < n; i++ {
			row[1+i] = formatFloat(t.GreenLAI[i])
			row[1+n+i] = formatFloat(t.GrainMass[i])
		}
		row[len(row)-1] = strconv.Itoa(t.AnthesisDay)
		if err := out.Write(row); err != nil {
			return fmt.Errorf("write trajectory of parcel %s: %w", ids[k], err)
		}
	}
	out.Flush()
	return out.Error()
}

// WriteIndices writes the phenology index table.
func WriteIndices(w io.Writer, rows []domain.ParcelIndices) error {
	return marshal("indices", rows, w)
}

// WriteMetrics writes the curve metrics table.
func WriteMetrics(w io.Writer, rows []domain.ParcelMetrics) error {
	return marshal("metrics", rows, w)
}

// WriteFeatures writes the feature record table. Undefined values are empty cells.
func WriteFeatures(w io.Writer, rows []domain.FeatureRecord) error {
	out := gocsv.DefaultCSVWriter(w)
	values := domain.FeatureRecord{}.Values()
	header := make([]string, 0, len(values)+1)
	header = append(header, "id")
	for _, fv := range values {
		header = append(header, fv.Name)
	}
	if err := out.Write(header); err != nil {
		return fmt.Errorf("write features header: %w", err)
	}

	row := make([]string, len(header))
	for _, rec := range rows {
		row[0] = string(rec.ParcelID)
		for i, fv := range rec.Values() {
			if math.IsNaN(fv.Value) || math.IsInf(fv.Value, 0) {
				row[i+1] = ""
			} else {
				row[i+1] = formatFloat(fv.Value)
			}
		}
		if err := out.Write(row); err != nil {
			return fmt.Errorf("write features of parcel %s: %w", rec.ParcelID, err)
		}
	}
	out.Flush()
	return out.Error()
}

// ReadFeatures reads a table written by WriteFeatures. Empty cells read as
// NaN and unknown columns are ignored.
func ReadFeatures(r io.Reader) ([]domain.FeatureRecord, error) {
	rows, err := gocsv.LazyCSVReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read features: %w", err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 || rows[0][0] != "id" {
		return nil, fmt.Errorf("%w: features table has no id column", domain.ErrMalformedRecord)
	}

	header := rows[0]
	out := make([]domain.FeatureRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := domain.FeatureRecord{ParcelID: domain.ParcelID(row[0])}
		for i := 1; i < len(row) && i < len(header); i++ {
			v := math.NaN()
			if cell := strings.TrimSpace(row[i]); cell != "" {
				if v, err = strconv.ParseFloat(cell, 64); err != nil {
					return nil, fmt.Errorf("%w: parcel %s column %s: %v",
						domain.ErrMalformedRecord, rec.ParcelID, header[i], err)
				}
			}
			rec.SetValue(header[i], v)
		}
		out = append(out, rec)
	}
	return out, nil
}

func marshal(name string, rows any, w io.Writer) error {
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// CurvesFile is the smoothed curve artifact name inside the output directory.
func CurvesFile(feature string) string { return feature + "_smoothed.csv" }

func IndicesFile(feature string) string { return feature + "_indices.csv" }

func MetricsFile(feature string) string { return feature + "_metrics.csv" }

func FeaturesFile() string { return "features.csv" }

func TrajectoriesFile() string { return "trajectories.csv" }

// FileSink writes the artifacts of a run into a directory. Without features
// it leaves an existing features table untouched.
type FileSink struct {
	dir      string
	features bool
}

// NewFileSink creates the output directory if needed. withFeatures selects
// whether the feature record table is written.
func NewFileSink(dir string, withFeatures bool) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &FileSink{dir: dir, features: withFeatures}, nil
}

func (s *FileSink) Name() string { return "files" }

// Write persists results in the order given. Every parcel gets a curve row;
// the other tables only hold parcels that reached that stage.
func (s *FileSink) Write(_ context.Context, run domain.Run, results []domain.ParcelResult) error {
	var (
		curves   = make([]domain.ParcelCurve, 0, len(results))
		indices  []domain.ParcelIndices
		metrics  []domain.ParcelMetrics
		features []domain.FeatureRecord
	)
	for _, r := range results {
		curves = append(curves, r.Curve)
		if r.Indices != nil {
			indices = append(indices, domain.ParcelIndices{ParcelID: r.ParcelID, PhenologyIndices: *r.Indices})
		}
		if r.Metrics != nil {
			metrics = append(metrics, domain.ParcelMetrics{ParcelID: r.ParcelID, CurveMetrics: *r.Metrics})
		}
		if r.Features != nil {
			features = append(features, *r.Features)
		}
	}

	if err := s.writeFile(CurvesFile(run.Feature), func(w io.Writer) error {
		return WriteCurves(w, run.Feature, run.Season, curves)
	}); err != nil {
		return err
	}
	if err := s.writeFile(IndicesFile(run.Feature), func(w io.Writer) error { return WriteIndices(w, indices) }); err != nil {
		return err
	}
	if err := s.writeFile(MetricsFile(run.Feature), func(w io.Writer) error { return WriteMetrics(w, metrics) }); err != nil {
		return err
	}
	if !s.features {
		return nil
	}
	return s.writeFile(FeaturesFile(), func(w io.Writer) error { return WriteFeatures(w, features) })
}

func (s *FileSink) writeFile(name string, write func(io.Writer) error) error {
	path := filepath.Join(s.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
