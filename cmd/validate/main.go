// Command validate re-reads the artifacts of a run and checks the invariants
// every consumer relies on: parcel ordering, index ordering and range, table
// membership, metric and feature consistency, and optionally that the sqlite
// feature store holds the same indices and feature records as the CSV
// artifacts.
//
// Usage:
//
//	go run ./cmd/validate -dir out -feature LAI -sqlite features.db
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/couchcryptid/crop-phenology-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/crop-phenology-etl/internal/adapter/table"
	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
	"github.com/couchcryptid/crop-phenology-etl/internal/phenology"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// artifacts is everything a run wrote to its output directory.
type artifacts struct {
	dates    []time.Time
	curves   map[domain.ParcelID]domain.DailyCurve
	curveIDs []domain.ParcelID
	indices  []domain.ParcelIndices
	metrics  []domain.ParcelMetrics
	features []domain.FeatureRecord
}

func main() {
	dir := flag.String("dir", "out", "run output directory")
	feature := flag.String("feature", "LAI", "vegetation index feature name")
	minDefined := flag.Int("min-defined", phenology.DefaultMinDefinedSamples, "minimum defined curve days for indexed parcels")
	dbPath := flag.String("sqlite", "", "optional sqlite feature store to cross-check")
	flag.Parse()

	os.Exit(run(*dir, *feature, *minDefined, *dbPath))
}

func run(dir, feature string, minDefined int, dbPath string) int {
	fmt.Println("=== Phenology Artifact Validation ===")
	fmt.Println()

	a, err := loadArtifacts(dir, feature)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateCurves(a),
		validateIndices(a, minDefined),
		validateMetrics(a),
		validateFeatures(a),
	}
	if dbPath != "" {
		phases = append(phases, validateStore(context.Background(), a, dbPath))
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Parcels: %d curves, %d indexed, %d with metrics, %d with features\n",
		len(a.curveIDs), len(a.indices), len(a.metrics), len(a.features))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Loading ──

func loadArtifacts(dir, feature string) (*artifacts, error) {
	a := &artifacts{curves: make(map[domain.ParcelID]domain.DailyCurve)}
	if err := loadCurves(filepath.Join(dir, table.CurvesFile(feature)), feature, a); err != nil {
		return nil, err
	}
	if err := unmarshalFile(filepath.Join(dir, table.IndicesFile(feature)), &a.indices); err != nil {
		return nil, err
	}
	if err := unmarshalFile(filepath.Join(dir, table.MetricsFile(feature)), &a.metrics); err != nil {
		return nil, err
	}
	features, err := os.Open(filepath.Join(dir, table.FeaturesFile()))
	if err != nil {
		return nil, err
	}
	defer features.Close()
	if a.features, err = table.ReadFeatures(features); err != nil {
		return nil, fmt.Errorf("%s: %w", features.Name(), err)
	}
	return a, nil
}

func unmarshalFile(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := gocsv.UnmarshalFile(f, out); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func loadCurves(path, feature string, a *artifacts) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := gocsv.LazyCSVReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("curves: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("curves: empty file %s", path)
	}

	suffix := "_" + feature + "_SG"
	for _, h := range rows[0][1:] {
		d, err := table.ParseDate(strings.TrimSuffix(h, suffix))
		if err != nil || !strings.HasSuffix(h, suffix) {
			return fmt.Errorf("curves: unexpected column %q", h)
		}
		a.dates = append(a.dates, d)
	}

	for _, row := range rows[1:] {
		id := domain.ParcelID(row[0])
		curve := domain.NewUndefinedCurve(len(a.dates))
		for i, cell := range row[1:] {
			if cell == "" || i >= len(curve) {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return fmt.Errorf("curves: parcel %s day %d: %w", id, i, err)
			}
			curve[i] = v
		}
		a.curveIDs = append(a.curveIDs, id)
		a.curves[id] = curve
	}
	return nil
}

// ── Phase 1: Curves ──

func validateCurves(a *artifacts) *phase {
	p := &phase{name: "Phase 1: Smoothed curves"}
	for i := 1; i < len(a.dates); i++ {
		if !a.dates[i].Equal(a.dates[i-1].AddDate(0, 0, 1)) {
			p.errorf("column %d: %s does not follow %s", i+1,
				a.dates[i].Format(time.DateOnly), a.dates[i-1].Format(time.DateOnly))
		}
	}
	checkSorted(p, "curves", a.curveIDs)
	return p
}

// ── Phase 2: Indices ──

func validateIndices(a *artifacts, minDefined int) *phase {
	p := &phase{name: "Phase 2: Phenology indices"}
	n := len(a.dates)
	ids := make([]domain.ParcelID, len(a.indices))
	for i, row := range a.indices {
		ids[i] = row.ParcelID
		if err := row.PhenologyIndices.Validate(n); err != nil {
			p.errorf("parcel %s: %v", row.ParcelID, err)
		}
		curve, ok := a.curves[row.ParcelID]
		if !ok {
			p.errorf("parcel %s: indexed but has no curve", row.ParcelID)
			continue
		}
		if have := curve.DefinedCount(); have < minDefined {
			p.errorf("parcel %s: indexed with %d defined days, %d required", row.ParcelID, have, minDefined)
		}
	}
	checkSorted(p, "indices", ids)
	return p
}

// ── Phase 3: Metrics ──

func validateMetrics(a *artifacts) *phase {
	p := &phase{name: "Phase 3: Curve metrics"}
	indices := make(map[domain.ParcelID]domain.PhenologyIndices, len(a.indices))
	for _, row := range a.indices {
		indices[row.ParcelID] = row.PhenologyIndices
	}
	if len(a.metrics) != len(a.indices) {
		p.errorf("%d metric rows for %d indexed parcels", len(a.metrics), len(a.indices))
	}

	ids := make([]domain.ParcelID, len(a.metrics))
	for i, row := range a.metrics {
		ids[i] = row.ParcelID
		idx, ok := indices[row.ParcelID]
		if !ok {
			p.errorf("parcel %s: metrics without indices", row.ParcelID)
			continue
		}
		if row.ArgMaxDay != idx.IndMaxLai {
			p.errorf("parcel %s: argmax %d differs from IndMaxLai %d", row.ParcelID, row.ArgMaxDay, idx.IndMaxLai)
		}
		if row.MeanPreEmerg > row.MaxSmoothed+1e-9 {
			p.errorf("parcel %s: pre-emergence mean %g above smoothed max %g",
				row.ParcelID, row.MeanPreEmerg, row.MaxSmoothed)
		}
	}
	checkSorted(p, "metrics", ids)
	return p
}

// ── Phase 4: Features ──

func validateFeatures(a *artifacts) *phase {
	p := &phase{name: "Phase 4: Feature records"}
	indices := make(map[domain.ParcelID]domain.PhenologyIndices, len(a.indices))
	for _, row := range a.indices {
		indices[row.ParcelID] = row.PhenologyIndices
	}

	ids := make([]domain.ParcelID, len(a.features))
	for i, rec := range a.features {
		ids[i] = rec.ParcelID
		idx, ok := indices[rec.ParcelID]
		if !ok {
			p.errorf("parcel %s: features without indices", rec.ParcelID)
			continue
		}
		// Interval bounds are meaningless for indices phase 2 already rejects.
		if idx.Validate(len(a.dates)) == nil {
			checkCount(p, rec.ParcelID, "cold_days_e", rec.ColdDaysE, idx.IndHalfLai-idx.IndEmerg+1)
			checkCount(p, rec.ParcelID, "cold_days_m", rec.ColdDaysM, idx.IndMaxLai-idx.IndHalfLai+1)
			checkCount(p, rec.ParcelID, "heat_days_l", rec.HeatDaysL, idx.IndEndLai-idx.IndMaxLai+1)
		}
		if rec.AnthesisDay != -1 && (rec.AnthesisDay < 0 || rec.AnthesisDay >= len(a.dates)) {
			p.errorf("parcel %s: anthesis day %d outside the season", rec.ParcelID, rec.AnthesisDay)
		}
		if rec.SimMaxLAI < 0 || rec.SimGrainMass < 0 {
			p.errorf("parcel %s: negative simulation output", rec.ParcelID)
		}
		if !math.IsNaN(rec.SimLAIAtPeak) && rec.SimLAIAtPeak > rec.SimMaxLAI+1e-9 {
			p.errorf("parcel %s: LAI at peak %g above simulated max %g", rec.ParcelID, rec.SimLAIAtPeak, rec.SimMaxLAI)
		}
	}
	checkSorted(p, "features", ids)
	return p
}

// ── Phase 5: Feature store ──

func validateStore(ctx context.Context, a *artifacts, path string) *phase {
	p := &phase{name: "Phase 5: SQLite feature store"}
	store, err := sqlite.NewStore(path)
	if err != nil {
		p.errorf("open store: %v", err)
		return p
	}
	defer store.Close()

	runs, err := store.Runs(ctx)
	if err != nil || len(runs) == 0 {
		p.errorf("no runs stored (err=%v)", err)
		return p
	}
	compareStore(ctx, p, store, runs[0], a)
	return p
}

// runStore is the read side of the feature store.
type runStore interface {
	Indices(ctx context.Context, runID string) ([]domain.ParcelIndices, error)
	Features(ctx context.Context, runID string) ([]domain.FeatureRecord, error)
}

func compareStore(ctx context.Context, p *phase, store runStore, runID string, a *artifacts) {
	indices, err := store.Indices(ctx, runID)
	if err != nil {
		p.errorf("read indices: %v", err)
		return
	}
	if len(indices) != len(a.indices) {
		p.errorf("run %s: %d stored indices, %d in CSV", runID, len(indices), len(a.indices))
	} else {
		for i := range indices {
			if indices[i] != a.indices[i] {
				p.errorf("run %s: parcel %s indices differ: store %+v, csv %+v",
					runID, indices[i].ParcelID, indices[i].PhenologyIndices, a.indices[i].PhenologyIndices)
			}
		}
	}

	features, err := store.Features(ctx, runID)
	if err != nil {
		p.errorf("read features: %v", err)
		return
	}
	if len(features) != len(a.features) {
		p.errorf("run %s: %d stored feature records, %d in CSV", runID, len(features), len(a.features))
		return
	}
	for i := range features {
		stored, csv := features[i], a.features[i]
		if stored.ParcelID != csv.ParcelID {
			p.errorf("run %s: feature row %d is parcel %s in store, %s in CSV", runID, i+1, stored.ParcelID, csv.ParcelID)
			continue
		}
		csvValues := csv.Values()
		for k, fv := range stored.Values() {
			if !sameValue(fv.Value, csvValues[k].Value) {
				p.errorf("run %s: parcel %s %s differs: store %g, csv %g",
					runID, stored.ParcelID, fv.Name, fv.Value, csvValues[k].Value)
			}
		}
	}
}

func sameValue(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return a == b
}

// ── Helpers ──

func checkSorted(p *phase, name string, ids []domain.ParcelID) {
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			p.errorf("%s: parcel %s at row %d is not after %s", name, ids[i], i+1, ids[i-1])
		}
	}
}

func checkCount(p *phase, id domain.ParcelID, name string, v, days int) {
	if v < 0 || v > days {
		p.errorf("parcel %s: %s=%d outside [0,%d]", id, name, v, days)
	}
}
