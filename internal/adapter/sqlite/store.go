// Package sqlite persists run outputs to a SQLite feature store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	started_at   TEXT NOT NULL,
	feature      TEXT NOT NULL,
	season_start TEXT NOT NULL,
	season_end   TEXT NOT NULL,
	parcels      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS phenology (
	run_id          TEXT NOT NULL,
	parcel_id       TEXT NOT NULL,
	ind_emerg       INTEGER NOT NULL,
	ind_half_lai    INTEGER NOT NULL,
	ind_max_lai     INTEGER NOT NULL,
	ind_end_lai     INTEGER NOT NULL,
	mean_pre_emerg  REAL,
	sum_emerg_half  REAL,
	sum_half_max    REAL,
	sum_max_end     REAL,
	max_smoothed    REAL,
	argmax_smoothed INTEGER,
	max_observed    REAL,
	PRIMARY KEY (run_id, parcel_id)
);
CREATE TABLE IF NOT EXISTS feature_values (
	run_id    TEXT NOT NULL,
	parcel_id TEXT NOT NULL,
	name      TEXT NOT NULL,
	value     REAL,
	PRIMARY KEY (run_id, parcel_id, name)
);
`

// Store writes runs to a SQLite database file.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the database at path and ensures the schema.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Name() string { return "sqlite" }

// Write stores the run and every parcel that produced indices, in one transaction.
func (s *Store) Write(ctx context.Context, run domain.Run, results []domain.ParcelResult) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, started_at, feature, season_start, season_end, parcels) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC().Format(time.RFC3339Nano), run.Feature,
		run.Season.Start.Format(time.DateOnly), run.Season.End.Format(time.DateOnly), len(results),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	phen, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO phenology (
		run_id, parcel_id, ind_emerg, ind_half_lai, ind_max_lai, ind_end_lai,
		mean_pre_emerg, sum_emerg_half, sum_half_max, sum_max_end, max_smoothed, argmax_smoothed, max_observed
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare phenology: %w", err)
	}
	defer func() { _ = phen.Close() }()

	feat, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO feature_values (run_id, parcel_id, name, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare features: %w", err)
	}
	defer func() { _ = feat.Close() }()

	for _, r := range results {
		if r.Indices == nil {
			continue
		}
		m := r.Metrics
		if m == nil {
			m = &domain.CurveMetrics{MeanPreEmerg: math.NaN(), SumGreenUp: math.NaN(), SumLateGrowth: math.NaN(),
				SumSenescence: math.NaN(), MaxSmoothed: math.NaN(), ArgMaxDay: -1, MaxObserved: math.NaN()}
		}
		if _, err := phen.ExecContext(ctx,
			run.ID, string(r.ParcelID),
			r.Indices.IndEmerg, r.Indices.IndHalfLai, r.Indices.IndMaxLai, r.Indices.IndEndLai,
			nullable(m.MeanPreEmerg), nullable(m.SumGreenUp), nullable(m.SumLateGrowth), nullable(m.SumSenescence),
			nullable(m.MaxSmoothed), m.ArgMaxDay, nullable(m.MaxObserved),
		); err != nil {
			return fmt.Errorf("insert phenology %s: %w", r.ParcelID, err)
		}

		if r.Features == nil {
			continue
		}
		for _, fv := range r.Features.Values() {
			if _, err := feat.ExecContext(ctx, run.ID, string(r.ParcelID), fv.Name, nullable(fv.Value)); err != nil {
				return fmt.Errorf("insert feature %s of %s: %w", fv.Name, r.ParcelID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Indices returns the phenology indices stored for a run, ordered by parcel.
func (s *Store) Indices(ctx context.Context, runID string) ([]domain.ParcelIndices, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT parcel_id, ind_emerg, ind_half_lai, ind_max_lai, ind_end_lai
		 FROM phenology WHERE run_id = ? ORDER BY parcel_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("select phenology: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.ParcelIndices
	for rows.Next() {
		var p domain.ParcelIndices
		var id string
		if err := rows.Scan(&id, &p.IndEmerg, &p.IndHalfLai, &p.IndMaxLai, &p.IndEndLai); err != nil {
			return nil, fmt.Errorf("scan phenology: %w", err)
		}
		p.ParcelID = domain.ParcelID(id)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Features returns the feature records stored for a run, ordered by parcel.
// Values stored as NULL come back as NaN.
func (s *Store) Features(ctx context.Context, runID string) ([]domain.FeatureRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT parcel_id, name, value FROM feature_values WHERE run_id = ? ORDER BY parcel_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("select features: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.FeatureRecord
	for rows.Next() {
		var (
			id, name string
			value    sql.NullFloat64
		)
		if err := rows.Scan(&id, &name, &value); err != nil {
			return nil, fmt.Errorf("scan feature: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].ParcelID != domain.ParcelID(id) {
			out = append(out, domain.FeatureRecord{ParcelID: domain.ParcelID(id)})
		}
		v := math.NaN()
		if value.Valid {
			v = value.Float64
		}
		out[len(out)-1].SetValue(name, v)
	}
	return out, rows.Err()
}

// Runs returns the stored run IDs, newest first.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
