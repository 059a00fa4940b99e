package main

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/crop-phenology-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
)

func testArtifacts(n int) *artifacts {
	a := &artifacts{curves: make(map[domain.ParcelID]domain.DailyCurve)}
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		a.dates = append(a.dates, start.AddDate(0, 0, i))
	}
	for _, id := range []domain.ParcelID{"a", "b"} {
		curve := make(domain.DailyCurve, n)
		a.curveIDs = append(a.curveIDs, id)
		a.curves[id] = curve
		idx := domain.PhenologyIndices{IndEmerg: 2, IndHalfLai: 4, IndMaxLai: 6, IndEndLai: 9}
		a.indices = append(a.indices, domain.ParcelIndices{ParcelID: id, PhenologyIndices: idx})
		a.metrics = append(a.metrics, domain.ParcelMetrics{
			ParcelID:     id,
			CurveMetrics: domain.CurveMetrics{MeanPreEmerg: 0.2, MaxSmoothed: 4, ArgMaxDay: 6},
		})
		a.features = append(a.features, domain.FeatureRecord{ParcelID: id, ColdDaysE: 1, AnthesisDay: -1})
	}
	return a
}

func TestValidate_ConsistentArtifactsPass(t *testing.T) {
	a := testArtifacts(12)
	for _, p := range []*phase{validateCurves(a), validateIndices(a, 10), validateMetrics(a), validateFeatures(a)} {
		assert.True(t, p.passed(), "%s: %v", p.name, p.errors)
	}
}

func TestValidate_DetectsViolations(t *testing.T) {
	a := testArtifacts(12)
	a.curveIDs[0], a.curveIDs[1] = a.curveIDs[1], a.curveIDs[0]
	a.indices[1].IndHalfLai = 8
	a.metrics[0].ArgMaxDay = 3
	a.features[0].ColdDaysE = 9
	a.features[0].AnthesisDay = 40

	assert.Len(t, validateCurves(a).errors, 1)
	assert.Len(t, validateIndices(a, 10).errors, 1)
	assert.Len(t, validateIndices(a, 13).errors, 3, "too few defined days for both parcels")
	assert.Len(t, validateMetrics(a).errors, 1)
	assert.Len(t, validateFeatures(a).errors, 2)
}

func TestValidate_DatesMustBeContiguous(t *testing.T) {
	a := testArtifacts(5)
	a.dates[3] = a.dates[3].AddDate(0, 0, 1)

	assert.Len(t, validateCurves(a).errors, 2)
}

func TestValidate_FeatureCountsSkippedForInvalidIndices(t *testing.T) {
	a := testArtifacts(12)
	a.indices[1].IndHalfLai = 8

	p := validateFeatures(a)
	assert.True(t, p.passed(), "%v", p.errors)
	assert.Len(t, validateIndices(a, 10).errors, 1)
}

// storeArtifacts writes the artifacts' parcels to a fresh sqlite store and
// returns its path.
func storeArtifacts(t *testing.T, a *artifacts) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "features.db")
	store, err := sqlite.NewStore(path)
	require.NoError(t, err)
	defer store.Close()

	season, err := domain.NewSeason(2023, "01-01", "01-12")
	require.NoError(t, err)
	run := domain.Run{ID: "run-1", StartedAt: time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC), Feature: "LAI", Season: season}

	results := make([]domain.ParcelResult, len(a.indices))
	for i := range a.indices {
		idx, m, f := a.indices[i].PhenologyIndices, a.metrics[i].CurveMetrics, a.features[i]
		results[i] = domain.ParcelResult{ParcelID: a.indices[i].ParcelID, Indices: &idx, Metrics: &m, Features: &f}
	}
	require.NoError(t, store.Write(context.Background(), run, results))
	return path
}

func TestValidateStore_MatchesArtifacts(t *testing.T) {
	a := testArtifacts(12)
	a.features[0].TempMeanE = math.NaN()
	path := storeArtifacts(t, a)

	p := validateStore(context.Background(), a, path)
	assert.True(t, p.passed(), "%v", p.errors)
}

func TestValidateStore_DetectsFeatureDrift(t *testing.T) {
	a := testArtifacts(12)
	path := storeArtifacts(t, a)

	a.features[1].PrecSumM = 4.5
	a.features[0].TempMeanE = math.NaN()

	p := validateStore(context.Background(), a, path)
	assert.Len(t, p.errors, 2)
}

func TestValidateStore_DetectsMissingFeatureRecords(t *testing.T) {
	a := testArtifacts(12)
	path := storeArtifacts(t, a)

	a.features = a.features[:1]

	p := validateStore(context.Background(), a, path)
	assert.Len(t, p.errors, 1)
}
