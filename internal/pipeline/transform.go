package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
	"github.com/couchcryptid/crop-phenology-etl/internal/features"
	"github.com/couchcryptid/crop-phenology-etl/internal/phenology"
)

// transformer runs the per-parcel chain for one run: smoothing, index
// detection, curve metrics, then simulation and feature aggregation. It is
// safe for concurrent use.
type transformer struct {
	smoother   *phenology.Smoother
	indexer    *phenology.Indexer
	builder    *features.Builder
	weather    map[domain.ParcelID]domain.WeatherSeries
	gridLength int
	logger     *slog.Logger
}

func newTransformer(stages Stages, in Input, logger *slog.Logger) (*transformer, error) {
	smoother, err := phenology.NewSmoother(stages.Smoother, in.Season, logger)
	if err != nil {
		return nil, err
	}
	return &transformer{
		smoother:   smoother,
		indexer:    phenology.NewIndexer(stages.MinDefinedSamples),
		builder:    stages.Features,
		weather:    in.Weather,
		gridLength: in.Season.GridLength(),
		logger:     logger,
	}, nil
}

// transform processes one parcel. A panic becomes an ErrWorkerFailure
// outcome with an undefined curve.
func (t *transformer) transform(series domain.ObservationSeries) (o outcome) {
	id := series.ParcelID
	defer func() {
		if r := recover(); r != nil {
			o = outcome{
				result: domain.ParcelResult{
					ParcelID: id,
					Curve:    domain.ParcelCurve{ParcelID: id, Curve: domain.NewUndefinedCurve(t.gridLength)},
				},
				err: fmt.Errorf("parcel %s: %w: %v", id, domain.ErrWorkerFailure, r),
			}
		}
	}()

	curve := t.smoother.Smooth(series)
	o.result = domain.ParcelResult{ParcelID: id, Curve: curve}

	idx, extended, err := t.indexer.Detect(id, curve.Curve)
	if err != nil {
		o.err = err
		return o
	}
	m, err := phenology.BuildMetrics(extended, idx, curve.RawValues)
	if err != nil {
		o.err = fmt.Errorf("parcel %s: metrics: %w", id, err)
		return o
	}
	o.result.Indices = &idx
	o.result.Metrics = &m

	if t.builder == nil {
		return o
	}
	w, ok := t.weather[id]
	if !ok {
		t.logger.Warn("no weather for parcel, features skipped", "parcel_id", id)
		return o
	}
	rec, traj, err := t.builder.Build(idx, w)
	if err != nil {
		t.logger.Warn("feature aggregation failed", "parcel_id", id, "error", err)
		return o
	}
	o.result.Features = &rec
	o.trajectory = &traj
	return o
}
