package features

import (
	"fmt"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
	"github.com/couchcryptid/crop-phenology-etl/internal/safy"
)

// EmergenceMode selects where the simulated emergence day comes from.
type EmergenceMode string

const (
	// EmergenceFromParams uses the parameter file's emergence day for every parcel.
	EmergenceFromParams EmergenceMode = "param"
	// EmergenceObserved uses the parcel's detected IndEmerg.
	EmergenceObserved EmergenceMode = "observed"
)

// ParseEmergenceMode validates a mode name.
func ParseEmergenceMode(s string) (EmergenceMode, error) {
	switch m := EmergenceMode(s); m {
	case EmergenceFromParams, EmergenceObserved:
		return m, nil
	default:
		return "", fmt.Errorf("%w: emergence mode %q must be %q or %q",
			domain.ErrConfiguration, s, EmergenceFromParams, EmergenceObserved)
	}
}

// Builder runs the growth simulation for a parcel and aggregates its features.
type Builder struct {
	sim    safy.Simulator
	params safy.Params
	mode   EmergenceMode
}

// NewBuilder creates a Builder. sim is typically a safy.CachedSimulator.
func NewBuilder(sim safy.Simulator, params safy.Params, mode EmergenceMode) (*Builder, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if _, err := ParseEmergenceMode(string(mode)); err != nil {
		return nil, err
	}
	return &Builder{sim: sim, params: params, mode: mode}, nil
}

// Build simulates the parcel's season and returns its feature record along
// with the trajectory it was derived from.
func (b *Builder) Build(idx domain.PhenologyIndices, w domain.WeatherSeries) (domain.FeatureRecord, safy.Trajectory, error) {
	if err := idx.Validate(w.Len()); err != nil {
		return domain.FeatureRecord{}, safy.Trajectory{}, fmt.Errorf("parcel %s: %w", w.ParcelID, err)
	}

	p := b.params
	if b.mode == EmergenceObserved {
		p.EmergenceDay = idx.IndEmerg
	}
	traj := b.sim.Simulate(w.Days, p)

	rec, err := Aggregate(w.ParcelID, idx, w.Days, traj)
	if err != nil {
		return domain.FeatureRecord{}, safy.Trajectory{}, err
	}
	return rec, traj, nil
}
