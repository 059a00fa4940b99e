// Package safy implements the SAFY (Simple Algorithm For Yield) crop model:
// a daily light-use-efficiency simulation of green leaf area and grain mass
// driven by air temperature and incoming radiation.
//
// Units follow the model's conventions: temperatures in °C, radiation in
// MJ/m²/day, dry and grain mass in g/m², specific leaf area in m²/g.
package safy

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
)

// Params are the crop and site parameters of one simulation.
type Params struct {
	Tmin float64 `yaml:"tmin"` // base temperature, also the degree-day threshold
	Topt float64 `yaml:"topt"` // optimum temperature
	Tmax float64 `yaml:"tmax"` // upper lethal temperature
	Beta float64 `yaml:"beta"` // shape exponent of the temperature stress curve

	LightUseEfficiency float64 `yaml:"elue"`      // g dry mass per MJ absorbed PAR
	GlobalToPAR        float64 `yaml:"rg_to_par"` // PAR share of global radiation
	Extinction         float64 `yaml:"k_ext"`     // canopy light extinction coefficient

	InitialDryMass  float64 `yaml:"mass0"` // dry mass at emergence
	SpecificLeafArea float64 `yaml:"sla"`

	PartitionA float64 `yaml:"pla"` // leaf partitioning scale
	PartitionB float64 `yaml:"plb"` // leaf partitioning rate per degree-day

	SenescenceThreshold float64 `yaml:"stt"` // degree-days before leaf senescence starts
	SenescenceRate      float64 `yaml:"rs"`  // senescence rate constant

	GrainPartition float64 `yaml:"pgrain"` // share of post-anthesis dry mass allocated to grain

	EmergenceDay int `yaml:"emergence_day"` // season day offset of emergence
}

// DefaultParams returns a winter wheat parameterization.
func DefaultParams() Params {
	return Params{
		Tmin:                0,
		Topt:                20,
		Tmax:                37,
		Beta:                2,
		LightUseEfficiency:  2.2,
		GlobalToPAR:         0.48,
		Extinction:          0.5,
		InitialDryMass:      4.2,
		SpecificLeafArea:    0.022,
		PartitionA:          0.05,
		PartitionB:          0.0025,
		SenescenceThreshold: 1000,
		SenescenceRate:      8000,
		GrainPartition:      0.5,
		EmergenceDay:        60,
	}
}

// InitialLAI is the green leaf area at emergence. The canopy is considered
// dead once it falls below this value again.
func (p Params) InitialLAI() float64 {
	return p.InitialDryMass * p.SpecificLeafArea
}

// Validate rejects parameter sets the model cannot be evaluated with.
// Emergence beyond the season is allowed and yields empty trajectories.
func (p Params) Validate() error {
	var errs []error
	if !(p.Tmin < p.Topt && p.Topt < p.Tmax) {
		errs = append(errs, fmt.Errorf("temperatures must satisfy tmin < topt < tmax, got %g/%g/%g", p.Tmin, p.Topt, p.Tmax))
	}
	if p.Beta <= 0 {
		errs = append(errs, fmt.Errorf("beta %g must be positive", p.Beta))
	}
	if p.LightUseEfficiency <= 0 || p.GlobalToPAR <= 0 || p.Extinction <= 0 {
		errs = append(errs, errors.New("elue, rg_to_par and k_ext must be positive"))
	}
	if p.InitialDryMass <= 0 || p.SpecificLeafArea <= 0 {
		errs = append(errs, errors.New("mass0 and sla must be positive"))
	}
	if p.PartitionA < 0 {
		errs = append(errs, fmt.Errorf("pla %g must not be negative", p.PartitionA))
	}
	if p.SenescenceRate <= 0 {
		errs = append(errs, fmt.Errorf("rs %g must be positive", p.SenescenceRate))
	}
	if p.GrainPartition < 0 || p.GrainPartition > 1 {
		errs = append(errs, fmt.Errorf("pgrain %g not in [0,1]", p.GrainPartition))
	}
	if p.EmergenceDay < 0 {
		errs = append(errs, fmt.Errorf("emergence_day %d must not be negative", p.EmergenceDay))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: safy parameters: %w", domain.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// LoadParams reads a YAML parameter file on top of DefaultParams. An empty
// path returns the defaults.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("%w: read safy parameters: %v", domain.ErrConfiguration, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Params{}, fmt.Errorf("%w: decode safy parameters %s: %v", domain.ErrConfiguration, path, err)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}
