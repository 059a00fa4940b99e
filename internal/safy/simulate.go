package safy

import "github.com/couchcryptid/crop-phenology-etl/internal/domain"

// NoAnthesis marks a trajectory whose crop never stopped leaf partitioning.
const NoAnthesis = -1

// Trajectory is the daily output of one simulation run. Slices have one
// entry per season day; day 0 is always the bare soil state.
type Trajectory struct {
	GreenLAI     []float64
	GrainMass    []float64
	EmergenceDay int
	AnthesisDay  int
}

// Simulate runs the model over days with emergence at p.EmergenceDay.
// Degenerate parameterizations such as emergence beyond the season yield
// all-zero trajectories.
func Simulate(days []domain.WeatherDay, p Params) Trajectory {
	n := len(days)
	out := Trajectory{
		GreenLAI:     make([]float64, n),
		GrainMass:    make([]float64, n),
		EmergenceDay: p.EmergenceDay,
		AnthesisDay:  NoAnthesis,
	}

	var s State
	for i := 1; i < n; i++ {
		prev := s.Phase
		s = Step(s, i, days[i], p)
		if prev == VegetativeGrowth && s.Phase == PostVegetative {
			out.AnthesisDay = i
		}
		out.GreenLAI[i] = s.GreenLAI
		out.GrainMass[i] = s.GrainMass
	}
	return out
}

// Peak returns the maximum green LAI and the first day it is reached.
func (t Trajectory) Peak() (lai float64, day int) {
	for i, v := range t.GreenLAI {
		if v > lai {
			lai, day = v, i
		}
	}
	return lai, day
}

// FinalGrain is the grain mass on the last simulated day.
func (t Trajectory) FinalGrain() float64 {
	if len(t.GrainMass) == 0 {
		return 0
	}
	return t.GrainMass[len(t.GrainMass)-1]
}
