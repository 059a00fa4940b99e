package safy

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
)

// Simulator runs the growth model for one parcel season.
type Simulator interface {
	Simulate(days []domain.WeatherDay, p Params) Trajectory
}

// Model is the uncached Simulator.
type Model struct{}

func (Model) Simulate(days []domain.WeatherDay, p Params) Trajectory {
	return Simulate(days, p)
}

// CacheObserver receives cache lookup outcomes, typically metrics counters.
type CacheObserver interface {
	CacheHit()
	CacheMiss()
}

// CachedSimulator wraps a Simulator with an in-memory LRU cache keyed by the
// model inputs. Parcels sharing a weather cell and emergence day are
// simulated once. Returned trajectories are shared and must not be modified.
type CachedSimulator struct {
	inner    Simulator
	cache    *lru.Cache[uint64, Trajectory]
	observer CacheObserver
}

// NewCachedSimulator creates a cache decorator around a simulator.
// observer may be nil.
func NewCachedSimulator(inner Simulator, maxEntries int, observer CacheObserver) (*CachedSimulator, error) {
	cache, err := lru.New[uint64, Trajectory](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("%w: simulation cache: %v", domain.ErrConfiguration, err)
	}
	return &CachedSimulator{inner: inner, cache: cache, observer: observer}, nil
}

func (c *CachedSimulator) Simulate(days []domain.WeatherDay, p Params) Trajectory {
	key := inputKey(days, p)
	if traj, ok := c.cache.Get(key); ok {
		if c.observer != nil {
			c.observer.CacheHit()
		}
		return traj
	}
	if c.observer != nil {
		c.observer.CacheMiss()
	}
	traj := c.inner.Simulate(days, p)
	c.cache.Add(key, traj)
	return traj
}

// Len reports the number of cached trajectories.
func (c *CachedSimulator) Len() int {
	return c.cache.Len()
}

// inputKey hashes every value the model reads: the parameters and the daily
// mean temperature and radiation.
func inputKey(days []domain.WeatherDay, p Params) uint64 {
	d := xxhash.New()
	var buf [8]byte
	put := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = d.Write(buf[:])
	}

	for _, v := range []float64{
		p.Tmin, p.Topt, p.Tmax, p.Beta,
		p.LightUseEfficiency, p.GlobalToPAR, p.Extinction,
		p.InitialDryMass, p.SpecificLeafArea,
		p.PartitionA, p.PartitionB,
		p.SenescenceThreshold, p.SenescenceRate, p.GrainPartition,
		float64(p.EmergenceDay), float64(len(days)),
	} {
		put(v)
	}
	for _, day := range days {
		put(day.Tmean)
		put(day.Radiation)
	}
	return d.Sum64()
}
