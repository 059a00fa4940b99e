package safy

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
)

// --- mocks for cache tests ---

type countingSimulator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSimulator) Simulate(days []domain.WeatherDay, p Params) Trajectory {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return Simulate(days, p)
}

type countingObserver struct {
	mu           sync.Mutex
	hits, misses int
}

func (o *countingObserver) CacheHit() {
	o.mu.Lock()
	o.hits++
	o.mu.Unlock()
}

func (o *countingObserver) CacheMiss() {
	o.mu.Lock()
	o.misses++
	o.mu.Unlock()
}

// --- CachedSimulator tests ---

func TestCachedSimulator_Hit(t *testing.T) {
	inner := &countingSimulator{}
	obs := &countingObserver{}
	cached, err := NewCachedSimulator(inner, 8, obs)
	require.NoError(t, err)

	days := constantWeather(150, 20, 15)
	a := cached.Simulate(days, DefaultParams())
	b := cached.Simulate(constantWeather(150, 20, 15), DefaultParams())

	assert.Equal(t, a, b)
	assert.Equal(t, 1, inner.calls, "should only call inner once")
	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)
}

func TestCachedSimulator_KeyCoversInputs(t *testing.T) {
	inner := &countingSimulator{}
	cached, err := NewCachedSimulator(inner, 8, nil)
	require.NoError(t, err)

	p := DefaultParams()
	cached.Simulate(constantWeather(150, 20, 15), p)
	cached.Simulate(constantWeather(150, 21, 15), p)
	cached.Simulate(constantWeather(150, 20, 14), p)
	cached.Simulate(constantWeather(151, 20, 15), p)

	p.EmergenceDay = 70
	cached.Simulate(constantWeather(150, 20, 15), p)

	assert.Equal(t, 5, inner.calls)
	assert.Equal(t, 5, cached.Len())
}

func TestCachedSimulator_IgnoresUnusedWeather(t *testing.T) {
	inner := &countingSimulator{}
	cached, err := NewCachedSimulator(inner, 8, nil)
	require.NoError(t, err)

	a := constantWeather(100, 20, 15)
	b := constantWeather(100, 20, 15)
	for i := range b {
		b[i].Precipitation = 3
	}
	cached.Simulate(a, DefaultParams())
	cached.Simulate(b, DefaultParams())

	assert.Equal(t, 1, inner.calls)
}

func TestCachedSimulator_Eviction(t *testing.T) {
	inner := &countingSimulator{}
	cached, err := NewCachedSimulator(inner, 1, nil)
	require.NoError(t, err)

	p := DefaultParams()
	cached.Simulate(constantWeather(100, 20, 15), p)
	cached.Simulate(constantWeather(100, 19, 15), p)
	cached.Simulate(constantWeather(100, 20, 15), p)

	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, 1, cached.Len())
}

func TestCachedSimulator_Concurrent(t *testing.T) {
	cached, err := NewCachedSimulator(Model{}, 4, nil)
	require.NoError(t, err)

	want := Simulate(constantWeather(200, 20, 15), DefaultParams())
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := cached.Simulate(constantWeather(200, 20, 15), DefaultParams())
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}

func TestNewCachedSimulator_RejectsZeroSize(t *testing.T) {
	_, err := NewCachedSimulator(Model{}, 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
