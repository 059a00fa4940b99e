package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
	"github.com/couchcryptid/crop-phenology-etl/internal/features"
	"github.com/couchcryptid/crop-phenology-etl/internal/phenology"
)

// Config holds all run settings, populated from environment variables.
type Config struct {
	ObservationsPath string
	WeatherPath      string
	OutputDir        string
	Feature          string
	Season           domain.Season

	Smoother          phenology.SmootherConfig
	MinDefinedSamples int

	Workers   int
	BatchSize int

	SAFYParamsPath string
	Emergence      features.EmergenceMode
	SimCacheSize   int // 0 disables the simulation cache

	MetricsAddr       string // empty disables the HTTP server
	SQLitePath        string // empty disables the feature store
	KafkaBrokers      []string
	KafkaFeatureTopic string

	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
// Every returned error wraps domain.ErrConfiguration.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, invalid(err)
	}
	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, invalid(err)
	}

	year, err := envInt("SEASON_YEAR", time.Now().Year())
	if err != nil {
		return nil, err
	}
	season, err := domain.NewSeason(year,
		sharedcfg.EnvOrDefault("SEASON_START", "01-01"),
		sharedcfg.EnvOrDefault("SEASON_END", "11-30"))
	if err != nil {
		return nil, err
	}

	smoother := phenology.DefaultSmootherConfig()
	if smoother.ValidPixelRatio, err = envFloat("VALID_PIXEL_RATIO", smoother.ValidPixelRatio); err != nil {
		return nil, err
	}
	if smoother.RawValueDivisor, err = envFloat("RAW_VALUE_DIVISOR", smoother.RawValueDivisor); err != nil {
		return nil, err
	}
	if smoother.Window, err = envInt("SMOOTHING_WINDOW", smoother.Window); err != nil {
		return nil, err
	}
	if smoother.Degree, err = envInt("SMOOTHING_DEGREE", smoother.Degree); err != nil {
		return nil, err
	}
	if err := smoother.Validate(); err != nil {
		return nil, err
	}

	minDefined, err := envInt("MIN_DEFINED_SAMPLES", phenology.DefaultMinDefinedSamples)
	if err != nil {
		return nil, err
	}
	workers, err := envInt("WORKERS", runtime.NumCPU())
	if err != nil {
		return nil, err
	}
	cacheSize, err := envInt("SIM_CACHE_SIZE", 1024)
	if err != nil {
		return nil, err
	}
	emergence, err := features.ParseEmergenceMode(sharedcfg.EnvOrDefault("SAFY_EMERGENCE", string(features.EmergenceFromParams)))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ObservationsPath:  sharedcfg.EnvOrDefault("OBSERVATIONS_PATH", "data/observations.csv"),
		WeatherPath:       sharedcfg.EnvOrDefault("WEATHER_PATH", "data/weather.csv"),
		OutputDir:         sharedcfg.EnvOrDefault("OUTPUT_DIR", "out"),
		Feature:           sharedcfg.EnvOrDefault("FEATURE_NAME", "LAI"),
		Season:            season,
		Smoother:          smoother,
		MinDefinedSamples: minDefined,
		Workers:           workers,
		BatchSize:         batchSize,
		SAFYParamsPath:    os.Getenv("SAFY_PARAMS_PATH"),
		Emergence:         emergence,
		SimCacheSize:      cacheSize,
		MetricsAddr:       os.Getenv("METRICS_ADDR"),
		SQLitePath:        os.Getenv("SQLITE_PATH"),
		KafkaBrokers:      sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaFeatureTopic: sharedcfg.EnvOrDefault("KAFKA_FEATURE_TOPIC", "parcel-features"),
		LogLevel:          sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:   shutdownTimeout,
	}

	if cfg.MinDefinedSamples < 1 {
		return nil, invalidf("MIN_DEFINED_SAMPLES must be at least 1")
	}
	if cfg.Workers < 1 {
		return nil, invalidf("WORKERS must be at least 1")
	}
	if cfg.SimCacheSize < 0 {
		return nil, invalidf("SIM_CACHE_SIZE must not be negative")
	}
	if cfg.Feature == "" {
		return nil, invalidf("FEATURE_NAME is required")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaFeatureTopic == "" {
		return nil, invalidf("KAFKA_FEATURE_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// KafkaEnabled reports whether feature records are published.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

func envInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalidf("invalid %s: %q is not an integer", key, s)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, invalidf("invalid %s: %q is not a number", key, s)
	}
	return v, nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrConfiguration, fmt.Sprintf(format, args...))
}
