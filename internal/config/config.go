package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"gopade/domain/run"
	"gopade/domain/stats"
	"gopade/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Resampling ResamplingConfig
	Database   DatabaseConfig
	Server     ServerConfig
	LogLevel   string
}

// ResamplingConfig holds the environment defaults for a run. Flags given
// on the command line override them.
type ResamplingConfig struct {
	Iterations        int
	Seed              int64
	Workers           int
	Retention         stats.Retention
	MaxFullNullValues int
	ConfidenceLevels  []float64
	DedupRetries      int
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// Enabled reports whether results should be persisted.
func (d DatabaseConfig) Enabled() bool { return d.URL != "" }

// ServerConfig holds the metrics endpoint settings
type ServerConfig struct {
	MetricsAddr string
}

// Load reads an optional .env file, then configuration from environment
// variables, and validates it
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		// A missing .env is normal outside development.
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, errors.Wrap(err, "failed to load env file")
	}

	resampling, err := loadResamplingConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load resampling configuration")
	}

	config := &Config{
		Resampling: *resampling,
		Database:   DatabaseConfig{URL: os.Getenv("DATABASE_URL")},
		Server:     ServerConfig{MetricsAddr: os.Getenv("METRICS_ADDR")},
		LogLevel:   getEnvOrDefault("LOG_LEVEL", "INFO"),
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadResamplingConfig() (*ResamplingConfig, error) {
	retention, err := stats.ParseRetention(getEnvOrDefault("PADE_NULL_RETENTION", string(stats.RetentionFull)))
	if err != nil {
		return nil, errors.ConfigInvalid(err.Error())
	}
	levels, err := parseLevels(os.Getenv("PADE_CONFIDENCE_LEVELS"))
	if err != nil {
		return nil, err
	}
	return &ResamplingConfig{
		Iterations:        getEnvIntOrDefault("PADE_ITERATIONS", 1000),
		Seed:              int64(getEnvIntOrDefault("PADE_SEED", 42)),
		Workers:           getEnvIntOrDefault("PADE_WORKERS", runtime.NumCPU()),
		Retention:         retention,
		MaxFullNullValues: getEnvIntOrDefault("PADE_MAX_FULL_NULL_VALUES", 50_000_000),
		ConfidenceLevels:  levels,
		DedupRetries:      getEnvIntOrDefault("PADE_DEDUP_RETRIES", 10),
	}, nil
}

func parseLevels(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return append([]float64(nil), stats.DefaultConfidenceLevels...), nil
	}
	var out []float64
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, errors.ConfigInvalid("PADE_CONFIDENCE_LEVELS: " + err.Error())
		}
		out = append(out, v)
	}
	return out, nil
}

func validateConfig(config *Config) error {
	r := config.Resampling
	if r.Iterations < 1 {
		return errors.ConfigInvalid("PADE_ITERATIONS must be at least 1")
	}
	if r.Workers < 1 {
		return errors.ConfigInvalid("PADE_WORKERS must be at least 1")
	}
	if r.DedupRetries < 0 {
		return errors.ConfigInvalid("PADE_DEDUP_RETRIES must be non-negative")
	}
	if r.MaxFullNullValues < 0 {
		return errors.ConfigInvalid("PADE_MAX_FULL_NULL_VALUES must be non-negative")
	}
	if _, err := stats.NewConfidenceGrid(r.ConfidenceLevels); err != nil {
		return errors.ConfigInvalid("PADE_CONFIDENCE_LEVELS: " + err.Error())
	}
	return nil
}

// RunDefaults returns a run configuration seeded from the environment.
// The caller still sets the condition, blocks and statistic.
func (c *Config) RunDefaults() run.Config {
	rc := run.DefaultConfig()
	rc.Iterations = c.Resampling.Iterations
	rc.Seed = c.Resampling.Seed
	rc.Workers = c.Resampling.Workers
	rc.Retention = c.Resampling.Retention
	rc.MaxFullNullValues = c.Resampling.MaxFullNullValues
	rc.ConfidenceLevels = append([]float64(nil), c.Resampling.ConfidenceLevels...)
	rc.DedupRetries = c.Resampling.DedupRetries
	return rc
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
