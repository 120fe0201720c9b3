package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is resolved from defaults, then the optional YAML file named by
// SQUATWALL_CONFIG, then environment variables.
type Config struct {
	DatasetLocation string `yaml:"dataset_location"`
	DatasetSheet    string `yaml:"dataset_sheet"`
	DatasetTable    string `yaml:"dataset_table"`

	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	PredictionCacheTTLSecs int  `yaml:"prediction_cache_ttl_secs"`
	EnforceParameterRanges bool `yaml:"enforce_parameter_ranges"`

	SplitSeed    int64   `yaml:"split_seed"`
	TestFraction float64 `yaml:"test_fraction"`

	DatasetWatch    bool `yaml:"dataset_watch"`
	DatasetPollSecs int  `yaml:"dataset_poll_secs"`

	HTTPPort               int    `yaml:"http_port"`
	APIKey                 string `yaml:"api_key"`
	LogLevel               string `yaml:"log_level"`
	TrainRequestsPerMinute int    `yaml:"train_requests_per_minute"`

	TracingEnabled bool   `yaml:"tracing_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`

	// Warnings collects problems found while loading; the caller logs them
	// once a logger exists.
	Warnings []string `yaml:"-"`
}

func defaults() *Config {
	return &Config{
		DatasetLocation:        "data.xlsx",
		DatasetTable:           "wall_specimens",
		PredictionCacheTTLSecs: 600,
		EnforceParameterRanges: true,
		SplitSeed:              500,
		TestFraction:           0.3,
		DatasetWatch:           true,
		DatasetPollSecs:        300,
		HTTPPort:               8080,
		TrainRequestsPerMinute: 6,
		LogLevel:               "info",
		TracingEnabled:         true,
		OTLPEndpoint:           "localhost:4317",
	}
}

func Load() *Config {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("SQUATWALL_CONFIG")); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			cfg.warn("ignoring config file %s: %v", path, err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("DATASET_LOCATION")); v != "" {
		cfg.DatasetLocation = v
	}
	if v := strings.TrimSpace(os.Getenv("DATASET_SHEET")); v != "" {
		cfg.DatasetSheet = v
	}
	if v := strings.TrimSpace(os.Getenv("DATASET_TABLE")); v != "" {
		cfg.DatasetTable = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))); v != "" {
		cfg.LogLevel = v
	}

	cfg.PredictionCacheTTLSecs = cfg.positiveInt("PREDICTION_CACHE_TTL_SECS", cfg.PredictionCacheTTLSecs)
	cfg.DatasetPollSecs = cfg.positiveInt("DATASET_POLL_SECS", cfg.DatasetPollSecs)
	cfg.HTTPPort = cfg.positiveInt("HTTP_PORT", cfg.HTTPPort)
	cfg.TrainRequestsPerMinute = cfg.positiveInt("TRAIN_REQUESTS_PER_MINUTE", cfg.TrainRequestsPerMinute)
	cfg.EnforceParameterRanges = cfg.boolean("ENFORCE_PARAMETER_RANGES", cfg.EnforceParameterRanges)
	cfg.DatasetWatch = cfg.boolean("DATASET_WATCH", cfg.DatasetWatch)
	cfg.TracingEnabled = cfg.boolean("TRACING_ENABLED", cfg.TracingEnabled)
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		cfg.OTLPEndpoint = v
	}

	if v := strings.TrimSpace(os.Getenv("SPLIT_SEED")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n != 0 {
			cfg.SplitSeed = n
		} else {
			cfg.warn("invalid SPLIT_SEED=%q, using %d", v, cfg.SplitSeed)
		}
	}
	if v := strings.TrimSpace(os.Getenv("TEST_FRACTION")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f < 1 {
			cfg.TestFraction = f
		} else {
			cfg.warn("invalid TEST_FRACTION=%q, using %g", v, cfg.TestFraction)
		}
	}

	if cfg.DatabaseURL == "" {
		cfg.warn("DATABASE_URL not set, prediction log disabled")
	}
	if cfg.RedisURL == "" {
		cfg.warn("REDIS_URL not set, prediction cache disabled")
	}
	if cfg.APIKey == "" {
		cfg.warn("API_KEY not set, /api routes are unauthenticated")
	}
	return cfg
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

func (c *Config) positiveInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return n
	}
	c.warn("invalid %s=%q, using %d", key, v, fallback)
	return fallback
}

func (c *Config) boolean(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		c.warn("invalid %s=%q, using %t", key, v, fallback)
		return fallback
	}
	return b
}

func (c *Config) warn(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}
