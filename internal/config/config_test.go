package config

import (
	"os"
	"path/filepath"
	"testing"
)

var keys = []string{
	"SQUATWALL_CONFIG", "DATASET_LOCATION", "DATASET_SHEET", "DATASET_TABLE",
	"DATABASE_URL", "REDIS_URL", "API_KEY", "LOG_LEVEL",
	"PREDICTION_CACHE_TTL_SECS", "DATASET_POLL_SECS", "HTTP_PORT",
	"ENFORCE_PARAMETER_RANGES", "DATASET_WATCH", "SPLIT_SEED", "TEST_FRACTION",
	"TRACING_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "TRAIN_REQUESTS_PER_MINUTE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	if cfg.DatasetLocation != "data.xlsx" || cfg.DatasetTable != "wall_specimens" {
		t.Fatalf("unexpected dataset defaults: %+v", cfg)
	}
	if cfg.SplitSeed != 500 || cfg.TestFraction != 0.3 {
		t.Fatalf("unexpected split defaults: seed=%d fraction=%g", cfg.SplitSeed, cfg.TestFraction)
	}
	if !cfg.EnforceParameterRanges || !cfg.DatasetWatch {
		t.Fatalf("expected range enforcement and watching on by default")
	}
	if cfg.PredictionCacheTTLSecs != 600 || cfg.DatasetPollSecs != 300 || cfg.HTTPPort != 8080 {
		t.Fatalf("unexpected numeric defaults: %+v", cfg)
	}
	if cfg.LogLevel != "info" || cfg.TrainRequestsPerMinute != 6 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.TracingEnabled || cfg.OTLPEndpoint != "localhost:4317" {
		t.Fatalf("unexpected tracing defaults: %+v", cfg)
	}
	if len(cfg.Warnings) != 3 {
		t.Fatalf("expected warnings for database, redis and api key, got %v", cfg.Warnings)
	}
}

func TestLoadWithEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATASET_LOCATION", "postgres://db/walls")
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("REDIS_URL", "redis:6379")
	t.Setenv("API_KEY", "secret")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("SPLIT_SEED", "42")
	t.Setenv("TEST_FRACTION", "0.25")
	t.Setenv("ENFORCE_PARAMETER_RANGES", "false")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("TRACING_ENABLED", "false")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg := Load()
	if cfg.TracingEnabled || cfg.OTLPEndpoint != "collector:4317" {
		t.Fatalf("unexpected tracing config: %+v", cfg)
	}
	if cfg.DatasetLocation != "postgres://db/walls" || cfg.DatabaseURL != "postgres://example" || cfg.RedisURL != "redis:6379" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.LogLevel != "debug" || cfg.SplitSeed != 42 || cfg.TestFraction != 0.25 || cfg.HTTPPort != 9090 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.EnforceParameterRanges {
		t.Fatalf("expected range enforcement disabled")
	}
	if len(cfg.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", cfg.Warnings)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_PORT", "bad")
	t.Setenv("TEST_FRACTION", "1.5")
	t.Setenv("SPLIT_SEED", "x")
	t.Setenv("DATASET_WATCH", "maybe")

	cfg := Load()
	if cfg.HTTPPort != 8080 || cfg.TestFraction != 0.3 || cfg.SplitSeed != 500 || !cfg.DatasetWatch {
		t.Fatalf("invalid values should fall back to defaults: %+v", cfg)
	}
	if len(cfg.Warnings) != 7 {
		t.Fatalf("expected 7 warnings, got %d: %v", len(cfg.Warnings), cfg.Warnings)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "squatwall.yaml")
	body := "dataset_location: specimens.csv\nsplit_seed: 7\nenforce_parameter_ranges: false\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SQUATWALL_CONFIG", path)
	t.Setenv("SPLIT_SEED", "9")

	cfg := Load()
	if cfg.DatasetLocation != "specimens.csv" {
		t.Fatalf("expected yaml dataset location, got %s", cfg.DatasetLocation)
	}
	if cfg.SplitSeed != 9 {
		t.Fatalf("env should override yaml, got seed %d", cfg.SplitSeed)
	}
	if cfg.EnforceParameterRanges {
		t.Fatalf("expected yaml to disable range enforcement")
	}
	if cfg.HTTPPort != 8080 {
		t.Fatalf("keys absent from yaml keep defaults, got %d", cfg.HTTPPort)
	}
}

func TestLoadMissingYAMLWarns(t *testing.T) {
	clearEnv(t)
	t.Setenv("SQUATWALL_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))

	cfg := Load()
	if cfg.DatasetLocation != "data.xlsx" {
		t.Fatalf("expected defaults when file is missing")
	}
	if len(cfg.Warnings) != 4 {
		t.Fatalf("expected file warning plus 3 defaults warnings, got %v", cfg.Warnings)
	}
}
