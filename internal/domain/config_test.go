package domain

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Scoring.TopK != 5 {
		t.Errorf("expected top-k 5, got %d", cfg.Scoring.TopK)
	}
	if cfg.Scoring.PredictionCutoff != 0.5 {
		t.Errorf("expected cutoff 0.5, got %v", cfg.Scoring.PredictionCutoff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ZeroTopK", func(c *Config) { c.Scoring.TopK = 0 }},
		{"CutoffOne", func(c *Config) { c.Scoring.PredictionCutoff = 1 }},
		{"BadDriver", func(c *Config) { c.Repository.Driver = "mysql" }},
		{"BadCache", func(c *Config) { c.Cache.Type = "memcached" }},
		{"BadBus", func(c *Config) { c.EventBus.Type = "rabbitmq" }},
		{"WorkerWithoutWorkers", func(c *Config) { c.Worker.Enabled = true; c.Worker.WorkerCount = 0 }},
		{"TracingWithoutEndpoint", func(c *Config) { c.Tracing.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PLUTUS_PORT", "9090")
	t.Setenv("PLUTUS_TOP_K", "3")
	t.Setenv("PLUTUS_ARTIFACTS_DIR", "/srv/artifacts")
	t.Setenv("PLUTUS_MODEL_PATH", "/models/v2.json")
	t.Setenv("PLUTUS_ATTRIBUTION_CACHE_TTL", "30s")
	t.Setenv("PLUTUS_BUS", "kafka")
	t.Setenv("PLUTUS_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Scoring.TopK != 3 {
		t.Errorf("expected top-k 3, got %d", cfg.Scoring.TopK)
	}
	if cfg.Scoring.AttributionCacheTTL != 30*time.Second {
		t.Errorf("expected ttl 30s, got %v", cfg.Scoring.AttributionCacheTTL)
	}
	if len(cfg.EventBus.KafkaBrokers) != 2 || cfg.EventBus.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers: %v", cfg.EventBus.KafkaBrokers)
	}

	paths := cfg.Artifacts.Resolve()
	if paths.Model != "/models/v2.json" {
		t.Errorf("expected explicit model path, got %s", paths.Model)
	}
	if paths.Encoders != filepath.Join("/srv/artifacts", EncodersFile) {
		t.Errorf("unexpected encoders path: %s", paths.Encoders)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("PLUTUS_PREDICTION_CUTOFF", "1.5")
	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for cutoff outside (0,1)")
	}
}
