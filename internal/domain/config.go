package domain

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the complete Plutus configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Artifact locations and scoring behaviour
	Artifacts ArtifactConfig `json:"artifacts"`
	Scoring   ScoringConfig  `json:"scoring"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Worker     WorkerConfig     `json:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// ArtifactConfig locates the four trained artifacts. Explicit paths win
// over files found in Dir.
type ArtifactConfig struct {
	Dir             string `json:"dir"`
	ModelPath       string `json:"modelPath"`
	EncodersPath    string `json:"encodersPath"`
	FeatureListPath string `json:"featureListPath"`
	ThresholdPath   string `json:"thresholdPath"`
}

// Default artifact file names inside ArtifactConfig.Dir.
const (
	ModelFile       = "model.json"
	EncodersFile    = "encoders.json"
	FeatureListFile = "feature_list.json"
	ThresholdFile   = "threshold.json"
)

// ArtifactPaths is the resolved location of each artifact.
type ArtifactPaths struct {
	Model       string `json:"model"`
	Encoders    string `json:"encoders"`
	FeatureList string `json:"featureList"`
	Threshold   string `json:"threshold"`
}

// Resolve returns the path of every artifact.
func (c ArtifactConfig) Resolve() ArtifactPaths {
	pick := func(explicit, name string) string {
		if explicit != "" {
			return explicit
		}
		return filepath.Join(c.Dir, name)
	}
	return ArtifactPaths{
		Model:       pick(c.ModelPath, ModelFile),
		Encoders:    pick(c.EncodersPath, EncodersFile),
		FeatureList: pick(c.FeatureListPath, FeatureListFile),
		Threshold:   pick(c.ThresholdPath, ThresholdFile),
	}
}

// ScoringConfig tunes the response, never the model.
type ScoringConfig struct {
	// TopK is the number of attribution entries returned.
	TopK int `json:"topK"`

	// PredictionCutoff turns the probability into fraud_prediction.
	PredictionCutoff float64 `json:"predictionCutoff"`

	// AttributionCacheTTL bounds how long memoised attributions live.
	// Zero disables memoisation.
	AttributionCacheTTL time.Duration `json:"attributionCacheTtl"`
}

// WorkerConfig controls asynchronous scoring from the event bus.
type WorkerConfig struct {
	Enabled     bool `json:"enabled"`
	WorkerCount int  `json:"workerCount"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	ServiceName string  `json:"serviceName"`
	Endpoint    string  `json:"endpoint"` // OTLP/gRPC host:port
	Insecure    bool    `json:"insecure"`
	SampleRatio float64 `json:"sampleRatio"`
}

// DefaultConfig returns a self-contained configuration: SQLite, in-memory
// cache and Go channels.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Artifacts: ArtifactConfig{
			Dir: "./artifacts",
		},
		Scoring: ScoringConfig{
			TopK:                5,
			PredictionCutoff:    0.5,
			AttributionCacheTTL: 10 * time.Minute,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./plutus.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled:     false,
			WorkerCount: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "plutus",
			Insecure:    true,
			SampleRatio: 1.0,
		},
	}
}

// LoadConfig overlays PLUTUS_* environment variables on DefaultConfig.
// A .env file in the working directory is read first when present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	cfg.Server.Host = getEnv("PLUTUS_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("PLUTUS_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvInt("PLUTUS_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvInt("PLUTUS_WRITE_TIMEOUT", cfg.Server.WriteTimeout)

	cfg.Artifacts.Dir = getEnv("PLUTUS_ARTIFACTS_DIR", cfg.Artifacts.Dir)
	cfg.Artifacts.ModelPath = os.Getenv("PLUTUS_MODEL_PATH")
	cfg.Artifacts.EncodersPath = os.Getenv("PLUTUS_ENCODERS_PATH")
	cfg.Artifacts.FeatureListPath = os.Getenv("PLUTUS_FEATURE_LIST_PATH")
	cfg.Artifacts.ThresholdPath = os.Getenv("PLUTUS_THRESHOLD_PATH")

	cfg.Scoring.TopK = getEnvInt("PLUTUS_TOP_K", cfg.Scoring.TopK)
	cfg.Scoring.PredictionCutoff = getEnvFloat("PLUTUS_PREDICTION_CUTOFF", cfg.Scoring.PredictionCutoff)
	cfg.Scoring.AttributionCacheTTL = getEnvDuration("PLUTUS_ATTRIBUTION_CACHE_TTL", cfg.Scoring.AttributionCacheTTL)

	cfg.Repository.Driver = getEnv("PLUTUS_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnv("PLUTUS_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = getEnv("PLUTUS_POSTGRES_HOST", "localhost")
	cfg.Repository.PostgresPort = getEnvInt("PLUTUS_POSTGRES_PORT", 5432)
	cfg.Repository.PostgresUser = getEnv("PLUTUS_POSTGRES_USER", "plutus")
	cfg.Repository.PostgresPassword = os.Getenv("PLUTUS_POSTGRES_PASSWORD")
	cfg.Repository.PostgresDB = getEnv("PLUTUS_POSTGRES_DB", "plutus")
	cfg.Repository.PostgresSSLMode = getEnv("PLUTUS_POSTGRES_SSLMODE", "disable")

	cfg.Cache.Type = getEnv("PLUTUS_CACHE", cfg.Cache.Type)
	cfg.Cache.LocalMaxSize = getEnvInt("PLUTUS_CACHE_LOCAL_SIZE", cfg.Cache.LocalMaxSize)
	cfg.Cache.LocalTTL = getEnvDuration("PLUTUS_CACHE_LOCAL_TTL", cfg.Cache.LocalTTL)
	cfg.Cache.RedisAddr = getEnv("PLUTUS_REDIS_ADDR", "localhost:6379")
	cfg.Cache.RedisPassword = os.Getenv("PLUTUS_REDIS_PASSWORD")
	cfg.Cache.RedisDB = getEnvInt("PLUTUS_REDIS_DB", 0)
	cfg.Cache.EnableTwoPhase = getEnvBool("PLUTUS_CACHE_TWO_PHASE", cfg.Cache.Type == "redis")

	cfg.EventBus.Type = getEnv("PLUTUS_BUS", cfg.EventBus.Type)
	cfg.EventBus.ChannelBufferSize = getEnvInt("PLUTUS_BUS_BUFFER", cfg.EventBus.ChannelBufferSize)
	cfg.EventBus.NATSUrl = getEnv("PLUTUS_NATS_URL", "nats://localhost:4222")
	cfg.EventBus.NATSToken = os.Getenv("PLUTUS_NATS_TOKEN")
	cfg.EventBus.NATSMaxReconnects = getEnvInt("PLUTUS_NATS_MAX_RECONNECTS", 10)
	cfg.EventBus.NATSReconnectWait = getEnvInt("PLUTUS_NATS_RECONNECT_WAIT", 5)
	cfg.EventBus.NATSQueueGroup = getEnv("PLUTUS_NATS_QUEUE", "plutus-scoring")
	if brokers := os.Getenv("PLUTUS_KAFKA_BROKERS"); brokers != "" {
		cfg.EventBus.KafkaBrokers = splitList(brokers)
	} else {
		cfg.EventBus.KafkaBrokers = []string{"localhost:9092"}
	}
	cfg.EventBus.KafkaGroup = getEnv("PLUTUS_KAFKA_GROUP", "plutus-scoring")

	cfg.Worker.Enabled = getEnvBool("PLUTUS_WORKER", cfg.Worker.Enabled)
	cfg.Worker.WorkerCount = getEnvInt("PLUTUS_WORKER_COUNT", cfg.Worker.WorkerCount)

	cfg.Logging.Level = getEnv("PLUTUS_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("PLUTUS_LOG_FORMAT", cfg.Logging.Format)

	cfg.Tracing.Endpoint = os.Getenv("PLUTUS_OTLP_ENDPOINT")
	cfg.Tracing.Enabled = getEnvBool("PLUTUS_TRACING", cfg.Tracing.Endpoint != "")
	cfg.Tracing.ServiceName = getEnv("PLUTUS_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.Insecure = getEnvBool("PLUTUS_OTLP_INSECURE", cfg.Tracing.Insecure)
	cfg.Tracing.SampleRatio = getEnvFloat("PLUTUS_TRACE_SAMPLE_RATIO", cfg.Tracing.SampleRatio)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations no component could run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Scoring.TopK < 1 {
		return fmt.Errorf("top-k must be at least 1, got %d", c.Scoring.TopK)
	}
	if !(c.Scoring.PredictionCutoff > 0 && c.Scoring.PredictionCutoff < 1) {
		return fmt.Errorf("prediction cutoff must be in (0,1), got %v", c.Scoring.PredictionCutoff)
	}
	if c.Scoring.AttributionCacheTTL < 0 {
		return fmt.Errorf("attribution cache ttl must not be negative")
	}
	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver: %s", c.Repository.Driver)
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache type: %s", c.Cache.Type)
	}
	switch c.EventBus.Type {
	case "channel", "nats", "kafka":
	default:
		return fmt.Errorf("unsupported event bus type: %s", c.EventBus.Type)
	}
	if c.Worker.Enabled && c.Worker.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1 when the worker is enabled")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing enabled without an OTLP endpoint")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
