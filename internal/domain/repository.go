// Package domain defines the core interfaces and types for Plutus.
package domain

import (
	"context"
	"time"
)

// LoadTrigger records why an artifact snapshot was loaded.
type LoadTrigger string

const (
	TriggerStartup LoadTrigger = "startup"
	TriggerReload  LoadTrigger = "reload"
)

// ArtifactLoad is an audit record of one successful snapshot publication.
type ArtifactLoad struct {
	ID           string      `json:"id"`
	ModelVersion string      `json:"model_version"`
	Checksum     string      `json:"checksum"`
	Source       string      `json:"source"`
	FeatureCount int         `json:"feature_count"`
	TreeCount    int         `json:"tree_count"`
	Threshold    float64     `json:"threshold"`
	Trigger      LoadTrigger `json:"trigger"`
	LoadedAt     time.Time   `json:"loaded_at"`
}

// Repository persists the artifact-load audit log.
type Repository interface {
	SaveArtifactLoad(ctx context.Context, load *ArtifactLoad) error
	GetArtifactLoad(ctx context.Context, id string) (*ArtifactLoad, error)
	ListArtifactLoads(ctx context.Context, limit int) ([]*ArtifactLoad, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
