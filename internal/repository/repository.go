// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultListLimit caps ListArtifactLoads when the caller passes no limit.
const DefaultListLimit = 50

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

var _ domain.Repository = (*SQLRepository)(nil)

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 && cfg.SQLitePath != memoryPath {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the underlying pool for connection statistics.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

// SaveArtifactLoad appends one snapshot publication to the audit log.
func (r *SQLRepository) SaveArtifactLoad(ctx context.Context, load *domain.ArtifactLoad) error {
	if load == nil || load.ID == "" {
		return fmt.Errorf("%w: artifact load id is required", ErrInvalidInput)
	}
	if load.Checksum == "" {
		return fmt.Errorf("%w: checksum is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO artifact_loads (
			id, model_version, checksum, source,
			feature_count, tree_count, threshold, load_trigger, loaded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		load.ID, load.ModelVersion, load.Checksum, load.Source,
		load.FeatureCount, load.TreeCount, load.Threshold,
		string(load.Trigger), load.LoadedAt.UTC(),
	)
	return err
}

// GetArtifactLoad retrieves a single audit record by ID.
func (r *SQLRepository) GetArtifactLoad(ctx context.Context, id string) (*domain.ArtifactLoad, error) {
	query := `
		SELECT id, model_version, checksum, source,
			   feature_count, tree_count, threshold, load_trigger, loaded_at
		FROM artifact_loads
		WHERE id = ?
	`

	load, err := scanArtifactLoad(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return load, nil
}

// ListArtifactLoads returns the most recent audit records, newest first.
func (r *SQLRepository) ListArtifactLoads(ctx context.Context, limit int) ([]*domain.ArtifactLoad, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, model_version, checksum, source,
			   feature_count, tree_count, threshold, load_trigger, loaded_at
		FROM artifact_loads
		ORDER BY loaded_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loads []*domain.ArtifactLoad
	for rows.Next() {
		load, err := scanArtifactLoad(rows)
		if err != nil {
			return nil, err
		}
		loads = append(loads, load)
	}
	return loads, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifactLoad(row rowScanner) (*domain.ArtifactLoad, error) {
	var load domain.ArtifactLoad
	var trigger string
	err := row.Scan(
		&load.ID, &load.ModelVersion, &load.Checksum, &load.Source,
		&load.FeatureCount, &load.TreeCount, &load.Threshold,
		&trigger, &load.LoadedAt,
	)
	if err != nil {
		return nil, err
	}
	load.Trigger = domain.LoadTrigger(trigger)
	load.LoadedAt = load.LoadedAt.UTC()
	return &load, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != DriverPostgres {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
