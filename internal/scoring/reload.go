package scoring

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Thisen-Ekanayake/Plutus/internal/artifact"
	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
	"github.com/Thisen-Ekanayake/Plutus/internal/logging"
	"github.com/Thisen-Ekanayake/Plutus/internal/metrics"
)

// Reloader re-reads the artifact files into the engine and records every
// publication in the audit log. Reloads are serialised.
type Reloader struct {
	mu     sync.Mutex
	engine *Engine
	paths  domain.ArtifactPaths
	repo   domain.Repository
}

// NewReloader creates a reloader. repo may be nil, in which case loads are
// only logged.
func NewReloader(engine *Engine, paths domain.ArtifactPaths, repo domain.Repository) *Reloader {
	return &Reloader{engine: engine, paths: paths, repo: repo}
}

// Paths returns the artifact locations read on reload.
func (r *Reloader) Paths() domain.ArtifactPaths {
	return r.paths
}

// Reload loads a fresh snapshot and swaps it in. On any error the engine
// keeps serving the previous snapshot.
func (r *Reloader) Reload(ctx context.Context) (*domain.ArtifactLoad, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.engine.Snapshot()

	snap, err := artifact.Load(r.paths)
	if err == nil {
		err = r.engine.Swap(snap)
	}
	if err != nil {
		metrics.ArtifactReloadsTotal.WithLabelValues("failure").Inc()
		logging.L(ctx).Error("artifact reload failed",
			"serving", describe(previous),
			"error", err,
		)
		return nil, err
	}
	metrics.ArtifactReloadsTotal.WithLabelValues("success").Inc()

	logging.L(ctx).Info("artifacts reloaded",
		"previous", describe(previous),
		"current", describe(snap),
		"changed", previous.Checksum != snap.Checksum,
	)
	return r.Record(ctx, snap, domain.TriggerReload), nil
}

// Record writes an audit entry for snap. A repository failure is logged and
// does not undo the swap.
func (r *Reloader) Record(ctx context.Context, snap *artifact.Snapshot, trigger domain.LoadTrigger) *domain.ArtifactLoad {
	load := NewArtifactLoad(snap, trigger)
	if r.repo == nil {
		return load
	}
	if err := r.repo.SaveArtifactLoad(ctx, load); err != nil {
		logging.L(ctx).Error("failed to record artifact load",
			"load_id", load.ID,
			"error", err,
		)
	}
	return load
}

// NewArtifactLoad builds the audit record describing snap.
func NewArtifactLoad(snap *artifact.Snapshot, trigger domain.LoadTrigger) *domain.ArtifactLoad {
	loadedAt := snap.LoadedAt
	if loadedAt.IsZero() {
		loadedAt = time.Now().UTC()
	}
	source := snap.Source.Model
	if source == "" {
		source = "inline"
	}
	return &domain.ArtifactLoad{
		ID:           uuid.New().String(),
		ModelVersion: snap.Version(),
		Checksum:     snap.Checksum,
		Source:       source,
		FeatureCount: len(snap.FeatureList),
		TreeCount:    snap.Model.TreeCount(),
		Threshold:    snap.Threshold,
		Trigger:      trigger,
		LoadedAt:     loadedAt,
	}
}
