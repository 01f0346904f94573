// Plutus - Explainable card-fraud scoring.
// Copyright (c) 2025 Thisen Ekanayake
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thisen-Ekanayake/Plutus/internal/api"
	"github.com/Thisen-Ekanayake/Plutus/internal/artifact"
	"github.com/Thisen-Ekanayake/Plutus/internal/bus"
	"github.com/Thisen-Ekanayake/Plutus/internal/cache"
	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
	"github.com/Thisen-Ekanayake/Plutus/internal/logging"
	"github.com/Thisen-Ekanayake/Plutus/internal/metrics"
	"github.com/Thisen-Ekanayake/Plutus/internal/repository"
	"github.com/Thisen-Ekanayake/Plutus/internal/scoring"
	"github.com/Thisen-Ekanayake/Plutus/internal/telemetry"
	"github.com/Thisen-Ekanayake/Plutus/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := domain.LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	slog.Info("starting plutus",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"artifacts", cfg.Artifacts.Dir,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"worker", cfg.Worker.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Tracing, Version, logger)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Artifacts first: without a consistent snapshot there is nothing to serve.
	paths := cfg.Artifacts.Resolve()
	snap, err := artifact.Load(paths)
	if err != nil {
		slog.Error("failed to load artifacts", "error", err, "class", domain.ClassOf(err))
		os.Exit(1)
	}
	slog.Info("artifacts loaded",
		"model_version", snap.Version(),
		"checksum", snap.Checksum,
		"features", len(snap.FeatureList),
		"trees", snap.Model.TreeCount(),
		"threshold", snap.Threshold,
	)

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	go metrics.StartDBStatsCollector(ctx, repo.DB(), 15*time.Second)
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "attribution_ttl", cfg.Scoring.AttributionCacheTTL)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := scoring.NewEngine(snap, scoring.Options{
		TopK:             cfg.Scoring.TopK,
		PredictionCutoff: cfg.Scoring.PredictionCutoff,
		Cache:            cacheImpl,
		CacheTTL:         cfg.Scoring.AttributionCacheTTL,
	})
	if err != nil {
		slog.Error("artifacts do not match the feature schema", "error", err)
		os.Exit(1)
	}
	metrics.SetActiveModel(snap.Version(), snap.Checksum)

	reloader := scoring.NewReloader(engine, paths, repo)
	reloader.Record(ctx, snap, domain.TriggerStartup)
	slog.Info("scoring engine initialized", "top_k", cfg.Scoring.TopK)

	// SIGHUP re-reads the artifact directory; a failed reload keeps serving.
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hupCh:
				if _, err := reloader.Reload(ctx); err != nil {
					slog.Error("reload on SIGHUP failed", "error", err)
				}
			}
		}
	}()

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, engine)
		if err := asyncWorker.Start(worker.Config{WorkerCount: cfg.Worker.WorkerCount}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Engine:   engine,
		Reloader: reloader,
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Version:  Version,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("plutus is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version, snap)

	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("plutus shutdown complete")
}

func printBanner(cfg *domain.Config, version string, snap *artifact.Snapshot) {
	fmt.Println()
	fmt.Println("  PLUTUS  explainable fraud scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Model:    %s (threshold %.2f)\n", snap.Version(), snap.Threshold)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score           - Score and explain a transaction")
	fmt.Println("    POST /predict         - Alias of /score")
	fmt.Println("    POST /score/async     - Queue a transaction for the worker")
	fmt.Println("    GET  /model           - Active model snapshot")
	fmt.Println("    GET  /model/history   - Artifact load history")
	fmt.Println("    POST /model/reload    - Hot-reload artifacts from disk")
	fmt.Println("    GET  /health          - Health check")
	fmt.Println("    GET  /metrics         - Prometheus metrics")
	fmt.Println()
}
