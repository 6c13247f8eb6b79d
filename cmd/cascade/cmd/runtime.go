package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solatis/cascade/internal/core/config"
	"github.com/solatis/cascade/internal/core/db"
	"github.com/solatis/cascade/internal/core/loader"
	"github.com/solatis/cascade/internal/core/pipeline"
	"github.com/solatis/cascade/internal/dispatch"
	"github.com/solatis/cascade/internal/executor/archive"
	loggerexec "github.com/solatis/cascade/internal/executor/logger"
	"github.com/solatis/cascade/internal/metrics"
	"github.com/solatis/cascade/internal/rules"
)

// runtime is the engine, its rule source and the worker pool, wired the
// same way for serve and process.
type runtime struct {
	engine   *rules.Engine
	reloader *loader.Reloader
	pipeline *pipeline.Pipeline
}

func newRuntime(ctx context.Context, cfg *config.Config, queries *db.Queries, m *metrics.Metrics, logger *slog.Logger) (*runtime, error) {
	source, err := ruleSource(cfg, queries)
	if err != nil {
		return nil, err
	}

	engine := rules.NewEngine(logger)
	reloader := loader.NewReloader(source, engine, m, logger)
	if _, err := reloader.Reload(ctx); err != nil {
		return nil, fmt.Errorf("initial rule load from %s: %w", source, err)
	}

	registry, err := newRegistry(cfg, m, logger)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(cfg.Engine.Pipeline(), engine, dispatch.NewDispatcher(registry, m, logger), m, logger)
	if err != nil {
		_ = registry.Close()
		return nil, err
	}
	return &runtime{engine: engine, reloader: reloader, pipeline: p}, nil
}

// newRegistry registers the built-in executors.
func newRegistry(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*dispatch.Registry, error) {
	registry := dispatch.NewRegistry()

	arch, err := archive.New(cfg.Archive, archive.WithObserver(m), archive.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("archive executor: %w", err)
	}
	if err := registry.Register(archive.ID, arch); err != nil {
		_ = arch.Close()
		return nil, err
	}
	if err := registry.Register(loggerexec.ID, loggerexec.New(logger, slog.LevelInfo)); err != nil {
		_ = registry.Close()
		return nil, err
	}
	return registry, nil
}
