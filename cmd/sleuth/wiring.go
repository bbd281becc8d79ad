package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"sleuth/internal/analysis"
	"sleuth/internal/config"
	"sleuth/internal/executor"
	"sleuth/internal/plan"
	"sleuth/internal/provider"
	"sleuth/internal/provider/gemini"
	"sleuth/internal/provider/web"
	"sleuth/internal/store"
)

// engine holds the long-lived collaborators of one CLI invocation.
type engine struct {
	store    store.Store
	closers  []func() error
	gen      provider.Generator
	analyzer *analysis.Analyzer
	builder  *plan.Builder
	executor *executor.Executor
}

func openStore(c *config.Config) (store.Store, func() error, error) {
	switch c.Store.Backend {
	case config.BackendSQLite:
		st, err := store.NewSQLiteStore(c.Store.DatabasePath)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case config.BackendFile:
		st, err := store.NewFileStore(c.Store.Directory)
		if err != nil {
			return nil, nil, err
		}
		return st, func() error { return nil }, nil
	case config.BackendMemory:
		return store.NewMemoryStore(), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
}

func newEngine(ctx context.Context, c *config.Config, withProviders bool) (*engine, error) {
	st, closeStore, err := openStore(c)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	e := &engine{store: st, closers: []func() error{closeStore}}
	logger.Debug("Session store ready", zap.String("backend", c.Store.Backend))
	if !withProviders {
		return e, nil
	}

	if c.HasGenerator() {
		g, err := gemini.New(ctx, c.GeminiConfig())
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to create generator: %w", err)
		}
		e.gen = g
	} else {
		logger.Warn("No GEMINI_API_KEY configured, query analysis uses heuristics")
	}

	e.analyzer = analysis.New(e.gen)
	e.builder = plan.NewBuilder(plan.DefaultLibrary(), c.Orchestrator.MaxTasksPerQuery)
	e.executor = executor.New(c.ExecutorConfig(), web.New(c.WebConfig(), http.DefaultClient))
	return e, nil
}

func (e *engine) Close() {
	for _, fn := range e.closers {
		if err := fn(); err != nil {
			logger.Warn("Close failed", zap.Error(err))
		}
	}
}
