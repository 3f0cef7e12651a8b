package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rendis/cascade/internal/definition"
	"github.com/rendis/cascade/internal/engine"
	"github.com/rendis/cascade/internal/expressions"
	"github.com/rendis/cascade/internal/logging"
	"github.com/rendis/cascade/internal/panel"
	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/internal/streaming"
)

// app is the wired process: store, catalog and executor.
type app struct {
	cfg      Config
	logger   *slog.Logger
	store    *store.LibSQLStore
	catalog  *definition.Catalog
	hub      *streaming.MemoryHub
	executor engine.Executor
}

func newApp(ctx context.Context, cfg Config) (*app, error) {
	logger := logging.New(os.Stderr, cfg.LogLevel)

	if err := os.MkdirAll(cascadeDir(), 0o700); err != nil {
		return nil, fmt.Errorf("create %s: %w", cascadeDir(), err)
	}
	s, err := store.NewLibSQLStore(cfg.dsn())
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	compiler, err := expressions.NewDefaultCompiler()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	loader, err := definition.NewLoader(compiler)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	catalog := definition.NewCatalog(loader, nil, s)

	n, err := catalog.Warm(ctx)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	logger.Debug("definitions warmed", slog.Int("count", n))

	hub := streaming.NewMemoryHub()
	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		catalog:  catalog,
		hub:      hub,
		executor: engine.NewExecutor(s, catalog, engine.ExecutorConfig{Logger: logger, Hub: hub}),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", slog.String("error", err.Error()))
	}
}

// startPanel serves the panel API on addr until the returned stop is called.
// SSE responses are long-lived, so there is no write timeout.
func (a *app) startPanel(ctx context.Context, addr string) (stop func()) {
	p := panel.NewPanelServer(panel.PanelDeps{
		Store:    a.store,
		Executor: a.executor,
		Catalog:  a.catalog,
		Hub:      a.hub,
		Logger:   a.logger,
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           p.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		a.logger.Info("panel listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("panel server stopped", slog.String("error", err.Error()))
		}
	}()

	return func() {
		// Ending the subscriptions lets open SSE streams return.
		a.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("panel shutdown", slog.String("error", err.Error()))
		}
	}
}
