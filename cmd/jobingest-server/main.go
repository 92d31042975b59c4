// Package main provides the jobingest HTTP server and pipeline workers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/jobingest/internal/config"
	"github.com/raphaelgruber/jobingest/internal/db"
	"github.com/raphaelgruber/jobingest/internal/dispatch"
	"github.com/raphaelgruber/jobingest/internal/extract"
	"github.com/raphaelgruber/jobingest/internal/fetch"
	"github.com/raphaelgruber/jobingest/internal/llm"
	"github.com/raphaelgruber/jobingest/internal/metrics"
	"github.com/raphaelgruber/jobingest/internal/pipeline"
	"github.com/raphaelgruber/jobingest/internal/postgres"
	"github.com/raphaelgruber/jobingest/internal/server"
	"github.com/raphaelgruber/jobingest/internal/service"
	"github.com/raphaelgruber/jobingest/internal/store"
)

func main() {
	// Parse flags
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()
	slog.SetDefault(logger)

	if err := run(cfg, logger, *wipeDB || os.Getenv("JOBINGEST_WIPE_DB") == "true"); err != nil {
		slog.Error("server failed", "error", err)
		closeLog()
		os.Exit(1)
	}
}

// backend is a store plus its shutdown hook.
type backend struct {
	store.Store
	wipe  func(ctx context.Context) error
	close func()
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendSurreal:
		c, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := c.InitSchema(ctx); err != nil {
			_ = c.Close(context.Background())
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		return &backend{Store: c, wipe: c.WipeData, close: func() {
			if err := c.Close(context.Background()); err != nil {
				slog.Error("failed to close database", "error", err)
			}
		}}, nil

	case config.BackendPostgres:
		s, err := postgres.New(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, err
		}
		return &backend{Store: s, wipe: s.WipeData, close: s.Close}, nil

	default:
		logger.Warn("using in-memory store, records are lost on restart")
		return &backend{
			Store: store.NewMemory(),
			wipe:  func(context.Context) error { return nil },
			close: func() {},
		}, nil
	}
}

func run(cfg config.Config, logger *slog.Logger, wipe bool) error {
	slog.Info("starting jobingest-server", "port", cfg.ServerPort, "store", cfg.StoreBackend, "llm", cfg.LLMProvider)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		cancel()
		return err
	}
	defer st.close()

	if wipe {
		if err := st.wipe(ctx); err != nil {
			cancel()
			return fmt.Errorf("wipe database: %w", err)
		}
	}

	collector := metrics.NewCollector()
	model, err := llm.NewModel(ctx, cfg)
	cancel()
	if err != nil {
		return fmt.Errorf("init model: %w", err)
	}
	model.WithMetrics(collector)

	requester := extract.New(model, cfg.ExtractTimeout, logger).WithMetrics(collector)
	browser := fetch.NewBrowser(fetch.Config{ExecPath: cfg.ChromePath}, logger)
	pipe := pipeline.New(st, browser, requester, logger).WithMetrics(collector)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := dispatch.New(st, pipe, cfg.DispatchConcurrency, logger)
	dispatchErr := make(chan error, 1)
	go func() {
		dispatchErr <- dispatcher.Run(runCtx)
	}()

	srv := server.New(service.New(st, logger), collector, logger)
	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API available", "url", fmt.Sprintf("http://localhost:%s/jobs", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-runCtx.Done():
		slog.Info("shutting down server...")
	case err := <-serveErr:
		runErr = fmt.Errorf("serve: %w", err)
	case err := <-dispatchErr:
		runErr = fmt.Errorf("dispatcher stopped: %w", err)
	}
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// In-flight trigger invocations finish before the store closes.
	dispatcher.Wait()

	slog.Info("server stopped")
	return runErr
}
