/*
main.go - HTTP server entry point

PURPOSE:
  Starts the stock ledger HTTP API.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file, .env, STOCK_* environment)
  2. Open the configured store and run migrations
  3. Build the engine with metrics and logging
  4. Start the position auditor
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config   Optional YAML config file

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the auditor and close the store
  4. Exit

EXAMPLES:
  # SQLite file in the working directory
  ./server

  # Postgres
  STOCK_STORE_DRIVER=postgres STOCK_STORE_POSTGRES_DSN=postgres://... ./server

  # Throwaway in-memory ledger on another port
  STOCK_STORE_DRIVER=memory STOCK_HTTP_ADDR=:3000 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: All settings and defaults
*/
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/warp/stock-ledger/api"
	"github.com/warp/stock-ledger/config"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/logger"
	"github.com/warp/stock-ledger/metrics"
	"github.com/warp/stock-ledger/store"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, closeStore, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error("failed to close store", "err", err)
		}
	}()

	opts := append(cfg.EngineOptions(), inventory.WithLogger(log))
	routerOpts := api.RouterOptions{}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector = metrics.NewCollector(reg)
		opts = append(opts, inventory.WithRecorder(collector))
		routerOpts.Metrics = metrics.Handler(reg)
	}

	engine := inventory.NewEngine(s, opts...)

	auditor := api.NewPositionAuditor(engine, log)
	if collector != nil {
		auditor.Observer = collector
	}
	auditor.Start()
	defer auditor.Stop()
	routerOpts.Auditor = auditor

	handler := api.NewHandler(engine, s, loc, log)
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.NewRouter(handler, routerOpts),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.HTTP.Addr, "store", cfg.Store.Driver, "timezone", loc.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
