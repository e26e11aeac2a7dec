/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the commerce ledger server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load configuration (file + LEDGER_* environment overrides)
  3. Build logger and store for the configured driver
  4. Create API handler with dependencies
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional; defaults apply)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the store
  4. Exit

EXAMPLES:
  # Run in-memory with defaults
  ./server

  # Run against SQLite
  LEDGER_STORE_DRIVER=sqlite ./server

  # Run with a config file
  ./server -config=./ledger.yaml
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jujuhimself/bepawa-ledger/api"
	"github.com/jujuhimself/bepawa-ledger/commerce"
	memstore "github.com/jujuhimself/bepawa-ledger/commerce/store"
	"github.com/jujuhimself/bepawa-ledger/config"
	"github.com/jujuhimself/bepawa-ledger/store/postgres"
	"github.com/jujuhimself/bepawa-ledger/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	store, closeStore, err := newStore(cfg)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.Error(err))
	}
	defer closeStore()

	handler := api.NewHandler(store, logger)
	handler.Stock.WithMaxAttempts(cfg.Ledger.MaxRetryAttempts)
	handler.Credit.WithMaxAttempts(cfg.Ledger.MaxRetryAttempts)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("store_driver", cfg.Store.Driver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func newStore(cfg *config.Config) (commerce.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return memstore.NewMemory(), func() {}, nil
	case config.DriverSQLite:
		st, err := sqlite.New(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	case config.DriverPostgres:
		st, err := postgres.New(context.Background(), cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
