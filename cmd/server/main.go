/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loyalty points server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Build the logger
  3. Open the store (SQLite or PostgreSQL, migrations applied)
  4. Build the notification publishers
  5. Create the engine, API handler and router
  6. Start the ledger audit and the HTTP server

COMMAND-LINE FLAGS:
  -config  YAML configuration file (optional)
  -port    HTTP server port, overrides configuration
  -db      Database DSN, overrides configuration
           A file path or ":memory:" selects SQLite,
           a postgres:// URL selects PostgreSQL

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SHUTDOWN_TIMEOUT)
  3. Stop the ledger audit
  4. Wait for in-flight notification deliveries
  5. Close publishers and the database
  6. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/points.db"

  # Run against PostgreSQL with Redis notifications
  DATABASE_DSN=postgres://points@localhost/points REDIS_URL=redis://localhost:6379/0 ./server

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - config/config.go: Configuration sources and keys
  - api/server.go: Router configuration
  - store/sqlstore/sqlstore.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/points-engine/api"
	"github.com/warp/points-engine/config"
	"github.com/warp/points-engine/logging"
	"github.com/warp/points-engine/loyalty"
	"github.com/warp/points-engine/notify"
	"github.com/warp/points-engine/store/sqlstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.Int("port", 0, "HTTP server port (overrides configuration)")
	dsn := flag.String("db", "", "Database DSN (overrides configuration)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dsn != "" {
		cfg.DatabaseDSN = *dsn
	}

	log, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	// Initialize store
	store, err := sqlstore.New(cfg.DatabaseDSN, sqlstore.WithLogger(log))
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer store.Close()

	publisher, closers, err := buildPublishers(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn("close publisher", zap.Error(err))
			}
		}
	}()

	engine := loyalty.NewEngine(store, loyalty.Options{
		Logger:         log,
		Publisher:      publisher,
		MaxBatchSize:   cfg.MaxBatchSize,
		PageSize:       cfg.PageSize,
		PublishTimeout: cfg.PublishTimeout,
	})
	// Runs before the publishers close.
	defer engine.Wait()

	audit := api.NewAuditScheduler(engine.Wallets, log, cfg.AuditInterval)
	audit.Start()
	defer audit.Stop()

	handler := api.NewHandler(engine, log)
	handler.Ping = store.DB().PingContext
	handler.Audit = audit

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.CORSAllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("dialect", store.Dialect()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

// buildPublishers always logs notifications and adds Redis and the
// operator webhook when configured.
func buildPublishers(cfg *config.Config, log *zap.Logger) (loyalty.Publisher, []func() error, error) {
	publishers := []loyalty.Publisher{notify.NewLog(log.Named("notify"))}
	var closers []func() error

	if cfg.RedisURL != "" {
		rp, err := notify.NewRedis(cfg.RedisURL, cfg.RedisChannel)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rp.Ping(ctx); err != nil {
			log.Warn("redis unreachable at startup", zap.Error(err))
		}
		publishers = append(publishers, rp)
		closers = append(closers, rp.Close)
	}

	if cfg.OperatorWebhookURL != "" {
		publishers = append(publishers, notify.NewWebhook(cfg.OperatorWebhookURL, cfg.PublishTimeout))
	}

	return notify.NewFanout(log, publishers...), closers, nil
}
