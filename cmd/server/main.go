/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the shipment credits server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (defaults, YAML file, environment, flags)
  2. Build the logger
  3. Initialize SQLite store
  4. Seed the default user on an empty database
  5. Start the ledger auditor
  6. Configure HTTP router and start the server

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -port    HTTP server port, overrides config (default: 8080)
  -db      SQLite database path, overrides config (default: shipments.db)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Stop the auditor
  4. Close database connection

EXAMPLES:
  ./server -db="./data/shipments.db"
  ./server -db=":memory:" -port=3000
  SHIPMENT_LOG_FORMAT=json ./server -config=config.yaml

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/warp/shipment-engine/api"
	"github.com/warp/shipment-engine/config"
	"github.com/warp/shipment-engine/logging"
	"github.com/warp/shipment-engine/shipping"
	"github.com/warp/shipment-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	svc := shipping.NewService(store, shipping.WithLogger(logger.With().Str("component", "shipping").Logger()))

	if cfg.Seed.Enabled {
		seed := shipping.NewUser{Name: cfg.Seed.Name, Email: cfg.Seed.Email}
		if _, err := api.SeedDefaultUser(context.Background(), store, svc, seed, logger); err != nil {
			logger.Warn().Err(err).Msg("seeding failed")
		}
	}

	metrics := api.NewMetrics()

	auditor := api.NewAuditor(store, logger, metrics)
	auditor.Enabled = cfg.Auditor.Enabled
	auditor.Interval = cfg.Auditor.Interval
	auditor.Start()
	defer auditor.Stop()

	handler := api.NewHandler(svc, auditor, metrics)
	handler.DB = store

	router := api.NewRouter(handler, api.RouterOptions{
		Logger:      logger,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Int("port", cfg.Server.Port).
			Str("db", cfg.Database.Path).
			Msgf("API available at http://localhost:%d/api", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}
