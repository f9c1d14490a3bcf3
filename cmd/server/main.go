/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the lending consistency core server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load YAML config
  2. Initialize SQLite store
  3. Create engine and API handler
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to YAML config file (optional; defaults apply without it)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with defaults (lending.db next to the binary, :8080)
  ./server

  # Run with a config file
  ./server -config=./config.yaml

  # Override listen address and database path
  LENDING_LISTEN=:3000 LENDING_DB_PATH=:memory: ./server

SEE ALSO:
  - config/config.go: Configuration loading
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/lending-engine/api"
	"github.com/warp/lending-engine/config"
	"github.com/warp/lending-engine/engine"
	"github.com/warp/lending-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("configuration failed")
	}

	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", cfg.DBPath).Msg("database initialization failed")
	}
	defer store.Close()

	eng := engine.New(store, engine.Options{
		Logger:      log.With().Str("component", "engine").Logger(),
		CutoverHour: cfg.CutoverHour,
		UndoLimit:   cfg.UndoLimit,
	})

	handler := api.NewHandler(eng, log.With().Str("component", "api").Logger())
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("listen", cfg.Listen).Str("db", cfg.DBPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("server stopped")
}
