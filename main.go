// Standalone engine server. The cobra CLI in cmd/keel wraps the same wiring
// behind subcommands; this entry point boots straight from config for
// supervised deployments.
package main

import (
	"fmt"
	"log"
	"net/http"

	"keel/internal/api"
	"keel/internal/config"
	"keel/internal/logging"
	"keel/internal/middleware"
	"keel/internal/session"
	"keel/internal/store"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatal("failed to load config:", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	db, err := badger.Open(badger.DefaultOptions(cfg.Database.Path).WithLogger(nil))
	if err != nil {
		return fmt.Errorf("opening database at %s: %w", cfg.Database.Path, err)
	}
	defer db.Close()

	s, err := store.Open(db)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	ws, err := session.NewWorkspace(s, logger)
	if err != nil {
		return fmt.Errorf("initializing workspace: %w", err)
	}
	// The watcher only flags staleness; a server can run without it.
	if err := ws.Watch(cfg.Database.Path); err != nil {
		logger.Warn("repository watcher unavailable", zap.Error(err))
	}
	defer ws.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})
	api.NewHandler(ws, api.Options{
		DefaultPageSize: cfg.Log.PageSize,
		ContextLines:    cfg.Diff.ContextLines,
	}).Register(mux)

	handler := middleware.Chain(
		mux,
		middleware.RequestID,
		middleware.Logger(logger),
		middleware.Recover(logger),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("starting server", zap.String("address", addr))
	return http.ListenAndServe(addr, handler)
}
