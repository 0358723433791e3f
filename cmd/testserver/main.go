// testserver starts a relay API server with an in-process downstream model and
// a short closer delay for E2E testing.
// Usage: go run ./cmd/testserver
package main

import (
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/seantiz/relay/internal/api"
	"github.com/seantiz/relay/internal/backend"
	"github.com/seantiz/relay/internal/backend/identity"
	"github.com/seantiz/relay/internal/engine"
	"github.com/seantiz/relay/internal/host"
	"github.com/seantiz/relay/internal/store"
	"github.com/seantiz/relay/internal/stream"
)

func main() {
	addr := ":8080"
	if v := os.Getenv("RELAY_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	cfg := engine.DefaultConfig()
	cfg.CloserDelay = 500 * time.Millisecond

	reg := backend.NewRegistry()
	reg.Register(cfg.Downstream.Model, identity.New(identity.WithLatency(50*time.Millisecond)))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	h := host.New(engine.New(cfg, reg, logger), db, stream.NewBroker(), logger)
	if err := h.Load(); err != nil {
		log.Fatalf("failed to load model: %v", err)
	}

	srv := api.NewServer(addr, h, db, reg, logger)

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
