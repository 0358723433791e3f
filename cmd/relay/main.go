package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/seantiz/relay/internal/api"
	"github.com/seantiz/relay/internal/backend"
	"github.com/seantiz/relay/internal/backend/identity"
	"github.com/seantiz/relay/internal/backend/remote"
	"github.com/seantiz/relay/internal/config"
	"github.com/seantiz/relay/internal/engine"
	"github.com/seantiz/relay/internal/host"
	"github.com/seantiz/relay/internal/modelrepo"
	"github.com/seantiz/relay/internal/store"
	"github.com/seantiz/relay/internal/stream"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("relay: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"model_config", cfg.ModelConfig,
		"downstream_addr", cfg.DownstreamAddr,
	)

	modelCfg := engine.DefaultConfig()
	if cfg.ModelConfig != "" {
		var err error
		modelCfg, err = modelrepo.Load(context.Background(), cfg.ModelConfig)
		if err != nil {
			log.Fatalf("failed to load model config: %v", err)
		}
	}

	reg, err := downstreamRegistry(cfg.DownstreamAddr, modelCfg.Downstream.Model, logger)
	if err != nil {
		log.Fatalf("failed to set up downstream model: %v", err)
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	h := host.New(engine.New(modelCfg, reg, logger), db, stream.NewBroker(), logger)
	if err := h.Load(); err != nil {
		log.Fatalf("failed to load model: %v", err)
	}

	srv := api.NewServer(cfg.ListenAddr, h, db, reg, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// downstreamRegistry registers the downstream model, in process when addr is
// empty and on a remote model host otherwise.
func downstreamRegistry(addr, modelName string, logger *slog.Logger) (*backend.Registry, error) {
	reg := backend.NewRegistry()
	if addr == "" {
		reg.Register(modelName, identity.New())
		logger.Info("downstream model running in process", "model", modelName)
		return reg, nil
	}

	rb, err := remote.New(addr, modelName)
	if err != nil {
		return nil, err
	}
	reg.Register(modelName, rb)
	logger.Info("downstream model on model host", "model", modelName, "addr", rb.Address().String())
	return reg, nil
}
