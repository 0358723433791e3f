package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/seantiz/relay/internal/backend"
	"github.com/seantiz/relay/internal/subcall"
)

// Lifecycle errors.
var (
	ErrNotReady  = errors.New("engine is not initialized")
	ErrFinalized = errors.New("engine is finalized")
)

type state int

const (
	stateLoaded state = iota
	stateReady
	stateFinalized
)

// Engine executes batches of decoupled requests.
type Engine struct {
	cfg     Config
	proxy   *subcall.Proxy
	logger  *slog.Logger
	tracker Tracker

	// mu is held shared while a batch dispatches and exclusively to change
	// state, so Finalize cannot start draining in the middle of a batch.
	mu    sync.RWMutex
	state state
}

// New creates an engine whose nested calls go to the backend registered for
// cfg.Downstream.Model. The engine must be initialized before use.
func New(cfg Config, reg *backend.Registry, logger *slog.Logger) *Engine {
	proxy := subcall.New(reg, subcall.Target{
		Model:  cfg.Downstream.Model,
		Input:  cfg.Downstream.Input,
		Output: cfg.Downstream.Output,
	}, subcall.WithTimeout(cfg.CallTimeout))

	return &Engine{
		cfg:    cfg,
		proxy:  proxy,
		logger: logger,
	}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Inflight returns the number of delivery branches currently running.
func (e *Engine) Inflight() int64 {
	return e.tracker.Count()
}

// Initialize validates the configuration and readies the engine. A
// configuration error means the model must not be loaded.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateFinalized {
		return ErrFinalized
	}
	if err := e.cfg.Validate(); err != nil {
		return fmt.Errorf("initialize %q: %w", e.cfg.Name, err)
	}

	e.state = stateReady
	e.logger.Info("engine initialized",
		"model", e.cfg.Name,
		"output", e.cfg.OutputName,
		"output_type", e.cfg.OutputType,
		"downstream", e.cfg.Downstream.Model,
		"close_policy", e.cfg.ClosePolicy,
		"closer_delay", e.cfg.CloserDelay.String(),
	)
	return nil
}

// Finalize rejects further batches and blocks until every delivery branch
// has finished. There is no timeout: branches are never canceled.
func (e *Engine) Finalize() {
	e.mu.Lock()
	e.state = stateFinalized
	e.mu.Unlock()

	e.logger.Info("finalize invoked", "model", e.cfg.Name, "inflight", e.tracker.Count())
	e.tracker.Drain(e.cfg.DrainInterval)
	e.logger.Info("finalize complete", "model", e.cfg.Name)
}
