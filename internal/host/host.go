// Package host runs the decoupled model on behalf of the server. It owns the
// engine lifecycle, turns submitted inputs into persisted request records and
// connects each request's response channel to the store and the broker.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/relay/internal/engine"
	"github.com/seantiz/relay/internal/model"
	"github.com/seantiz/relay/internal/store"
	"github.com/seantiz/relay/internal/stream"
	"github.com/seantiz/relay/internal/tensor"
)

// ErrInvalidInput is returned by Submit when an input tensor is malformed.
var ErrInvalidInput = errors.New("invalid input")

// Host serves one decoupled model.
type Host struct {
	engine *engine.Engine
	store  store.Store
	broker *stream.Broker
	logger *slog.Logger
}

// New creates a host for eng. Load must be called before Submit.
func New(eng *engine.Engine, s store.Store, b *stream.Broker, logger *slog.Logger) *Host {
	return &Host{
		engine: eng,
		store:  s,
		broker: b,
		logger: logger,
	}
}

// Engine returns the hosted engine.
func (h *Host) Engine() *engine.Engine {
	return h.engine
}

// Broker returns the response broker.
func (h *Host) Broker() *stream.Broker {
	return h.broker
}

// Load initializes the model.
func (h *Host) Load() error {
	return h.engine.Initialize()
}

// Unload finalizes the model, blocking until every outstanding response has
// been delivered.
func (h *Host) Unload() {
	h.engine.Finalize()
}

// Submit executes inputs as one batch. It returns the created request
// records; responses arrive asynchronously through the store and broker.
//
// When the batch is aborted by a failed precondition, the records that were
// not dispatched are marked failed and both the records and the error are
// returned.
func (h *Host) Submit(ctx context.Context, inputs []tensor.Tensor) ([]*model.Request, error) {
	cfg := h.engine.Config()

	prepared := make([]tensor.Tensor, len(inputs))
	for i, in := range inputs {
		t, err := normalize(in, cfg.InputName)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d: %v", ErrInvalidInput, i, err)
		}
		prepared[i] = t
	}

	records := make([]*model.Request, 0, len(prepared))
	batch := make([]engine.Request, 0, len(prepared))
	now := time.Now().UTC()
	for _, in := range prepared {
		r := &model.Request{
			ID:        model.NewID(),
			Status:    model.StatusPending,
			Model:     cfg.Name,
			Input:     in,
			CreatedAt: now,
		}
		// The topic exists before the record so that a reader who finds a
		// live record without a topic knows the stream already closed.
		h.broker.Open(r.ID)
		if err := h.store.CreateRequest(ctx, r); err != nil {
			h.broker.Close(r.ID)
			h.failFrom(ctx, records, 0, err)
			return nil, fmt.Errorf("create request: %w", err)
		}

		records = append(records, r)
		batch = append(batch, engine.Request{
			ID:     r.ID,
			Input:  in,
			Sender: h.newSender(r.ID),
		})
	}

	err := h.engine.ExecuteBatch(ctx, batch)
	if err == nil {
		return records, nil
	}

	var batchErr *engine.BatchError
	if errors.As(err, &batchErr) {
		h.failFrom(ctx, records, batchErr.Index, batchErr.Err)
		return records, err
	}

	h.failFrom(ctx, records, 0, err)
	return nil, err
}

// failFrom marks records[from:] failed and closes their topics.
func (h *Host) failFrom(ctx context.Context, records []*model.Request, from int, cause error) {
	for _, r := range records[from:] {
		if err := h.store.FailRequest(ctx, r.ID, cause.Error()); err != nil {
			h.logger.Error("mark request failed", "request_id", r.ID, "error", err)
		}
		r.Status = model.StatusFailed
		r.Error = cause.Error()
		h.broker.Close(r.ID)
	}
}

// normalize fills in the defaults of a submitted input and validates it.
func normalize(in tensor.Tensor, name string) (tensor.Tensor, error) {
	t := in.Clone()
	if t.Name == "" {
		t.Name = name
	}
	if t.DType == "" {
		t.DType = tensor.TypeFP32
	}
	if t.Dims == nil {
		t.Dims = []int64{int64(len(t.Values))}
	}
	if err := t.Validate(); err != nil {
		return tensor.Tensor{}, err
	}
	return t, nil
}
