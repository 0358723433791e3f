// Package identity implements an in-process downstream model that returns its
// inputs unchanged under the requested output names.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/seantiz/relay/internal/backend"
	"github.com/seantiz/relay/internal/tensor"
)

// ModelName is the model name the identity backend is registered under by
// default.
const ModelName = "identity_fp32"

// Compile-time interface satisfaction check.
var _ backend.AsyncBackend = (*Backend)(nil)

// Backend is the identity model. It is safe for concurrent use.
type Backend struct {
	latency time.Duration
}

// Option configures a Backend.
type Option func(*Backend)

// WithLatency makes every call take at least d before responding.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) {
		b.latency = d
	}
}

// New creates an identity backend.
func New(opts ...Option) *Backend {
	b := &Backend{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Infer copies input i to requested output i. When no outputs are requested,
// the outputs are named OUTPUT0..OUTPUTn.
func (b *Backend) Infer(ctx context.Context, req backend.InferRequest) (backend.InferResponse, error) {
	if b.latency > 0 {
		select {
		case <-time.After(b.latency):
		case <-ctx.Done():
			return backend.InferResponse{}, ctx.Err()
		}
	}

	if len(req.Inputs) == 0 {
		return backend.InferResponse{Error: "identity model requires at least one input"}, nil
	}
	if len(req.RequestedOutputs) > 0 && len(req.RequestedOutputs) != len(req.Inputs) {
		return backend.InferResponse{
			Error: fmt.Sprintf("identity model got %d inputs but %d requested outputs", len(req.Inputs), len(req.RequestedOutputs)),
		}, nil
	}

	outputs := make([]tensor.Tensor, len(req.Inputs))
	for i, in := range req.Inputs {
		name := fmt.Sprintf("OUTPUT%d", i)
		if len(req.RequestedOutputs) > 0 {
			name = req.RequestedOutputs[i]
		}
		outputs[i] = in.Renamed(name)
	}
	return backend.InferResponse{Outputs: outputs}, nil
}

// InferAsync runs Infer without blocking the caller.
func (b *Backend) InferAsync(ctx context.Context, req backend.InferRequest) <-chan backend.AsyncResult {
	return backend.InferAsync(ctx, b, req)
}

// Capabilities reports the identity model.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:   "identity",
		Models: []string{ModelName},
		Async:  true,
	}
}
