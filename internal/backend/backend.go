package backend

import (
	"context"

	"github.com/seantiz/relay/internal/tensor"
)

// Backend executes a named downstream model. Implementations include the
// in-process identity model and the remote model host client.
type Backend interface {
	// Infer runs one inference and blocks until the response is available.
	// A returned error means the call itself failed (transport, cancellation);
	// a model-level failure is reported through InferResponse.Error.
	Infer(ctx context.Context, req InferRequest) (InferResponse, error)

	// Capabilities reports which models this backend serves.
	Capabilities() Capabilities
}

// AsyncBackend is implemented by backends with a native non-blocking call
// form. The returned channel yields exactly one result and is never closed
// without a value.
type AsyncBackend interface {
	Backend
	InferAsync(ctx context.Context, req InferRequest) <-chan AsyncResult
}

// AsyncResult is the value delivered by InferAsync.
type AsyncResult struct {
	Response InferResponse
	Err      error
}

// InferRequest describes one nested inference call.
type InferRequest struct {
	Model            string          `json:"model"`
	RequestedOutputs []string        `json:"requested_outputs"`
	Inputs           []tensor.Tensor `json:"inputs"`
}

// Input returns the input tensor with the given name.
func (r InferRequest) Input(name string) (tensor.Tensor, bool) {
	for _, t := range r.Inputs {
		if t.Name == name {
			return t, true
		}
	}
	return tensor.Tensor{}, false
}

// InferResponse holds the outputs of a nested inference call, or the error
// the model reported.
type InferResponse struct {
	Outputs []tensor.Tensor `json:"outputs,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// HasError reports whether the model reported an error.
func (r InferResponse) HasError() bool {
	return r.Error != ""
}

// Output returns the output tensor with the given name.
func (r InferResponse) Output(name string) (tensor.Tensor, bool) {
	for _, t := range r.Outputs {
		if t.Name == name {
			return t, true
		}
	}
	return tensor.Tensor{}, false
}

// Capabilities describes what a backend serves.
type Capabilities struct {
	Name           string   `json:"name"`
	Models         []string `json:"models"`
	Async          bool     `json:"async"`
	MaxConcurrency int      `json:"max_concurrency"`
}

// InferAsync runs b.Infer on its own goroutine and delivers the result on
// the returned channel. It gives any Backend a non-blocking call form.
func InferAsync(ctx context.Context, b Backend, req InferRequest) <-chan AsyncResult {
	ch := make(chan AsyncResult, 1)
	go func() {
		resp, err := b.Infer(ctx, req)
		ch <- AsyncResult{Response: resp, Err: err}
	}()
	return ch
}
