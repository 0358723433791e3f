// Package remote implements a backend that forwards nested inference calls to
// a model host over TCP, Unix or vsock connections.
package remote

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/seantiz/relay/internal/backend"
	"github.com/seantiz/relay/internal/wire"
)

// Retry defaults for connection establishment.
const (
	dialMaxRetries  = 5
	dialBaseBackoff = 100 * time.Millisecond
)

// Compile-time interface satisfaction check.
var _ backend.AsyncBackend = (*Backend)(nil)

// Backend dials the model host once per call. It is safe for concurrent use.
type Backend struct {
	addr   wire.Address
	models []string
	dial   func(ctx context.Context, a wire.Address) (net.Conn, error)
}

// New creates a backend for the model host at addr (see wire.ParseAddress).
// models lists the model names the host is expected to serve; it is only
// used for capability reporting.
func New(addr string, models ...string) (*Backend, error) {
	a, err := wire.ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	return &Backend{
		addr:   a,
		models: models,
		dial:   wire.Dial,
	}, nil
}

// Address returns the model host address.
func (b *Backend) Address() wire.Address {
	return b.addr
}

// Infer sends req to the model host and waits for its response.
func (b *Backend) Infer(ctx context.Context, req backend.InferRequest) (backend.InferResponse, error) {
	conn, err := b.connect(ctx)
	if err != nil {
		return backend.InferResponse{}, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return backend.InferResponse{}, fmt.Errorf("set deadline: %w", err)
		}
	}

	// Unblock reads and writes when the context ends. Registered after the
	// deadline so a cancellation always has the last word.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := wire.WriteFrame(conn, &req); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backend.InferResponse{}, fmt.Errorf("send request: %w", ctxErr)
		}
		return backend.InferResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp backend.InferResponse
	if err := wire.ReadFrame(conn, &resp); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backend.InferResponse{}, fmt.Errorf("read response: %w", ctxErr)
		}
		return backend.InferResponse{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

// InferAsync runs Infer without blocking the caller.
func (b *Backend) InferAsync(ctx context.Context, req backend.InferRequest) <-chan backend.AsyncResult {
	return backend.InferAsync(ctx, b, req)
}

// Capabilities reports the remote host.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:   "remote " + b.addr.String(),
		Models: b.models,
		Async:  true,
	}
}

// connect dials the model host, retrying with exponential backoff.
func (b *Backend) connect(ctx context.Context) (net.Conn, error) {
	var lastErr error
	backoff := dialBaseBackoff

	for attempt := range dialMaxRetries {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial model host: %w", ctx.Err())
		default:
		}

		conn, err := b.dial(ctx, b.addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if attempt < dialMaxRetries-1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("dial model host: %w", ctx.Err())
			}
			backoff *= 2
		}
	}

	return nil, fmt.Errorf("dial model host after %d attempts: %w", dialMaxRetries, lastErr)
}
