// Package modelhost serves downstream models to remote engines. It accepts
// connections on a listener, reads inference requests as wire frames and
// answers each from a backend registry.
package modelhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"k8s.io/klog/v2"

	"github.com/seantiz/relay/internal/backend"
	"github.com/seantiz/relay/internal/wire"
)

// Server answers wire-framed inference requests.
type Server struct {
	listener net.Listener
	registry *backend.Registry

	mu     sync.Mutex
	closed bool
	active map[net.Conn]struct{}
	conns  sync.WaitGroup
}

// New creates a model host serving the models in reg on listener.
func New(listener net.Listener, reg *backend.Registry) *Server {
	return &Server{
		listener: listener,
		registry: reg,
		active:   make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until the listener is closed. It returns nil
// after Close and the accept error otherwise.
func (s *Server) Serve(ctx context.Context) error {
	log := klog.FromContext(ctx)
	log.Info("model host serving", "addr", s.listener.Addr().String(), "models", len(s.registry.List()))

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go func() {
			defer s.conns.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// Close stops accepting connections, closes open ones and waits for their
// handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	for conn := range s.active {
		conn.Close()
	}
	s.mu.Unlock()

	err := s.listener.Close()
	s.conns.Wait()
	return err
}

// track registers conn as active and counts its handler. It reports false
// once the server is closed, so Close never waits on a handler added after it.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.active[conn] = struct{}{}
	s.conns.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, conn)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// handleConnection answers requests on conn until the peer hangs up.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()
	log := klog.FromContext(ctx).WithValues("remote", conn.RemoteAddr().String())

	for {
		var req backend.InferRequest
		if err := wire.ReadFrame(conn, &req); err != nil {
			if !errors.Is(err, io.EOF) {
				log.V(2).Info("read request", "error", err.Error())
			}
			return
		}

		resp := s.infer(ctx, req)
		if resp.HasError() {
			log.Info("inference failed", "model", req.Model, "error", resp.Error)
		}

		if err := wire.WriteFrame(conn, &resp); err != nil {
			log.Error(err, "write response", "model", req.Model)
			return
		}
	}
}

// infer resolves and runs the requested model. Every failure becomes a
// model-level error so the caller always receives a response frame.
func (s *Server) infer(ctx context.Context, req backend.InferRequest) backend.InferResponse {
	b, err := s.registry.Resolve(req.Model)
	if err != nil {
		return backend.InferResponse{Error: err.Error()}
	}

	resp, err := b.Infer(ctx, req)
	if err != nil {
		return backend.InferResponse{Error: fmt.Sprintf("model %q: %v", req.Model, err)}
	}
	return resp
}
