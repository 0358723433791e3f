package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/seantiz/relay/internal/engine"
	"github.com/seantiz/relay/internal/model"
	"github.com/seantiz/relay/internal/store"
	"github.com/seantiz/relay/internal/stream"
)

// recordingSender is the response channel of one request. Every response is
// persisted and then published to the broker; closing it closes the request
// record and then the topic.
//
// mu orders sends against Close, so the record never reads closed while a
// response is still being written.
type recordingSender struct {
	id     string
	live   engine.ResponseSender
	store  store.Store
	logger *slog.Logger

	mu        sync.Mutex
	closed    bool
	streaming bool
}

func (h *Host) newSender(id string) *recordingSender {
	return &recordingSender{
		id:     id,
		live:   h.broker.Sender(id),
		store:  h.store,
		logger: h.logger.With("request_id", id),
	}
}

// Send delivers r. Sending after Close fails with stream.ErrClosed.
func (s *recordingSender) Send(r engine.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stream.ErrClosed
	}

	// Responses outlive the request that submitted them.
	ctx := context.Background()

	if !s.streaming {
		s.streaming = true
		s.setStatus(ctx, model.StatusStreaming)
	}

	stored := &model.StoredResponse{
		RequestID: s.id,
		OK:        !r.Failed(),
		Output:    r.Output,
		Error:     r.Error,
	}
	if err := s.store.InsertResponse(ctx, stored); err != nil {
		s.logger.Error("persist response", "error", err)
	} else {
		s.logger.Debug("response recorded", "seq", stored.Seq, "ok", stored.OK)
	}

	return s.live.Send(r)
}

// Close completes the request.
func (s *recordingSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stream.ErrClosed
	}
	s.closed = true

	s.setStatus(context.Background(), model.StatusClosed)
	return s.live.Close()
}

func (s *recordingSender) setStatus(ctx context.Context, status string) {
	err := s.store.UpdateRequestStatus(ctx, s.id, status)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrInvalidTransition):
		s.logger.Debug("status update skipped", "status", status, "error", err)
	default:
		s.logger.Error("update request status", "status", status, "error", err)
	}
}
