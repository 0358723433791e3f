package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/relay/internal/engine"
	"github.com/seantiz/relay/internal/model"
	"github.com/seantiz/relay/internal/store"
	"github.com/seantiz/relay/internal/stream"
)

func (s *Server) handleStreamResponses(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, err := s.store.GetRequest(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		s.logger.Error("get request for responses", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get request")
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// A finished request is replayed from the store. The broker may not know
	// it, for example after a restart.
	if model.Terminal(req.Status) {
		s.replayStored(w, r, req)
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	sub, err := s.host.Broker().Subscribe(id)
	if errors.Is(err, stream.ErrNoTopic) {
		// The stream finished after the lookup. The store holds every
		// response once the topic is gone.
		s.replayLatest(w, r, id)
		return
	}
	defer sub.Cancel()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case resp, ok := <-sub.C:
			if !ok {
				if sub.Complete() {
					_ = writeSSEEvent(w, "done", "stream complete")
				} else {
					_ = writeSSEEvent(w, "error", "subscriber fell behind")
				}
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := writeSSEResponse(w, resp); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

func (s *Server) replayLatest(w http.ResponseWriter, r *http.Request, id string) {
	req, err := s.store.GetRequest(r.Context(), id)
	if err != nil {
		s.logger.Error("get request for replay", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get request")
		return
	}
	s.replayStored(w, r, req)
}

func (s *Server) replayStored(w http.ResponseWriter, r *http.Request, req *model.Request) {
	stored, err := s.store.GetResponses(r.Context(), req.ID)
	if err != nil {
		s.logger.Error("get responses for replay", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get responses")
		return
	}

	w.WriteHeader(http.StatusOK)
	for _, sr := range stored {
		if err := writeSSEResponse(w, engine.Response{Output: sr.Output, Error: sr.Error}); err != nil {
			return
		}
	}
	if req.Status == model.StatusFailed {
		_ = writeSSEEvent(w, "error", req.Error)
		return
	}
	_ = writeSSEEvent(w, "done", "stream complete")
}

// responseHistoryResponse is the JSON response for GET /v1/requests/:id/responses/history.
type responseHistoryResponse struct {
	RequestID string                 `json:"request_id"`
	Status    string                 `json:"status"`
	Responses []model.StoredResponse `json:"responses"`
}

func (s *Server) handleGetResponseHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, err := s.store.GetRequest(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		s.logger.Error("get request for response history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get request")
		return
	}

	responses, err := s.store.GetResponses(r.Context(), id)
	if err != nil {
		s.logger.Error("get responses", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get responses")
		return
	}
	if responses == nil {
		responses = []model.StoredResponse{}
	}

	s.writeJSON(w, http.StatusOK, responseHistoryResponse{
		RequestID: id,
		Status:    req.Status,
		Responses: responses,
	})
}

// writeSSEResponse writes one response as a single-line JSON data event.
func writeSSEResponse(w http.ResponseWriter, resp engine.Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
