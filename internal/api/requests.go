package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/relay/internal/engine"
	"github.com/seantiz/relay/internal/host"
	"github.com/seantiz/relay/internal/model"
	"github.com/seantiz/relay/internal/store"
	"github.com/seantiz/relay/internal/tensor"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// inferRequest is the JSON body for POST /v1/infer. Each input becomes one
// request of the batch.
type inferRequest struct {
	Inputs []tensor.Tensor `json:"inputs"`
}

// inferResponse lists the created requests. Error is set when the batch was
// aborted part way.
type inferResponse struct {
	Requests []*model.Request `json:"requests"`
	Error    string           `json:"error,omitempty"`
}

// listRequestsResponse wraps the paginated list response.
type listRequestsResponse struct {
	Requests []*model.Request `json:"requests"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	var req inferRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if len(req.Inputs) == 0 {
		s.writeError(w, http.StatusBadRequest, "at least one input is required")
		return
	}

	records, err := s.host.Submit(r.Context(), req.Inputs)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, inferResponse{Requests: records})
	case errors.Is(err, host.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrFinalized), errors.Is(err, engine.ErrNotReady):
		s.writeError(w, http.StatusServiceUnavailable, "model is not accepting requests")
	case errors.Is(err, engine.ErrPrecondition):
		s.logger.Error("batch aborted", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, inferResponse{Requests: records, Error: err.Error()})
	default:
		s.logger.Error("submit batch", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit batch")
	}
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, err := s.store.GetRequest(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		s.logger.Error("get request", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get request")
		return
	}

	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	requests, total, err := s.store.ListRequests(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list requests", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}

	if requests == nil {
		requests = []*model.Request{}
	}

	s.writeJSON(w, http.StatusOK, listRequestsResponse{
		Requests: requests,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
