package api

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status   string `json:"status"`
	Model    string `json:"model"`
	Inflight int64  `json:"inflight"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	eng := s.host.Engine()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(healthResponse{
		Status:   "ok",
		Model:    eng.Config().Name,
		Inflight: eng.Inflight(),
	}); err != nil {
		s.logger.Error("encode healthz response", "error", err)
	}
}
