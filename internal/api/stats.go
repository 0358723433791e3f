package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
	TotalResponses int            `json:"total_responses"`
	AvgResponses   float64        `json:"avg_responses"`
	Inflight       int64          `json:"inflight_branches"`
	OpenStreams    int            `json:"open_streams"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.logger.Error("get request stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:          stats.Total,
		ByStatus:       stats.CountByStatus,
		TotalResponses: stats.TotalResponses,
		AvgResponses:   stats.AvgResponses,
		Inflight:       s.host.Engine().Inflight(),
		OpenStreams:    s.host.Broker().Len(),
	})
}
