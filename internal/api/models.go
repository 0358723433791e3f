package api

import (
	"net/http"

	"github.com/seantiz/relay/internal/backend"
	"github.com/seantiz/relay/internal/engine"
)

// modelView is the served model as reported by GET /v1/models.
type modelView struct {
	Name        string            `json:"name"`
	Decoupled   bool              `json:"decoupled"`
	Input       string            `json:"input"`
	Output      string            `json:"output"`
	OutputType  string            `json:"output_type"`
	Downstream  engine.Downstream `json:"downstream"`
	ClosePolicy string            `json:"close_policy"`
	CloserDelay string            `json:"closer_delay"`
}

type modelsResponse struct {
	Model      modelView           `json:"model"`
	Downstream []backend.ModelInfo `json:"downstream"`
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	cfg := s.host.Engine().Config()

	s.writeJSON(w, http.StatusOK, modelsResponse{
		Model: modelView{
			Name:        cfg.Name,
			Decoupled:   cfg.Decoupled,
			Input:       cfg.InputName,
			Output:      cfg.OutputName,
			OutputType:  string(cfg.OutputType),
			Downstream:  cfg.Downstream,
			ClosePolicy: string(cfg.ClosePolicy),
			CloserDelay: cfg.CloserDelay.String(),
		},
		Downstream: s.registry.List(),
	})
}
