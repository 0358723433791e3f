package model

import (
	"time"

	"github.com/seantiz/relay/internal/tensor"
)

// Request status constants.
const (
	StatusPending   = "pending"
	StatusStreaming = "streaming"
	StatusClosed    = "closed"
	StatusFailed    = "failed"
)

// validTransitions maps each status to the set of statuses it may transition to.
// A request can close without streaming when every send on it failed.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusStreaming: true,
		StatusClosed:    true,
		StatusFailed:    true,
	},
	StatusStreaming: {
		StatusClosed: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether status is final.
func Terminal(status string) bool {
	return status == StatusClosed || status == StatusFailed
}

// Request is one inference request submitted to the decoupled model.
type Request struct {
	ID            string        `json:"id"`
	Status        string        `json:"status"`
	Model         string        `json:"model"`
	Input         tensor.Tensor `json:"input"`
	Error         string        `json:"error,omitempty"`
	ResponseCount int           `json:"response_count"`
	CreatedAt     time.Time     `json:"created_at"`
	ClosedAt      *time.Time    `json:"closed_at,omitempty"`
}

// StoredResponse is a persisted response of a request. Seq starts at 1 and
// follows arrival order.
type StoredResponse struct {
	ID        int64          `json:"id"`
	RequestID string         `json:"request_id"`
	Seq       int            `json:"seq"`
	OK        bool           `json:"ok"`
	Output    *tensor.Tensor `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
