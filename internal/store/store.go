package store

import (
	"context"
	"errors"

	"github.com/seantiz/relay/internal/model"
)

// ErrInvalidTransition is returned when a request status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// RequestStats holds aggregate request statistics.
type RequestStats struct {
	Total          int            `json:"total"`
	CountByStatus  map[string]int `json:"count_by_status"`
	TotalResponses int            `json:"total_responses"`
	AvgResponses   float64        `json:"avg_responses"`
}

// Store defines the persistence operations for requests and their responses.
type Store interface {
	CreateRequest(ctx context.Context, r *model.Request) error
	GetRequest(ctx context.Context, id string) (*model.Request, error)
	ListRequests(ctx context.Context, limit, offset int) ([]*model.Request, int, error)
	UpdateRequestStatus(ctx context.Context, id, status string) error
	FailRequest(ctx context.Context, id, message string) error
	InsertResponse(ctx context.Context, resp *model.StoredResponse) error
	GetResponses(ctx context.Context, requestID string) ([]model.StoredResponse, error)
	GetStats(ctx context.Context) (*RequestStats, error)
	Close() error
}
