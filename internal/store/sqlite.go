package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/relay/internal/model"
	"github.com/seantiz/relay/internal/tensor"

	_ "modernc.org/sqlite"
)

const createRequestsTable = `
CREATE TABLE IF NOT EXISTS requests (
    id             TEXT PRIMARY KEY,
    status         TEXT NOT NULL,
    model          TEXT NOT NULL,
    input          TEXT NOT NULL,
    error          TEXT NOT NULL DEFAULT '',
    response_count INTEGER NOT NULL DEFAULT 0,
    created_at     DATETIME NOT NULL,
    closed_at      DATETIME
)`

const createResponsesTable = `
CREATE TABLE IF NOT EXISTS responses (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL REFERENCES requests(id),
    seq        INTEGER NOT NULL,
    ok         INTEGER NOT NULL,
    output     TEXT,
    error      TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    UNIQUE (request_id, seq)
)`

const requestColumns = `id, status, model, input, error, response_count, created_at, closed_at`

// ErrNotFound is returned when a request is not found.
var ErrNotFound = errors.New("request not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for name, ddl := range map[string]string{
		"requests":  createRequestsTable,
		"responses": createResponsesTable,
	} {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("create %s table: %w", name, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRequest inserts a new request record.
func (s *SQLiteStore) CreateRequest(ctx context.Context, r *model.Request) error {
	input, err := json.Marshal(r.Input)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO requests (`+requestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Status, r.Model, string(input), r.Error, r.ResponseCount, r.CreatedAt, r.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*model.Request, error) {
	r := &model.Request{}
	var input string
	if err := row.Scan(&r.ID, &r.Status, &r.Model, &input, &r.Error, &r.ResponseCount, &r.CreatedAt, &r.ClosedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(input), &r.Input); err != nil {
		return nil, fmt.Errorf("decode input of %s: %w", r.ID, err)
	}
	return r, nil
}

// GetRequest retrieves a request by ID.
func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*model.Request, error) {
	r, err := scanRequest(s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return r, nil
}

// ListRequests returns a paginated list of requests ordered by created_at DESC,
// along with the total count of all requests.
func (s *SQLiteStore) ListRequests(ctx context.Context, limit, offset int) ([]*model.Request, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM requests").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM requests ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var requests []*model.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate requests: %w", err)
	}

	return requests, total, nil
}

// UpdateRequestStatus moves a request to status. Terminal statuses also set
// closed_at.
func (s *SQLiteStore) UpdateRequestStatus(ctx context.Context, id, status string) error {
	return s.transition(ctx, id, status, "")
}

// FailRequest marks a pending request failed with message.
func (s *SQLiteStore) FailRequest(ctx context.Context, id, message string) error {
	return s.transition(ctx, id, model.StatusFailed, message)
}

func (s *SQLiteStore) transition(ctx context.Context, id, status, message string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM requests WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read request status: %w", err)
	}

	if !model.ValidTransition(current, status) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, current, status)
	}

	var closedAt *time.Time
	if model.Terminal(status) {
		now := time.Now().UTC()
		closedAt = &now
	}

	if message != "" {
		_, err = tx.ExecContext(ctx,
			"UPDATE requests SET status = ?, error = ?, closed_at = ? WHERE id = ?",
			status, message, closedAt, id,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			"UPDATE requests SET status = ?, closed_at = COALESCE(?, closed_at) WHERE id = ?",
			status, closedAt, id,
		)
	}
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}

	return tx.Commit()
}

// InsertResponse appends a response to its request. The store assigns
// resp.Seq and resp.ID.
func (s *SQLiteStore) InsertResponse(ctx context.Context, resp *model.StoredResponse) error {
	var output sql.NullString
	if resp.Output != nil {
		b, err := json.Marshal(resp.Output)
		if err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		output = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int
	err = tx.QueryRowContext(ctx,
		"UPDATE requests SET response_count = response_count + 1 WHERE id = ? RETURNING response_count",
		resp.RequestID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("bump response count: %w", err)
	}

	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now().UTC()
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO responses (request_id, seq, ok, output, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		resp.RequestID, seq, resp.OK, output, resp.Error, resp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("response id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit response: %w", err)
	}
	resp.ID = id
	resp.Seq = seq
	return nil
}

// GetResponses returns all responses for a request ordered by seq.
func (s *SQLiteStore) GetResponses(ctx context.Context, requestID string) ([]model.StoredResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, seq, ok, output, error, created_at
		FROM responses WHERE request_id = ? ORDER BY seq ASC`, requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("get responses: %w", err)
	}
	defer rows.Close()

	var responses []model.StoredResponse
	for rows.Next() {
		var r model.StoredResponse
		var output sql.NullString
		if err := rows.Scan(&r.ID, &r.RequestID, &r.Seq, &r.OK, &output, &r.Error, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		if output.Valid {
			r.Output = &tensor.Tensor{}
			if err := json.Unmarshal([]byte(output.String), r.Output); err != nil {
				return nil, fmt.Errorf("decode response %d: %w", r.ID, err)
			}
		}
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return responses, nil
}

// GetStats returns aggregate request statistics.
func (s *SQLiteStore) GetStats(ctx context.Context) (*RequestStats, error) {
	stats := &RequestStats{CountByStatus: map[string]int{}}

	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*), COALESCE(SUM(response_count), 0) FROM requests GROUP BY status",
	)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count, responses int
		if err := rows.Scan(&status, &count, &responses); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = count
		stats.Total += count
		stats.TotalResponses += responses
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	if stats.Total > 0 {
		stats.AvgResponses = float64(stats.TotalResponses) / float64(stats.Total)
	}
	return stats, nil
}
