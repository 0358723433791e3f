package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/relay/internal/model"
	"github.com/seantiz/relay/internal/tensor"
)

func TestGetStatsEmpty(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if stats.Total != 0 {
		t.Errorf("total = %d, want 0", stats.Total)
	}
	if stats.AvgResponses != 0 {
		t.Errorf("avg_responses = %f, want 0", stats.AvgResponses)
	}
	if stats.OpenStreams != 0 {
		t.Errorf("open_streams = %d, want 0", stats.OpenStreams)
	}
}

func TestGetStatsPopulated(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	// Three closed requests with two responses each.
	for i := range 3 {
		r := &model.Request{
			ID: model.NewID(), Status: model.StatusPending, Model: "decoupled_relay",
			Input: tensor.New("IN", float32(i)), CreatedAt: time.Now().UTC(),
		}
		if err := srv.store.CreateRequest(ctx, r); err != nil {
			t.Fatalf("CreateRequest: %v", err)
		}
		for range 2 {
			out := tensor.New("OUT", float32(i))
			if err := srv.store.InsertResponse(ctx, &model.StoredResponse{RequestID: r.ID, OK: true, Output: &out}); err != nil {
				t.Fatalf("InsertResponse: %v", err)
			}
		}
		if err := srv.store.UpdateRequestStatus(ctx, r.ID, model.StatusStreaming); err != nil {
			t.Fatalf("pending→streaming: %v", err)
		}
		if err := srv.store.UpdateRequestStatus(ctx, r.ID, model.StatusClosed); err != nil {
			t.Fatalf("streaming→closed: %v", err)
		}
	}

	// One failed request.
	fr := &model.Request{
		ID: model.NewID(), Status: model.StatusPending, Model: "decoupled_relay",
		Input: tensor.New("IN", 2), CreatedAt: time.Now().UTC(),
	}
	if err := srv.store.CreateRequest(ctx, fr); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if err := srv.store.FailRequest(ctx, fr.ID, "precondition sub-call failed"); err != nil {
		t.Fatalf("pending→failed: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if stats.Total != 4 {
		t.Errorf("total = %d, want 4", stats.Total)
	}
	if stats.ByStatus["closed"] != 3 {
		t.Errorf("by_status[closed] = %d, want 3", stats.ByStatus["closed"])
	}
	if stats.ByStatus["failed"] != 1 {
		t.Errorf("by_status[failed] = %d, want 1", stats.ByStatus["failed"])
	}
	if stats.TotalResponses != 6 {
		t.Errorf("total_responses = %d, want 6", stats.TotalResponses)
	}
	if stats.AvgResponses != 1.5 {
		t.Errorf("avg_responses = %f, want 1.5", stats.AvgResponses)
	}
}

func TestListModels(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/models")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !body.Model.Decoupled || body.Model.Output != "OUT" || body.Model.ClosePolicy != "designated" {
		t.Errorf("model = %+v", body.Model)
	}
	if body.Model.Downstream.Model != "identity_fp32" {
		t.Errorf("downstream model = %q, want identity_fp32", body.Model.Downstream.Model)
	}
	if len(body.Downstream) != 1 || body.Downstream[0].Model != "identity_fp32" {
		t.Errorf("downstream backends = %+v", body.Downstream)
	}
}
