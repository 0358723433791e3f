package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/relay/internal/engine"
	"github.com/seantiz/relay/internal/model"
	"github.com/seantiz/relay/internal/tensor"
)

// readSSE collects data payloads and named events until the stream ends.
func readSSE(t *testing.T, resp *http.Response) (data []string, events []string) {
	t.Helper()
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: ") && len(events) == 0:
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	return data, events
}

func submitOne(t *testing.T, url, body string) string {
	t.Helper()
	resp := postInfer(t, url, body)
	defer resp.Body.Close()
	var ir inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		t.Fatalf("decode infer response: %v", err)
	}
	return ir.Requests[0].ID
}

func TestStreamResponsesNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/requests/nonexistent/responses")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamResponsesLive(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := submitOne(t, ts.URL, `{"inputs":[{"values":[1.5]}]}`)

	resp, err := http.Get(ts.URL + "/v1/requests/" + id + "/responses")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	data, events := readSSE(t, resp)
	if len(data) != 2 {
		t.Fatalf("got %d data events, want 2: %v", len(data), data)
	}
	for _, d := range data {
		var r engine.Response
		if err := json.Unmarshal([]byte(d), &r); err != nil {
			t.Fatalf("decode event %q: %v", d, err)
		}
		if r.Failed() || r.Output.Values[0] != 1.5 {
			t.Errorf("response = %+v", r)
		}
	}
	if len(events) != 1 || events[0] != "done" {
		t.Errorf("events = %v, want [done]", events)
	}
}

func TestStreamResponsesReplayAfterClose(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := submitOne(t, ts.URL, `{"inputs":[{"values":[3]}]}`)
	srv.host.Unload()

	resp, err := http.Get(ts.URL + "/v1/requests/" + id + "/responses")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	data, events := readSSE(t, resp)
	if len(data) != 2 {
		t.Errorf("got %d data events, want 2", len(data))
	}
	if len(events) != 1 || events[0] != "done" {
		t.Errorf("events = %v, want [done]", events)
	}
}

func TestStreamResponsesTopicAlreadyClosed(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()
	ctx := context.Background()

	// The record still reads streaming but the broker has no topic for it,
	// as when the stream closes between the lookup and the subscription.
	r := &model.Request{
		ID: model.NewID(), Status: model.StatusPending, Model: "decoupled_relay",
		Input: tensor.New("IN", 4), CreatedAt: time.Now().UTC(),
	}
	if err := srv.store.CreateRequest(ctx, r); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if err := srv.store.UpdateRequestStatus(ctx, r.ID, model.StatusStreaming); err != nil {
		t.Fatalf("UpdateRequestStatus: %v", err)
	}
	for range 2 {
		out := tensor.New("OUT", 4)
		if err := srv.store.InsertResponse(ctx, &model.StoredResponse{RequestID: r.ID, OK: true, Output: &out}); err != nil {
			t.Fatalf("InsertResponse: %v", err)
		}
	}

	resp, err := http.Get(ts.URL + "/v1/requests/" + r.ID + "/responses")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	data, events := readSSE(t, resp)
	if len(data) != 2 {
		t.Errorf("got %d data events, want 2", len(data))
	}
	if len(events) != 1 || events[0] != "done" {
		t.Errorf("events = %v, want [done]", events)
	}
}

func TestStreamResponsesFailedRequest(t *testing.T) {
	srv := newTestServerWith(t, offByOne{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := submitOne(t, ts.URL, `{"inputs":[{"values":[3]}]}`)

	resp, err := http.Get(ts.URL + "/v1/requests/" + id + "/responses")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	data, events := readSSE(t, resp)
	if len(data) != 0 {
		t.Errorf("got %d data events, want 0", len(data))
	}
	if len(events) != 1 || events[0] != "error" {
		t.Errorf("events = %v, want [error]", events)
	}
}

func TestGetResponseHistory(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := submitOne(t, ts.URL, `{"inputs":[{"values":[8]}]}`)
	srv.host.Unload()

	resp, err := http.Get(ts.URL + "/v1/requests/" + id + "/responses/history")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body responseHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.RequestID != id || body.Status != "closed" {
		t.Errorf("request_id/status = %s/%s", body.RequestID, body.Status)
	}
	if len(body.Responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(body.Responses))
	}
	for i, r := range body.Responses {
		if r.Seq != i+1 || !r.OK {
			t.Errorf("responses[%d] = %+v", i, r)
		}
	}
}

func TestGetResponseHistoryNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/requests/nonexistent/responses/history")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
