package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seantiz/relay/internal/backend"
	"github.com/seantiz/relay/internal/backend/identity"
	"github.com/seantiz/relay/internal/tensor"
)

func TestInferReturnsInputUnderRequestedName(t *testing.T) {
	b := identity.New()
	in := tensor.New("INPUT0", 1, 2, 3)

	resp, err := b.Infer(context.Background(), backend.InferRequest{
		Model:            identity.ModelName,
		RequestedOutputs: []string{"OUTPUT0"},
		Inputs:           []tensor.Tensor{in},
	})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if resp.HasError() {
		t.Fatalf("response error: %s", resp.Error)
	}
	out, ok := resp.Output("OUTPUT0")
	if !ok {
		t.Fatal("OUTPUT0 missing")
	}
	if !tensor.Equal(in, out) {
		t.Errorf("output = %v, want %v", out, in)
	}
}

func TestInferDefaultOutputNames(t *testing.T) {
	b := identity.New()
	resp, err := b.Infer(context.Background(), backend.InferRequest{
		Inputs: []tensor.Tensor{tensor.New("A", 1), tensor.New("B", 2)},
	})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if _, ok := resp.Output("OUTPUT1"); !ok {
		t.Errorf("expected OUTPUT1, got %+v", resp.Outputs)
	}
}

func TestInferReportsModelErrors(t *testing.T) {
	b := identity.New()
	tests := []struct {
		name string
		req  backend.InferRequest
	}{
		{"no inputs", backend.InferRequest{RequestedOutputs: []string{"OUTPUT0"}}},
		{"output count mismatch", backend.InferRequest{
			RequestedOutputs: []string{"OUTPUT0", "OUTPUT1"},
			Inputs:           []tensor.Tensor{tensor.New("INPUT0", 1)},
		}},
	}
	for _, tt := range tests {
		resp, err := b.Infer(context.Background(), tt.req)
		if err != nil {
			t.Errorf("%s: unexpected call error: %v", tt.name, err)
			continue
		}
		if !resp.HasError() {
			t.Errorf("%s: expected model error", tt.name)
		}
	}
}

func TestInferLatencyHonorsContext(t *testing.T) {
	b := identity.New(identity.WithLatency(5 * time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Infer(ctx, backend.InferRequest{Inputs: []tensor.Tensor{tensor.New("INPUT0", 1)}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestInferAsyncMatchesInfer(t *testing.T) {
	b := identity.New(identity.WithLatency(10 * time.Millisecond))
	req := backend.InferRequest{
		RequestedOutputs: []string{"OUTPUT0"},
		Inputs:           []tensor.Tensor{tensor.New("INPUT0", 4, 5)},
	}

	syncResp, err := b.Infer(context.Background(), req)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	res := <-b.InferAsync(context.Background(), req)
	if res.Err != nil {
		t.Fatalf("InferAsync: %v", res.Err)
	}

	syncOut, _ := syncResp.Output("OUTPUT0")
	asyncOut, _ := res.Response.Output("OUTPUT0")
	if !tensor.Equal(syncOut, asyncOut) {
		t.Errorf("async output %v differs from sync output %v", asyncOut, syncOut)
	}
}
