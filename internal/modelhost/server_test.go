package modelhost_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/relay/internal/backend"
	"github.com/seantiz/relay/internal/backend/identity"
	"github.com/seantiz/relay/internal/modelhost"
	"github.com/seantiz/relay/internal/tensor"
	"github.com/seantiz/relay/internal/wire"
)

func newHost(t *testing.T) (*modelhost.Server, net.Listener, chan error) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	reg := backend.NewRegistry()
	reg.Register(identity.ModelName, identity.New())

	srv := modelhost.New(l, reg)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()
	return srv, l, done
}

func TestServeMultipleRequestsPerConnection(t *testing.T) {
	srv, l, _ := newHost(t)
	defer srv.Close()

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for _, v := range []float32{1, 2, 3} {
		req := backend.InferRequest{
			Model:            identity.ModelName,
			RequestedOutputs: []string{"OUTPUT0"},
			Inputs:           []tensor.Tensor{tensor.New("INPUT0", v)},
		}
		if err := wire.WriteFrame(conn, &req); err != nil {
			t.Fatalf("write: %v", err)
		}
		var resp backend.InferResponse
		if err := wire.ReadFrame(conn, &resp); err != nil {
			t.Fatalf("read: %v", err)
		}
		out, ok := resp.Output("OUTPUT0")
		if !ok || out.Values[0] != v {
			t.Errorf("response for %v = %+v", v, resp)
		}
	}
}

func TestServeUnknownModel(t *testing.T) {
	srv, l, _ := newHost(t)
	defer srv.Close()

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := backend.InferRequest{Model: "missing", Inputs: []tensor.Tensor{tensor.New("INPUT0", 1)}}
	if err := wire.WriteFrame(conn, &req); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp backend.InferResponse
	if err := wire.ReadFrame(conn, &resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !resp.HasError() {
		t.Error("expected error response for unknown model")
	}
}

func TestCloseStopsServe(t *testing.T) {
	srv, _, done := newHost(t)

	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v, want nil after Close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestCloseDisconnectsIdleClients(t *testing.T) {
	srv, l, _ := newHost(t)

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server a moment to accept the idle connection.
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		srv.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on an idle client connection")
	}
}

func TestCloseWithConcurrentDials(t *testing.T) {
	srv, l, _ := newHost(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for {
				select {
				case <-stop:
					return
				default:
				}
				conn, err := net.Dial("tcp", l.Addr().String())
				if err != nil {
					return
				}
				defer conn.Close()
			}
		})
	}

	time.Sleep(20 * time.Millisecond)
	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := srv.ActiveConns(); n != 0 {
		t.Errorf("%d connection handlers still running after Close", n)
	}

	close(stop)
	wg.Wait()
}
