package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/seantiz/relay/internal/tensor"
)

// Response is one terminal result delivered on a request's response channel.
// Exactly one of Output and Error is set.
type Response struct {
	Output *tensor.Tensor `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// OK returns a successful response carrying t.
func OK(t tensor.Tensor) Response {
	return Response{Output: &t}
}

// Errorf returns an error response.
func Errorf(format string, args ...any) Response {
	return Response{Error: fmt.Sprintf(format, args...)}
}

// Failed reports whether r is an error response.
func (r Response) Failed() bool {
	return r.Output == nil
}

// ResponseSender is a request's response channel as provided by the host.
// Send may be called concurrently. Close is called at most once by the
// engine, after which Send must fail.
type ResponseSender interface {
	Send(r Response) error
	Close() error
}

// Request is one entry of a batch.
type Request struct {
	ID     string
	Input  tensor.Tensor
	Sender ResponseSender
}

// sendOnly is the view of a response channel handed to branches. It cannot
// close the channel; only a closeToken can.
type sendOnly struct {
	sender ResponseSender
}

func (s sendOnly) Send(r Response) error {
	return s.sender.Send(r)
}

// closeToken is the capability to close a response channel. It is shared by
// holders branches and closes the channel when the last of them releases it.
type closeToken struct {
	sender    ResponseSender
	remaining atomic.Int32
}

func newCloseToken(s ResponseSender, holders int32) *closeToken {
	t := &closeToken{sender: s}
	t.remaining.Store(holders)
	return t
}

// release gives up one holder's share. It reports whether this call closed
// the channel.
func (t *closeToken) release() (bool, error) {
	if t.remaining.Add(-1) != 0 {
		return false, nil
	}
	return true, t.sender.Close()
}
