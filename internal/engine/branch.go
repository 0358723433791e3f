package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/seantiz/relay/internal/subcall"
	"github.com/seantiz/relay/internal/tensor"
)

// Branch names, also used as metric labels.
const (
	branchImmediate = "immediate"
	branchDelayed   = "delayed"
)

// branch describes one delivery path of a request.
type branch struct {
	name   string
	mode   subcall.Mode
	delay  time.Duration
	closer *closeToken // nil when this branch must not close
}

// runBranch performs one nested call, sends exactly one response and, if it
// holds the close token, releases it after the send. The tracker is
// decremented last, whatever happens.
func (e *Engine) runBranch(ctx context.Context, requestID string, out sendOnly, in tensor.Tensor, b branch) {
	defer e.tracker.Done()

	log := e.logger.With("request_id", requestID, "branch", b.name)

	var sent, released bool
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.Error("delivery branch panicked", "panic", r)
		if !sent {
			sent = true
			e.send(log, out, b.name, Errorf("internal error in %s branch: %v", b.name, r), outcomeError)
		}
		if !released {
			released = true
			e.release(log, b)
		}
	}()

	if b.delay > 0 {
		time.Sleep(b.delay)
	}

	o := e.proxy.Invoke(ctx, b.mode, in)
	resp, outcome := e.respond(in, o)

	sent = true
	e.send(log, out, b.name, resp, outcome)

	released = true
	e.release(log, b)
}

// respond builds the response for a sub-call outcome.
func (e *Engine) respond(in tensor.Tensor, o subcall.Outcome) (Response, string) {
	if o.Failed() {
		return Errorf("%s", o.Message), outcomeError
	}
	if !tensor.Equal(in, o.Tensor) {
		return Errorf("sub-call input and output do not match. %v != %v", in, o.Tensor), outcomeMismatch
	}

	// The downstream model is an identity, so the verified value is the input.
	result := in.Renamed(e.cfg.OutputName)
	result.DType = e.cfg.OutputType
	return OK(result), outcomeOK
}

func (e *Engine) send(log *slog.Logger, out sendOnly, branchName string, resp Response, outcome string) {
	responsesTotal.WithLabelValues(branchName, outcome).Inc()
	if err := out.Send(resp); err != nil {
		log.Warn("send response", "error", err)
		return
	}
	log.Debug("response sent", "outcome", outcome)
}

func (e *Engine) release(log *slog.Logger, b branch) {
	if b.closer == nil {
		return
	}
	closed, err := b.closer.release()
	if err != nil {
		log.Warn("close response channel", "error", err)
	}
	if closed {
		channelClosesTotal.Inc()
		log.Debug("response channel closed")
	}
}
