package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/seantiz/relay/internal/subcall"
	"github.com/seantiz/relay/internal/tensor"
)

// ErrPrecondition marks a batch aborted because an inline sub-call failed or
// returned a mismatching tensor. It signals misconfiguration, not a bad
// request.
var ErrPrecondition = errors.New("precondition sub-call failed")

// BatchError reports the request at which a batch was aborted. Requests
// before Index were dispatched and will still receive their responses;
// requests from Index on were not.
type BatchError struct {
	Index     int
	RequestID string
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("request %d (%s): %v", e.Index, e.RequestID, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// ExecuteBatch processes requests in order. Each request is checked with a
// blocking and a suspending sub-call, then two delivery branches are spawned
// for it. The responses arrive asynchronously on each request's sender; the
// return value only reports lifecycle errors and aborted batches.
func (e *Engine) ExecuteBatch(ctx context.Context, requests []Request) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch e.state {
	case stateReady:
	case stateFinalized:
		return ErrFinalized
	default:
		return ErrNotReady
	}

	for i, req := range requests {
		if err := e.checkRequest(ctx, req); err != nil {
			batchesTotal.WithLabelValues(batchAborted).Inc()
			e.logger.Error("batch aborted", "request_id", req.ID, "index", i, "error", err)
			return &BatchError{Index: i, RequestID: req.ID, Err: err}
		}
		e.dispatch(ctx, req)
	}

	batchesTotal.WithLabelValues(batchDispatched).Inc()
	e.logger.Debug("batch dispatched", "requests", len(requests), "inflight", e.tracker.Count())
	return nil
}

// checkRequest runs the inline sub-calls for req.
func (e *Engine) checkRequest(ctx context.Context, req Request) error {
	if req.Sender == nil {
		return errors.New("request has no response sender")
	}
	if err := req.Input.Validate(); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}

	if err := precondition("sync", req.Input, e.proxy.InvokeSync(ctx, req.Input)); err != nil {
		return err
	}
	return precondition("async", req.Input, e.proxy.InvokeAsync(ctx, req.Input).Await(ctx))
}

func precondition(form string, in tensor.Tensor, o subcall.Outcome) error {
	if o.Failed() {
		return fmt.Errorf("%w: %s sub-call has an error: %s", ErrPrecondition, form, o.Message)
	}
	if !tensor.Equal(in, o.Tensor) {
		return fmt.Errorf("%w: %s sub-call input and output do not match. %v != %v", ErrPrecondition, form, in, o.Tensor)
	}
	return nil
}

// dispatch spawns the two delivery branches of req. The tracker is raised
// for both before either starts so a concurrent drain never sees a false
// zero.
func (e *Engine) dispatch(ctx context.Context, req Request) {
	out := sendOnly{sender: req.Sender}

	var immediateCloser, delayedCloser *closeToken
	switch e.cfg.ClosePolicy {
	case CloseLast:
		tok := newCloseToken(req.Sender, 2)
		immediateCloser, delayedCloser = tok, tok
	default:
		delayedCloser = newCloseToken(req.Sender, 1)
	}

	// Branches outlive the batch call and are never canceled.
	branchCtx := context.WithoutCancel(ctx)

	e.tracker.Add(2)
	go e.runBranch(branchCtx, req.ID, out, req.Input, branch{
		name:   branchImmediate,
		mode:   subcall.Blocking,
		closer: immediateCloser,
	})
	go e.runBranch(branchCtx, req.ID, out, req.Input, branch{
		name:   branchDelayed,
		mode:   subcall.Suspending,
		closer: delayedCloser,
		delay:  e.cfg.CloserDelay,
	})
}
