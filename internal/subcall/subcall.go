// Package subcall wraps a single nested inference invocation against a fixed
// downstream model. The same call is available in a blocking form, which
// occupies the calling goroutine, and a suspending form, which starts the call
// and lets the caller park until the outcome is ready.
package subcall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/relay/internal/backend"
	"github.com/seantiz/relay/internal/tensor"
)

// Mode selects how a nested call is executed.
type Mode int

const (
	// Blocking runs the call on the calling goroutine.
	Blocking Mode = iota
	// Suspending starts the call elsewhere and awaits its outcome.
	Suspending
)

func (m Mode) String() string {
	switch m {
	case Blocking:
		return "blocking"
	case Suspending:
		return "suspending"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Target identifies the downstream model and the tensor names used to call it.
type Target struct {
	Model  string
	Input  string
	Output string
}

// Outcome is the result of one nested call: either a tensor or a failure
// message.
type Outcome struct {
	Tensor  tensor.Tensor
	Message string
	failed  bool
}

// Success returns a successful outcome.
func Success(t tensor.Tensor) Outcome {
	return Outcome{Tensor: t}
}

// Failure returns a failed outcome with a formatted message.
func Failure(format string, args ...any) Outcome {
	return Outcome{Message: fmt.Sprintf(format, args...), failed: true}
}

// Failed reports whether the nested call failed.
func (o Outcome) Failed() bool {
	return o.failed
}

// Proxy invokes the target model through the backend registered for it.
type Proxy struct {
	registry *backend.Registry
	target   Target
	timeout  time.Duration
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithTimeout bounds each nested call. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		p.timeout = d
	}
}

// New creates a proxy for target.
func New(reg *backend.Registry, target Target, opts ...Option) *Proxy {
	p := &Proxy{
		registry: reg,
		target:   target,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Target returns the downstream target of the proxy.
func (p *Proxy) Target() Target {
	return p.target
}

// Invoke performs the nested call in the given mode.
func (p *Proxy) Invoke(ctx context.Context, mode Mode, in tensor.Tensor) Outcome {
	if mode == Suspending {
		return p.InvokeAsync(ctx, in).Await(ctx)
	}
	return p.InvokeSync(ctx, in)
}

// InvokeSync performs the nested call and blocks until the outcome is known.
func (p *Proxy) InvokeSync(ctx context.Context, in tensor.Tensor) Outcome {
	start := time.Now()

	b, err := p.registry.Resolve(p.target.Model)
	if err != nil {
		return p.record(Blocking, start, Failure("%v", err))
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	resp, err := b.Infer(ctx, p.request(in))
	return p.record(Blocking, start, p.classify(ctx, resp, err))
}

// InvokeAsync starts the nested call and returns immediately. The outcome is
// collected with Pending.Await. Backends with a native non-blocking form are
// called through it; others run on their own goroutine.
func (p *Proxy) InvokeAsync(ctx context.Context, in tensor.Tensor) *Pending {
	pending := &Pending{proxy: p, start: time.Now()}

	b, err := p.registry.Resolve(p.target.Model)
	if err != nil {
		o := Failure("%v", err)
		pending.outcome = &o
		return pending
	}

	callCtx, cancel := p.withTimeout(ctx)
	pending.ctx = callCtx
	pending.cancel = cancel

	req := p.request(in)
	if ab, ok := b.(backend.AsyncBackend); ok {
		pending.ch = ab.InferAsync(callCtx, req)
	} else {
		pending.ch = backend.InferAsync(callCtx, b, req)
	}
	return pending
}

func (p *Proxy) request(in tensor.Tensor) backend.InferRequest {
	return backend.InferRequest{
		Model:            p.target.Model,
		RequestedOutputs: []string{p.target.Output},
		Inputs:           []tensor.Tensor{in.Renamed(p.target.Input)},
	}
}

func (p *Proxy) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout > 0 {
		return context.WithTimeout(ctx, p.timeout)
	}
	return context.WithCancel(ctx)
}

// classify turns a backend result into an outcome. Verification of the
// returned tensor is left to the caller.
func (p *Proxy) classify(ctx context.Context, resp backend.InferResponse, err error) Outcome {
	if err != nil {
		if p.timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Failure("sub-call to %q timed out after %v", p.target.Model, p.timeout)
		}
		return Failure("sub-call to %q failed: %v", p.target.Model, err)
	}
	if resp.HasError() {
		return Failure("%s", resp.Error)
	}
	out, ok := resp.Output(p.target.Output)
	if !ok {
		return Failure("output %q not found in response from %q", p.target.Output, p.target.Model)
	}
	return Success(out)
}

func (p *Proxy) record(mode Mode, start time.Time, o Outcome) Outcome {
	subcallDuration.WithLabelValues(mode.String()).Observe(time.Since(start).Seconds())
	result := resultSuccess
	if o.Failed() {
		result = resultFailure
	}
	subcallsTotal.WithLabelValues(mode.String(), result).Inc()
	return o
}

// Pending is an in-flight suspending call.
type Pending struct {
	proxy   *Proxy
	start   time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	ch      <-chan backend.AsyncResult
	outcome *Outcome
}

// Await parks the caller until the outcome is ready or ctx ends. It must be
// called at most once. When ctx ends first the call is canceled and its
// result discarded.
func (pd *Pending) Await(ctx context.Context) Outcome {
	if pd.outcome != nil {
		return pd.proxy.record(Suspending, pd.start, *pd.outcome)
	}

	select {
	case res := <-pd.ch:
		o := pd.proxy.classify(pd.ctx, res.Response, res.Err)
		pd.cancel()
		return pd.proxy.record(Suspending, pd.start, o)
	case <-ctx.Done():
		pd.cancel()
		return pd.proxy.record(Suspending, pd.start, Failure("sub-call to %q abandoned: %v", pd.proxy.target.Model, ctx.Err()))
	}
}
