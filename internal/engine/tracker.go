package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// Tracker counts running delivery branches. It only observes; it never
// limits concurrency.
type Tracker struct {
	n atomic.Int64
}

// Add adjusts the count by delta. The count going negative is a programming
// error and panics.
func (t *Tracker) Add(delta int) {
	if t.n.Add(int64(delta)) < 0 {
		panic("engine: negative inflight count")
	}
	inflightBranches.Add(float64(delta))
}

// Done decrements the count by one.
func (t *Tracker) Done() {
	t.Add(-1)
}

// Count returns the current number of running branches.
func (t *Tracker) Count() int64 {
	return t.n.Load()
}

// Drain blocks until the count is observed at zero, checking every interval.
func (t *Tracker) Drain(interval time.Duration) {
	for t.n.Load() != 0 {
		time.Sleep(interval)
	}
}

// DrainContext is Drain bounded by ctx.
func (t *Tracker) DrainContext(ctx context.Context, interval time.Duration) error {
	if t.n.Load() == 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if t.n.Load() == 0 {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
