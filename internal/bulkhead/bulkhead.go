// Package bulkhead implements spec.md §4.8's concurrency isolation:
// operations run behind a semaphore of max_concurrency, rejecting with a
// RateLimit-kind error once exhausted rather than queuing further.
package bulkhead

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/agentfabric/rrsc/internal/ports"
)

// Bulkhead wraps operations in a weighted semaphore.
type Bulkhead struct {
	name string
	sem  *semaphore.Weighted
}

// New constructs a Bulkhead admitting at most maxConcurrency concurrent
// operations.
func New(name string, maxConcurrency int64) *Bulkhead {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Bulkhead{name: name, sem: semaphore.NewWeighted(maxConcurrency)}
}

// Execute runs fn if a permit is immediately available; otherwise it
// returns a RateLimit error without queuing beyond the semaphore's own
// waitlist (spec.md §4.8 "not queued beyond the semaphore's internal
// waitlist" — TryAcquire never blocks).
func (b *Bulkhead) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.sem.TryAcquire(1) {
		return ports.Newf(ports.KindRateLimit, "bulkhead", "bulkhead %q at capacity", b.name).WithTarget(b.name)
	}
	defer b.sem.Release(1)
	return fn(ctx)
}
