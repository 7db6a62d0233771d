package dispatch

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// weightedSemaphore is a thin wrapper over golang.org/x/sync/semaphore,
// giving Pool mode a bounded number of concurrently running callbacks
// instead of unbounded goroutine fan-out.
type weightedSemaphore struct {
	sem *semaphore.Weighted
}

func newWeightedSemaphore(permits int64) *weightedSemaphore {
	return &weightedSemaphore{sem: semaphore.NewWeighted(permits)}
}

func (w *weightedSemaphore) Acquire(ctx context.Context, n int64) error {
	return w.sem.Acquire(ctx, n)
}

func (w *weightedSemaphore) Release(n int64) {
	w.sem.Release(n)
}

// defaultPoolPermits picks a generous default concurrency for Pool-mode
// sides: twice GOMAXPROCS, scaling with available cores while leaving
// headroom for I/O-bound callbacks.
func defaultPoolPermits() int64 {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	return int64(n * 2)
}
