package dispatch

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// DispatchMode selects which goroutine(s) run the callbacks queued onto a
// SideQueue: the three platform primitives this replaces (thread-pool
// work, APC / alertable wait on a pinned thread, manual drain) collapse
// to the three modes below, each backed by a small internal executor.
type DispatchMode int

const (
	// Manual callbacks are only run by an explicit DispatchOne call.
	Manual DispatchMode = iota
	// Pinned callbacks all run on one dedicated goroutine parked in an
	// alertable (channel) wait — the Go analogue of a fixed OS thread.
	Pinned
	// Pool callbacks run on a capacity-limited goroutine pool; two
	// callbacks submitted back to back may execute concurrently.
	Pool
)

// String returns a human-readable name for the mode.
func (m DispatchMode) String() string {
	switch m {
	case Manual:
		return "Manual"
	case Pinned:
		return "Pinned"
	case Pool:
		return "Pool"
	default:
		return "Unknown"
	}
}

// executor is the internal capability a SideQueue uses to actually run a
// drain cycle under Pinned or Pool mode. Manual mode never calls it: the
// caller's own DispatchOne performs the drain.
type executor interface {
	// post arranges for a drain cycle to run on the executor's
	// goroutine(s). The pinned executor coalesces a post into a drain that
	// is already queued and not yet started. It returns an error only if
	// the post itself could not be established (e.g. the pinned goroutine
	// has already shut down).
	post(drain func()) error
	// close releases executor resources (stops the pinned goroutine, if
	// any). Safe to call multiple times.
	close()
}

// manualExecutor backs DispatchMode Manual. It never posts anything; it
// exists purely so SideQueue has a uniform executor field across modes.
type manualExecutor struct{}

func (manualExecutor) post(func()) error { return nil }
func (manualExecutor) close()            {}

// pinnedExecutor runs every posted drain cycle on one dedicated goroutine,
// the Go equivalent of a fixed OS thread parked in an alertable wait. The
// goroutine locks itself to its OS thread with runtime.LockOSThread so
// thread-affine providers above this core (platform transports with
// thread-local state) observe a stable OS thread across callbacks.
//
// pending tracks in-flight posts, letting SideQueue.removeMatching wait
// for an already-queued drain to finish before it can observe entries
// that were just removed.
type pinnedExecutor struct {
	work     chan func()
	done     chan struct{}
	pending  atomic.Int32
	closeJob sync.Once
}

func newPinnedExecutor() *pinnedExecutor {
	e := &pinnedExecutor{
		work: make(chan func(), 1),
		done: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *pinnedExecutor) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for {
		select {
		case fn, ok := <-e.work:
			if !ok {
				return
			}
			fn()
			e.pending.Add(-1)
		case <-e.done:
			return
		}
	}
}

func (e *pinnedExecutor) post(drain func()) error {
	e.pending.Add(1)
	select {
	case e.work <- drain:
		return nil
	case <-e.done:
		e.pending.Add(-1)
		return NewError(OsError, "pinned executor is closed")
	default:
		// A drain is already queued and has not started; it drains the
		// entry just appended. Not blocking here keeps a callback running
		// on the pinned goroutine free to resubmit onto its own side.
		e.pending.Add(-1)
		return nil
	}
}

// pendingCount returns the number of posts that have not yet finished
// running. Used by SideQueue.removeMatching's pending-drain wait.
func (e *pinnedExecutor) pendingCount() int32 { return e.pending.Load() }

func (e *pinnedExecutor) close() {
	e.closeJob.Do(func() { close(e.done) })
}

// poolExecutor runs each posted drain cycle on its own goroutine, gated by
// a weighted semaphore so at most permits run concurrently.
type poolExecutor struct {
	sem *weightedSemaphore
}

func newPoolExecutor(permits int64) *poolExecutor {
	return &poolExecutor{sem: newWeightedSemaphore(permits)}
}

func (e *poolExecutor) post(drain func()) error {
	if err := e.sem.Acquire(context.Background(), 1); err != nil {
		return NewOsError(err)
	}
	go func() {
		defer e.sem.Release(1)
		drain()
	}()
	return nil
}

func (e *poolExecutor) close() {}
