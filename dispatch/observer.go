package dispatch

import "sync"

// SubmissionToken identifies a registered submission observer so it can
// later be removed via UnregisterSubmissionObserver.
type SubmissionToken uint64

// SubmissionObserver is invoked synchronously, on the submitting goroutine,
// after every successful Submit onto either side of a DispatchQueue.
type SubmissionObserver func(queue *QueueHandle, side SideKind, ctx any)

type observerEntry struct {
	token    SubmissionToken
	ctx      any
	observer SubmissionObserver
}

// observerRegistry fans out submission notifications. Registration is
// mutex-protected; invocation reads a copy-on-write snapshot so a fan-out
// in progress never blocks a concurrent Register/Unregister and vice
// versa.
type observerRegistry struct {
	mu       sync.Mutex
	snapshot []observerEntry
	nextTok  SubmissionToken
}

func newObserverRegistry() *observerRegistry {
	return &observerRegistry{nextTok: 1}
}

// register adds an observer and returns its token.
func (r *observerRegistry) register(ctx any, observer SubmissionObserver) SubmissionToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok := r.nextTok
	r.nextTok++
	next := make([]observerEntry, len(r.snapshot)+1)
	copy(next, r.snapshot)
	next[len(r.snapshot)] = observerEntry{token: tok, ctx: ctx, observer: observer}
	r.snapshot = next
	return tok
}

// unregister removes the observer with the given token, if present.
func (r *observerRegistry) unregister(tok SubmissionToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := -1
	for i, e := range r.snapshot {
		if e.token == tok {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	next := make([]observerEntry, 0, len(r.snapshot)-1)
	next = append(next, r.snapshot[:idx]...)
	next = append(next, r.snapshot[idx+1:]...)
	r.snapshot = next
}

// notify invokes every registered observer with (queue, side, its own ctx).
// Must be called with no internal queue lock held: observers may resubmit
// onto the same queue.
func (r *observerRegistry) notify(queue *QueueHandle, side SideKind) {
	r.mu.Lock()
	snap := r.snapshot
	r.mu.Unlock()
	for _, e := range snap {
		e.observer(queue, side, e.ctx)
	}
}
