package dispatch

import (
	"reflect"
	"sync"
	"time"
)

// SideKind identifies which of a DispatchQueue's two FIFO streams a
// callback is submitted to.
type SideKind int

const (
	// Work is the side a provider's DoWork callbacks run on.
	Work SideKind = iota
	// Completion is the side user completion callbacks run on.
	Completion
)

// String returns a human-readable name for the side.
func (s SideKind) String() string {
	if s == Work {
		return "Work"
	}
	return "Completion"
}

// queueEntry is a callback queued onto a SideQueue. It holds one strong
// reference on owner for as long as it lives in the list: owner's refcount
// is incremented when the entry is appended and decremented when the
// entry is either invoked or removed.
type queueEntry struct {
	prev, next *queueEntry
	owner      *DispatchQueue
	ctx        any
	fn         func(ctx any)
	fnID       uintptr // identity of fn, for RemoveMatching
}

func funcIdentity(fn func(ctx any)) uintptr {
	if fn == nil {
		return 0
	}
	return reflect.ValueOf(fn).Pointer()
}

// SideQueue buffers a FIFO of callback entries for one side (Work or
// Completion) of a DispatchQueue and dispatches them per its DispatchMode.
// Every successful append takes a reference on the owning DispatchQueue
// via the entry; the mutex guards the list only — callback invocation
// always happens outside the lock so a callback may safely resubmit onto
// the same queue.
type SideQueue struct {
	mode  DispatchMode
	kind  SideKind
	owner *DispatchQueue // back-reference, non-owning

	mu      sync.Mutex
	entries entryList
	signal  *event // set iff entries is non-empty (Manual semantics only)

	exec executor

	// forwardTo, when non-nil, redirects both append and drain of this
	// SideQueue onto another SideQueue's storage — this is how a nested
	// queue's Work and Completion sides both route through the parent's
	// Work side.
	forwardTo *SideQueue
}

func newSideQueue(kind SideKind, mode DispatchMode, owner *DispatchQueue, poolPermits int64) *SideQueue {
	q := &SideQueue{
		kind:   kind,
		mode:   mode,
		owner:  owner,
		signal: newEvent(),
	}
	switch mode {
	case Pinned:
		q.exec = newPinnedExecutor()
	case Pool:
		q.exec = newPoolExecutor(poolPermits)
	default:
		q.exec = manualExecutor{}
	}
	return q
}

// target returns the SideQueue that actually stores/dispatches entries
// submitted to q — itself, unless q forwards to a parent.
func (q *SideQueue) target() *SideQueue {
	if q.forwardTo != nil {
		return q.forwardTo
	}
	return q
}

// append queues fn/ctx, taking a reference on owner: mutex-protected list
// insertion, signal update, and mode-specific executor kick, with
// rollback on failure.
func (q *SideQueue) append(owner *DispatchQueue, ctx any, fn func(ctx any)) error {
	t := q.target()

	owner.reference()

	entry := &queueEntry{owner: owner, ctx: ctx, fn: fn, fnID: funcIdentity(fn)}

	t.mu.Lock()
	t.entries.pushBack(entry)
	t.signal.Set()
	t.mu.Unlock()

	switch t.mode {
	case Pinned:
		pe := t.exec.(*pinnedExecutor)
		if err := pe.post(func() { t.drainAll(true) }); err != nil {
			t.rollbackAppend(entry)
			owner.close()
			return err
		}
	case Pool:
		if err := t.exec.post(func() { t.drainAll(false) }); err != nil {
			t.rollbackAppend(entry)
			owner.close()
			return err
		}
	}
	return nil
}

// rollbackAppend removes entry after a failed executor post, restoring
// the pre-append state.
func (q *SideQueue) rollbackAppend(entry *queueEntry) {
	q.mu.Lock()
	q.entries.remove(entry)
	if q.entries.isEmpty() {
		q.signal.Clear()
	}
	q.mu.Unlock()
}

// drainOne pops and invokes the head entry, if any. insideDispatch matters
// only for Pinned mode: when true, an empty queue after the pop clears the
// in-flight posting flag implicitly (the pinned executor already tracks
// this via its pending counter, so no extra bookkeeping is needed here
// beyond clearing the signal).
func (q *SideQueue) drainOne(insideDispatch bool) bool {
	t := q.target()

	t.mu.Lock()
	entry := t.entries.popFront()
	if t.entries.isEmpty() {
		t.signal.Clear()
	}
	t.mu.Unlock()

	if entry == nil {
		return false
	}

	entry.fn(entry.ctx)
	entry.owner.close()
	return true
}

// drainAll repeatedly drains until the queue is empty.
func (q *SideQueue) drainAll(insideDispatch bool) {
	for q.drainOne(insideDispatch) {
	}
}

// removeMatching deletes every queued entry whose function identity
// matches fn and for which pred(predCtx, entry.ctx) is true, decrementing
// the owning queue's refcount per removed entry. Returns the number
// removed, so callers can assert exactly how many entries a given
// predicate stripped.
func (q *SideQueue) removeMatching(fn func(ctx any), predCtx any, pred func(predCtx, entryCtx any) bool) int {
	t := q.target()
	target := funcIdentity(fn)

	var baseline int32
	if t.mode == Pinned {
		baseline = t.exec.(*pinnedExecutor).pendingCount()
	}

	t.mu.Lock()
	var removed []*queueEntry
	var next *queueEntry
	for e := t.entries.head; e != nil; e = next {
		next = e.next
		if e.fnID == target && pred(predCtx, e.ctx) {
			t.entries.remove(e)
			removed = append(removed, e)
		}
	}
	if t.entries.isEmpty() {
		t.signal.Clear()
	}
	t.mu.Unlock()

	for _, e := range removed {
		e.owner.close()
	}

	// If a dispatch was already in flight when we removed entries, wait
	// for it to finish so a stale posted drain cannot observe (and act on)
	// state we just deleted.
	if t.mode == Pinned && baseline > 0 {
		pe := t.exec.(*pinnedExecutor)
		for spins := 0; pe.pendingCount() >= baseline && spins < 10000; spins++ {
			time.Sleep(time.Microsecond)
		}
	}

	return len(removed)
}

// wait blocks up to timeout for the side to become non-empty, returning
// whether it observed that condition. Only meaningful for Manual mode;
// Pool and Pinned sides never call it.
func (q *SideQueue) wait(timeout time.Duration) bool {
	return q.target().signal.Wait(timeout)
}

// isEmpty reports whether the side currently has no queued entries.
func (q *SideQueue) isEmpty() bool {
	t := q.target()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries.isEmpty()
}

func (q *SideQueue) length() int {
	t := q.target()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries.length
}

func (q *SideQueue) closeExecutor() {
	if q.forwardTo == nil {
		q.exec.close()
	}
}
