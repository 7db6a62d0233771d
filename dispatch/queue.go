package dispatch

import (
	"sync/atomic"
	"time"
)

var queueIDCounter atomic.Uint64

// QueueHandle is an outward, refcounted reference to a DispatchQueue. Each
// call to Duplicate hands out another handle to the same queue; each
// handle must eventually be balanced by exactly one Close: after N
// Duplicates, exactly N Closes drop it.
type QueueHandle struct {
	q *DispatchQueue
}

// DispatchQueue is a pair of SideQueues (Work, Completion) sharing a
// refcount, an optional share-table identity, and an optional parent link
// for nesting.
type DispatchQueue struct {
	id       uint64
	refcount atomic.Int64

	shareKey *ShareKey
	registry *shareTable

	parent *DispatchQueue // non-nil for nested queues

	Work       *SideQueue
	Completion *SideQueue

	observers *observerRegistry
	logger    Logger
}

// ShareKey is the stable identity of a shared DispatchQueue: a caller id
// plus its two dispatch modes. Two CreateSharedQueue calls with an equal
// ShareKey return the same underlying queue.
type ShareKey struct {
	ID             uint32
	WorkMode       DispatchMode
	CompletionMode DispatchMode
}

func newDispatchQueue(workMode, completionMode DispatchMode, cfg *queueOptions) *DispatchQueue {
	dq := &DispatchQueue{
		id:        queueIDCounter.Add(1),
		observers: newObserverRegistry(),
		logger:    cfg.logger,
	}
	dq.refcount.Store(1)
	dq.Work = newSideQueue(Work, workMode, dq, cfg.poolPermits)
	dq.Completion = newSideQueue(Completion, completionMode, dq, cfg.poolPermits)
	return dq
}

// CreateQueue creates a standalone DispatchQueue with independent Work and
// Completion sides.
func CreateQueue(workMode, completionMode DispatchMode, opts ...QueueOption) (*QueueHandle, error) {
	cfg, err := resolveQueueOptions(opts)
	if err != nil {
		return nil, err
	}
	dq := newDispatchQueue(workMode, completionMode, cfg)
	logDebug(dq.logger, "queue.create", "standalone queue created")
	return &QueueHandle{q: dq}, nil
}

// CreateSharedQueue creates or looks up a DispatchQueue keyed by
// (id, workMode, completionMode). A second call with an equal key returns
// a new handle to the same underlying queue with its refcount bumped.
func CreateSharedQueue(id uint32, workMode, completionMode DispatchMode, opts ...QueueOption) (*QueueHandle, error) {
	cfg, err := resolveQueueOptions(opts)
	if err != nil {
		return nil, err
	}
	key := ShareKey{ID: id, WorkMode: workMode, CompletionMode: completionMode}
	table := cfg.registry
	if table == nil {
		table = globalShareTable
	}

	dq := table.lookupOrCreate(key, func() *DispatchQueue {
		created := newDispatchQueue(workMode, completionMode, cfg)
		created.shareKey = &key
		created.registry = table
		return created
	})
	logDebug(dq.logger, "queue.create", "shared queue referenced")
	return &QueueHandle{q: dq}, nil
}

// CreateNestedQueue creates a queue whose Work and Completion sides both
// route through parent's Work side. The child holds one reference on
// parent for its entire lifetime.
func CreateNestedQueue(parent *QueueHandle, opts ...QueueOption) (*QueueHandle, error) {
	if parent == nil || parent.q == nil {
		return nil, NewError(InvalidArg, "nil parent queue")
	}
	cfg, err := resolveQueueOptions(opts)
	if err != nil {
		return nil, err
	}
	parent.q.reference()

	dq := &DispatchQueue{
		id:        queueIDCounter.Add(1),
		parent:    parent.q,
		observers: newObserverRegistry(),
		logger:    cfg.logger,
	}
	dq.refcount.Store(1)
	dq.Work = &SideQueue{kind: Work, mode: parent.q.Work.mode, owner: dq, forwardTo: parent.q.Work}
	dq.Completion = &SideQueue{kind: Completion, mode: parent.q.Work.mode, owner: dq, forwardTo: parent.q.Work}
	logDebug(dq.logger, "queue.create", "nested queue created")
	return &QueueHandle{q: dq}, nil
}

// reference increments the refcount. Internal; external callers use
// Duplicate.
func (dq *DispatchQueue) reference() {
	dq.refcount.Add(1)
}

// close decrements the refcount, destroying the queue at zero.
func (dq *DispatchQueue) close() {
	if dq.refcount.Add(-1) != 0 {
		return
	}
	dq.destroy()
}

func (dq *DispatchQueue) destroy() {
	logDebug(dq.logger, "queue.destroy", "refcount reached zero")
	if dq.parent != nil {
		dq.parent.close()
		return
	}
	dq.Work.closeExecutor()
	dq.Completion.closeExecutor()
	if dq.shareKey != nil && dq.registry != nil {
		dq.registry.remove(*dq.shareKey, dq)
	}
}

// RefCount returns a snapshot of the queue's outstanding reference count,
// so tests can assert refcount discipline directly.
func (h *QueueHandle) RefCount() int64 {
	return h.q.refcount.Load()
}

// Duplicate returns another handle to the same underlying queue,
// incrementing its refcount. Equivalent to reference(); each returned
// handle must eventually be Closed independently.
func (h *QueueHandle) Duplicate() *QueueHandle {
	h.q.reference()
	return &QueueHandle{q: h.q}
}

// Close decrements the queue's refcount, destroying it when it reaches
// zero. Close never blocks: if callback entries are still outstanding,
// they drain normally and the final decrement comes from the last entry.
func (h *QueueHandle) Close() {
	h.q.close()
}

// IsEmpty reports whether the given side currently has no queued entries.
func (h *QueueHandle) IsEmpty(side SideKind) bool {
	return h.sideQueue(side).isEmpty()
}

// DispatchOne drains and invokes at most one callback from side, blocking
// up to timeout for one to become available. Returns whether a callback
// was invoked. Meaningful for Manual mode; Pinned and Pool sides dispatch
// on their own goroutines and DispatchOne on them is a harmless no-op poll
// of an always-empty queue from the caller's perspective of "did I drive
// one", since those sides never leave work for the caller to drive.
func (h *QueueHandle) DispatchOne(side SideKind, timeout time.Duration) bool {
	sq := h.sideQueue(side)
	if sq.mode != Manual {
		return false
	}
	if !sq.wait(timeout) {
		return false
	}
	return sq.drainOne(false)
}

// Submit enqueues fn/ctx onto side, taking a reference on the queue for
// the entry's lifetime. After a successful submission, every registered
// submission observer is invoked synchronously with (h, side, its ctx),
// before Submit returns.
func (h *QueueHandle) Submit(side SideKind, ctx any, fn func(ctx any)) error {
	if fn == nil {
		return NewError(InvalidArg, "nil callback")
	}
	sq := h.sideQueue(side)
	if err := sq.append(h.q, ctx, fn); err != nil {
		logWarn(h.q.logger, "queue.submit", "submission failed", err)
		return err
	}
	h.q.observers.notify(h, side)
	return nil
}

// RemoveMatching removes every entry queued on side whose callback
// identity equals fn and for which pred(predCtx, entry.ctx) is true. See
// SideQueue.removeMatching.
func (h *QueueHandle) RemoveMatching(side SideKind, fn func(ctx any), predCtx any, pred func(predCtx, entryCtx any) bool) int {
	return h.sideQueue(side).removeMatching(fn, predCtx, pred)
}

// RegisterSubmissionObserver adds an observer invoked after every
// successful Submit onto either side, returning a token for later
// removal.
func (h *QueueHandle) RegisterSubmissionObserver(ctx any, observer SubmissionObserver) SubmissionToken {
	return h.q.observers.register(ctx, observer)
}

// UnregisterSubmissionObserver removes a previously registered observer.
func (h *QueueHandle) UnregisterSubmissionObserver(tok SubmissionToken) {
	h.q.observers.unregister(tok)
}

func (h *QueueHandle) sideQueue(side SideKind) *SideQueue {
	if side == Work {
		return h.q.Work
	}
	return h.q.Completion
}
