package dispatch

import "sync"

// shareTable is a process-wide registry mapping a ShareKey to an existing
// DispatchQueue, protected by a dedicated mutex. Tests may construct a
// private instance via the unexported withShareTable option instead of
// using the process-wide default, for isolation between test cases.
type shareTable struct {
	mu     sync.Mutex
	queues map[ShareKey]*DispatchQueue
}

func newShareTable() *shareTable {
	return &shareTable{queues: make(map[ShareKey]*DispatchQueue)}
}

// globalShareTable is the default, process-wide registry used by
// CreateSharedQueue when no explicit registry option is supplied.
var globalShareTable = newShareTable()

// lookupOrCreate returns the existing queue for key, referencing it, or
// calls create and registers its result.
func (t *shareTable) lookupOrCreate(key ShareKey, create func() *DispatchQueue) *DispatchQueue {
	t.mu.Lock()
	defer t.mu.Unlock()

	if dq, ok := t.queues[key]; ok {
		dq.reference()
		return dq
	}

	dq := create()
	t.queues[key] = dq
	return dq
}

// remove unlinks dq from the table if it is still the registered queue for
// key. Called from DispatchQueue.destroy once refcount hits zero.
func (t *shareTable) remove(key ShareKey, dq *DispatchQueue) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.queues[key]; ok && cur == dq {
		delete(t.queues, key)
	}
}
