package dispatch

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getGoroutineID returns the current goroutine's ID, parsed out of the
// runtime's "goroutine N [...]" stack header.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

func TestCreateQueue_ManualDispatchCounts(t *testing.T) {
	q, err := CreateQueue(Manual, Manual)
	require.NoError(t, err)
	defer q.Close()

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Submit(Work, nil, func(any) { ran.Add(1) }))
	}
	assert.False(t, q.IsEmpty(Work))

	for i := 0; i < 5; i++ {
		require.True(t, q.DispatchOne(Work, 0))
	}
	assert.Equal(t, int32(5), ran.Load())
	assert.True(t, q.IsEmpty(Work))
	assert.False(t, q.DispatchOne(Work, time.Millisecond))
}

func TestCreateQueue_PinnedDrainsAutomatically(t *testing.T) {
	q, err := CreateQueue(Pinned, Manual)
	require.NoError(t, err)
	defer q.Close()

	done := make(chan struct{})
	require.NoError(t, q.Submit(Work, nil, func(any) { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pinned callback did not run")
	}
}

func TestCreateQueue_PoolRunsAllCallbacks(t *testing.T) {
	q, err := CreateQueue(Pool, Manual, WithPoolPermits(4))
	require.NoError(t, err)
	defer q.Close()

	const n = 8
	var wg atomic.Int32
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		require.NoError(t, q.Submit(Work, nil, func(any) {
			if wg.Add(1) == n {
				close(done)
			}
		}))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool callbacks did not all run")
	}
	assert.Equal(t, int32(n), wg.Load())
}

func TestCreateQueue_PinnedCompletionRunsOnDedicatedGoroutine(t *testing.T) {
	q, err := CreateQueue(Pool, Pinned)
	require.NoError(t, err)
	defer q.Close()

	// Probe the Completion side's dedicated goroutine once up front.
	probe := make(chan uint64, 1)
	require.NoError(t, q.Submit(Completion, nil, func(any) { probe <- getGoroutineID() }))
	var dedicatedID uint64
	select {
	case dedicatedID = <-probe:
	case <-time.After(time.Second):
		t.Fatal("completion probe did not run")
	}

	workID := make(chan uint64, 1)
	completionID := make(chan uint64, 1)
	submitErr := make(chan error, 1)
	require.NoError(t, q.Submit(Work, nil, func(any) {
		workID <- getGoroutineID()
		submitErr <- q.Submit(Completion, nil, func(any) {
			completionID <- getGoroutineID()
		})
	}))
	require.NoError(t, <-submitErr)

	var w, c uint64
	select {
	case w = <-workID:
	case <-time.After(time.Second):
		t.Fatal("work callback did not run")
	}
	select {
	case c = <-completionID:
	case <-time.After(time.Second):
		t.Fatal("completion callback did not run")
	}

	assert.NotEqual(t, dedicatedID, w, "Pool work callback must not run on the Pinned completion goroutine")
	assert.Equal(t, dedicatedID, c, "every Pinned completion callback must run on the same dedicated goroutine")
}

func TestCreateSharedQueue_IdentityAndRefcount(t *testing.T) {
	table := newShareTable()

	a, err := CreateSharedQueue(42, Manual, Manual, withShareTable(table))
	require.NoError(t, err)
	b, err := CreateSharedQueue(42, Manual, Manual, withShareTable(table))
	require.NoError(t, err)

	assert.Same(t, a.q, b.q)
	assert.Equal(t, int64(2), a.RefCount())

	c, err := CreateSharedQueue(7, Manual, Manual, withShareTable(table))
	require.NoError(t, err)
	assert.NotSame(t, a.q, c.q)

	a.Close()
	assert.Equal(t, int64(1), b.RefCount())
	b.Close()
	c.Close()
}

func TestCreateNestedQueue_MergesIntoParentWorkSide(t *testing.T) {
	parent, err := CreateQueue(Manual, Manual)
	require.NoError(t, err)
	defer parent.Close()

	child, err := CreateNestedQueue(parent)
	require.NoError(t, err)

	assert.Equal(t, int64(2), parent.RefCount())

	var order []string
	require.NoError(t, parent.Submit(Work, nil, func(any) { order = append(order, "parent") }))
	require.NoError(t, child.Submit(Work, nil, func(any) { order = append(order, "child-work") }))
	require.NoError(t, child.Submit(Completion, nil, func(any) { order = append(order, "child-completion") }))

	for parent.DispatchOne(Work, 0) {
	}
	assert.Equal(t, []string{"parent", "child-work", "child-completion"}, order)

	child.Close()
	assert.Equal(t, int64(1), parent.RefCount())
}

func TestQueueHandle_RemoveMatching(t *testing.T) {
	q, err := CreateQueue(Manual, Manual)
	require.NoError(t, err)
	defer q.Close()

	var ran atomic.Int32
	cb := func(any) { ran.Add(1) }

	require.NoError(t, q.Submit(Work, "keep", cb))
	require.NoError(t, q.Submit(Work, "drop-1", cb))
	require.NoError(t, q.Submit(Work, "drop-2", cb))

	n := q.RemoveMatching(Work, cb, nil, func(_, entryCtx any) bool {
		s, _ := entryCtx.(string)
		return s == "drop-1" || s == "drop-2"
	})
	assert.Equal(t, 2, n)

	for q.DispatchOne(Work, 0) {
	}
	assert.Equal(t, int32(1), ran.Load())
}

func TestQueueHandle_SubmissionObserver(t *testing.T) {
	q, err := CreateQueue(Manual, Manual)
	require.NoError(t, err)
	defer q.Close()

	var seen []SideKind
	tok := q.RegisterSubmissionObserver(nil, func(_ *QueueHandle, side SideKind, _ any) {
		seen = append(seen, side)
	})

	require.NoError(t, q.Submit(Work, nil, func(any) {}))
	require.NoError(t, q.Submit(Completion, nil, func(any) {}))

	q.UnregisterSubmissionObserver(tok)
	require.NoError(t, q.Submit(Work, nil, func(any) {}))

	assert.Equal(t, []SideKind{Work, Completion}, seen)

	for q.DispatchOne(Work, 0) {
	}
	for q.DispatchOne(Completion, 0) {
	}
}

func TestQueueHandle_SubmitRejectsNilCallback(t *testing.T) {
	q, err := CreateQueue(Manual, Manual)
	require.NoError(t, err)
	defer q.Close()

	err = q.Submit(Work, nil, nil)
	require.Error(t, err)
	assert.Equal(t, InvalidArg, CodeOf(err))
}
