// Package dispatch implements the Async Dispatch Core: a refcounted,
// shareable two-sided task queue (DispatchQueue) and an async operation
// lifecycle (Begin/Schedule/Complete/Cancel/GetStatus/GetResult) built on
// top of it.
//
// # Architecture
//
// A [DispatchQueue] pairs two [SideQueue] instances — Work and Completion —
// each with its own [DispatchMode] (Manual, Pinned, or Pool) controlling
// which goroutine runs queued callbacks. Queues can be standalone, shared
// (looked up by a stable [ShareKey] triple), or nested (sharing a parent's
// Work side for both of their own sides).
//
// An async operation is driven by a [Provider], a small state machine
// exposed as four opcodes (DoWork, GetResult, Cancel, Cleanup). [Begin]
// allocates the operation's internal state and binds it to a caller-owned
// [Block]; [Schedule] posts (optionally after a delay) a work callback that
// invokes the provider; the provider completes synchronously or reports
// pending and calls [Complete] later from anywhere.
//
// # Thread Safety
//
// [QueueHandle.Submit], [QueueHandle.RegisterSubmissionObserver], and
// every exported function in this package are safe to call from any
// goroutine. Callback and provider invocations never run with any internal
// lock held, so they may safely reenter the queue that is running them.
//
// # Execution Model
//
// Per-side ordering is FIFO by submission order. There is no ordering
// guarantee between a queue's Work and Completion sides, nor across
// distinct queues. Under Pool mode, two callbacks submitted to the same
// side may run concurrently on different goroutines — callers must
// tolerate this.
//
// # Usage
//
//	q, err := dispatch.CreateQueue(dispatch.Manual, dispatch.Manual)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Close()
//
//	var block dispatch.Block
//	block.Queue = q
//	err = dispatch.RunAsync(&block, func(b *dispatch.Block) {
//	    fmt.Println("doing work")
//	})
//
//	for q.DispatchOne(dispatch.Work, 0) {
//	}
//	_ = dispatch.GetStatus(&block, true)
package dispatch
