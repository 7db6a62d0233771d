package dispatch

import (
	"sync/atomic"
	"time"
)

// defaultSharedQueueID is the share-table key used for operations that
// Begin with no caller-supplied queue. Go goroutines have no public,
// stable identity across calls, so this falls back to one well-known
// default shared queue instead of keying on the calling thread. That
// default queue dispatches both sides on the Pool executor so an
// operation begun with no queue of its own still runs without the caller
// having to pump a Manual queue by hand.
const defaultSharedQueueID uint32 = 0

// Event is an exported, externally waitable completion signal a caller
// may attach to a Block via Block.UserEvent.
type Event struct{ e *event }

// NewEvent creates a fresh, unset Event.
func NewEvent() *Event { return &Event{e: newEvent()} }

// Wait blocks up to timeout for the event to be signalled.
func (ev *Event) Wait(timeout time.Duration) bool { return ev.e.Wait(timeout) }

// IsSet reports whether the event has been signalled.
func (ev *Event) IsSet() bool { return ev.e.IsSet() }

// Block is the caller-owned async control block. The caller sets Queue,
// OnComplete, UserEvent, and Context before calling Begin or RunAsync;
// status and the opaque internal state pointer are managed entirely by
// this package from then on.
type Block struct {
	// Queue, if set before Begin, pins the operation to that queue
	// (Begin takes its own reference via Duplicate). If nil, Begin
	// acquires a default shared queue.
	Queue *QueueHandle
	// OnComplete, if set before Begin, is invoked exactly once when the
	// operation finalises, on the queue's Completion side.
	OnComplete func(*Block)
	// UserEvent, if set before Begin, is signalled alongside the
	// internal completion event.
	UserEvent *Event
	// Context is caller data carried on the block. Begin does not read
	// it: the Provider receives Begin's ctx argument as
	// ProviderData.Context.
	Context any

	status atomic.Int32
	state  atomic.Pointer[asyncState]
}

// Begin initialises block for a new async operation driven by provider.
// Preconditions: block must not already be bound to live state.
func Begin(block *Block, ctx any, token any, label string, provider Provider, opts ...AsyncOption) error {
	if block == nil {
		return NewError(InvalidArg, "nil block")
	}
	if provider == nil {
		return NewError(InvalidArg, "nil provider")
	}
	if block.state.Load() != nil {
		return NewError(InvalidState, "block already bound to a live async operation")
	}

	var queueHandle *QueueHandle
	if block.Queue != nil {
		queueHandle = block.Queue.Duplicate()
	} else {
		dq, err := CreateSharedQueue(defaultSharedQueueID, Pool, Pool)
		if err != nil {
			return err
		}
		queueHandle = dq
	}

	cfg, err := resolveAsyncOptions(opts, queueHandle.q.logger)
	if err != nil {
		queueHandle.Close()
		return err
	}

	state := newAsyncState(block, ctx, token, label, provider, queueHandle, cfg.logger)
	state.onComplete = block.OnComplete
	if block.UserEvent != nil {
		state.userEvent = block.UserEvent.e
	}

	block.state.Store(state)
	block.status.Store(int32(Pending))

	logDebug(state.logger, "async.begin", "operation begun: "+state.label)
	return nil
}

// runWorkerTrampoline is the Work-side callback Schedule submits. It is a
// named package-level function (rather than a closure) so RemoveMatching
// can identify and strip it by function identity during release.
func runWorkerTrampoline(ctx any) {
	workerTrampoline(ctx.(*asyncState))
}

func workerTrampoline(state *asyncState) {
	state.workScheduled.Store(false)

	if Code(state.block.status.Load()) != Pending {
		// Cancel or Complete finalised the operation while this call was
		// queued (or in flight concurrently with a timer fire); the
		// provider must not see a DoWork after that.
		return
	}

	data := state.data
	data.Buffer = nil
	code := state.provider(DoWork, &data)

	if code == Pending {
		// Provider is responsible for completing asynchronously or
		// calling Schedule again.
		return
	}
	finalizeFromWorker(state, code)
}

// finalizeFromWorker attempts to finalise the operation with the
// provider's DoWork return value, coercing an illegal bare-success return
// (one without a prior Complete call) to Unexpected. A failed operation
// carries no result payload, so the winner releases state immediately.
func finalizeFromWorker(state *asyncState, code Code) {
	target := code
	if code == Ok {
		target = Unexpected
	}
	if state.block.status.CompareAndSwap(int32(Pending), int32(target)) {
		signalCompletion(state)
		releaseState(state.block, state)
	}
}

func submitWork(state *asyncState) error {
	if err := state.queueHandle.Submit(Work, state, runWorkerTrampoline); err != nil {
		state.workScheduled.Store(false)
		return err
	}
	return nil
}

func fireTimer(state *asyncState) {
	defer state.timerWG.Done()
	state.workScheduled.Store(false)
	if state.workScheduled.CompareAndSwap(false, true) {
		_ = submitWork(state)
	}
}

// Schedule posts state's provider onto the queue's Work side, immediately
// if delay is zero or negative, otherwise after delay elapses on a
// lazily-created one-shot timer. A given operation may call Schedule
// repeatedly across its lifetime, but each call must observe
// work-scheduled == 0 at entry.
func Schedule(block *Block, delay time.Duration) error {
	if block == nil {
		return NewError(InvalidArg, "nil block")
	}
	state := block.state.Load()
	if state == nil {
		return NewError(InvalidState, "block has no live async operation")
	}
	if !state.workScheduled.CompareAndSwap(false, true) {
		return NewError(InvalidState, "work already scheduled")
	}

	if delay <= 0 {
		if err := submitWork(state); err != nil {
			return err
		}
		return nil
	}

	state.timerWG.Add(1)
	if state.timer == nil {
		state.timer = time.AfterFunc(delay, func() { fireTimer(state) })
	} else {
		state.timer.Reset(delay)
	}
	return nil
}

// signalCompletion sets the completion event(s) and, if the caller
// supplied OnComplete, posts a completion-side callback that invokes it.
func signalCompletion(state *asyncState) {
	state.completionEvent.Set()
	if state.userEvent != nil {
		state.userEvent.Set()
	}
	if state.onComplete != nil {
		cb := state.onComplete
		blk := state.block
		if err := state.queueHandle.Submit(Completion, state, func(any) { cb(blk) }); err != nil {
			logWarn(state.logger, "async.signal", "failed to post completion callback", err)
		}
	}
}

// Complete finalises block's status from Pending to code. code must not
// be Pending (rejected as an illegal argument). If the caller's CAS loses
// the race — e.g. Cancel finalised first — this call is a harmless no-op;
// a racing provider's own Complete call is expected to lose silently.
//
// If requiredBufferSize is non-zero, the caller MUST eventually call
// GetResult, or state leaks until the queue and block are GC'd; passing
// requiredBufferSize == 0 releases state immediately and GetResult must
// not be called afterward.
func Complete(block *Block, code Code, requiredBufferSize int) {
	if block == nil {
		return
	}
	state := block.state.Load()
	if state == nil {
		return
	}
	if code == Pending {
		logWarn(state.logger, "async.complete", "illegal Complete(Pending) ignored", nil)
		return
	}

	if !block.status.CompareAndSwap(int32(Pending), int32(code)) {
		return
	}

	state.requiredSize = requiredBufferSize
	signalCompletion(state)

	if requiredBufferSize == 0 {
		releaseState(block, state)
	}
}

// Cancel transitions block's status from Pending to Aborted, disarms any
// pending timer (quiescing its callback first if it was already firing),
// drives exactly one provider(Cancel, ...) call, signals completion, and
// releases state. A no-op if the operation already finalised. No DoWork
// call reaches the provider once Cancel has returned.
func Cancel(block *Block) {
	if block == nil {
		return
	}
	state := block.state.Load()
	if state == nil {
		return
	}
	if !block.status.CompareAndSwap(int32(Pending), int32(Aborted)) {
		return
	}

	if state.timer != nil {
		if !state.timer.Stop() {
			// The timer already fired, or is running its callback right
			// now: wait for that callback to finish before driving Cancel,
			// so it cannot race releaseState or slip a DoWork in afterward.
			state.timerWG.Wait()
		}
	}

	data := state.data
	_ = state.provider(CancelOpcode, &data)

	signalCompletion(state)
	releaseState(block, state)
}

// GetStatus returns block's current status. If the status is Pending and
// wait is true, it blocks until the operation finalises.
func GetStatus(block *Block, wait bool) Code {
	if block == nil {
		return Unexpected
	}
	code := Code(block.status.Load())
	if code == Pending && wait {
		if state := block.state.Load(); state != nil {
			state.completionEvent.WaitForever()
		}
		code = Code(block.status.Load())
	}
	return code
}

// GetResultSize reports the buffer size a successful operation recorded
// via Complete.
func GetResultSize(block *Block) (int, error) {
	if block == nil {
		return 0, NewError(InvalidArg, "nil block")
	}
	code := Code(block.status.Load())
	if code == Pending {
		return 0, NewError(InvalidState, "operation still pending")
	}
	if code != Ok {
		return 0, NewError(InvalidState, "operation did not complete successfully")
	}
	state := block.state.Load()
	if state == nil {
		return 0, NewError(InvalidState, "result already consumed")
	}
	return state.requiredSize, nil
}

// GetResult drives the provider's GetResult opcode with buffer, requiring
// terminal success status, a matching token, and a sufficiently large
// buffer (checked before the provider ever runs, so an undersized buffer
// never reaches it). After any non-pending return from the provider,
// state is released; further calls on this block fail.
func GetResult(block *Block, token any, buffer []byte) error {
	if block == nil {
		return NewError(InvalidArg, "nil block")
	}
	code := Code(block.status.Load())
	if code == Pending {
		return NewError(InvalidState, "operation still pending")
	}
	if code != Ok {
		return NewError(InvalidState, "operation did not complete successfully")
	}

	state := block.state.Load()
	if state == nil {
		return NewError(InvalidState, "result already consumed")
	}
	if state.signature != asyncStateSignature {
		return NewError(Unexpected, "use-after-free detected on async state")
	}
	if token != state.token {
		return NewError(InvalidArg, "token does not match the one passed to Begin")
	}
	if len(buffer) < state.requiredSize {
		return NewError(BufferTooSmall, "buffer smaller than the recorded required size")
	}

	data := state.data
	data.Buffer = buffer
	resultCode := state.provider(GetResultOpcode, &data)

	if resultCode != Pending {
		releaseState(block, state)
	}

	if resultCode != Ok {
		return NewError(resultCode, "provider GetResult failed")
	}
	return nil
}

// releaseState drives Cleanup, disarms the timer, strips any still-queued
// work callback targeting this operation, closes the queue reference, and
// invalidates block's internal pointer.
func releaseState(block *Block, state *asyncState) {
	_ = state.provider(Cleanup, &state.data)

	if state.timer != nil {
		state.timer.Stop()
	}

	if state.queueHandle != nil {
		state.queueHandle.RemoveMatching(Work, runWorkerTrampoline, state, func(predCtx, entryCtx any) bool {
			return predCtx.(*asyncState) == entryCtx.(*asyncState)
		})
		state.queueHandle.Close()
	}

	state.signature = 0
	block.state.Store(nil)
}

// RunAsync is a convenience wrapper: Begin with a built-in provider whose
// DoWork calls work(block) then Complete(Ok, 0), followed by Schedule(0).
func RunAsync(block *Block, work func(*Block), opts ...AsyncOption) error {
	provider := func(op Opcode, data *ProviderData) Code {
		switch op {
		case DoWork:
			work(data.Block)
			Complete(data.Block, Ok, 0)
			return Pending
		default:
			return Ok
		}
	}
	if err := Begin(block, nil, nil, "", provider, opts...); err != nil {
		return err
	}
	return Schedule(block, 0)
}
