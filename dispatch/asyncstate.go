package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Opcode identifies which phase of the provider state machine is being
// driven. DoWork may repeat, Cancel is mutually exclusive with further
// DoWork once observed, and Cleanup always runs last, exactly once.
type Opcode int

const (
	// DoWork asks the provider to perform (or continue) its work. The
	// provider either completes (via Complete) or returns Pending and
	// drives its own continuation.
	DoWork Opcode = iota
	// GetResultOpcode asks the provider to copy its result into
	// ProviderData.Buffer.
	GetResultOpcode
	// CancelOpcode asks the provider to abandon in-flight work. Invoked
	// at most once, and never after a prior CancelOpcode.
	CancelOpcode
	// Cleanup asks the provider to release any resources. Always the
	// final opcode invoked for a given operation.
	Cleanup
)

// String returns a human-readable opcode name.
func (o Opcode) String() string {
	switch o {
	case DoWork:
		return "DoWork"
	case GetResultOpcode:
		return "GetResult"
	case CancelOpcode:
		return "Cancel"
	case Cleanup:
		return "Cleanup"
	default:
		return "Unknown"
	}
}

// ProviderData is the per-call context handed to a Provider: the owning
// Block, the queue the operation was begun on, a result buffer (populated
// only for GetResultOpcode), and caller-supplied context.
type ProviderData struct {
	Block   *Block
	Queue   *QueueHandle
	Buffer  []byte
	Context any
}

// Provider is the caller-supplied state machine driving a single async
// operation, exposed as four opcodes on a single function value rather
// than a four-method capability interface — this keeps Begin's signature
// to one function value.
type Provider func(op Opcode, data *ProviderData) Code

const asyncStateSignature uint64 = 0xA5A5C0DE00000001

// asyncState is the per-call state bound to a Block's opaque internal
// pointer. The signature field guards against use-after-free /
// double-release on that opaque handle.
type asyncState struct {
	signature uint64

	provider Provider
	data     ProviderData

	token any
	label string

	queueHandle *QueueHandle

	completionEvent *event
	userEvent       *event // caller-supplied, never closed by us

	timer   *time.Timer
	timerWG sync.WaitGroup // Add(1) when the timer is armed, Done() when its callback returns

	workScheduled atomic.Bool

	requiredSize int
	onComplete   func(*Block)

	logger Logger
	block  *Block
}

func newAsyncState(block *Block, ctx any, token any, label string, provider Provider, queue *QueueHandle, logger Logger) *asyncState {
	if label == "" {
		label = uuid.NewString()
	}
	return &asyncState{
		signature:       asyncStateSignature,
		provider:        provider,
		data:            ProviderData{Block: block, Queue: queue, Context: ctx},
		token:           token,
		label:           label,
		queueHandle:     queue,
		completionEvent: newEvent(),
		logger:          logger,
		block:           block,
	}
}

// Label returns the operation's label, useful for log correlation.
func (s *asyncState) Label() string { return s.label }
