package dispatch

// queueOptions holds configuration resolved from QueueOption values.
type queueOptions struct {
	logger      Logger
	poolPermits int64
	registry    *shareTable
}

// QueueOption configures a DispatchQueue at creation time: a narrow
// interface plus a private functional wrapper, so new options never
// break existing call sites.
type QueueOption interface {
	applyQueue(*queueOptions) error
}

type queueOptionFunc struct {
	fn func(*queueOptions) error
}

func (o *queueOptionFunc) applyQueue(cfg *queueOptions) error { return o.fn(cfg) }

// WithLogger attaches a structured Logger to a DispatchQueue. Queue
// creation and destruction and submission failures are logged through it,
// and async operations begun on the queue use it unless given their own.
// Defaults to NewNoOpLogger().
func WithLogger(logger Logger) QueueOption {
	return &queueOptionFunc{func(cfg *queueOptions) error {
		if logger != nil {
			cfg.logger = logger
		}
		return nil
	}}
}

// WithPoolPermits sets the maximum number of concurrently running
// callbacks for a Pool-mode side. Defaults to a generous value derived
// from GOMAXPROCS; only meaningful when a side uses DispatchMode Pool.
func WithPoolPermits(n int64) QueueOption {
	return &queueOptionFunc{func(cfg *queueOptions) error {
		if n <= 0 {
			return NewError(InvalidArg, "pool permits must be positive")
		}
		cfg.poolPermits = n
		return nil
	}}
}

// withShareTable is unexported: it lets tests inject a private share table
// instead of the process-wide default, improving test isolation.
func withShareTable(t *shareTable) QueueOption {
	return &queueOptionFunc{func(cfg *queueOptions) error {
		cfg.registry = t
		return nil
	}}
}

func resolveQueueOptions(opts []QueueOption) (*queueOptions, error) {
	cfg := &queueOptions{
		logger:      NewNoOpLogger(),
		poolPermits: defaultPoolPermits(),
		registry:    globalShareTable,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyQueue(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// asyncOptions holds configuration resolved from AsyncOption values.
type asyncOptions struct {
	logger Logger
}

// AsyncOption configures an async operation at Begin time.
type AsyncOption interface {
	applyAsync(*asyncOptions) error
}

type asyncOptionFunc struct {
	fn func(*asyncOptions) error
}

func (o *asyncOptionFunc) applyAsync(cfg *asyncOptions) error { return o.fn(cfg) }

// WithAsyncLogger attaches a Logger to a single async operation, overriding
// its queue's logger for operation-scoped log lines.
func WithAsyncLogger(logger Logger) AsyncOption {
	return &asyncOptionFunc{func(cfg *asyncOptions) error {
		if logger != nil {
			cfg.logger = logger
		}
		return nil
	}}
}

func resolveAsyncOptions(opts []AsyncOption, fallback Logger) (*asyncOptions, error) {
	cfg := &asyncOptions{logger: fallback}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyAsync(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
