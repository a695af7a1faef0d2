package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"workqueue/internal/logging"
	"workqueue/internal/notifications"
	"workqueue/internal/pool"
	"workqueue/internal/preflight"
	"workqueue/internal/processor"
	"workqueue/internal/queue"
)

const (
	defaultErrorWait     = 3 * time.Second
	defaultMemoryWait    = 3 * time.Second
	memoryAlertInterval  = time.Hour
	orphanRetryWindow    = 2 * time.Minute
	failureUpdateTimeout = 30 * time.Second
)

// Store is the subset of the queue store the dispatcher uses directly.
type Store interface {
	ClaimNext(ctx context.Context, processorID string, filter queue.ClaimFilter) (*queue.Entry, error)
	ResetOrphaned(ctx context.Context, params queue.ResetParams) ([]*queue.Entry, error)
}

// Options wires a Dispatcher.
type Options struct {
	Store     Store
	Registry  *processor.Registry
	Processor *processor.Processor
	Pool      *pool.Pool
	Alerts    notifications.Service
	// MemoryProbe defaults to preflight.FreeMemory.
	MemoryProbe     preflight.MemoryProbe
	MinFreeMemoryMB int
	Logger          *slog.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Dispatcher claims eligible entries and hands them to the execution pool.
type Dispatcher struct {
	store     Store
	registry  *processor.Registry
	processor *processor.Processor
	pool      *pool.Pool
	alerts    notifications.Service
	memory    preflight.MemoryProbe
	minFree   uint64
	settings  processor.Settings
	logger    *slog.Logger
	now       func() time.Time

	// memoryLimited follows the merged settings, not the stored rows.
	memoryLimited []queue.JobType

	errorWait  time.Duration
	memoryWait time.Duration

	mu              sync.Mutex
	lastMemoryAlert time.Time
	lastError       string
	dispatched      int64
}

// New builds a Dispatcher.
func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	alerts := opts.Alerts
	if alerts == nil {
		alerts = notifications.NewNoop()
	}
	probe := opts.MemoryProbe
	if probe == nil {
		probe = preflight.FreeMemory
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	var minFree uint64
	if opts.MinFreeMemoryMB > 0 {
		minFree = uint64(opts.MinFreeMemoryMB) * 1024 * 1024
	}
	settings := opts.Processor.Settings()
	return &Dispatcher{
		store:         opts.Store,
		registry:      opts.Registry,
		processor:     opts.Processor,
		pool:          opts.Pool,
		alerts:        alerts,
		memory:        probe,
		minFree:       minFree,
		settings:      settings,
		memoryLimited: settings.MemoryLimitedTypes(),
		logger:        logging.NewComponentLogger(logger, "dispatcher"),
		now:           clock,
		errorWait:     defaultErrorWait,
		memoryWait:    defaultMemoryWait,
	}
}

// Status is a point-in-time view of the dispatcher.
type Status struct {
	Pool       pool.Snapshot
	Dispatched int64
	LastError  string
}

// Status reports dispatch counters and the pool state.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Pool:       d.pool.Snapshot(),
		Dispatched: d.dispatched,
		LastError:  d.lastError,
	}
}

func (d *Dispatcher) setLastError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		d.lastError = ""
		return
	}
	d.lastError = err.Error()
}
