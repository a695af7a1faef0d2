package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"workqueue/internal/logging"
)

var (
	// ErrFull is returned by Submit when queued plus active tasks already
	// reach the pool size.
	ErrFull = errors.New("pool is full")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("pool is stopped")
)

// Task is one unit of work admitted to the pool.
type Task struct {
	Name string
	// HighPriority counts the task against the high-priority budget.
	HighPriority bool
	// ResourceLimited counts the task against the resource-limited budget.
	ResourceLimited bool
	// Run receives a context that is canceled when the pool stops.
	Run func(ctx context.Context)
	// OnPanic is called with the recovered value when Run panics.
	OnPanic func(recovered any)
}

// Snapshot is a point-in-time view of the pool counters.
type Snapshot struct {
	Size            int
	Queued          int
	Active          int
	HighPriority    int
	HighLimit       int
	ResourceLimited int
	ResourceLimit   int
}

// Pool runs tasks on a fixed number of workers while tracking two soft
// sub-budgets on top of the global capacity. All counters share one mutex.
type Pool struct {
	size          int
	highLimit     int
	resourceLimit int

	mu            sync.Mutex
	queued        int
	active        int
	highCount     int
	resourceCount int
	started       bool
	stopped       bool

	tasks  chan *Task
	freed  chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// New builds a pool with size workers. The sub-limits are clamped to size.
func New(size, highLimit, resourceLimit int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if highLimit < 0 || highLimit > size {
		highLimit = size
	}
	if resourceLimit < 0 || resourceLimit > size {
		resourceLimit = size
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		size:          size,
		highLimit:     highLimit,
		resourceLimit: resourceLimit,
		tasks:         make(chan *Task, size),
		freed:         make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
		logger:        logging.NewComponentLogger(logger, "pool"),
	}
}

// Start launches the workers. Calling it more than once is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.tasks:
			if task != nil {
				p.run(task)
			}
		}
	}
}

func (p *Pool) run(task *Task) {
	p.mu.Lock()
	p.queued--
	p.active++
	p.mu.Unlock()

	defer p.release(task)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				logging.String("task", task.Name),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldEventType, "task_panic"),
			)
			if task.OnPanic != nil {
				task.OnPanic(r)
			}
		}
	}()
	if task.Run != nil {
		task.Run(p.ctx)
	}
}

func (p *Pool) release(task *Task) {
	p.mu.Lock()
	p.active--
	if task.HighPriority {
		p.highCount--
	}
	if task.ResourceLimited {
		p.resourceCount--
	}
	p.mu.Unlock()

	select {
	case p.freed <- struct{}{}:
	default:
	}
}

// Submit admits a task or reports why it could not.
func (p *Pool) Submit(task Task) error {
	if task.Run == nil {
		return fmt.Errorf("submit %s: task has no run function", task.Name)
	}
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if p.queued+p.active >= p.size {
		p.mu.Unlock()
		return ErrFull
	}
	p.queued++
	if task.HighPriority {
		p.highCount++
	}
	if task.ResourceLimited {
		p.resourceCount++
	}
	// Admission keeps queued+active below size, so the buffered send never
	// blocks. Sending under the lock orders it before Stop drains the queue.
	p.tasks <- &task
	p.mu.Unlock()
	return nil
}

// CanAdmit reports whether another task fits in the pool.
func (p *Pool) CanAdmit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.stopped && p.queued+p.active < p.size
}

// HighPrioritySlotAvailable reports whether the high-priority budget has room.
func (p *Pool) HighPrioritySlotAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highCount < p.highLimit
}

// ResourceLimitedSlotAvailable reports whether the resource-limited budget has room.
func (p *Pool) ResourceLimitedSlotAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resourceCount < p.resourceLimit
}

// Freed is signaled after every task completion. The channel holds at most
// one pending signal.
func (p *Pool) Freed() <-chan struct{} {
	return p.freed
}

// Snapshot returns the current counters.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Size:            p.size,
		Queued:          p.queued,
		Active:          p.active,
		HighPriority:    p.highCount,
		HighLimit:       p.highLimit,
		ResourceLimited: p.resourceCount,
		ResourceLimit:   p.resourceLimit,
	}
}

// Stop cancels every running task and waits for the workers to exit. Tasks
// still queued are dropped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	dropped := 0
	for {
		select {
		case task := <-p.tasks:
			dropped++
			p.mu.Lock()
			p.queued--
			if task.HighPriority {
				p.highCount--
			}
			if task.ResourceLimited {
				p.resourceCount--
			}
			p.mu.Unlock()
		default:
			if dropped > 0 {
				p.logger.Warn("dropped queued tasks on stop",
					logging.Int("count", dropped),
					logging.String(logging.FieldEventType, "pool_tasks_dropped"),
				)
			}
			return
		}
	}
}
