package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"workqueue/internal/config"
	"workqueue/internal/jobs"
	"workqueue/internal/logging"
	"workqueue/internal/notifications"
	"workqueue/internal/pool"
	"workqueue/internal/preflight"
	"workqueue/internal/processor"
	"workqueue/internal/queue"
	"workqueue/internal/recovery"
	"workqueue/internal/retry"
	"workqueue/internal/schedule"
	"workqueue/internal/workflow"
)

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *queue.Store
	registry   *processor.Registry
	dispatcher *workflow.Dispatcher
	scheduler  *schedule.Scheduler

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	started time.Time
	checks  []preflight.Result
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	StartedAt    time.Time
	Dispatcher   workflow.Status
	Queue        map[queue.Status]int
	JobTypes     []queue.JobType
	Schedules    []string
	Preflight    []preflight.Result
	QueueDBPath  string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, notifier notifications.Service, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	stored, err := store.LoadTypeProperties(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load type properties: %w", err)
	}
	merged := queue.ApplyTypeOverrides(stored, cfg.Types)
	for name := range cfg.Types {
		if err := store.SetTypeProperties(context.Background(), merged[queue.JobType(name)]); err != nil {
			return nil, err
		}
	}
	settings := processor.NewSettings(cfg, merged)

	policy := retry.Default(logger)
	if o.retry != nil {
		policy = *o.retry
	}
	recoverer := recovery.New(store, cfg.Engine.InstanceExtension, logger).WithRetry(policy)
	regs := o.registrations
	if regs == nil {
		regs = jobs.Registrations(jobs.Deps{
			Store:     store,
			Recoverer: recoverer,
			Extension: cfg.Engine.InstanceExtension,
			Logger:    logger,
		})
	}
	registry, err := processor.NewRegistry(regs...)
	if err != nil {
		return nil, err
	}

	proc := processor.New(processor.Dependencies{
		Store:     store,
		Settings:  settings,
		Alerts:    notifier,
		Recoverer: recoverer,
		Retry:     policy,
		Logger:    logger,
	})
	dispatcher := workflow.New(workflow.Options{
		Store:           store,
		Registry:        registry,
		Processor:       proc,
		Pool:            pool.New(cfg.Engine.ThreadCount, cfg.Engine.PriorityThreadCount, cfg.Engine.MemoryLimitedThreadCount, logger),
		Alerts:          notifier,
		MemoryProbe:     o.memoryProbe,
		MinFreeMemoryMB: cfg.Engine.MinFreeMemoryMB,
		Logger:          logger,
	})
	scheduler, err := schedule.New(cfg, store, logger)
	if err != nil {
		return nil, err
	}

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, runs the preflight checks and launches the
// dispatcher and the scheduler.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another workqueue daemon instance is already running")
	}

	if err := d.runPreflight(ctx); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return d.dispatcher.Run(groupCtx) })
	group.Go(func() error { return d.scheduler.Run(groupCtx) })

	d.cancel = cancel
	d.group = group
	d.started = time.Now()
	d.running.Store(true)
	d.logger.Info("workqueue daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldProcessorID, d.cfg.Engine.ProcessorID),
		logging.Int("job_types", len(d.registry.Types())),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// runPreflight refuses to start when a required directory is unusable.
// Advisory checks such as free memory only warn.
func (d *Daemon) runPreflight(ctx context.Context) error {
	results := preflight.RunAll(ctx, d.cfg)
	d.checks = results

	for _, r := range preflight.Failed(results) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.Bool("advisory", r.Advisory),
		)
	}
	var blocking []string
	for _, r := range preflight.Blocking(results) {
		blocking = append(blocking, r.Name+": "+r.Detail)
	}
	if len(blocking) > 0 {
		return fmt.Errorf("preflight failed: %s", strings.Join(blocking, "; "))
	}
	return nil
}

// Wait blocks until the dispatcher and the scheduler have returned.
func (d *Daemon) Wait() error {
	d.mu.Lock()
	group := d.group
	d.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Stop cancels background processing, waits for in-flight entries and
// releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.group != nil {
		if err := d.group.Wait(); err != nil {
			d.logger.Error("background processing stopped with error", logging.Error(err))
		}
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("workqueue daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	started := d.started
	checks := append([]preflight.Result(nil), d.checks...)
	d.mu.Unlock()

	status := Status{
		Running:      d.running.Load(),
		StartedAt:    started,
		Dispatcher:   d.dispatcher.Status(),
		JobTypes:     d.registry.Types(),
		Schedules:    d.scheduler.Jobs(),
		Preflight:    checks,
		QueueDBPath:  d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
	}
	if stats, err := d.store.Stats(ctx); err == nil {
		status.Queue = stats
	} else {
		d.logger.Warn("queue stats unavailable", logging.Error(err))
	}
	return status
}
