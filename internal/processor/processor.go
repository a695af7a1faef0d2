package processor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"workqueue/internal/logging"
	"workqueue/internal/notifications"
	"workqueue/internal/queue"
	"workqueue/internal/recovery"
	"workqueue/internal/retry"
	"workqueue/internal/services"
)

const (
	postponeWindow   = 2 * time.Minute
	abortExpiration  = 24 * time.Hour
	reasonNoStorage  = "Unable to find writeable StorageLocation."
	reasonReprocess  = "Study is scheduled for reprocess"
	reasonInitFailed = "Unable to initialize: "
)

// Store is the subset of the queue store used during an entry run.
type Store interface {
	Update(ctx context.Context, key string, tr queue.Transition) (bool, error)
	Postpone(ctx context.Context, key, owner string, scheduled, expiration time.Time, reason string) (bool, error)
	FindByStorage(ctx context.Context, storageKey string) ([]*queue.Entry, error)
	FindRelated(ctx context.Context, storageKey string, types []queue.JobType, statuses []queue.Status) ([]*queue.Entry, error)
	GetStorage(ctx context.Context, key string) (*queue.Storage, error)
	SetStorageState(ctx context.Context, key string, state queue.StorageState) error
	SubItems(ctx context.Context, entryKey string) ([]*queue.SubItem, error)
	UpdateSubItem(ctx context.Context, item *queue.SubItem) error
	DeleteSubItem(ctx context.Context, id int64) error
}

// Dependencies wires a Processor.
type Dependencies struct {
	Store     Store
	Settings  Settings
	Alerts    notifications.Service
	Recoverer *recovery.Recoverer
	Retry     retry.Policy
	Logger    *slog.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Processor drives claimed entries through their life cycle and owns all
// failure, postponement and completion accounting.
type Processor struct {
	store     Store
	settings  Settings
	alerts    notifications.Service
	recoverer *recovery.Recoverer
	retry     retry.Policy
	logger    *slog.Logger
	now       func() time.Time
}

// New builds a Processor.
func New(deps Dependencies) *Processor {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	alerts := deps.Alerts
	if alerts == nil {
		alerts = notifications.NewNoop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	policy := deps.Retry
	if policy.Logger == nil {
		policy.Logger = logger
	}
	recoverer := deps.Recoverer
	if recoverer != nil {
		recoverer = recoverer.WithRetry(policy)
	}
	return &Processor{
		store:     deps.Store,
		settings:  deps.Settings,
		alerts:    alerts,
		recoverer: recoverer,
		retry:     policy,
		logger:    logging.NewComponentLogger(logger, "processor"),
		now:       clock,
	}
}

// Settings returns the engine settings the processor was built with.
func (p *Processor) Settings() Settings {
	return p.settings
}

// Process runs one claimed entry through initialization, storage
// resolution, eligibility checks and the job body, then records the
// outcome. A returned error means the outcome could not be recorded and the
// caller should fail the entry at the dispatcher level.
func (p *Processor) Process(ctx context.Context, reg Registration, handler Handler, entry *queue.Entry) error {
	ctx = services.WithEntryKey(ctx, entry.Key)
	ctx = services.WithJobType(ctx, string(entry.Type))
	ctx = services.WithStorageKey(ctx, entry.StorageKey)
	logger := logging.WithContext(ctx, p.logger)

	run := &Run{
		Entry:        entry.Clone(),
		Properties:   p.settings.PropertiesFor(entry.Type),
		Registration: reg,
		Logger:       logger,
		store:        p.store,
		settings:     p.settings,
		retry:        p.retry,
	}

	started := p.now()
	logger.Debug("processing entry",
		logging.String("priority", string(entry.Priority)),
		logging.Int("failure_count", entry.FailureCount),
	)

	if err := handler.Initialize(ctx, run); err != nil {
		return p.Postpone(ctx, run, reasonInitFailed+services.Message(err), FailureNone)
	}

	storage, err := p.store.GetStorage(ctx, entry.StorageKey)
	if err != nil || storage == nil || !writable(storage.Path) {
		if err != nil {
			logger.Warn("storage lookup failed", logging.Error(err))
		}
		return p.Postpone(ctx, run, reasonNoStorage, FailureNone)
	}
	run.Storage = storage

	if storage.QueueState == queue.StorageReprocessScheduled && entry.Type != queue.JobTypeReprocess {
		return p.Postpone(ctx, run, reasonReprocess, FailureNone)
	}

	if reason, ok := handler.CanStart(ctx, run); !ok {
		return p.Postpone(ctx, run, reason, FailureNone)
	}

	result, err := handler.Process(ctx, run)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// The entry stays in_progress; the startup reset releases it.
			logger.Info("entry interrupted by shutdown", logging.String(logging.FieldEventType, "entry_interrupted"))
			return nil
		}
		return p.handleProcessError(ctx, run, err)
	}

	logger.Debug("entry run finished",
		logging.String("outcome", result.Outcome.String()),
		logging.Duration("elapsed", p.now().Sub(started)),
	)
	return p.PostProcessing(ctx, run, result)
}

func (p *Processor) handleProcessError(ctx context.Context, run *Run, err error) error {
	message := services.Message(err)
	switch {
	case services.IsIntegrity(err):
		return p.handleIntegrityFailure(ctx, run, message)
	case errors.Is(err, services.ErrFatal):
		return p.PostProcessingFailure(ctx, run, FailureFatal, message)
	default:
		return p.PostProcessingFailure(ctx, run, FailureNonFatal, message)
	}
}

func writable(path string) bool {
	path = strings.TrimSpace(path)
	if path == "" {
		return false
	}
	return unix.Access(path, unix.W_OK|unix.X_OK) == nil
}
