package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"workqueue/internal/config"
	"workqueue/internal/logging"
	"workqueue/internal/queue"
)

// Store is the queue surface the producers write to.
type Store interface {
	ListStorage(ctx context.Context) ([]*queue.Storage, error)
	FindRelated(ctx context.Context, storageKey string, types []queue.JobType, statuses []queue.Status) ([]*queue.Entry, error)
	Insert(ctx context.Context, req queue.NewEntry) (*queue.Entry, error)
	ScheduleReprocess(ctx context.Context, storageKey string, priority queue.Priority) (*queue.Entry, bool, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

type job struct {
	name     string
	schedule cron.Schedule
	run      func(context.Context)
}

// Scheduler owns the parsed schedules and runs them on a cron clock.
type Scheduler struct {
	store  Store
	logger *slog.Logger
	jobs   []job
}

// New parses the configured schedules. Invalid expressions are reported
// before anything runs.
func New(cfg *config.Config, store Store, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Scheduler{
		store:  store,
		logger: logging.NewComponentLogger(logger, "scheduler"),
	}

	for _, sc := range cfg.Schedules {
		parsed, err := cron.ParseStandard(sc.Cron)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", sc.Name, err)
		}
		sc := sc
		s.jobs = append(s.jobs, job{
			name:     sc.Name,
			schedule: parsed,
			run: func(ctx context.Context) {
				if _, err := s.Enqueue(ctx, sc); err != nil {
					s.logger.Error("scheduled enqueue failed",
						logging.String("schedule", sc.Name),
						logging.Error(err),
						logging.String(logging.FieldEventType, "schedule_failed"),
					)
				}
			},
		})
	}

	if cfg.Maintenance.PurgeCron != "" {
		parsed, err := cron.ParseStandard(cfg.Maintenance.PurgeCron)
		if err != nil {
			return nil, fmt.Errorf("maintenance purge: %w", err)
		}
		s.jobs = append(s.jobs, job{
			name:     "purge",
			schedule: parsed,
			run: func(ctx context.Context) {
				if _, err := s.Purge(ctx); err != nil {
					s.logger.Error("purge failed", logging.Error(err), logging.String(logging.FieldEventType, "purge_failed"))
				}
			},
		})
	}
	return s, nil
}

// Jobs lists the names of the registered schedules.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.name)
	}
	return names
}

// Run starts the cron clock and blocks until ctx is canceled. Running jobs
// are allowed to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		<-ctx.Done()
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	for _, j := range s.jobs {
		run := j.run
		c.Schedule(j.schedule, cron.FuncJob(func() { run(ctx) }))
	}
	c.Start()
	s.logger.Info("scheduler started",
		logging.Int("jobs", len(s.jobs)),
		logging.String(logging.FieldEventType, "scheduler_started"),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped", logging.String(logging.FieldEventType, "scheduler_stopped"))
	return nil
}

// Enqueue adds one entry of the schedule's type to every storage unit that
// has no open entry of that type. It returns the number of entries created.
func (s *Scheduler) Enqueue(ctx context.Context, sc config.Schedule) (int, error) {
	jobType := queue.JobType(sc.Type)
	priority, ok := queue.ParsePriority(sc.Priority)
	if !ok {
		return 0, fmt.Errorf("schedule %s: unknown priority %q", sc.Name, sc.Priority)
	}

	units, err := s.store.ListStorage(ctx)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, unit := range units {
		if unit.QueueState == queue.StorageDeleting {
			continue
		}
		added, err := s.enqueueUnit(ctx, unit.Key, jobType, priority)
		if err != nil {
			return created, fmt.Errorf("storage %s: %w", unit.Key, err)
		}
		if added {
			created++
		}
	}

	s.logger.Info("schedule fired",
		logging.String("schedule", sc.Name),
		logging.String("job_type", string(jobType)),
		logging.Int("created", created),
		logging.Int("storage_units", len(units)),
		logging.String(logging.FieldEventType, "schedule_fired"),
	)
	return created, nil
}

func (s *Scheduler) enqueueUnit(ctx context.Context, storageKey string, jobType queue.JobType, priority queue.Priority) (bool, error) {
	if jobType == queue.JobTypeReprocess {
		_, created, err := s.store.ScheduleReprocess(ctx, storageKey, priority)
		return created, err
	}
	open, err := s.store.FindRelated(ctx, storageKey, []queue.JobType{jobType}, queue.OpenStatuses)
	if err != nil {
		return false, err
	}
	if len(open) > 0 {
		return false, nil
	}
	_, err = s.store.Insert(ctx, queue.NewEntry{
		Type:       jobType,
		StorageKey: storageKey,
		Priority:   priority,
	})
	return err == nil, err
}

// Purge deletes completed and failed entries past their expiration.
func (s *Scheduler) Purge(ctx context.Context) (int64, error) {
	removed, err := s.store.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("purged expired entries",
			logging.Int64("removed", removed),
			logging.String(logging.FieldEventType, "entries_purged"),
		)
	}
	return removed, nil
}
