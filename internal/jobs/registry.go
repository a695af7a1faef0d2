package jobs

import (
	"context"
	"log/slog"

	"workqueue/internal/processor"
	"workqueue/internal/queue"
	"workqueue/internal/recovery"
)

// Store is the store surface the job handlers need beyond the processor.
type Store interface {
	ReplaceSeriesCounts(ctx context.Context, storageKey string, counts []queue.SeriesCount) error
}

// Deps are shared by every handler built from the registration table.
type Deps struct {
	Store     Store
	Recoverer *recovery.Recoverer
	Extension string
	Logger    *slog.Logger
}

// Registrations returns the static job table.
func Registrations(deps Deps) []processor.Registration {
	return []processor.Registration{
		{
			Type:       queue.JobTypeReprocess,
			Factory:    func() processor.Handler { return &reprocessHandler{deps: deps} },
			Recovery:   processor.RecoveryManual,
			Validation: processor.ValidationNone,
		},
		{
			Type:       queue.JobTypeVerify,
			Factory:    func() processor.Handler { return &verifyHandler{deps: deps} },
			Recovery:   processor.RecoveryAutomatic,
			Validation: processor.ValidationDefault,
		},
		{
			Type:       queue.JobTypeCommand,
			Factory:    func() processor.Handler { return &commandHandler{deps: deps} },
			Recovery:   processor.RecoveryAutomatic,
			Validation: processor.ValidationNone,
		},
	}
}
