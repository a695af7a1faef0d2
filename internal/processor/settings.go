package processor

import (
	"slices"
	"time"

	"workqueue/internal/config"
	"workqueue/internal/queue"
)

// Settings is the immutable engine tuning shared by every entry run.
type Settings struct {
	ProcessorID         string
	InactiveWindow      time.Duration
	QueryDelay          time.Duration
	IntegrityValidation bool
	MaxSubItemFailures  int
	InstanceExtension   string
	Properties          map[queue.JobType]queue.TypeProperties
}

// NewSettings combines the engine configuration with the loaded type
// properties.
func NewSettings(cfg *config.Config, props map[queue.JobType]queue.TypeProperties) Settings {
	copied := make(map[queue.JobType]queue.TypeProperties, len(props))
	for k, v := range props {
		copied[k] = v
	}
	return Settings{
		ProcessorID:         cfg.Engine.ProcessorID,
		InactiveWindow:      cfg.InactiveMinTime(),
		QueryDelay:          cfg.QueryDelay(),
		IntegrityValidation: cfg.Engine.IntegrityValidation,
		MaxSubItemFailures:  cfg.Engine.MaxSubItemFailures,
		InstanceExtension:   cfg.Engine.InstanceExtension,
		Properties:          copied,
	}
}

// PropertiesFor returns the properties of jobType, falling back to the
// defaults for unknown types.
func (s Settings) PropertiesFor(jobType queue.JobType) queue.TypeProperties {
	if p, ok := s.Properties[jobType]; ok {
		return p
	}
	return queue.DefaultTypeProperties(jobType)
}

// MaxFailures is the failure budget of jobType.
func (s Settings) MaxFailures(jobType queue.JobType) int {
	return s.PropertiesFor(jobType).MaxFailureCount
}

// MemoryLimitedTypes lists the types whose properties mark them memory
// limited, sorted. The result is never nil.
func (s Settings) MemoryLimitedTypes() []queue.JobType {
	out := make([]queue.JobType, 0, len(s.Properties))
	for jobType, p := range s.Properties {
		if p.MemoryLimited {
			out = append(out, jobType)
		}
	}
	slices.Sort(out)
	return out
}
