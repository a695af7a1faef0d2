package processor

import (
	"fmt"
	"sort"
	"strings"

	"workqueue/internal/queue"
	"workqueue/internal/services"
)

// RecoveryMode selects how integrity failures of a job type are handled.
type RecoveryMode int

const (
	// RecoveryManual fails the entry and leaves reconciliation to an operator.
	RecoveryManual RecoveryMode = iota
	// RecoveryAutomatic runs auto-recovery and postpones the entry.
	RecoveryAutomatic
)

func (m RecoveryMode) String() string {
	if m == RecoveryAutomatic {
		return "automatic"
	}
	return "manual"
}

// ValidationMode selects whether completed entries are checked against the
// files on disk.
type ValidationMode int

const (
	ValidationDefault ValidationMode = iota
	ValidationNone
)

func (m ValidationMode) String() string {
	if m == ValidationNone {
		return "none"
	}
	return "default"
}

// Factory builds a fresh Handler for one entry.
type Factory func() Handler

// Registration binds a job type to its handler factory and policies.
type Registration struct {
	Type       queue.JobType
	Factory    Factory
	Recovery   RecoveryMode
	Validation ValidationMode
}

// Registry is the read-only lookup table built at startup.
type Registry struct {
	byType map[queue.JobType]Registration
}

// NewRegistry validates regs and indexes them by type.
func NewRegistry(regs ...Registration) (*Registry, error) {
	r := &Registry{byType: make(map[queue.JobType]Registration, len(regs))}
	for _, reg := range regs {
		reg.Type = queue.JobType(strings.ToLower(strings.TrimSpace(string(reg.Type))))
		if reg.Type == "" {
			return nil, services.Wrap(services.ErrConfiguration, "processor", "register", "job type is required", nil)
		}
		if reg.Factory == nil {
			return nil, services.Wrap(services.ErrConfiguration, "processor", "register",
				fmt.Sprintf("job type %s has no factory", reg.Type), nil)
		}
		if _, dup := r.byType[reg.Type]; dup {
			return nil, services.Wrap(services.ErrConfiguration, "processor", "register",
				fmt.Sprintf("job type %s registered twice", reg.Type), nil)
		}
		r.byType[reg.Type] = reg
	}
	return r, nil
}

// Lookup returns the registration for jobType.
func (r *Registry) Lookup(jobType queue.JobType) (Registration, bool) {
	if r == nil {
		return Registration{}, false
	}
	reg, ok := r.byType[jobType]
	return reg, ok
}

// Types lists the registered job types in sorted order.
func (r *Registry) Types() []queue.JobType {
	if r == nil {
		return nil
	}
	types := make([]queue.JobType, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
