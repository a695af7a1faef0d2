package daemon

import (
	"workqueue/internal/preflight"
	"workqueue/internal/processor"
	"workqueue/internal/retry"
)

// Option customizes a Daemon.
type Option func(*options)

type options struct {
	registrations []processor.Registration
	memoryProbe   preflight.MemoryProbe
	retry         *retry.Policy
}

// WithRegistrations replaces the built-in job table.
func WithRegistrations(regs ...processor.Registration) Option {
	return func(o *options) {
		o.registrations = regs
	}
}

// WithMemoryProbe overrides the free memory probe used by the dispatcher.
func WithMemoryProbe(probe preflight.MemoryProbe) Option {
	return func(o *options) {
		o.memoryProbe = probe
	}
}

// WithRetryPolicy overrides the store update retry policy.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(o *options) {
		o.retry = &policy
	}
}
