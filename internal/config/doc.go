// Package config loads, normalizes, and validates work queue configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies WORKQUEUE_* environment
// overrides. The Config type centralizes every knob the daemon and CLI need:
// pool budgets, dispatcher timing, stuck detection windows, schedules and
// per job type property overrides.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
