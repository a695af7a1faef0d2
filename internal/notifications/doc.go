// Package notifications delivers operator alerts raised by the engine.
//
// NewService returns an ntfy backed sink when a topic is configured and a
// no-op sink otherwise, so callers never branch on configuration. Per type
// alert gating lives with the caller; this package only formats and sends.
package notifications
