package logging

import (
	"context"
	"log/slog"

	"workqueue/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEntryKey is the standardized structured logging key for queue entry keys.
	FieldEntryKey = "entry_key"
	// FieldJobType is the standardized structured logging key for job types.
	FieldJobType = "job_type"
	// FieldStorageKey is the standardized structured logging key for storage unit keys.
	FieldStorageKey = "storage_key"
	// FieldProcessorID is the standardized structured logging key for the engine instance id.
	FieldProcessorID = "processor_id"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType names the machine readable event behind a log line.
	FieldEventType = "event_type"
	// FieldErrorHint tells operators what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if key, ok := services.EntryKeyFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldEntryKey, key))
	}
	if jobType, ok := services.JobTypeFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobType, jobType))
	}
	if key, ok := services.StorageKeyFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStorageKey, key))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
