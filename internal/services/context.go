package services

import "context"

type contextKey string

const (
	entryKeyKey   contextKey = "entry_key"
	jobTypeKey    contextKey = "job_type"
	storageKeyKey contextKey = "storage_key"
	requestIDKey  contextKey = "request_id"
)

// WithEntryKey annotates context with the queue entry key.
func WithEntryKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, entryKeyKey, key)
}

// EntryKeyFromContext extracts the queue entry key if present.
func EntryKeyFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(entryKeyKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithJobType annotates context with the job type being processed.
func WithJobType(ctx context.Context, jobType string) context.Context {
	if jobType == "" {
		return ctx
	}
	return context.WithValue(ctx, jobTypeKey, jobType)
}

// JobTypeFromContext returns the job type if present.
func JobTypeFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobTypeKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStorageKey annotates context with the storage unit an entry operates on.
func WithStorageKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, storageKeyKey, key)
}

// StorageKeyFromContext returns the storage key if present.
func StorageKeyFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(storageKeyKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
