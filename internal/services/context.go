package services

import "context"

type contextKey string

const (
	fileKeyKey   contextKey = "file_key"
	stageKey     contextKey = "stage"
	requestIDKey contextKey = "request_id"
)

// WithFileKey annotates context with the normalized registry key being processed.
func WithFileKey(ctx context.Context, key string) context.Context {
	return withString(ctx, fileKeyKey, key)
}

// FileKeyFromContext extracts the registry key if present.
func FileKeyFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, fileKeyKey)
}

// WithStage annotates context with the pipeline stage (scan, optimize).
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageKey, stage)
}

func StageFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, stageKey)
}

// WithRequestID annotates context with the id of the IPC or HTTP request
// that started the work.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}

// Empty values leave the context untouched so an outer annotation survives.
func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}
