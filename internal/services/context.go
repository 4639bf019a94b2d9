package services

import "context"

type contextKey int

const (
	workflowIDKey contextKey = iota
	brandKey
	stageKey
	requestIDKey
)

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func lookup(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, _ := ctx.Value(key).(string)
	return v, v != ""
}

// WithWorkflowID tags ctx with the workflow record id. Empty ids are ignored.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return withValue(ctx, workflowIDKey, id)
}

func WorkflowIDFromContext(ctx context.Context) (string, bool) {
	return lookup(ctx, workflowIDKey)
}

// WithBrand tags ctx with the brand partition.
func WithBrand(ctx context.Context, brand string) context.Context {
	return withValue(ctx, brandKey, brand)
}

func BrandFromContext(ctx context.Context) (string, bool) {
	return lookup(ctx, brandKey)
}

// WithStage tags ctx with the pipeline stage (render, caption, publish).
func WithStage(ctx context.Context, stage string) context.Context {
	return withValue(ctx, stageKey, stage)
}

func StageFromContext(ctx context.Context) (string, bool) {
	return lookup(ctx, stageKey)
}

// WithRequestID tags ctx with the correlation id of the HTTP request or
// webhook delivery being handled.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	return lookup(ctx, requestIDKey)
}
