package logger

import "context"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	executionIDKey
)

// WithRequestID stores the HTTP request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithExecutionID stores the id of the execution a producer runs for.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// ExecutionID returns the execution id stored in ctx, or "".
func ExecutionID(ctx context.Context) string {
	id, _ := ctx.Value(executionIDKey).(string)
	return id
}
