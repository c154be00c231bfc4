// Package telemetry defines the logging contract shared by pipeline stages
// and store adapters, plus correlation-id plumbing. The pipeline needs
// per-node timings and structured logs only; tracing stays with the API
// layer.
package telemetry

import "context"

// Logger is the structured logging contract. Key-value pairs alternate
// key, value.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// NoopLogger discards all log output. Useful default for tests.
type NoopLogger struct{}

func (NoopLogger) Debug(context.Context, string, ...any) {}
func (NoopLogger) Info(context.Context, string, ...any)  {}
func (NoopLogger) Warn(context.Context, string, ...any)  {}
func (NoopLogger) Error(context.Context, string, ...any) {}

type correlationKey struct{}

// WithCorrelationID stores the request correlation id on the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation id stored on the context, if any.
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey{}).(string); ok {
		return v
	}
	return ""
}
