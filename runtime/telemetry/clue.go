package telemetry

import (
	"context"

	"goa.design/clue/log"
)

// ClueLogger implements Logger by delegating to goa.design/clue/log. The
// logger reads formatting and debug settings from the context (set via
// log.Context and log.WithFormat/log.WithDebug). The request correlation id
// is attached to every line when present.
type ClueLogger struct{}

// NewClueLogger constructs a Logger backed by clue.
func NewClueLogger() Logger { return ClueLogger{} }

func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, fielders(ctx, msg, keyvals)...)
}

func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, fielders(ctx, msg, keyvals)...)
}

func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, fielders(ctx, msg, keyvals)...)
}

func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, fielders(ctx, msg, keyvals)...)
}

func fielders(ctx context.Context, msg string, keyvals []any) []log.Fielder {
	fs := make([]log.Fielder, 0, len(keyvals)/2+2)
	fs = append(fs, log.KV{K: "msg", V: msg})
	if id := CorrelationID(ctx); id != "" {
		fs = append(fs, log.KV{K: "correlation_id", V: id})
	}
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		fs = append(fs, log.KV{K: key, V: keyvals[i+1]})
	}
	return fs
}
