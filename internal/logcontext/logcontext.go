package logcontext

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

var fieldsKey = ctxKey{}

// AppendCtx returns a context carrying the given attr in addition to any
// attrs already attached. Handlers read these back so correlation ids
// (webhook id, run id) follow a processing attempt through every log line.
func AppendCtx(parent context.Context, attr slog.Attr) context.Context {
	if parent == nil {
		parent = context.Background()
	}

	if v, ok := parent.Value(fieldsKey).([]slog.Attr); ok {
		attrs := make([]slog.Attr, 0, len(v)+1)
		attrs = append(attrs, v...)
		attrs = append(attrs, attr)
		return context.WithValue(parent, fieldsKey, attrs)
	}

	return context.WithValue(parent, fieldsKey, []slog.Attr{attr})
}

// Attrs returns the attrs attached to ctx, nil if none.
func Attrs(ctx context.Context) []slog.Attr {
	if v, ok := ctx.Value(fieldsKey).([]slog.Attr); ok {
		return v
	}
	return nil
}
