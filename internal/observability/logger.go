package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/askdb/askdb/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

const redacted = "[REDACTED]"

// secretAttrs are attribute keys whose values never reach the log output.
// Connection settings and agent configs carry credentials under these.
var secretAttrs = map[string]struct{}{
	"password":      {},
	"api_key":       {},
	"apikey":        {},
	"authorization": {},
	"x-api-key":     {},
}

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel, ReplaceAttr: redactSecrets}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
		slog.String("ai_provider", cfg.AI.Provider),
		slog.String("db_mode", string(cfg.Database.Mode)),
	)
}

func redactSecrets(_ []string, attr slog.Attr) slog.Attr {
	if _, ok := secretAttrs[strings.ToLower(attr.Key)]; ok && attr.Value.Kind() != slog.KindGroup {
		return slog.String(attr.Key, redacted)
	}
	return attr
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
