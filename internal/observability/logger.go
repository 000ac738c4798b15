package observability

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/sqlagent/sqlagent/internal/config"
)

type ctxKey string

const (
	traceIDKey      ctxKey = "trace_id"
	requestNotesKey ctxKey = "request_notes"
)

// NewLogger builds the service logger. Records logged with a request context
// carry that request's trace_id.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	} else {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	}
	return slog.New(traceHandler{Handler: handler}).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, record slog.Record) error {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		record.AddAttrs(slog.String("trace_id", traceID))
	}
	return h.Handler.Handle(ctx, record)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{Handler: h.Handler.WithGroup(name)}
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

// requestNotes collects values discovered while a request is served, so the
// access log written after the handler returns can report them.
type requestNotes struct {
	mu           sync.Mutex
	invocationID string
}

func contextWithRequestNotes(ctx context.Context) context.Context {
	if _, ok := ctx.Value(requestNotesKey).(*requestNotes); ok {
		return ctx
	}
	return context.WithValue(ctx, requestNotesKey, &requestNotes{})
}

// SetInvocationID attaches the invocation served by the current request. It
// is a no-op outside TraceMiddleware.
func SetInvocationID(ctx context.Context, invocationID string) {
	notes, ok := ctx.Value(requestNotesKey).(*requestNotes)
	if !ok {
		return
	}
	notes.mu.Lock()
	notes.invocationID = invocationID
	notes.mu.Unlock()
}

func InvocationIDFromContext(ctx context.Context) string {
	notes, ok := ctx.Value(requestNotesKey).(*requestNotes)
	if !ok {
		return ""
	}
	notes.mu.Lock()
	defer notes.mu.Unlock()
	return notes.invocationID
}
