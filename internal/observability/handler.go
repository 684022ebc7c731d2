package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/slog"
)

func HandlerWithSpanContext(handler slog.Handler) *SpanContextLogHandler {
	return &SpanContextLogHandler{Handler: handler}
}

// SpanContextLogHandler adds the trace and span ids of the span in ctx to
// every record.
type SpanContextLogHandler struct {
	slog.Handler
}

func (h *SpanContextLogHandler) Handle(ctx context.Context, record slog.Record) error {
	if s := trace.SpanContextFromContext(ctx); s.IsValid() {
		record.AddAttrs(
			slog.String("traceId", s.TraceID().String()),
			slog.String("spanId", s.SpanID().String()),
			slog.Bool("trace_sampled", s.TraceFlags().IsSampled()),
		)
	}
	return h.Handler.Handle(ctx, record)
}

func (h *SpanContextLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SpanContextLogHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *SpanContextLogHandler) WithGroup(name string) slog.Handler {
	return &SpanContextLogHandler{Handler: h.Handler.WithGroup(name)}
}
