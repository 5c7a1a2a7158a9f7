package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Voxline tracer.
const tracerName = "github.com/voxline-ai/voxline"

// ConnectSpan starts the span covering one session connect attempt, from
// transport dial through the handshake send. The caller must call span.End()
// once the attempt settles.
func ConnectSpan(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "session.connect",
		trace.WithAttributes(
			attribute.String("voxline.transport.provider", provider),
			attribute.String("voxline.model", model),
		),
	)
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the span context in ctx, so connect-attempt log lines can be joined with
// their span. Without an active span it returns the default logger.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
