// Package observe provides application-wide observability primitives for
// Voxline: OpenTelemetry metrics, tracing helpers, and structured logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voxline metrics.
const meterName = "github.com/voxline-ai/voxline"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// HandshakeDuration tracks the time from dial to session readiness.
	HandshakeDuration metric.Float64Histogram

	// --- Counters ---

	// FramesSent counts media frames delivered directly to the transport.
	// Use with attribute: attribute.String("kind", "audio"|"image").
	FramesSent metric.Int64Counter

	// FramesQueued counts media frames queued while the session was not
	// ready.
	FramesQueued metric.Int64Counter

	// FlushBatches counts pending-queue flush batches.
	FlushBatches metric.Int64Counter

	// ContextUpdates counts outbound context updates by status. Use with
	// attribute: attribute.String("status", "sent"|"queued"|"rejected").
	ContextUpdates metric.Int64Counter

	// RateLimitRejections counts context updates dropped by the local
	// sliding-window limiter.
	RateLimitRejections metric.Int64Counter

	// DecodeErrors counts inbound audio frames dropped because their payload
	// could not be decoded.
	DecodeErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// meter is retained for observable-instrument registration.
	meter metric.Meter
}

// handshakeBuckets defines histogram bucket boundaries (in seconds) spanning
// fast local handshakes up to the advisory timeout.
var handshakeBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.HandshakeDuration, err = m.Float64Histogram("voxline.handshake.duration",
		metric.WithDescription("Time from transport dial to session readiness."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(handshakeBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("voxline.frames.sent",
		metric.WithDescription("Media frames delivered directly to the transport, by kind."),
	); err != nil {
		return nil, err
	}
	if met.FramesQueued, err = m.Int64Counter("voxline.frames.queued",
		metric.WithDescription("Media frames queued before session readiness."),
	); err != nil {
		return nil, err
	}
	if met.FlushBatches, err = m.Int64Counter("voxline.flush.batches",
		metric.WithDescription("Pending-queue flush batches sent after readiness."),
	); err != nil {
		return nil, err
	}
	if met.ContextUpdates, err = m.Int64Counter("voxline.context.updates",
		metric.WithDescription("Outbound context updates by status."),
	); err != nil {
		return nil, err
	}
	if met.RateLimitRejections, err = m.Int64Counter("voxline.ratelimit.rejections",
		metric.WithDescription("Context updates dropped by the local rate limiter."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("voxline.audio.decode_errors",
		metric.WithDescription("Inbound audio frames dropped due to undecodable payloads."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxline.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameSent records one directly-delivered media frame.
func (m *Metrics) RecordFrameSent(ctx context.Context, kind string) {
	m.FramesSent.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RegisterQueueDepth registers observable gauges reporting the pending
// media/context queue depths. fn is polled on every metric collection and
// must be safe for concurrent use.
func (m *Metrics) RegisterQueueDepth(fn func() (media, contextUpdates int64)) error {
	mediaGauge, err := m.meter.Int64ObservableGauge("voxline.queue.media_depth",
		metric.WithDescription("Pending media frames awaiting session readiness."),
	)
	if err != nil {
		return err
	}
	ctxGauge, err := m.meter.Int64ObservableGauge("voxline.queue.context_depth",
		metric.WithDescription("Pending context updates awaiting session readiness."),
	)
	if err != nil {
		return err
	}
	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		md, cu := fn()
		o.ObserveInt64(mediaGauge, md)
		o.ObserveInt64(ctxGauge, cu)
		return nil
	}, mediaGauge, ctxGauge)
	return err
}

// RecordContextUpdate records one outbound context update with its status.
func (m *Metrics) RecordContextUpdate(ctx context.Context, status string) {
	m.ContextUpdates.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
