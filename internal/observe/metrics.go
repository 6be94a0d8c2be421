// Package observe provides application-wide observability primitives for
// dectalkbot: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus registry so that they can be scraped via the
// /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all dectalkbot metrics.
const meterName = "github.com/MrWong99/dectalkbot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks one engine run, from semaphore wait to WAV
	// bytes in hand.
	SynthesisDuration metric.Float64Histogram

	// PlaybackDuration tracks how long a clip occupied the voice connection,
	// including the wait for earlier clips of the same guild.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// Messages counts handled chat messages. Use with attribute:
	//   attribute.String("outcome", ...)
	Messages metric.Int64Counter

	// SynthesisErrors counts failed synthesis calls. Use with attribute:
	//   attribute.String("reason", ...)
	SynthesisErrors metric.Int64Counter

	// SessionTransitions counts voice session actions. Use with attributes:
	//   attribute.String("action", ...), attribute.String("status", ...)
	SessionTransitions metric.Int64Counter

	// StoreWrites counts durable store writes. Use with attributes:
	//   attribute.String("store", ...), attribute.String("status", ...)
	StoreWrites metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("name", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of guilds with a live voice connection.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). DECtalk
// renders a short message in well under a second; long clips play for tens
// of seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("dectalkbot.synthesis.duration",
		metric.WithDescription("Latency of DECtalk synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("dectalkbot.playback.duration",
		metric.WithDescription("Time a clip spent queued and playing on the voice connection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Messages, err = m.Int64Counter("dectalkbot.messages",
		metric.WithDescription("Total chat messages by orchestration outcome."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisErrors, err = m.Int64Counter("dectalkbot.synthesis.errors",
		metric.WithDescription("Total failed synthesis calls by reason."),
	); err != nil {
		return nil, err
	}
	if met.SessionTransitions, err = m.Int64Counter("dectalkbot.session.transitions",
		metric.WithDescription("Total voice session actions by action and status."),
	); err != nil {
		return nil, err
	}
	if met.StoreWrites, err = m.Int64Counter("dectalkbot.store.writes",
		metric.WithDescription("Total durable store writes by store and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("dectalkbot.breaker.transitions",
		metric.WithDescription("Total circuit breaker state changes by breaker and new state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("dectalkbot.active_sessions",
		metric.WithDescription("Number of guilds with a live voice connection."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("dectalkbot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordMessage counts one handled message with its outcome.
func (m *Metrics) RecordMessage(ctx context.Context, outcome string) {
	m.Messages.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSynthesisError counts one failed synthesis call.
func (m *Metrics) RecordSynthesisError(ctx context.Context, reason string) {
	m.SynthesisErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSessionTransition counts one voice session action.
func (m *Metrics) RecordSessionTransition(ctx context.Context, action, status string) {
	m.SessionTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		),
	)
}

// RecordStoreWrite counts one durable store write.
func (m *Metrics) RecordStoreWrite(ctx context.Context, store, status string) {
	m.StoreWrites.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("store", store),
			attribute.String("status", status),
		),
	)
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("name", name),
			attribute.String("state", state),
		),
	)
}
