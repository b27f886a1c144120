// Package observe provides the observability primitives of the chat relay:
// OpenTelemetry metrics, distributed tracing, trace-aware logging, and the gin
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so they can be scraped via
// /metrics. A package-level default [Metrics] instance ([DefaultMetrics]) is
// provided for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/serene"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Chat turns ---

	// ChatTurns counts completed turns. Use with attribute:
	//   attribute.String("mode", "normal"|"forced_suggestion"|"escalation")
	ChatTurns metric.Int64Counter

	// Escalations counts crisis interceptions.
	Escalations metric.Int64Counter

	// OracleDuration tracks completion latency, failed calls included.
	OracleDuration metric.Float64Histogram

	// --- Provider calls ---

	// ProviderRequests counts oracle calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts oracle errors. Use with attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// CircuitTransitions counts breaker state changes. Use with attributes:
	//   attribute.String("breaker", ...), attribute.String("to", ...)
	CircuitTransitions metric.Int64Counter

	// --- Storage forwarding ---

	// StorageForwards counts forward outcomes. Use with attribute:
	//   attribute.String("status", "sent"|"failed"|"dropped"|"retry")
	StorageForwards metric.Int64Counter

	// --- Sessions ---

	// ActiveSessions tracks the number of sessions held in memory.
	ActiveSessions metric.Int64UpDownCounter

	// SessionsEvicted counts evicted sessions. Use with attribute:
	//   attribute.String("reason", "ttl"|"capacity")
	SessionsEvicted metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// hosted completion APIs, which routinely take several seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.ChatTurns, err = m.Int64Counter("serene.chat.turns",
		metric.WithDescription("Total chat turns by serving mode."),
	); err != nil {
		return nil, err
	}
	if met.Escalations, err = m.Int64Counter("serene.chat.escalations",
		metric.WithDescription("Total messages intercepted by the crisis detector."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("serene.provider.requests",
		metric.WithDescription("Total oracle requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("serene.provider.errors",
		metric.WithDescription("Total oracle errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.CircuitTransitions, err = m.Int64Counter("serene.circuit.transitions",
		metric.WithDescription("Total circuit breaker state transitions by breaker and target state."),
	); err != nil {
		return nil, err
	}
	if met.StorageForwards, err = m.Int64Counter("serene.storage.forwards",
		metric.WithDescription("Total storage forward outcomes by status."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEvicted, err = m.Int64Counter("serene.sessions.evicted",
		metric.WithDescription("Total sessions evicted by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveSessions, err = m.Int64UpDownCounter("serene.sessions.active",
		metric.WithDescription("Number of sessions held in memory."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.OracleDuration, err = m.Float64Histogram("serene.oracle.duration",
		metric.WithDescription("Latency of oracle completion calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("serene.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the lazily-initialised package-level [Metrics] backed
// by the global OTel MeterProvider. Panics if instrument creation fails.
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

// RecordTurn counts one completed turn served in mode.
func (m *Metrics) RecordTurn(ctx context.Context, mode string) {
	m.ChatTurns.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordEscalation counts one crisis interception.
func (m *Metrics) RecordEscalation(ctx context.Context) {
	m.Escalations.Add(ctx, 1)
}

// RecordOracleCall records the latency and outcome of one completion call.
func (m *Metrics) RecordOracleCall(ctx context.Context, provider string, d time.Duration, err error) {
	m.OracleDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("provider", provider)))
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider)
	}
	m.RecordProviderRequest(ctx, provider, status)
}

// RecordProviderRequest records a provider request counter increment.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordCircuitTransition counts a breaker moving to state to.
func (m *Metrics) RecordCircuitTransition(ctx context.Context, breaker, to string) {
	m.CircuitTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}

// RecordForward counts one storage forward outcome.
func (m *Metrics) RecordForward(ctx context.Context, status string) {
	m.StorageForwards.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordEviction counts n sessions evicted for reason and lowers the active
// gauge accordingly.
func (m *Metrics) RecordEviction(ctx context.Context, reason string, n int) {
	if n <= 0 {
		return
	}
	m.SessionsEvicted.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
	m.ActiveSessions.Add(ctx, -int64(n))
}
