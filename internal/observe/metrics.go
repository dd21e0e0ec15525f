// Package observe provides application-wide observability primitives for
// Fateweaver: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Fateweaver metrics.
const meterName = "github.com/MrWong99/fateweaver"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use since the underlying OTel types
// handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks time spent inside the engine per turn. A dice
	// suspension splits a turn into two separately recorded legs, so player
	// thinking time never skews the histogram. Use with attribute:
	//   attribute.String("status", ...)
	TurnDuration metric.Float64Histogram

	// LLMCallDuration tracks the latency of individual model calls.
	LLMCallDuration metric.Float64Histogram

	// LoreSearchDuration tracks lore retrieval latency (keyword scan plus
	// optional vector query).
	LoreSearchDuration metric.Float64Histogram

	// LoopIterations tracks how many orchestration iterations a turn needed
	// before the game master responded.
	LoopIterations metric.Int64Histogram

	// --- Counters ---

	// Turns counts completed turns. Use with attribute:
	//   attribute.String("status", "ok"|"loop_exceeded"|"timeout"|"error")
	Turns metric.Int64Counter

	// AgentInvocations counts helper-agent calls. Use with attributes:
	//   attribute.String("agent", ...), attribute.String("status", ...)
	AgentInvocations metric.Int64Counter

	// DiceChecks counts resolved dice checks. Use with attribute:
	//   attribute.String("outcome", ...)
	DiceChecks metric.Int64Counter

	// --- Error counters ---

	// LLMFailures counts model calls that returned an error. Use with
	// attribute: attribute.String("provider", ...)
	LLMFailures metric.Int64Counter

	// DroppedFrames counts outbound protocol frames discarded because a
	// session's send buffer was full.
	DroppedFrames metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live game sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// callBuckets defines histogram bucket boundaries (in seconds) for single
// model calls, which typically land between half a second and a minute.
var callBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// turnBuckets covers whole turns, which chain several model calls and can
// legitimately run for minutes.
var turnBuckets = []float64{
	0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// searchBuckets covers in-process lore retrieval, which should stay well
// under a second.
var searchBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// iterationBuckets covers the orchestration loop count per turn.
var iterationBuckets = []float64{
	1, 2, 3, 4, 5, 7, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("fateweaver.turn.duration",
		metric.WithDescription("Wall-clock duration of a full game turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(turnBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMCallDuration, err = m.Float64Histogram("fateweaver.llm.call.duration",
		metric.WithDescription("Latency of individual LLM calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LoreSearchDuration, err = m.Float64Histogram("fateweaver.lore.search.duration",
		metric.WithDescription("Latency of lore retrieval per agent invocation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(searchBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LoopIterations, err = m.Int64Histogram("fateweaver.loop.iterations",
		metric.WithDescription("Orchestration iterations needed per turn."),
		metric.WithExplicitBucketBoundaries(iterationBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("fateweaver.turns",
		metric.WithDescription("Total completed turns by status."),
	); err != nil {
		return nil, err
	}
	if met.AgentInvocations, err = m.Int64Counter("fateweaver.agent.invocations",
		metric.WithDescription("Total helper-agent invocations by agent and status."),
	); err != nil {
		return nil, err
	}
	if met.DiceChecks, err = m.Int64Counter("fateweaver.dice.checks",
		metric.WithDescription("Total resolved dice checks by outcome."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.LLMFailures, err = m.Int64Counter("fateweaver.llm.failures",
		metric.WithDescription("Total failed LLM calls by provider."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("fateweaver.channel.dropped",
		metric.WithDescription("Outbound frames dropped due to a full session buffer."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("fateweaver.active_sessions",
		metric.WithDescription("Number of live game sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("fateweaver.http.request.duration",
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

// RecordTurn records a finished turn: its counter increment, duration, and
// how many orchestration iterations it took.
func (m *Metrics) RecordTurn(ctx context.Context, status string, d time.Duration, iterations int) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, d.Seconds(), attrs)
	m.LoopIterations.Record(ctx, int64(iterations))
}

// RecordAgentInvocation records a helper-agent call counter increment with
// the standard attribute set.
func (m *Metrics) RecordAgentInvocation(ctx context.Context, agent, status string) {
	m.AgentInvocations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent", agent),
			attribute.String("status", status),
		),
	)
}

// RecordDiceCheck records a resolved dice check by outcome band.
func (m *Metrics) RecordDiceCheck(ctx context.Context, outcome string) {
	m.DiceChecks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordLLMFailure records a failed model call for the given provider.
func (m *Metrics) RecordLLMFailure(ctx context.Context, provider string) {
	m.LLMFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordDroppedFrames records n outbound frames discarded from a session
// buffer.
func (m *Metrics) RecordDroppedFrames(ctx context.Context, n int) {
	m.DroppedFrames.Add(ctx, int64(n))
}
