package telemetry

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rafabd1/Wildfuzz/internal/core"
)

const namespace = "wildfuzz"

// MetricsListener records engine notifications as OpenTelemetry metrics.
// Counters and histograms are updated as results arrive; the scan progress
// gauges are observed from the last OnCountersUpdated snapshot.
type MetricsListener struct {
	core.NopListener

	results         metric.Int64Counter
	interesting     metric.Int64Counter
	failures        metric.Int64Counter
	transitions     metric.Int64Counter
	requestDuration metric.Float64Histogram
	attempts        metric.Int64Histogram

	completed atomic.Int64
	total     atomic.Int64
	errors    atomic.Int64
	state     atomic.Int32

	registration metric.Registration
	closeOnce    sync.Once
	closeErr     error
}

// NewMetricsListener creates the instruments on a meter named after the tool.
func NewMetricsListener(mp metric.MeterProvider) (*MetricsListener, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(MetricsListener)
	var err error

	if m.results, err = meter.Int64Counter(
		"results_total",
		metric.WithDescription("Total number of non-learning results by status code"),
	); err != nil {
		return nil, err
	}

	if m.interesting, err = meter.Int64Counter(
		"interesting_results_total",
		metric.WithDescription("Total number of results classified as interesting"),
	); err != nil {
		return nil, err
	}

	if m.failures, err = meter.Int64Counter(
		"failed_requests_total",
		metric.WithDescription("Total number of requests that failed after every retry"),
	); err != nil {
		return nil, err
	}

	if m.transitions, err = meter.Int64Counter(
		"state_transitions_total",
		metric.WithDescription("Total number of engine state transitions by target state"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"request_duration_seconds",
		metric.WithDescription("Time spent on a request including retries"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.attempts, err = meter.Int64Histogram(
		"request_attempts",
		metric.WithDescription("Number of attempts needed per request"),
	); err != nil {
		return nil, err
	}

	completed, err := meter.Int64ObservableGauge(
		"tasks_completed",
		metric.WithDescription("Tasks completed in the current scan"),
	)
	if err != nil {
		return nil, err
	}
	total, err := meter.Int64ObservableGauge(
		"tasks_total",
		metric.WithDescription("Tasks submitted in the current scan"),
	)
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64ObservableGauge(
		"tasks_errors",
		metric.WithDescription("Tasks failed in the current scan"),
	)
	if err != nil {
		return nil, err
	}
	state, err := meter.Int64ObservableGauge(
		"engine_state",
		metric.WithDescription("Current engine state as its numeric value"),
	)
	if err != nil {
		return nil, err
	}

	m.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(completed, m.completed.Load())
		o.ObserveInt64(total, m.total.Load())
		o.ObserveInt64(errs, m.errors.Load())
		o.ObserveInt64(state, int64(m.state.Load()))
		return nil
	}, completed, total, errs, state)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MetricsListener) OnStateChanged(engineID int64, s core.FuzzerState) {
	m.state.Store(int32(s))
	m.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.Int64("engine.id", engineID),
		attribute.String("state", s.String()),
	))
}

func (m *MetricsListener) OnResultAdded(engineID int64, r *core.Result, interesting bool) {
	ctx := context.Background()
	engine := attribute.Int64("engine.id", engineID)

	if r.Failed() {
		m.failures.Add(ctx, 1, metric.WithAttributes(engine))
	}
	m.results.Add(ctx, 1, metric.WithAttributes(engine, attribute.String("status", strconv.Itoa(r.StatusCode()))))
	if interesting {
		m.interesting.Add(ctx, 1, metric.WithAttributes(engine))
	}
	m.requestDuration.Record(ctx, r.Elapsed.Seconds(), metric.WithAttributes(engine))
	m.attempts.Record(ctx, int64(r.Attempts), metric.WithAttributes(engine))
}

func (m *MetricsListener) OnCountersUpdated(_ int64, completed, total, errors int64) {
	m.completed.Store(completed)
	m.total.Store(total)
	m.errors.Store(errors)
}

// OnFuzzerDisposed stops observing the gauges.
func (m *MetricsListener) OnFuzzerDisposed(int64) {
	_ = m.Close()
}

// Close unregisters the gauge callback. It is safe to call more than once.
func (m *MetricsListener) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.registration.Unregister()
	})
	return m.closeErr
}
