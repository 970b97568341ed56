package orchestration

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/attpc/conductor/internal/domain/daq"
)

// ControlMetrics defines the metrics operations the control plane records.
type ControlMetrics interface {
	// Transition metrics.
	IncOperationsSubmitted(ctx context.Context, op daq.ControlOperation)
	IncWaitTimeouts(ctx context.Context)
	IncInvalidTransitions(ctx context.Context)

	// Run lifecycle metrics.
	IncRunsStarted(ctx context.Context)
	IncRunsCompleted(ctx context.Context)
	ObserveRunDuration(ctx context.Context, duration time.Duration)
}

// controlMetrics implements ControlMetrics over an otel meter.
type controlMetrics struct {
	operationsSubmitted metric.Int64Counter
	waitTimeouts        metric.Int64Counter
	invalidTransitions  metric.Int64Counter

	runsStarted   metric.Int64Counter
	runsCompleted metric.Int64Counter
	runDuration   metric.Float64Histogram
}

const namespace = "conductor"

// NewControlMetrics creates the control-plane metrics instruments.
func NewControlMetrics(mp metric.MeterProvider) (ControlMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	c := new(controlMetrics)
	var err error

	if c.operationsSubmitted, err = meter.Int64Counter(
		"operations_submitted_total",
		metric.WithDescription("Total number of transition operations submitted to modules"),
	); err != nil {
		return nil, err
	}

	if c.waitTimeouts, err = meter.Int64Counter(
		"wait_timeouts_total",
		metric.WithDescription("Total number of blocking waits that hit their deadline"),
	); err != nil {
		return nil, err
	}

	if c.invalidTransitions, err = meter.Int64Counter(
		"invalid_transitions_total",
		metric.WithDescription("Total number of sweeps rejected for lack of a valid transition"),
	); err != nil {
		return nil, err
	}

	if c.runsStarted, err = meter.Int64Counter(
		"runs_started_total",
		metric.WithDescription("Total number of data-taking runs started"),
	); err != nil {
		return nil, err
	}

	if c.runsCompleted, err = meter.Int64Counter(
		"runs_completed_total",
		metric.WithDescription("Total number of data-taking runs stopped cleanly"),
	); err != nil {
		return nil, err
	}

	if c.runDuration, err = meter.Float64Histogram(
		"run_duration_seconds",
		metric.WithDescription("Duration of completed data-taking runs"),
	); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *controlMetrics) IncOperationsSubmitted(ctx context.Context, op daq.ControlOperation) {
	c.operationsSubmitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op.String()),
	))
}

func (c *controlMetrics) IncWaitTimeouts(ctx context.Context) {
	c.waitTimeouts.Add(ctx, 1)
}

func (c *controlMetrics) IncInvalidTransitions(ctx context.Context) {
	c.invalidTransitions.Add(ctx, 1)
}

func (c *controlMetrics) IncRunsStarted(ctx context.Context) {
	c.runsStarted.Add(ctx, 1)
}

func (c *controlMetrics) IncRunsCompleted(ctx context.Context) {
	c.runsCompleted.Add(ctx, 1)
}

func (c *controlMetrics) ObserveRunDuration(ctx context.Context, duration time.Duration) {
	c.runDuration.Record(ctx, duration.Seconds())
}

// NoopMetrics discards every measurement. Useful for tests and for running
// without a metrics backend.
type NoopMetrics struct{}

func (NoopMetrics) IncOperationsSubmitted(context.Context, daq.ControlOperation) {}
func (NoopMetrics) IncWaitTimeouts(context.Context)                              {}
func (NoopMetrics) IncInvalidTransitions(context.Context)                        {}
func (NoopMetrics) IncRunsStarted(context.Context)                               {}
func (NoopMetrics) IncRunsCompleted(context.Context)                             {}
func (NoopMetrics) ObserveRunDuration(context.Context, time.Duration)            {}
