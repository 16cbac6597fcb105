package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/electra-analytics/electra"
)

// Metrics holds the OpenTelemetry instruments of the session core.
type Metrics struct {
	// Refresh coordination
	RefreshTotal        metric.Int64Counter
	RefreshErrorsTotal  metric.Int64Counter
	RefreshWaitersTotal metric.Int64Counter
	RefreshDuration     metric.Float64Histogram
	ForcedLogoutTotal   metric.Int64Counter

	// Session lifecycle
	LoginTotal       metric.Int64Counter
	LoginErrorsTotal metric.Int64Counter
	RestoreTotal     metric.Int64Counter

	// Route guard
	GuardDecisionsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
// Instruments are created against the global meter provider, so they start
// exporting once InitTelemetry installs one.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.RefreshTotal, _ = meter.Int64Counter(
		"electra.auth.refresh.total",
		metric.WithDescription("Total number of token refresh calls issued to the backend"),
		metric.WithUnit("{call}"),
	)

	m.RefreshErrorsTotal, _ = meter.Int64Counter(
		"electra.auth.refresh.errors.total",
		metric.WithDescription("Total number of failed token refresh calls"),
		metric.WithUnit("{error}"),
	)

	m.RefreshWaitersTotal, _ = meter.Int64Counter(
		"electra.auth.refresh.waiters.total",
		metric.WithDescription("Total number of requests parked on an in-flight refresh"),
		metric.WithUnit("{request}"),
	)

	m.RefreshDuration, _ = meter.Float64Histogram(
		"electra.auth.refresh.duration",
		metric.WithDescription("Duration of token refresh calls"),
		metric.WithUnit("ms"),
	)

	m.ForcedLogoutTotal, _ = meter.Int64Counter(
		"electra.auth.forced_logout.total",
		metric.WithDescription("Total number of sessions ended by an unrecoverable 401"),
		metric.WithUnit("{session}"),
	)

	m.LoginTotal, _ = meter.Int64Counter(
		"electra.auth.login.total",
		metric.WithDescription("Total number of login attempts"),
		metric.WithUnit("{attempt}"),
	)

	m.LoginErrorsTotal, _ = meter.Int64Counter(
		"electra.auth.login.errors.total",
		metric.WithDescription("Total number of failed login attempts"),
		metric.WithUnit("{error}"),
	)

	m.RestoreTotal, _ = meter.Int64Counter(
		"electra.auth.restore.total",
		metric.WithDescription("Total number of session restorations run"),
		metric.WithUnit("{restore}"),
	)

	m.GuardDecisionsTotal, _ = meter.Int64Counter(
		"electra.guard.decisions.total",
		metric.WithDescription("Route guard decisions by outcome"),
		metric.WithUnit("{decision}"),
	)

	return m
}
