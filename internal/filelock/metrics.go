package filelock

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"planstore/internal/planstore"
)

type lockMetrics struct {
	reclaimed   metric.Int64Counter
	unavailable metric.Int64Counter
}

func newLockMetrics(mp metric.MeterProvider, logger planstore.Logger) *lockMetrics {
	meter := mp.Meter("planstore/filelock")
	m := &lockMetrics{}
	var err error

	m.reclaimed, err = meter.Int64Counter(
		"planstore.lock.reclaimed",
		metric.WithDescription("Stale advisory locks reclaimed from a presumed-dead holder"),
	)
	logMetricInitError(logger, "planstore.lock.reclaimed", err)

	m.unavailable, err = meter.Int64Counter(
		"planstore.lock.unavailable",
		metric.WithDescription("Lock acquisitions that exhausted their retry budget"),
	)
	logMetricInitError(logger, "planstore.lock.unavailable", err)

	return m
}

func (m *lockMetrics) recordReclaim(profile string) {
	if m == nil || m.reclaimed == nil {
		return
	}
	m.reclaimed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("planstore.lock.profile", profile)))
}

func (m *lockMetrics) recordUnavailable(profile string) {
	if m == nil || m.unavailable == nil {
		return
	}
	m.unavailable.Add(context.Background(), 1, metric.WithAttributes(attribute.String("planstore.lock.profile", profile)))
}

func logMetricInitError(logger planstore.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("metric init failed", "name", name, "error", err)
}
