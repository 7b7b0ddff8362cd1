package document

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"planstore/internal/planstore"
)

type docMetrics struct {
	unlockedWrites      metric.Int64Counter
	integrityMismatches metric.Int64Counter
}

func newDocMetrics(mp metric.MeterProvider, logger planstore.Logger) *docMetrics {
	meter := mp.Meter("planstore/document")
	m := &docMetrics{}
	var err error

	m.unlockedWrites, err = meter.Int64Counter(
		"planstore.document.unlocked_writes",
		metric.WithDescription("Document writes performed without the cross-process lock"),
	)
	if err != nil {
		logger.Warn("metric init failed", "name", "planstore.document.unlocked_writes", "error", err)
	}

	m.integrityMismatches, err = meter.Int64Counter(
		"planstore.document.integrity_mismatches",
		metric.WithDescription("Reads whose primary failed digest or parse checks"),
	)
	if err != nil {
		logger.Warn("metric init failed", "name", "planstore.document.integrity_mismatches", "error", err)
	}
	return m
}

func (m *docMetrics) recordUnlocked(name string) {
	if m.unlockedWrites == nil {
		return
	}
	m.unlockedWrites.Add(context.Background(), 1, metric.WithAttributes(attribute.String("planstore.document", name)))
}

func (m *docMetrics) recordMismatch(name, reason string) {
	if m.integrityMismatches == nil {
		return
	}
	m.integrityMismatches.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("planstore.document", name),
		attribute.String("reason", reason),
	))
}
