// Package otelexport bridges the internal counter set into OpenTelemetry
// observable instruments. Collection pulls a snapshot; nothing is pushed
// on the hot path.
package otelexport

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/coverbridge/auth-service/internal/metrics"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is what the exporter reads at collection time. The audit-dropped
// count rides along so backpressure loss is visible without a counter slot.
type Source interface {
	TakeSnapshot() metrics.Snapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         metrics.MetricID
	instrument metric.Int64ObservableCounter
}

// Exporter owns the instrument registration. Close unregisters it.
type Exporter struct {
	source       Source
	registration metric.Registration
	counters     []observedCounter
	auditDropped metric.Int64ObservableCounter
}

// New registers one observable counter per metric definition plus the
// audit-dropped counter on the given meter.
func New(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	defs := metrics.Defs()
	e := &Exporter{
		source:   source,
		counters: make([]observedCounter, 0, len(defs)),
	}
	observables := make([]metric.Observable, 0, len(defs)+1)

	for _, def := range defs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		"auth_audit_dropped_total",
		metric.WithDescription("Audit events dropped by emitter backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	e.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := e.source.TakeSnapshot()
		for _, c := range e.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
		observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	e.registration = registration
	return e, nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
