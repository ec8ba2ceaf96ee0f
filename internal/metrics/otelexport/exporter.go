// Package otelexport publishes the engine counters as OpenTelemetry
// observable counters, read on each collection.
package otelexport

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/arthurh0812/natours-identity/internal/metrics"
)

var (
	ErrNilMeter  = errors.New("otelexport: nil meter")
	ErrNilSource = errors.New("otelexport: nil metrics source")
)

// Source is satisfied by *identity.Engine.
type Source interface {
	MetricsSnapshot() metrics.Snapshot
	AuditDropped() uint64
}

type observed struct {
	id         metrics.ID
	instrument metric.Int64ObservableCounter
}

// Exporter holds the callback registration. Close unregisters it.
type Exporter struct {
	registration metric.Registration
}

// Register creates one observable counter per engine counter on meter.
func Register(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	ids := metrics.All()
	counters := make([]observed, 0, len(ids))
	observables := make([]metric.Observable, 0, len(ids)+1)
	for _, id := range ids {
		ins, err := meter.Int64ObservableCounter(id.String(), metric.WithDescription(id.Help()))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", id, err)
		}
		counters = append(counters, observed{id: id, instrument: ins})
		observables = append(observables, ins)
	}

	dropped, err := meter.Int64ObservableCounter(metrics.AuditDroppedName, metric.WithDescription(metrics.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", metrics.AuditDroppedName, err)
	}
	observables = append(observables, dropped)

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := source.MetricsSnapshot()
		for _, c := range counters {
			o.ObserveInt64(c.instrument, int64(snap[c.id]))
		}
		o.ObserveInt64(dropped, int64(source.AuditDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return &Exporter{registration: reg}, nil
}

func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
