package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const InstrumentationName = "leadcall/internal/usecase"

// Metrics counts orchestrator transitions and dispositions.
type Metrics struct {
	transitions metric.Int64Counter
	events      metric.Int64Counter
}

// NewMetrics uses the global meter provider when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.transitions, err = meter.Int64Counter(
		"leadcall.task.transitions.total",
		metric.WithDescription("Call task status transitions, labeled by target status and classified reason"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	m.events, err = meter.Int64Counter(
		"leadcall.events.total",
		metric.WithDescription("Inbound events handled, labeled by kind and outcome"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) Transition(ctx context.Context, status, category string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("category", category),
	))
}

func (m *Metrics) Event(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	m.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}
