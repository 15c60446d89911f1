// Package observability exposes OpenTelemetry counters for the bus. All
// methods are safe on a nil *Metrics, so instrumentation stays optional.
package observability

import (
	"context"

	"github.com/openlims/labbus/stream"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	eventsPublished  metric.Int64Counter
	handlerFailures  metric.Int64Counter
	retriesScheduled metric.Int64Counter
	deadLetters      metric.Int64Counter
	sagasCompleted   metric.Int64Counter
	sagasCompensated metric.Int64Counter
	sagasFailed      metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	if m.eventsPublished, err = meter.Int64Counter("labbus.events.published",
		metric.WithDescription("Events appended to streams")); err != nil {
		return nil, errors.Wrap(err, "creating events published counter")
	}

	if m.handlerFailures, err = meter.Int64Counter("labbus.handler.failures",
		metric.WithDescription("Handler invocations that returned an error")); err != nil {
		return nil, errors.Wrap(err, "creating handler failures counter")
	}

	if m.retriesScheduled, err = meter.Int64Counter("labbus.retries.scheduled",
		metric.WithDescription("Processing rows scheduled for redelivery")); err != nil {
		return nil, errors.Wrap(err, "creating retries counter")
	}

	if m.deadLetters, err = meter.Int64Counter("labbus.deadletters",
		metric.WithDescription("Processing rows parked in dead_letter")); err != nil {
		return nil, errors.Wrap(err, "creating dead letters counter")
	}

	if m.sagasCompleted, err = meter.Int64Counter("labbus.sagas.completed",
		metric.WithDescription("Sagas that finished all steps")); err != nil {
		return nil, errors.Wrap(err, "creating sagas completed counter")
	}

	if m.sagasCompensated, err = meter.Int64Counter("labbus.sagas.compensated",
		metric.WithDescription("Sagas rolled back successfully")); err != nil {
		return nil, errors.Wrap(err, "creating sagas compensated counter")
	}

	if m.sagasFailed, err = meter.Int64Counter("labbus.sagas.failed",
		metric.WithDescription("Sagas whose compensation failed")); err != nil {
		return nil, errors.Wrap(err, "creating sagas failed counter")
	}

	return m, nil
}

// Relay makes *Metrics usable as a stream.Relay so the publisher counts
// appended events without knowing about metrics.
func (m *Metrics) Relay(ctx context.Context, ev *stream.Event) error {
	m.EventPublished(ctx, ev.Stream)
	return nil
}

func (m *Metrics) EventPublished(ctx context.Context, streamName string) {
	if m == nil {
		return
	}

	m.eventsPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("stream", streamName)))
}

func (m *Metrics) HandlerFailed(ctx context.Context, handlerID string) {
	if m == nil {
		return
	}

	m.handlerFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("handler", handlerID)))
}

func (m *Metrics) RetryScheduled(ctx context.Context, handlerID string) {
	if m == nil {
		return
	}

	m.retriesScheduled.Add(ctx, 1, metric.WithAttributes(attribute.String("handler", handlerID)))
}

func (m *Metrics) DeadLettered(ctx context.Context, handlerID string) {
	if m == nil {
		return
	}

	m.deadLetters.Add(ctx, 1, metric.WithAttributes(attribute.String("handler", handlerID)))
}

func (m *Metrics) SagaCompleted(ctx context.Context, definition string) {
	if m == nil {
		return
	}

	m.sagasCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("definition", definition)))
}

func (m *Metrics) SagaCompensated(ctx context.Context, definition string) {
	if m == nil {
		return
	}

	m.sagasCompensated.Add(ctx, 1, metric.WithAttributes(attribute.String("definition", definition)))
}

func (m *Metrics) SagaFailed(ctx context.Context, definition string) {
	if m == nil {
		return
	}

	m.sagasFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("definition", definition)))
}
