package consumer

import (
	"context"

	"github.com/openlims/labbus/handler"
	"github.com/openlims/labbus/log"
	"github.com/openlims/labbus/observability"
	"github.com/openlims/labbus/retry"
	"github.com/openlims/labbus/stream"
	"github.com/pkg/errors"
)

// Processor runs all matching handlers for a delivered event and records
// every attempt in the processing tracker. A handler error never bubbles out
// of Process: it becomes a retrying or dead_letter row. Process itself errors
// only when an outcome could not be recorded, in which case the event must
// not be acked.
type Processor interface {
	Process(ctx context.Context, ev *stream.Event) error
	// Invoke redelivers the event to a single handler, used by the retry scheduler
	Invoke(ctx context.Context, ev *stream.Event, handlerID string) error
}

type processorOpts struct {
	metrics *observability.Metrics
}

type ProcessorOption func(o *processorOpts)

func WithProcessorMetrics(metrics *observability.Metrics) ProcessorOption {
	return func(o *processorOpts) {
		o.metrics = metrics
	}
}

func NewProcessor(handlers *handler.Registry, tracker *retry.Tracker, logger log.Logger, options ...ProcessorOption) Processor {
	opts := &processorOpts{}

	for _, o := range options {
		if o != nil {
			o(opts)
		}
	}

	return &processor{handlers: handlers, tracker: tracker, logger: logger, metrics: opts.metrics}
}

type processor struct {
	handlers *handler.Registry
	tracker  *retry.Tracker
	logger   log.Logger
	metrics  *observability.Metrics
}

func (p *processor) Process(ctx context.Context, ev *stream.Event) error {
	regs := p.handlers.ForStream(ev.Stream)

	if len(regs) == 0 {
		p.logger.Logf(log.WarnLevel, "no handlers registered for stream %s, acking event %s unprocessed", ev.Stream, ev.ID)
		return nil
	}

	for _, reg := range regs {
		if !reg.Filter.Matches(ev) {
			continue
		}

		if err := p.invoke(ctx, ev, reg); err != nil {
			return errors.Wrapf(err, "processing event %s with handler %s", ev.ID, reg.ID)
		}
	}

	return nil
}

func (p *processor) Invoke(ctx context.Context, ev *stream.Event, handlerID string) error {
	reg, err := p.handlers.Get(handlerID)

	if err != nil {
		return errors.Wrapf(err, "redelivering event %s", ev.ID)
	}

	// deactivated handlers receive no redeliveries either; the row stays due
	// and is picked up again once the handler is reactivated
	if !reg.Active {
		p.logger.Logf(log.DebugLevel, "handler %s is inactive, skipping redelivery of event %s", reg.ID, ev.ID)
		return nil
	}

	return p.invoke(ctx, ev, reg)
}

func (p *processor) invoke(ctx context.Context, ev *stream.Event, reg *handler.Registration) error {
	proc, err := p.tracker.Begin(ctx, ev.ID, reg.ID, ev.Stream, ev.SequenceNumber)

	if err != nil {
		// duplicate delivery of a pair that already finished, safe to ack
		if retry.IsAlreadyTerminalErr(err) {
			p.logger.Logf(log.DebugLevel, "event %s already finished for handler %s, skipping", ev.ID, reg.ID)
			return nil
		}

		return errors.WithStack(err)
	}

	proc.Priority = reg.Priority

	handlerErr := reg.Handle(ctx, ev)

	if handlerErr == nil {
		if err := p.tracker.Complete(ctx, proc); err != nil {
			return errors.WithStack(err)
		}

		p.logger.Logf(log.DebugLevel, "handler %s completed event %s on attempt %d", reg.ID, ev.ID, proc.AttemptCount)

		return nil
	}

	p.metrics.HandlerFailed(ctx, reg.ID)

	status, err := p.tracker.Failure(ctx, proc, handlerErr, reg.Policy)

	if err != nil {
		return errors.WithStack(err)
	}

	switch status {
	case retry.StatusDeadLetter:
		p.metrics.DeadLettered(ctx, reg.ID)
		p.logger.WithFields(log.Fields{"eventId": ev.ID, "handler": reg.ID}).
			Logf(log.ErrorLevel, "dead lettered after %d attempts: %s", proc.AttemptCount, handlerErr)
	default:
		p.metrics.RetryScheduled(ctx, reg.ID)
		p.logger.WithFields(log.Fields{"eventId": ev.ID, "handler": reg.ID}).
			Logf(log.WarnLevel, "attempt %d failed, retrying at %s: %s", proc.AttemptCount, proc.NextRetryAt, handlerErr)
	}

	return nil
}
