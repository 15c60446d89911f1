package stream

import (
	"context"

	"github.com/openlims/labbus/log"
	"github.com/pkg/errors"
)

// Relay mirrors appended events to an additional delivery channel, e.g. an
// AMQP exchange for services that consume push-style. Relay failures never
// fail the publish, the stream store stays the source of truth.
type Relay interface {
	Relay(ctx context.Context, ev *Event) error
}

// Publisher validates and appends events to streams
type Publisher interface {
	// Publish appends an event to streamName and returns the persisted event
	// including its assigned id and sequence number. Returns UnknownStreamError
	// if the stream is not registered or inactive.
	Publish(ctx context.Context, streamName, eventType string, payload map[string]interface{}, options ...EventOption) (*Event, error)
}

type publisherOpts struct {
	relays []Relay
}

type PublisherOption func(o *publisherOpts)

// WithRelay attaches a push-delivery relay to the publisher
func WithRelay(relay Relay) PublisherOption {
	return func(o *publisherOpts) {
		o.relays = append(o.relays, relay)
	}
}

func NewPublisher(registry *Registry, store Store, logger log.Logger, options ...PublisherOption) Publisher {
	opts := &publisherOpts{}

	for _, o := range options {
		if o != nil {
			o(opts)
		}
	}

	return &publisher{registry: registry, store: store, logger: logger, relays: opts.relays}
}

type publisher struct {
	registry *Registry
	store    Store
	logger   log.Logger
	relays   []Relay
}

func (p *publisher) Publish(ctx context.Context, streamName, eventType string, payload map[string]interface{}, options ...EventOption) (*Event, error) {
	def, err := p.registry.Get(streamName)

	if err != nil {
		return nil, errors.Wrapf(err, "publishing event %s", eventType)
	}

	if !def.Active {
		return nil, WithUnknownStreamErr(errors.Errorf("stream %s is inactive", streamName))
	}

	if eventType == "" {
		return nil, errors.New("event type is empty")
	}

	ev := NewEvent(streamName, eventType, payload, options...)

	appended, err := p.store.Append(ctx, ev)

	if err != nil {
		return nil, errors.Wrapf(err, "appending event %s to stream %s", ev.ID, streamName)
	}

	p.logger.WithFields(log.Fields{"eventId": appended.ID, "stream": streamName}).
		Logf(log.DebugLevel, "published %s with sequence %d", appended.Type, appended.SequenceNumber)

	for _, relay := range p.relays {
		if err := relay.Relay(ctx, appended); err != nil {
			p.logger.Logf(log.ErrorLevel, "relaying event %s: %s", appended.ID, err)
		}
	}

	return appended, nil
}
