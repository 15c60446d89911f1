// Package amqp pushes appended events to a RabbitMQ topic exchange for
// services that consume push-style instead of polling the stream store.
package amqp

import (
	"context"
	"fmt"

	"github.com/openlims/labbus/log"
	"github.com/openlims/labbus/stream"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

type relayOpts struct {
	durable    bool
	autoDelete bool
}

type RelayOption func(o *relayOpts)

func WithDurableExchange() RelayOption {
	return func(o *relayOpts) {
		o.durable = true
	}
}

func WithAutoDelete() RelayOption {
	return func(o *relayOpts) {
		o.autoDelete = true
	}
}

// NewRelay returns a stream.Relay publishing to a topic exchange with routing
// key "<stream>.<event_type>". Connect must be called before first use.
func NewRelay(url, exchange string, logger log.Logger, options ...RelayOption) *Relay {
	opts := &relayOpts{durable: true}

	for _, o := range options {
		if o != nil {
			o(opts)
		}
	}

	return &Relay{url: url, exchange: exchange, logger: logger, opts: opts, dial: dialAmqp}
}

type Relay struct {
	url      string
	exchange string
	logger   log.Logger
	opts     *relayOpts
	dial     func(url string) (AmqpConnection, error)

	connection        AmqpConnection
	publishingChannel AmqpChannel
}

func (r *Relay) Connect(ctx context.Context) error {
	conn, err := r.dial(r.url)

	if err != nil {
		return errors.Wrapf(err, "dialing %s", r.url)
	}

	publishingChannel, err := conn.Channel()

	if err != nil {
		return errors.WithStack(err)
	}

	if err := publishingChannel.ExchangeDeclare(
		r.exchange,
		"topic",
		r.opts.durable,
		r.opts.autoDelete,
		false,
		false,
		nil,
	); err != nil {
		return errors.Wrapf(err, "declaring exchange %s", r.exchange)
	}

	r.connection = conn
	r.publishingChannel = publishingChannel

	r.logger.Logf(log.InfoLevel, "amqp relay connected, exchange %s", r.exchange)

	return nil
}

func (r *Relay) Relay(ctx context.Context, ev *stream.Event) error {
	if err := r.checkConnection(); err != nil {
		return errors.WithStack(err)
	}

	body, err := ev.MarshalBinary()

	if err != nil {
		return errors.Wrapf(err, "encoding event %s", ev.ID)
	}

	if err := r.publishingChannel.PublishWithContext(
		ctx,
		r.exchange,
		fmt.Sprintf("%s.%s", ev.Stream, ev.Type),
		false,
		false,
		amqp.Publishing{
			ContentType:   "application/json",
			MessageId:     ev.ID,
			CorrelationId: ev.CorrelationID,
			Type:          ev.Type,
			Body:          body,
		},
	); err != nil {
		return errors.Wrapf(err, "relaying event %s to exchange %s", ev.ID, r.exchange)
	}

	return nil
}

func (r *Relay) Disconnect(ctx context.Context) error {
	if r.connection == nil || r.publishingChannel == nil {
		return nil
	}

	if err := r.publishingChannel.Close(); err != nil {
		return errors.Wrap(err, "error closing publishing channel")
	}

	if err := r.connection.Close(); err != nil {
		return errors.Wrap(err, "error closing connection")
	}

	return nil
}

func (r *Relay) checkConnection() error {
	if r.connection == nil {
		return errors.Errorf("connection wasn't established. Use Connect first")
	}

	return nil
}
