package amqp

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

//go:generate mockgen --build_flags=--mod=mod -destination mock_test.go -package amqp . AmqpChannel,AmqpConnection

type AmqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type AmqpConnection interface {
	Channel() (AmqpChannel, error)
	Close() error
	IsClosed() bool
}

func dialAmqp(url string) (AmqpConnection, error) {
	conn, err := amqp.Dial(url)

	if err != nil {
		return nil, err
	}

	return &amqpConnection{conn: conn}, nil
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (AmqpChannel, error) {
	ch, err := c.conn.Channel()

	if err != nil {
		return nil, err
	}

	return ch, nil
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}

func (c *amqpConnection) IsClosed() bool {
	return c.conn.IsClosed()
}
