package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher publishes events to a RabbitMQ topic exchange, using the
// event topic as the routing key and waiting for publisher confirms.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       confirmChannel
	exchange string
}

// confirmation is the broker's answer for one published message.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type confirmChannel interface {
	publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error)
	Close() error
}

// deferredChannel tracks a confirmation per delivery tag, so an abandoned wait
// never leaks into the next publish.
type deferredChannel struct {
	*amqp.Channel
}

func (c deferredChannel) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	dc, err := c.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errors.New("channel is not in confirm mode")
	}
	return dc, nil
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("confirm mode: %w", err)
	}

	return &AMQPPublisher{conn: conn, ch: deferredChannel{ch}, exchange: exchange}, nil
}

var _ Publisher = (*AMQPPublisher)(nil)

// Publish sends a persistent message and waits for the broker's ack of that
// message.
func (p *AMQPPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	conf, err := p.ch.publish(ctx, p.exchange, topic, amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   "application/json",
		MessageId:     uuid.NewString(),
		CorrelationId: key,
		Timestamp:     time.Now().UTC(),
		Body:          payload,
	})
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", p.exchange, topic, err)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for %s/%s: %w", p.exchange, topic, err)
	}
	if !acked {
		return errors.New("publish NACK from broker")
	}
	return nil
}

// Close shuts down the channel and connection.
func (p *AMQPPublisher) Close() error {
	chErr := p.ch.Close()
	var connErr error
	if p.conn != nil {
		connErr = p.conn.Close()
	}
	return errors.Join(chErr, connErr)
}
