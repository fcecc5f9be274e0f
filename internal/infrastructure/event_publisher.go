package infrastructure

import (
	"commercebot/internal/interfaces"
	"commercebot/internal/logger"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

const DefaultEventsExchange = "commercebot.events"

type EventMeta struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Envelope struct {
	Meta EventMeta `json:"meta"`
	Data any       `json:"data"`
}

func newEnvelope(routingKey string, data any, now time.Time) Envelope {
	return Envelope{
		Meta: EventMeta{ID: uuid.NewString(), Type: routingKey, OccurredAt: now.UTC()},
		Data: data,
	}
}

// AMQPPublisher publishes JSON envelopes to a durable topic exchange.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
}

var _ interfaces.EventPublisher = (*AMQPPublisher)(nil)

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultEventsExchange
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp: channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp: declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	env := newEnvelope(routingKey, event, time.Now())
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("amqp: encode %s: %w", routingKey, err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp: channel: %w", err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    env.Meta.ID,
		Timestamp:    env.Meta.OccurredAt,
		Type:         routingKey,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqp: publish %s: %w", routingKey, err)
	}
	logger.WithModule("events").WithField("key", routingKey).Debug("published")
	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}

// NoopPublisher drops events; used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }
