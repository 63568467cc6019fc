package broker

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	v1 "github.com/aevon-lab/report-core/internal/api/v1"
)

// Publisher sends envelopes to the topic exchange with the event type as routing key.
// Used by tests and replay tooling; upstream services publish on their own.
type Publisher struct {
	ch       *amqp.Channel
	exchange string
}

// Dial opens a dedicated connection for publishing and declares the exchange
// with the same arguments the consumer uses. Close the returned connection on shutdown.
func Dial(url, exchange string) (*Publisher, *amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	p := NewPublisher(ch, exchange)
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	return p, conn, nil
}

func NewPublisher(ch *amqp.Channel, exchange string) *Publisher {
	if exchange == "" {
		exchange = "events"
	}
	return &Publisher{ch: ch, exchange: exchange}
}

func (p *Publisher) Publish(ctx context.Context, env *v1.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, string(env.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.EventID.String(),
		Timestamp:    env.Timestamp,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", env.EventID, err)
	}
	return nil
}

// PublishRaw sends body unchanged under routingKey, for replaying dead letters.
func (p *Publisher) PublishRaw(ctx context.Context, routingKey string, body []byte) error {
	err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish raw %s: %w", routingKey, err)
	}
	return nil
}
