// Package broker consumes events from the AMQP topic exchange and feeds them
// to the dispatcher through a bounded worker pool.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/aevon-lab/report-core/internal/core/config"
	"github.com/aevon-lab/report-core/internal/dispatcher"
	"github.com/aevon-lab/report-core/internal/metrics"
)

const heartbeat = 10 * time.Second

// errConsumerClosed is returned when the broker cancels the delivery stream.
var errConsumerClosed = errors.New("delivery channel closed")

// Dispatcher decides how each delivery is acknowledged. *dispatcher.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg dispatcher.Message) dispatcher.Decision
}

// Consumer holds one logical connection to the broker. Deliveries are pushed
// into a bounded channel read by WorkerCount workers; a full channel stops the
// pump, and the prefetch window stops the broker.
type Consumer struct {
	cfg        config.BrokerConfig
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	dial       func(url string, cfg amqp.Config) (*amqp.Connection, error)
}

func NewConsumer(cfg config.BrokerConfig, d Dispatcher, m *metrics.Metrics) *Consumer {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.ChannelBufferSize < 0 {
		cfg.ChannelBufferSize = 0
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "events"
	}
	return &Consumer{cfg: cfg, dispatcher: d, metrics: m, dial: amqp.DialConfig}
}

// Run consumes until ctx is cancelled, reconnecting with exponential backoff
// whenever the connection or channel is lost. Unacknowledged deliveries of a
// lost connection are redelivered by the broker.
func (c *Consumer) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	if c.cfg.ReconnectMaxInterval > 0 {
		bo.MaxInterval = c.cfg.ReconnectMaxInterval
	}

	for {
		err := c.session(ctx, bo.Reset)
		if ctx.Err() != nil {
			slog.Info("[Broker] Consumer stopped")
			return nil
		}

		wait := bo.NextBackOff()
		c.metrics.BrokerReconnect()
		slog.Warn("[Broker] Connection lost, reconnecting", "error", err, "retry_in", wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			slog.Info("[Broker] Consumer stopped")
			return nil
		}
	}
}

// session runs one connection until it fails or ctx is cancelled.
// connected is called once the delivery stream is open.
func (c *Consumer) session(ctx context.Context, connected func()) error {
	conn, err := c.dial(c.cfg.URL, amqp.Config{
		Heartbeat: heartbeat,
		Dial:      amqp.DefaultDial(c.operationTimeout()),
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	queue, err := c.declare(ch)
	if err != nil {
		return err
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}
	connected()
	slog.Info("[Broker] Consuming",
		"exchange", c.cfg.Exchange,
		"queue", queue,
		"bindings", c.cfg.Bindings,
		"prefetch", c.cfg.Prefetch,
		"workers", c.cfg.WorkerCount,
	)

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	return c.serve(ctx, deliveries, closed)
}

// declare sets up the topology and returns the queue to consume from.
func (c *Consumer) declare(ch *amqp.Channel) (string, error) {
	if err := ch.ExchangeDeclare(c.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("declare exchange %s: %w", c.cfg.Exchange, err)
	}

	var (
		q   amqp.Queue
		err error
	)
	if c.cfg.Queue == "" {
		// One exclusive, server-named queue per process instance.
		q, err = ch.QueueDeclare("", false, true, true, false, nil)
	} else {
		q, err = ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil)
	}
	if err != nil {
		return "", fmt.Errorf("declare queue: %w", err)
	}

	for _, pattern := range c.cfg.Bindings {
		if err := ch.QueueBind(q.Name, pattern, c.cfg.Exchange, false, nil); err != nil {
			return "", fmt.Errorf("bind %s to %s: %w", q.Name, pattern, err)
		}
	}

	if c.cfg.Prefetch > 0 {
		if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
			return "", fmt.Errorf("set prefetch: %w", err)
		}
	}
	return q.Name, nil
}

// serve pumps deliveries into the worker pool until the stream ends, the
// connection closes or ctx is cancelled, then waits for the workers.
func (c *Consumer) serve(ctx context.Context, deliveries <-chan amqp.Delivery, closed <-chan *amqp.Error) error {
	jobs := make(chan amqp.Delivery, c.cfg.ChannelBufferSize)

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				c.settle(ctx, d)
			}
		}()
	}

	err := c.pump(ctx, deliveries, closed, jobs)
	close(jobs)
	wg.Wait()
	return err
}

func (c *Consumer) pump(ctx context.Context, deliveries <-chan amqp.Delivery, closed <-chan *amqp.Error, jobs chan<- amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				return errConsumerClosed
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return errConsumerClosed
			}
			select {
			case jobs <- d:
			case <-ctx.Done():
				// Not handed to a worker; the broker redelivers it.
				_ = d.Nack(false, true)
				return ctx.Err()
			}
		}
	}
}

// settle dispatches one delivery and acknowledges it as decided.
func (c *Consumer) settle(ctx context.Context, d amqp.Delivery) {
	if ctx.Err() != nil {
		if err := d.Nack(false, true); err != nil {
			slog.Debug("[Broker] Requeue on shutdown failed", "delivery_tag", d.DeliveryTag, "error", err)
		}
		return
	}

	decision := c.dispatcher.Dispatch(ctx, dispatcher.Message{
		RoutingKey:  d.RoutingKey,
		Body:        d.Body,
		Redelivered: d.Redelivered,
	})

	var err error
	switch decision {
	case dispatcher.Ack:
		err = d.Ack(false)
	case dispatcher.Reject:
		err = d.Nack(false, false)
	default:
		err = d.Nack(false, true)
	}
	if err != nil {
		// The channel is gone; the broker redelivers after reconnect.
		slog.Warn("[Broker] Acknowledgement failed",
			"delivery_tag", d.DeliveryTag, "routing_key", d.RoutingKey, "decision", decision, "error", err)
	}
}

func (c *Consumer) operationTimeout() time.Duration {
	if c.cfg.OperationTimeout > 0 {
		return c.cfg.OperationTimeout
	}
	return 10 * time.Second
}
