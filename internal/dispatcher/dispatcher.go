// Package dispatcher turns broker deliveries into aggregate updates.
//
// A delivery is decoded into an envelope, checked against the processed-event
// ledger and handed to the aggregation engine. The returned Decision tells the
// broker connector how to acknowledge it.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/aevon-lab/report-core/internal/aggregation"
	v1 "github.com/aevon-lab/report-core/internal/api/v1"
	coreerrors "github.com/aevon-lab/report-core/internal/core/errors"
	"github.com/aevon-lab/report-core/internal/core/storage"
	"github.com/aevon-lab/report-core/internal/metrics"
	"github.com/aevon-lab/report-core/internal/schema"
)

// Decision is how a delivery must be acknowledged.
type Decision int

const (
	// Ack removes the message: applied, duplicate or malformed.
	Ack Decision = iota
	// Reject nacks without requeue once the message is in the dead-letter sink.
	Reject
	// Requeue nacks with requeue; processing was interrupted before an outcome.
	Requeue
)

func (d Decision) String() string {
	switch d {
	case Ack:
		return "ack"
	case Reject:
		return "reject"
	case Requeue:
		return "requeue"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Message is one delivery from the broker.
type Message struct {
	RoutingKey  string
	Body        []byte
	Redelivered bool
}

// Handler applies a decoded event. *aggregation.Engine implements it.
type Handler interface {
	Handle(ctx context.Context, eventID uuid.UUID, payload v1.Payload) (*aggregation.Result, error)
}

type Options struct {
	// MaxRetries is the number of attempts after the first before dead-lettering.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (o Options) normalized() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 200 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 5 * time.Second
	}
	return o
}

type Dispatcher struct {
	registry *schema.Registry
	ledger   storage.Ledger
	handler  Handler
	sink     storage.DeadLetterSink
	metrics  *metrics.Metrics
	opts     Options
	now      func() time.Time
}

func New(reg *schema.Registry, ledger storage.Ledger, h Handler, sink storage.DeadLetterSink, m *metrics.Metrics, opts Options) *Dispatcher {
	if reg == nil {
		panic("dispatcher: registry must not be nil")
	}
	if ledger == nil {
		panic("dispatcher: ledger must not be nil")
	}
	if h == nil {
		panic("dispatcher: handler must not be nil")
	}
	if sink == nil {
		panic("dispatcher: dead-letter sink must not be nil")
	}
	return &Dispatcher{
		registry: reg,
		ledger:   ledger,
		handler:  h,
		sink:     sink,
		metrics:  m,
		opts:     opts.normalized(),
		now:      time.Now,
	}
}

// Dispatch processes one delivery and decides how it is acknowledged.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) Decision {
	env, payload, err := d.decode(msg.Body)
	if err != nil {
		slog.Warn("[Dispatcher] Malformed message acknowledged",
			"routing_key", msg.RoutingKey, "size", len(msg.Body), "error", err)
		d.metrics.EventHandled(msg.RoutingKey, metrics.OutcomeMalformed)
		return Ack
	}
	eventType := string(env.Type)

	seen, err := d.ledger.LedgerContains(ctx, env.EventID)
	if err != nil {
		// The transactional apply re-checks the ledger; go on without the fast path.
		slog.Warn("[Dispatcher] Ledger lookup failed", "event_id", env.EventID, "error", err)
	}
	if seen {
		d.skipDuplicate(env, msg)
		return Ack
	}

	attempts := 0
	operation := func() (*aggregation.Result, error) {
		attempts++
		res, err := d.handler.Handle(ctx, env.EventID, payload)
		switch {
		case err == nil:
			return res, nil
		case errors.Is(err, storage.ErrDuplicate),
			errors.Is(err, context.Canceled),
			!coreerrors.IsRetryable(err):
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.opts.InitialInterval
	bo.MaxInterval = d.opts.MaxInterval

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(d.opts.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.metrics.EventHandled(eventType, metrics.OutcomeRetried)
			slog.Warn("[Dispatcher] Handler failed, retrying",
				"event_id", env.EventID, "event_type", eventType, "retry_in", next, "error", err)
		}),
	)

	switch {
	case err == nil:
		d.metrics.EventHandled(eventType, metrics.OutcomeApplied)
		slog.Debug("[Dispatcher] Event applied", "event_id", env.EventID, "event_type", eventType, "attempts", attempts)
		return Ack
	case errors.Is(err, storage.ErrDuplicate):
		d.skipDuplicate(env, msg)
		return Ack
	case ctx.Err() != nil:
		// Shutting down: leave the message to the broker for redelivery.
		slog.Info("[Dispatcher] Processing interrupted, requeueing", "event_id", env.EventID, "error", err)
		return Requeue
	}

	return d.deadLetter(ctx, env, msg, attempts, err)
}

func (d *Dispatcher) decode(body []byte) (*v1.Envelope, v1.Payload, error) {
	env, err := v1.DecodeEnvelope(body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", coreerrors.ErrMalformedEvent, err)
	}
	payload, err := d.registry.Decode(env)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", coreerrors.ErrMalformedEvent, err)
	}
	return env, payload, nil
}

func (d *Dispatcher) skipDuplicate(env *v1.Envelope, msg Message) {
	d.metrics.EventHandled(string(env.Type), metrics.OutcomeDuplicate)
	slog.Debug("[Dispatcher] Duplicate event skipped",
		"event_id", env.EventID, "event_type", env.Type, "redelivered", msg.Redelivered)
}

// deadLetter moves an exhausted message to the sink. When the sink itself
// fails the message is requeued rather than lost.
func (d *Dispatcher) deadLetter(ctx context.Context, env *v1.Envelope, msg Message, attempts int, cause error) Decision {
	dl := storage.DeadLetter{
		At:         d.now().UTC(),
		RoutingKey: msg.RoutingKey,
		EventID:    env.EventID.String(),
		Attempts:   attempts,
		Error:      fmt.Errorf("%w: %w", coreerrors.ErrExhaustedRetries, cause).Error(),
		Payload:    rawPayload(msg.Body),
	}
	if err := d.sink.Push(ctx, dl); err != nil {
		slog.Error("[Dispatcher] Dead-letter sink failed, requeueing",
			"event_id", env.EventID, "error", err, "cause", cause)
		return Requeue
	}

	d.metrics.EventHandled(string(env.Type), metrics.OutcomeDeadLettered)
	slog.Error("[Dispatcher] Event dead-lettered",
		"event_id", env.EventID, "event_type", env.Type, "attempts", attempts, "error", cause)
	return Reject
}

// rawPayload keeps body as-is when it is JSON and quotes it otherwise.
func rawPayload(body []byte) json.RawMessage {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
