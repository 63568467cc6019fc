package v1

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType is the routing key an upstream service publishes an event under.
// Routing keys follow <domain>.<action>.
type EventType string

const (
	TypeOrderCompleted     EventType = "order.completed"
	TypeInventoryChanged   EventType = "inventory.changed"
	TypeCustomerCreated    EventType = "customer.created"
	TypePaymentReceived    EventType = "payment.received"
	TypeTestDriveScheduled EventType = "testdrive.scheduled"
)

// Domain returns the <domain> part of the routing key ("order" for "order.completed").
func (t EventType) Domain() string {
	domain, _, _ := strings.Cut(string(t), ".")
	return domain
}

// Envelope is the outer wrapper every upstream service publishes.
// It separates the system attributes from the domain payload held in Data.
type Envelope struct {
	// EventID is globally unique per logical occurrence and is the dedupe key.
	EventID uuid.UUID `json:"eventId"`

	// Type selects the payload shape of Data.
	Type EventType `json:"type"`

	// Data is decoded lazily by the schema registry once Type is known.
	Data json.RawMessage `json:"data"`

	// Timestamp is when the producer published the event.
	Timestamp time.Time `json:"timestamp"`
}

// Validate ensures the envelope has all required system attributes.
func (e *Envelope) Validate() error {
	if e.EventID == uuid.Nil {
		return fmt.Errorf("eventId is required")
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return fmt.Errorf("data is required")
	}
	return nil
}

// DecodeEnvelope parses raw message bytes into an Envelope and validates it.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return &env, nil
}

// NewEnvelope wraps a payload for publishing. Used by tests and tooling.
func NewEnvelope(eventID uuid.UUID, payload Payload, ts time.Time) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Envelope{
		EventID:   eventID,
		Type:      payload.EventType(),
		Data:      data,
		Timestamp: ts,
	}, nil
}
