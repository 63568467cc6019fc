package schema

import (
	"fmt"
	"sort"
	"sync"

	v1 "github.com/aevon-lab/report-core/internal/api/v1"
)

// Registry maps event types to payload decoders.
// The set of types is fixed at start-up; lookups are read-locked only.
type Registry struct {
	mu      sync.RWMutex
	schemas map[v1.EventType]*Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[v1.EventType]*Schema)}
}

// NewDefaultRegistry returns a registry with every payload variant the service consumes.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	MustRegister[v1.OrderCompleted](r, v1.TypeOrderCompleted, 1, false)
	MustRegister[v1.InventoryChanged](r, v1.TypeInventoryChanged, 1, false)
	MustRegister[v1.CustomerCreated](r, v1.TypeCustomerCreated, 1, false)
	MustRegister[v1.PaymentReceived](r, v1.TypePaymentReceived, 1, false)
	MustRegister[v1.TestDriveScheduled](r, v1.TypeTestDriveScheduled, 1, false)
	return r
}

// Register adds payload type T under eventType.
func Register[T v1.Payload](r *Registry, eventType v1.EventType, version int, strict bool) (*Schema, error) {
	if eventType == "" {
		return nil, fmt.Errorf("type is required")
	}
	if version < 1 {
		return nil, fmt.Errorf("version must be >= 1")
	}
	var zero T
	if zero.EventType() != eventType {
		return nil, fmt.Errorf("payload %T reports type %q, registered as %q", zero, zero.EventType(), eventType)
	}

	fields := jsonFields[T]()
	s := &Schema{
		Type:        eventType,
		Version:     version,
		Fields:      fields,
		Fingerprint: ComputeFingerprint(eventType, version, fields),
		StrictMode:  strict,
		decode:      decodeAs[T],
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schemas[eventType]; exists {
		return nil, fmt.Errorf("schema %q already registered", eventType)
	}
	r.schemas[eventType] = s
	return s, nil
}

// MustRegister is Register that panics on error. Used for the static start-up set.
func MustRegister[T v1.Payload](r *Registry, eventType v1.EventType, version int, strict bool) *Schema {
	s, err := Register[T](r, eventType, version, strict)
	if err != nil {
		panic(err)
	}
	return s
}

// Get returns the schema for eventType.
func (r *Registry) Get(eventType v1.EventType) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, eventType)
	}
	return s, nil
}

// Decode resolves the envelope's type and returns its validated payload.
// Unknown types wrap ErrUnknownType; shape and value problems are *ValidationError.
func (r *Registry) Decode(env *v1.Envelope) (v1.Payload, error) {
	s, err := r.Get(env.Type)
	if err != nil {
		return nil, err
	}
	payload, err := s.decode(env.Data, s.StrictMode)
	if err != nil {
		return nil, newValidationError(s, err)
	}
	if err := payload.Validate(); err != nil {
		return nil, newValidationError(s, err)
	}
	return payload, nil
}

// Types returns the registered event types, sorted.
func (r *Registry) Types() []v1.EventType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]v1.EventType, 0, len(r.schemas))
	for t := range r.schemas {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RoutingPatterns returns one "<domain>.*" binding per registered domain, sorted.
func (r *Registry) RoutingPatterns() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range r.Types() {
		p := t.Domain() + ".*"
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
