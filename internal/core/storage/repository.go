package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aevon-lab/report-core/internal/core/aggregation"
)

// ErrDuplicate is returned when an event id is already in the processed-event ledger.
var ErrDuplicate = errors.New("event already applied")

// UpdateFunc mutates rec in place and returns any alerts the update raised.
// rec is never nil: absent scopes are passed as their zero record.
type UpdateFunc func(rec *aggregation.Record) ([]aggregation.Alert, error)

// Mutation is one scope update applied as part of an event.
type Mutation struct {
	Scope  aggregation.Scope
	Update UpdateFunc
}

// Filter selects records of one kind.
type Filter struct {
	Kind aggregation.Kind
	// DealerID restricts to one dealer; empty means all dealers.
	DealerID string
	// From and To bound the period as [From, To). Zero means unbounded.
	// Ignored for kinds without a period.
	From time.Time
	To   time.Time
	// Dimension restricts to one model, region or order; empty means all.
	Dimension string
}

// AggregateStore persists running aggregates.
type AggregateStore interface {
	// Get returns the record for scope. Absent scopes return the zero record and false.
	Get(ctx context.Context, scope aggregation.Scope) (*aggregation.Record, bool, error)

	// Upsert atomically reads, updates and writes one scope.
	// Concurrent upserts of the same scope never interleave.
	Upsert(ctx context.Context, scope aggregation.Scope, fn UpdateFunc) (*aggregation.Record, error)

	// Query lists the records matching f, ordered by period, dealer and dimension.
	Query(ctx context.Context, f Filter) ([]*aggregation.Record, error)
}

// Ledger is the processed-event ledger.
type Ledger interface {
	LedgerContains(ctx context.Context, eventID uuid.UUID) (bool, error)

	// LedgerAdd records eventID. Returns ErrDuplicate if it was already present.
	LedgerAdd(ctx context.Context, eventID uuid.UUID) error

	// PruneLedger deletes at most limit entries recorded before cutoff and returns how many went.
	PruneLedger(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// AlertStore keeps generated alerts next to the aggregates.
type AlertStore interface {
	// SaveAlerts inserts alerts, ignoring ids that already exist.
	SaveAlerts(ctx context.Context, alerts []aggregation.Alert) error

	// RecentAlerts returns the newest alerts first; empty dealerID means all dealers.
	RecentAlerts(ctx context.Context, dealerID string, limit int) ([]aggregation.Alert, error)
}

// Store is the full aggregate store used by the pipeline.
type Store interface {
	AggregateStore
	Ledger
	AlertStore

	// Apply claims eventID in the ledger and applies every mutation in one
	// atomic unit, saving the alerts they raise. If eventID was already
	// claimed nothing is applied and ErrDuplicate is returned.
	Apply(ctx context.Context, eventID uuid.UUID, mutations []Mutation) ([]*aggregation.Record, error)

	Ping(ctx context.Context) error
}

// DeadLetter is a message that exhausted its retries.
type DeadLetter struct {
	At         time.Time       `json:"at"`
	RoutingKey string          `json:"routingKey"`
	EventID    string          `json:"eventId,omitempty"`
	Attempts   int             `json:"attempts"`
	Error      string          `json:"error"`
	Payload    json.RawMessage `json:"payload"`
}

// DeadLetterSink holds dead letters for manual inspection.
type DeadLetterSink interface {
	Push(ctx context.Context, dl DeadLetter) error
}
