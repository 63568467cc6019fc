package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aevon-lab/report-core/internal/core/aggregation"
	"github.com/aevon-lab/report-core/internal/core/storage"
)

// instrumentedStore times every call into the wrapped store.
type instrumentedStore struct {
	next storage.Store
	m    *Metrics
}

// InstrumentStore wraps s so each operation is recorded in report_store_duration_seconds.
func InstrumentStore(s storage.Store, m *Metrics) storage.Store {
	if m == nil {
		return s
	}
	return &instrumentedStore{next: s, m: m}
}

func (s *instrumentedStore) Get(ctx context.Context, scope aggregation.Scope) (*aggregation.Record, bool, error) {
	defer s.m.ObserveStore("get", time.Now())
	return s.next.Get(ctx, scope)
}

func (s *instrumentedStore) Upsert(ctx context.Context, scope aggregation.Scope, fn storage.UpdateFunc) (*aggregation.Record, error) {
	defer s.m.ObserveStore("upsert", time.Now())
	return s.next.Upsert(ctx, scope, fn)
}

func (s *instrumentedStore) Query(ctx context.Context, f storage.Filter) ([]*aggregation.Record, error) {
	defer s.m.ObserveStore("query", time.Now())
	return s.next.Query(ctx, f)
}

func (s *instrumentedStore) Apply(ctx context.Context, eventID uuid.UUID, mutations []storage.Mutation) ([]*aggregation.Record, error) {
	defer s.m.ObserveStore("apply", time.Now())
	return s.next.Apply(ctx, eventID, mutations)
}

func (s *instrumentedStore) LedgerContains(ctx context.Context, eventID uuid.UUID) (bool, error) {
	defer s.m.ObserveStore("ledger_contains", time.Now())
	return s.next.LedgerContains(ctx, eventID)
}

func (s *instrumentedStore) LedgerAdd(ctx context.Context, eventID uuid.UUID) error {
	defer s.m.ObserveStore("ledger_add", time.Now())
	return s.next.LedgerAdd(ctx, eventID)
}

func (s *instrumentedStore) PruneLedger(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	defer s.m.ObserveStore("prune_ledger", time.Now())
	return s.next.PruneLedger(ctx, cutoff, limit)
}

func (s *instrumentedStore) SaveAlerts(ctx context.Context, alerts []aggregation.Alert) error {
	defer s.m.ObserveStore("save_alerts", time.Now())
	return s.next.SaveAlerts(ctx, alerts)
}

func (s *instrumentedStore) RecentAlerts(ctx context.Context, dealerID string, limit int) ([]aggregation.Alert, error) {
	defer s.m.ObserveStore("recent_alerts", time.Now())
	return s.next.RecentAlerts(ctx, dealerID, limit)
}

func (s *instrumentedStore) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}
