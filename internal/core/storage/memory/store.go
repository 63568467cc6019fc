// Package memory is an in-process storage.Store used by tests and single-node runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aevon-lab/report-core/internal/core/aggregation"
	"github.com/aevon-lab/report-core/internal/core/partition"
	"github.com/aevon-lab/report-core/internal/core/storage"
)

const defaultAlertLimit = 50

// Store keeps aggregates, the ledger and alerts in maps.
// Scope updates are serialized by partition-striped locks; updates are applied
// to copies and only published once every mutation of an event succeeded.
type Store struct {
	locks partition.Locks

	mu      sync.RWMutex
	records map[string]*aggregation.Record

	ledgerMu sync.Mutex
	ledger   map[uuid.UUID]time.Time
	pending  map[uuid.UUID]chan struct{}

	alertsMu sync.Mutex
	alerts   map[uuid.UUID]aggregation.Alert

	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		records: make(map[string]*aggregation.Record),
		ledger:  make(map[uuid.UUID]time.Time),
		pending: make(map[uuid.UUID]chan struct{}),
		alerts:  make(map[uuid.UUID]aggregation.Alert),
		now:     time.Now,
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Apply(ctx context.Context, eventID uuid.UUID, mutations []storage.Mutation) ([]*aggregation.Record, error) {
	release, err := s.claim(ctx, eventID)
	if err != nil {
		return nil, err
	}

	records, alerts, err := s.update(mutations, eventID.String())
	if err != nil {
		release(false)
		return nil, err
	}
	release(true)
	s.addAlerts(alerts)
	return records, nil
}

// claim reserves eventID. A concurrent claim of the same id waits for the
// first to finish, then reports ErrDuplicate if it was applied.
func (s *Store) claim(ctx context.Context, eventID uuid.UUID) (release func(applied bool), err error) {
	for {
		s.ledgerMu.Lock()
		if _, ok := s.ledger[eventID]; ok {
			s.ledgerMu.Unlock()
			return nil, storage.ErrDuplicate
		}
		wait, busy := s.pending[eventID]
		if !busy {
			done := make(chan struct{})
			s.pending[eventID] = done
			s.ledgerMu.Unlock()
			return func(applied bool) {
				s.ledgerMu.Lock()
				delete(s.pending, eventID)
				if applied {
					s.ledger[eventID] = s.now().UTC()
				}
				s.ledgerMu.Unlock()
				close(done)
			}, nil
		}
		s.ledgerMu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// update runs every mutation against copies and publishes them together.
func (s *Store) update(mutations []storage.Mutation, eventID string) ([]*aggregation.Record, []aggregation.Alert, error) {
	keys := make([]string, len(mutations))
	for i, m := range mutations {
		keys[i] = m.Scope.Key()
	}
	unlock := s.locks.LockAll(keys...)
	defer unlock()

	now := s.now().UTC()
	staged := make([]*aggregation.Record, 0, len(mutations))
	var alerts []aggregation.Alert
	byKey := make(map[string]*aggregation.Record, len(mutations))
	for _, m := range mutations {
		rec, ok := byKey[m.Scope.Key()]
		if !ok {
			var err error
			if rec, err = s.load(m.Scope); err != nil {
				return nil, nil, err
			}
			byKey[m.Scope.Key()] = rec
		}
		raised, err := m.Update(rec)
		if err != nil {
			return nil, nil, fmt.Errorf("update %s: %w", m.Scope.Key(), err)
		}
		if eventID != "" {
			rec.Touch(eventID, now)
		} else {
			rec.UpdatedAt = now
		}
		staged = append(staged, rec)
		alerts = append(alerts, raised...)
	}

	out := make([]*aggregation.Record, len(staged))
	for i, rec := range staged {
		cp, err := clone(rec)
		if err != nil {
			return nil, nil, err
		}
		out[i] = cp
	}
	s.mu.Lock()
	for key, rec := range byKey {
		s.records[key] = rec
	}
	s.mu.Unlock()
	return out, alerts, nil
}

// load returns a private copy of the stored record, or the zero record.
func (s *Store) load(scope aggregation.Scope) (*aggregation.Record, error) {
	s.mu.RLock()
	stored, ok := s.records[scope.Key()]
	s.mu.RUnlock()
	if !ok {
		return aggregation.ZeroRecord(scope), nil
	}
	return clone(stored)
}

func clone(rec *aggregation.Record) (*aggregation.Record, error) {
	data, err := json.Marshal(rec.State)
	if err != nil {
		return nil, fmt.Errorf("copy %s: %w", rec.Scope.Key(), err)
	}
	cp := *rec
	cp.State = aggregation.State{}
	if err := json.Unmarshal(data, &cp.State); err != nil {
		return nil, fmt.Errorf("copy %s: %w", rec.Scope.Key(), err)
	}
	return cp.Normalize(), nil
}

func (s *Store) Upsert(_ context.Context, scope aggregation.Scope, fn storage.UpdateFunc) (*aggregation.Record, error) {
	records, alerts, err := s.update([]storage.Mutation{{Scope: scope, Update: fn}}, "")
	if err != nil {
		return nil, err
	}
	s.addAlerts(alerts)
	return records[0], nil
}

func (s *Store) Get(_ context.Context, scope aggregation.Scope) (*aggregation.Record, bool, error) {
	s.mu.RLock()
	_, ok := s.records[scope.Key()]
	s.mu.RUnlock()
	rec, err := s.load(scope)
	if err != nil {
		return nil, false, err
	}
	return rec, ok, nil
}

func (s *Store) Query(_ context.Context, f storage.Filter) ([]*aggregation.Record, error) {
	var from, to time.Time
	if f.Kind.Periodic() {
		if !f.From.IsZero() {
			from = aggregation.Day(f.From)
		}
		to = f.To
	}

	s.mu.RLock()
	var out []*aggregation.Record
	for _, rec := range s.records {
		sc := rec.Scope
		if sc.Kind != f.Kind {
			continue
		}
		if f.DealerID != "" && sc.DealerID != f.DealerID {
			continue
		}
		if f.Dimension != "" && sc.Dimension != f.Dimension {
			continue
		}
		if !from.IsZero() && sc.Period.Before(from) {
			continue
		}
		if !to.IsZero() && !sc.Period.Before(to) {
			continue
		}
		cp, err := clone(rec)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		out = append(out, cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Scope, out[j].Scope
		if !a.Period.Equal(b.Period) {
			return a.Period.Before(b.Period)
		}
		if a.DealerID != b.DealerID {
			return a.DealerID < b.DealerID
		}
		return a.Dimension < b.Dimension
	})
	return out, nil
}

func (s *Store) LedgerContains(_ context.Context, eventID uuid.UUID) (bool, error) {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	_, ok := s.ledger[eventID]
	return ok, nil
}

func (s *Store) LedgerAdd(ctx context.Context, eventID uuid.UUID) error {
	release, err := s.claim(ctx, eventID)
	if err != nil {
		return err
	}
	release(true)
	return nil
}

func (s *Store) PruneLedger(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	type entry struct {
		id uuid.UUID
		at time.Time
	}
	var expired []entry
	for id, at := range s.ledger {
		if at.Before(cutoff) {
			expired = append(expired, entry{id, at})
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].at.Before(expired[j].at) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, e := range expired {
		delete(s.ledger, e.id)
	}
	return int64(len(expired)), nil
}

func (s *Store) SaveAlerts(_ context.Context, alerts []aggregation.Alert) error {
	s.addAlerts(alerts)
	return nil
}

func (s *Store) addAlerts(alerts []aggregation.Alert) {
	if len(alerts) == 0 {
		return
	}
	s.alertsMu.Lock()
	defer s.alertsMu.Unlock()
	for _, al := range alerts {
		if _, ok := s.alerts[al.ID]; !ok {
			s.alerts[al.ID] = al
		}
	}
}

func (s *Store) RecentAlerts(_ context.Context, dealerID string, limit int) ([]aggregation.Alert, error) {
	if limit <= 0 {
		limit = defaultAlertLimit
	}
	s.alertsMu.Lock()
	out := make([]aggregation.Alert, 0, len(s.alerts))
	for _, al := range s.alerts {
		if dealerID == "" || al.DealerID == dealerID {
			out = append(out, al)
		}
	}
	s.alertsMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
