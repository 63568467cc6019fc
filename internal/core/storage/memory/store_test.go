package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/report-core/internal/core/aggregation"
	"github.com/aevon-lab/report-core/internal/core/storage"
)

var day = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

func addUnits(n int64) storage.UpdateFunc {
	return func(rec *aggregation.Record) ([]aggregation.Alert, error) {
		rec.State.Sales.Units += n
		rec.State.Sales.Revenue = rec.State.Sales.Revenue.Add(decimal.NewFromInt(n * 100))
		return nil, nil
	}
}

func TestStore_ApplyAndGet(t *testing.T) {
	ctx := context.Background()
	s := New()
	scope := aggregation.SalesScope("d1", day, "m1")

	records, err := s.Apply(ctx, uuid.New(), []storage.Mutation{{Scope: scope, Update: addUnits(2)}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, int64(2), records[0].State.Sales.Units)
	require.Equal(t, int64(1), records[0].EventCount)

	rec, found, err := s.Get(ctx, scope)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, rec.State.Sales.Revenue.Equal(decimal.NewFromInt(200)))

	// Returned records are copies.
	rec.State.Sales.Units = 99
	again, _, err := s.Get(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, int64(2), again.State.Sales.Units)
}

func TestStore_GetAbsent(t *testing.T) {
	rec, found, err := New().Get(context.Background(), aggregation.InventoryScope("d1", "m1"))
	require.NoError(t, err)
	require.False(t, found)
	require.NotNil(t, rec.State.Inventory)
	require.Zero(t, rec.State.Inventory.OnHand)
}

func TestStore_ApplyDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := uuid.New()
	scope := aggregation.SalesScope("d1", day, "m1")

	_, err := s.Apply(ctx, id, []storage.Mutation{{Scope: scope, Update: addUnits(1)}})
	require.NoError(t, err)
	_, err = s.Apply(ctx, id, []storage.Mutation{{Scope: scope, Update: addUnits(1)}})
	require.ErrorIs(t, err, storage.ErrDuplicate)

	rec, _, err := s.Get(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.State.Sales.Units)
}

func TestStore_ApplyFailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := uuid.New()
	sales := aggregation.SalesScope("d1", day, "m1")
	order := aggregation.OrderScope("d1", "o1")
	boom := errors.New("boom")

	_, err := s.Apply(ctx, id, []storage.Mutation{
		{Scope: sales, Update: addUnits(1)},
		{Scope: order, Update: func(*aggregation.Record) ([]aggregation.Alert, error) { return nil, boom }},
	})
	require.ErrorIs(t, err, boom)

	_, found, err := s.Get(ctx, sales)
	require.NoError(t, err)
	require.False(t, found)

	ok, err := s.LedgerContains(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)

	// The event can be retried.
	_, err = s.Apply(ctx, id, []storage.Mutation{{Scope: sales, Update: addUnits(1)}})
	require.NoError(t, err)
}

func TestStore_ConcurrentApplySameScope(t *testing.T) {
	ctx := context.Background()
	s := New()
	scope := aggregation.SalesScope("d1", day, "m1")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Apply(ctx, uuid.New(), []storage.Mutation{{Scope: scope, Update: addUnits(1)}})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, _, err := s.Get(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, int64(100), rec.State.Sales.Units)
	require.Equal(t, int64(100), rec.EventCount)
}

func TestStore_ConcurrentSameEventAppliesOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := uuid.New()
	scope := aggregation.SalesScope("d1", day, "m1")

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		duplicates int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Apply(ctx, id, []storage.Mutation{{Scope: scope, Update: addUnits(1)}})
			if errors.Is(err, storage.ErrDuplicate) {
				mu.Lock()
				duplicates++
				mu.Unlock()
				return
			}
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 19, duplicates)
	rec, _, err := s.Get(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.State.Sales.Units)
}

func TestStore_QueryFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := New()
	next := day.AddDate(0, 0, 1)

	for _, sc := range []aggregation.Scope{
		aggregation.SalesScope("d2", day, "m1"),
		aggregation.SalesScope("d1", next, "m1"),
		aggregation.SalesScope("d1", day, "m2"),
		aggregation.SalesScope("d1", day, "m1"),
		aggregation.SalesScope("d1", day.AddDate(0, 0, -5), "m1"),
	} {
		_, err := s.Upsert(ctx, sc, addUnits(1))
		require.NoError(t, err)
	}

	records, err := s.Query(ctx, storage.Filter{
		Kind: aggregation.KindSales,
		From: day,
		To:   next.AddDate(0, 0, 1),
	})
	require.NoError(t, err)
	require.Len(t, records, 4)
	require.Equal(t, aggregation.SalesScope("d1", day, "m1"), records[0].Scope)
	require.Equal(t, aggregation.SalesScope("d1", day, "m2"), records[1].Scope)
	require.Equal(t, aggregation.SalesScope("d2", day, "m1"), records[2].Scope)
	require.Equal(t, aggregation.SalesScope("d1", next, "m1"), records[3].Scope)

	records, err = s.Query(ctx, storage.Filter{Kind: aggregation.KindSales, DealerID: "d1", Dimension: "m1"})
	require.NoError(t, err)
	require.Len(t, records, 3)
}

func TestStore_PruneLedger(t *testing.T) {
	ctx := context.Background()
	s := New()
	clock := day
	s.now = func() time.Time { return clock }

	for i := 0; i < 5; i++ {
		require.NoError(t, s.LedgerAdd(ctx, uuid.New()))
		clock = clock.Add(time.Hour)
	}

	n, err := s.PruneLedger(ctx, day.Add(3*time.Hour), 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = s.PruneLedger(ctx, day.Add(3*time.Hour), 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = s.PruneLedger(ctx, day.Add(3*time.Hour), 2)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestStore_AlertsIdempotentAndNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	older := aggregation.Alert{ID: aggregation.AlertID("a"), DealerID: "d1", Type: aggregation.AlertLowStock, Timestamp: day}
	newer := aggregation.Alert{ID: aggregation.AlertID("b"), DealerID: "d1", Type: aggregation.AlertSalesDrop, Timestamp: day.Add(time.Hour)}
	other := aggregation.Alert{ID: aggregation.AlertID("c"), DealerID: "d2", Type: aggregation.AlertLowStock, Timestamp: day}

	require.NoError(t, s.SaveAlerts(ctx, []aggregation.Alert{older, newer, other}))
	require.NoError(t, s.SaveAlerts(ctx, []aggregation.Alert{older}))

	alerts, err := s.RecentAlerts(ctx, "d1", 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, newer.ID, alerts[0].ID)
	require.Equal(t, older.ID, alerts[1].ID)

	all, err := s.RecentAlerts(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}
