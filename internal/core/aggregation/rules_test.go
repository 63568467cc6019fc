package aggregation

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "github.com/aevon-lab/report-core/internal/api/v1"
)

func applyAll(t *testing.T, records map[string]*Record, payloads ...v1.Payload) {
	t.Helper()
	for _, p := range payloads {
		steps, err := Plan(p)
		require.NoError(t, err)
		for _, step := range steps {
			rec, ok := records[step.Scope.Key()]
			if !ok {
				rec = ZeroRecord(step.Scope)
				records[step.Scope.Key()] = rec
			}
			step.Apply(rec)
		}
	}
}

func TestPlan_OrderCompleted(t *testing.T) {
	order := v1.OrderCompleted{
		OrderID: "o1", DealerID: "d1", ModelID: "m1", StaffID: "s1", Region: "north",
		Quantity: 2, TotalAmount: d("40000"), Profit: d("4000"),
		CompletedAt: v1.MustParseTime("2024-01-10T15:00:00Z"),
	}

	records := map[string]*Record{}
	applyAll(t, records, order)

	sales := records[SalesScope("d1", order.CompletedAt.Time, "m1").Key()].State.Sales
	require.True(t, d("40000").Equal(sales.Revenue))
	require.True(t, d("4000").Equal(sales.Profit))
	require.Equal(t, int64(1), sales.Orders)
	require.Equal(t, int64(2), sales.Units)
	require.True(t, d("40000").Equal(sales.AverageOrderValue))
	require.Equal(t, int64(2), sales.UnitsByRegion["north"])
	require.Equal(t, int64(1), sales.OrdersByRegion["north"])
	require.True(t, d("4000").Equal(sales.ProfitByRegion["north"]))
	require.Equal(t, int64(2), sales.UnitsByStaff["s1"])

	recon := records[OrderScope("d1", "o1").Key()].State.Order
	require.True(t, recon.Completed)
	require.Equal(t, PaymentPending, recon.Status())
	require.True(t, d("40000").Equal(recon.Outstanding()))
}

func TestApplyOrder_RecomputesAverage(t *testing.T) {
	s := &SalesState{}
	ApplyOrder(s, v1.OrderCompleted{Quantity: 1, TotalAmount: d("100")})
	ApplyOrder(s, v1.OrderCompleted{Quantity: 1, TotalAmount: d("50")})
	require.True(t, d("75").Equal(s.AverageOrderValue))
	require.Equal(t, int64(2), s.UnitsByRegion[UnassignedRegion])
	require.Empty(t, s.UnitsByStaff)
}

func TestPaymentBeforeOrder_Reconciles(t *testing.T) {
	at := v1.MustParseTime("2024-01-10")
	payment := v1.PaymentReceived{PaymentID: "p1", OrderID: "o1", DealerID: "d1", Amount: d("15000"), PaymentMethod: "card", ReceivedAt: at}
	order := v1.OrderCompleted{OrderID: "o1", DealerID: "d1", ModelID: "m1", Quantity: 1, TotalAmount: d("40000"), CompletedAt: at}

	records := map[string]*Record{}
	applyAll(t, records, payment)

	recon := records[OrderScope("d1", "o1").Key()].State.Order
	require.Equal(t, PaymentUnmatched, recon.Status())
	require.True(t, recon.Outstanding().IsZero())

	applyAll(t, records, order)
	require.Equal(t, PaymentPartial, recon.Status())
	require.True(t, d("25000").Equal(recon.Outstanding()))

	daily := records[PaymentScope("d1", at.Time).Key()].State.Payment
	require.True(t, d("15000").Equal(daily.ByMethod["card"]))
	require.Equal(t, int64(1), daily.Count)

	// revenue comes from the order only
	sales := records[SalesScope("d1", at.Time, "m1").Key()].State.Sales
	require.True(t, d("40000").Equal(sales.Revenue))
}

func TestApplyInventory(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &InventoryState{}

	ApplyInventory(s, v1.InventoryChanged{PreviousQuantity: 0, NewQuantity: 20, Value: d("200000"), ChangeType: v1.ChangeIncrement, ChangedAt: v1.At(t0)})
	require.Equal(t, int64(20), s.OnHand)
	require.Equal(t, t0, s.StockedSince)

	ApplyInventory(s, v1.InventoryChanged{PreviousQuantity: 20, NewQuantity: 15, ChangeType: v1.ChangeDecrement, ChangedAt: v1.At(t0.AddDate(0, 0, 3))})
	require.Equal(t, int64(15), s.OnHand)
	require.Equal(t, int64(5), s.UnitsOut)
	require.True(t, d("0.25").Equal(s.Turnover))
	require.Equal(t, t0, s.StockedSince)
	require.Equal(t, 10, s.DaysInStock(t0.AddDate(0, 0, 10)))

	// a late, older event moves the flow counters but not the on-hand snapshot
	ApplyInventory(s, v1.InventoryChanged{PreviousQuantity: 20, NewQuantity: 18, ChangeType: v1.ChangeDecrement, ChangedAt: v1.At(t0.AddDate(0, 0, 1))})
	require.Equal(t, int64(15), s.OnHand)
	require.Equal(t, int64(7), s.UnitsOut)

	ApplyInventory(s, v1.InventoryChanged{PreviousQuantity: 15, NewQuantity: 0, ChangeType: v1.ChangeSet, ChangedAt: v1.At(t0.AddDate(0, 0, 5))})
	require.True(t, s.StockedSince.IsZero())
	require.Equal(t, 0, s.DaysInStock(t0.AddDate(0, 0, 10)))
}

func TestApplyInventory_StockedSinceIgnoresDeliveryOrder(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	change := func(prev, next int64, days int) v1.InventoryChanged {
		return v1.InventoryChanged{PreviousQuantity: prev, NewQuantity: next, ChangeType: v1.ChangeSet, ChangedAt: v1.At(t0.AddDate(0, 0, days))}
	}

	tests := []struct {
		name   string
		events []v1.InventoryChanged
		want   time.Time
	}{
		{
			name:   "restock then sale",
			events: []v1.InventoryChanged{change(0, 5, 0), change(5, 3, 2)},
			want:   t0,
		},
		{
			name:   "sale delivered before its restock",
			events: []v1.InventoryChanged{change(5, 3, 2), change(0, 5, 0)},
			want:   t0,
		},
		{
			name:   "late sellout ends the first stocking period",
			events: []v1.InventoryChanged{change(0, 5, 0), change(0, 4, 6), change(4, 2, 7), change(5, 0, 4)},
			want:   t0.AddDate(0, 0, 6),
		},
		{
			name:   "sold out last",
			events: []v1.InventoryChanged{change(5, 0, 4), change(0, 5, 0)},
			want:   time.Time{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &InventoryState{}
			for _, e := range tt.events {
				ApplyInventory(s, e)
			}
			require.Equal(t, tt.want, s.StockedSince)
		})
	}

	// every permutation of a well-formed stream settles the same
	events := []v1.InventoryChanged{change(0, 5, 0), change(5, 3, 2), change(3, 0, 4), change(0, 4, 6), change(4, 2, 7)}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		s := &InventoryState{}
		for _, j := range rng.Perm(len(events)) {
			ApplyInventory(s, events[j])
		}
		require.Equal(t, t0.AddDate(0, 0, 6), s.StockedSince)
		require.Equal(t, int64(2), s.OnHand)
	}
}

func TestCustomerAndTestDrives(t *testing.T) {
	at := v1.MustParseTime("2024-01-10")
	records := map[string]*Record{}
	applyAll(t, records,
		v1.CustomerCreated{CustomerID: "c1", DealerID: "d1", Region: "north", TestDriveCount: 2, Source: "web", CreatedAt: at},
		v1.CustomerCreated{CustomerID: "c2", DealerID: "d1", Region: "north", CreatedAt: at},
		v1.TestDriveScheduled{TestDriveID: "t1", DealerID: "d1", Region: "north", ScheduledAt: at},
	)

	c := records[CustomerScope("d1", at.Time, "north").Key()].State.Customer
	require.Equal(t, int64(2), c.NewCustomers)
	require.Equal(t, int64(3), c.TestDrives)
	require.Equal(t, int64(1), c.BySource["web"])
	require.Equal(t, int64(1), c.BySource["unknown"])
}

func TestPlan_OrderIndependentAcrossScopes(t *testing.T) {
	at := v1.MustParseTime("2024-01-10")
	events := []v1.Payload{
		v1.OrderCompleted{OrderID: "o1", DealerID: "d1", ModelID: "m1", Quantity: 1, TotalAmount: d("100"), CompletedAt: at},
		v1.OrderCompleted{OrderID: "o2", DealerID: "d2", ModelID: "m1", Quantity: 3, TotalAmount: d("300"), CompletedAt: at},
		v1.CustomerCreated{CustomerID: "c1", DealerID: "d1", Region: "north", CreatedAt: at},
		v1.InventoryChanged{DealerID: "d1", ModelID: "m2", PreviousQuantity: 0, NewQuantity: 4, ChangeType: v1.ChangeSet, ChangedAt: at},
		v1.PaymentReceived{PaymentID: "p1", OrderID: "o1", DealerID: "d1", Amount: d("100"), ReceivedAt: at},
	}

	baseline := map[string]*Record{}
	applyAll(t, baseline, events...)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		shuffled := append([]v1.Payload(nil), events...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := map[string]*Record{}
		applyAll(t, got, shuffled...)
		require.Equal(t, baseline, got)
	}
}

func TestScope_Validate(t *testing.T) {
	at := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, SalesScope("d1", at, "m1").Validate())
	require.NoError(t, PaymentScope("d1", at).Validate())
	require.NoError(t, InventoryScope("d1", "m1").Validate())
	require.Error(t, SalesScope("", at, "m1").Validate())
	require.Error(t, Scope{Kind: KindSales, DealerID: "d1", Dimension: "m1"}.Validate())
	require.Error(t, Scope{Kind: KindInventory, DealerID: "d1", Period: at, Dimension: "m1"}.Validate())
	require.Error(t, Scope{Kind: "bogus", DealerID: "d1"}.Validate())
	require.Equal(t, "customer|d1|2024-01-10|unassigned", CustomerScope("d1", at, "").Key())
}
