package aggregation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	v1 "github.com/aevon-lab/report-core/internal/api/v1"
)

// Step is one scope an event touches and the pure update it applies there.
type Step struct {
	Scope Scope
	Apply func(rec *Record)
}

// Plan returns the scopes payload touches and the update for each.
// Final state does not depend on the order events of a scope are applied in.
func Plan(payload v1.Payload) ([]Step, error) {
	switch p := payload.(type) {
	case v1.OrderCompleted:
		at := p.CompletedAt.Time
		return []Step{
			{Scope: SalesScope(p.DealerID, at, p.ModelID), Apply: func(rec *Record) { ApplyOrder(rec.State.Sales, p) }},
			{Scope: OrderScope(p.DealerID, p.OrderID), Apply: func(rec *Record) { ReconcileOrder(rec.State.Order, p) }},
		}, nil
	case v1.InventoryChanged:
		return []Step{
			{Scope: InventoryScope(p.DealerID, p.ModelID), Apply: func(rec *Record) { ApplyInventory(rec.State.Inventory, p) }},
		}, nil
	case v1.CustomerCreated:
		return []Step{
			{Scope: CustomerScope(p.DealerID, p.CreatedAt.Time, p.Region), Apply: func(rec *Record) { ApplyCustomer(rec.State.Customer, p) }},
		}, nil
	case v1.TestDriveScheduled:
		return []Step{
			{Scope: CustomerScope(p.DealerID, p.ScheduledAt.Time, p.Region), Apply: func(rec *Record) { ApplyTestDrive(rec.State.Customer, p) }},
		}, nil
	case v1.PaymentReceived:
		return []Step{
			{Scope: OrderScope(p.DealerID, p.OrderID), Apply: func(rec *Record) { ReconcilePayment(rec.State.Order, p) }},
			{Scope: PaymentScope(p.DealerID, p.ReceivedAt.Time), Apply: func(rec *Record) { ApplyPayment(rec.State.Payment, p) }},
		}, nil
	default:
		return nil, fmt.Errorf("no aggregation rule for %T", payload)
	}
}

// ApplyOrder recognizes revenue, profit and units of a completed order.
func ApplyOrder(s *SalesState, p v1.OrderCompleted) {
	s.Revenue = s.Revenue.Add(p.TotalAmount)
	s.Profit = s.Profit.Add(p.Profit)
	s.Orders++
	s.Units += p.Quantity
	s.AverageOrderValue = s.Revenue.DivRound(decimal.NewFromInt(s.Orders), 2)

	region := p.Region
	if region == "" {
		region = UnassignedRegion
	}
	s.RevenueByRegion = addTo(s.RevenueByRegion, region, p.TotalAmount)
	s.UnitsByRegion = incr(s.UnitsByRegion, region, p.Quantity)
	s.OrdersByRegion = incr(s.OrdersByRegion, region, 1)
	s.ProfitByRegion = addTo(s.ProfitByRegion, region, p.Profit)

	if p.StaffID != "" {
		s.RevenueByStaff = addTo(s.RevenueByStaff, p.StaffID, p.TotalAmount)
		s.UnitsByStaff = incr(s.UnitsByStaff, p.StaffID, p.Quantity)
		s.OrdersByStaff = incr(s.OrdersByStaff, p.StaffID, 1)
		s.ProfitByStaff = addTo(s.ProfitByStaff, p.StaffID, p.Profit)
	}
}

// ReconcileOrder records the order side of a reconciliation scope.
func ReconcileOrder(o *OrderState, p v1.OrderCompleted) {
	o.Completed = true
	o.Amount = p.TotalAmount
	o.CompletedAt = p.CompletedAt.UTC()
}

// ReconcilePayment records the payment side of a reconciliation scope.
// It never touches recognized revenue.
func ReconcilePayment(o *OrderState, p v1.PaymentReceived) {
	o.Paid = o.Paid.Add(p.Amount)
	o.Payments++
	if at := p.ReceivedAt.UTC(); at.After(o.LastPaymentAt) {
		o.LastPaymentAt = at
	}
}

// ApplyPayment adds a payment to the daily payment-method totals.
func ApplyPayment(s *PaymentState, p v1.PaymentReceived) {
	method := p.PaymentMethod
	if method == "" {
		method = "unknown"
	}
	s.Total = s.Total.Add(p.Amount)
	s.Count++
	s.ByMethod = addTo(s.ByMethod, method, p.Amount)
	s.CountByMethod = incr(s.CountByMethod, method, 1)
}

// ApplyInventory folds a stock change into the (dealer, model) scope.
// On-hand quantity and value are last-writer-wins by changedAt; flow counters
// are accumulated from the delta so they are order-independent. StockedSince is
// settled from the latest emptying and restocking times, not the delivery order.
func ApplyInventory(s *InventoryState, p v1.InventoryChanged) {
	delta := p.NewQuantity - p.PreviousQuantity
	if delta > 0 {
		s.UnitsIn += delta
	} else {
		s.UnitsOut += -delta
	}

	at := p.ChangedAt.UTC()
	if !at.Before(s.LastChangedAt) {
		s.OnHand = p.NewQuantity
		s.Value = p.Value
		s.LastChangedAt = at
		s.LastReason = p.Reason
	}

	switch {
	case p.NewQuantity == 0:
		if at.After(s.EmptiedAt) {
			s.EmptiedAt = at
		}
	case p.PreviousQuantity == 0:
		if at.After(s.RestockedAt) {
			s.RestockedAt = at
		}
	}
	settleStockedSince(s, p.NewQuantity, at)

	s.Turnover = Ratio(decimal.NewFromInt(s.UnitsOut), decimal.NewFromInt(s.UnitsOut+s.OnHand))
}

// settleStockedSince picks the start of the current stocking period: the latest
// restock after the line last emptied, else the earliest stocked observation
// after it.
func settleStockedSince(s *InventoryState, quantity int64, at time.Time) {
	if quantity > 0 && at.After(s.EmptiedAt) && (s.StockedSince.IsZero() || at.Before(s.StockedSince)) {
		s.StockedSince = at
	}
	if !s.StockedSince.After(s.EmptiedAt) {
		s.StockedSince = time.Time{}
	}
	if s.RestockedAt.After(s.EmptiedAt) {
		s.StockedSince = s.RestockedAt
	}
}

// ApplyCustomer counts a new customer and the test drives recorded with it.
func ApplyCustomer(s *CustomerState, p v1.CustomerCreated) {
	s.NewCustomers++
	s.TestDrives += p.TestDriveCount
	source := p.Source
	if source == "" {
		source = "unknown"
	}
	s.BySource = incr(s.BySource, source, 1)
}

// ApplyTestDrive counts one scheduled test drive.
func ApplyTestDrive(s *CustomerState, _ v1.TestDriveScheduled) {
	s.TestDrives++
}
