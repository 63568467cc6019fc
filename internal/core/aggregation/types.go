package aggregation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aevon-lab/report-core/internal/core/partition"
)

// Kind selects which running totals a scope holds.
type Kind string

const (
	// KindSales is keyed by (dealer, day, model).
	KindSales Kind = "sales"
	// KindInventory is keyed by (dealer, model) and has no period.
	KindInventory Kind = "inventory"
	// KindCustomer is keyed by (dealer, day, region).
	KindCustomer Kind = "customer"
	// KindOrder is the reconciliation scope keyed by (dealer, order) and has no period.
	KindOrder Kind = "order"
	// KindPayment is keyed by (dealer, day) and holds payment-method totals.
	KindPayment Kind = "payment"
)

// Periodic reports whether scopes of k are bucketed by day.
func (k Kind) Periodic() bool {
	return k == KindSales || k == KindCustomer || k == KindPayment
}

// UnassignedRegion is used when an upstream event carries no region.
const UnassignedRegion = "unassigned"

// Scope is the aggregation key of one record.
type Scope struct {
	Kind     Kind
	DealerID string
	// Period is the UTC day start, zero for non-periodic kinds.
	Period time.Time
	// Dimension is the model, region or order id depending on Kind.
	Dimension string
}

// Key is the canonical string form, used for lock striping and logs.
func (s Scope) Key() string {
	period := "-"
	if !s.Period.IsZero() {
		period = s.Period.UTC().Format("2006-01-02")
	}
	return strings.Join([]string{string(s.Kind), s.DealerID, period, s.Dimension}, "|")
}

func (s Scope) String() string { return s.Key() }

// PartitionID is the stored partition of the scope. Partitioned by dealer so
// every scope of one dealer lands in the same partition.
func (s Scope) PartitionID() int {
	return partition.For(s.DealerID)
}

// Validate checks that the scope is well formed for its kind.
func (s Scope) Validate() error {
	if s.DealerID == "" {
		return fmt.Errorf("scope %s: dealer is required", s.Key())
	}
	switch s.Kind {
	case KindSales, KindCustomer, KindPayment:
		if s.Period.IsZero() {
			return fmt.Errorf("scope %s: period is required", s.Key())
		}
	case KindInventory, KindOrder:
		if !s.Period.IsZero() {
			return fmt.Errorf("scope %s: period must be empty", s.Key())
		}
	default:
		return fmt.Errorf("scope %s: unknown kind %q", s.Key(), s.Kind)
	}
	if s.Kind != KindPayment && s.Dimension == "" {
		return fmt.Errorf("scope %s: dimension is required", s.Key())
	}
	return nil
}

// SalesScope returns the (dealer, day, model) scope.
func SalesScope(dealerID string, at time.Time, modelID string) Scope {
	return Scope{Kind: KindSales, DealerID: dealerID, Period: Day(at), Dimension: modelID}
}

// InventoryScope returns the (dealer, model) scope.
func InventoryScope(dealerID, modelID string) Scope {
	return Scope{Kind: KindInventory, DealerID: dealerID, Dimension: modelID}
}

// CustomerScope returns the (dealer, day, region) scope.
func CustomerScope(dealerID string, at time.Time, region string) Scope {
	if region == "" {
		region = UnassignedRegion
	}
	return Scope{Kind: KindCustomer, DealerID: dealerID, Period: Day(at), Dimension: region}
}

// OrderScope returns the (dealer, order) reconciliation scope.
func OrderScope(dealerID, orderID string) Scope {
	return Scope{Kind: KindOrder, DealerID: dealerID, Dimension: orderID}
}

// PaymentScope returns the (dealer, day) payment scope.
func PaymentScope(dealerID string, at time.Time) Scope {
	return Scope{Kind: KindPayment, DealerID: dealerID, Period: Day(at)}
}

// SalesState holds running sales totals of one (dealer, day, model) scope.
type SalesState struct {
	Revenue           decimal.Decimal            `json:"revenue"`
	Profit            decimal.Decimal            `json:"profit"`
	Orders            int64                      `json:"orders"`
	Units             int64                      `json:"units"`
	AverageOrderValue decimal.Decimal            `json:"averageOrderValue"`
	RevenueByRegion   map[string]decimal.Decimal `json:"revenueByRegion,omitempty"`
	UnitsByRegion     map[string]int64           `json:"unitsByRegion,omitempty"`
	OrdersByRegion    map[string]int64           `json:"ordersByRegion,omitempty"`
	ProfitByRegion    map[string]decimal.Decimal `json:"profitByRegion,omitempty"`
	RevenueByStaff    map[string]decimal.Decimal `json:"revenueByStaff,omitempty"`
	UnitsByStaff      map[string]int64           `json:"unitsByStaff,omitempty"`
	OrdersByStaff     map[string]int64           `json:"ordersByStaff,omitempty"`
	ProfitByStaff     map[string]decimal.Decimal `json:"profitByStaff,omitempty"`
}

// InventoryState holds on-hand stock of one (dealer, model) scope.
type InventoryState struct {
	OnHand   int64           `json:"onHand"`
	Value    decimal.Decimal `json:"value"`
	UnitsIn  int64           `json:"unitsIn"`
	UnitsOut int64           `json:"unitsOut"`
	// Turnover is UnitsOut / (UnitsOut + OnHand) as a fraction.
	Turnover decimal.Decimal `json:"turnover"`
	// StockedSince is when the line last went from empty to stocked.
	StockedSince time.Time `json:"stockedSince,omitempty"`
	// EmptiedAt and RestockedAt are the latest changes to and from zero on hand.
	EmptiedAt     time.Time `json:"emptiedAt,omitempty"`
	RestockedAt   time.Time `json:"restockedAt,omitempty"`
	LastChangedAt time.Time `json:"lastChangedAt"`
	LastReason    string    `json:"lastReason,omitempty"`
	// Breaches maps an inventory alert rule to when its current breach began.
	Breaches map[string]time.Time `json:"breaches,omitempty"`
}

// DaysInStock is the age of the current stock at t.
func (s InventoryState) DaysInStock(t time.Time) int {
	if s.OnHand == 0 || s.StockedSince.IsZero() || t.Before(s.StockedSince) {
		return 0
	}
	return int(t.Sub(s.StockedSince).Hours() / 24)
}

// CustomerState holds customer counters of one (dealer, day, region) scope.
type CustomerState struct {
	NewCustomers int64            `json:"newCustomers"`
	TestDrives   int64            `json:"testDrives"`
	BySource     map[string]int64 `json:"bySource,omitempty"`
}

// OrderState reconciles one order against the payments received for it.
// Either side may arrive first.
type OrderState struct {
	Completed     bool            `json:"completed"`
	Amount        decimal.Decimal `json:"amount"`
	CompletedAt   time.Time       `json:"completedAt,omitempty"`
	Paid          decimal.Decimal `json:"paid"`
	Payments      int64           `json:"payments"`
	LastPaymentAt time.Time       `json:"lastPaymentAt,omitempty"`
}

// PaymentStatus is the reconciliation status of an order.
type PaymentStatus string

const (
	PaymentPaid      PaymentStatus = "PAID"
	PaymentPartial   PaymentStatus = "PARTIAL"
	PaymentPending   PaymentStatus = "PENDING"
	PaymentUnmatched PaymentStatus = "UNMATCHED"
)

// Status derives the reconciliation status.
func (o OrderState) Status() PaymentStatus {
	switch {
	case !o.Completed:
		return PaymentUnmatched
	case o.Paid.IsZero():
		return PaymentPending
	case o.Paid.LessThan(o.Amount):
		return PaymentPartial
	default:
		return PaymentPaid
	}
}

// Outstanding is the unpaid remainder of a completed order, never negative.
func (o OrderState) Outstanding() decimal.Decimal {
	if !o.Completed {
		return decimal.Zero
	}
	rest := o.Amount.Sub(o.Paid)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// PaymentState holds payment totals of one (dealer, day) scope.
type PaymentState struct {
	Total         decimal.Decimal            `json:"total"`
	Count         int64                      `json:"count"`
	ByMethod      map[string]decimal.Decimal `json:"byMethod,omitempty"`
	CountByMethod map[string]int64           `json:"countByMethod,omitempty"`
}

// State is the persisted payload of a record; exactly one field is set, matching Scope.Kind.
type State struct {
	Sales     *SalesState     `json:"sales,omitempty"`
	Inventory *InventoryState `json:"inventory,omitempty"`
	Customer  *CustomerState  `json:"customer,omitempty"`
	Order     *OrderState     `json:"order,omitempty"`
	Payment   *PaymentState   `json:"payment,omitempty"`
}

// Record is one aggregate row.
type Record struct {
	Scope       Scope
	State       State
	EventCount  int64     // number of events applied; bumped once per event
	LastEventID string    // most recent event that touched the record
	UpdatedAt   time.Time // wall-clock time of the last write
}

// ZeroRecord returns the zero-valued aggregate for scope. Absent scopes read as this.
func ZeroRecord(scope Scope) *Record {
	rec := &Record{Scope: scope}
	rec.ensureState()
	return rec
}

func (r *Record) ensureState() {
	switch r.Scope.Kind {
	case KindSales:
		if r.State.Sales == nil {
			r.State.Sales = &SalesState{}
		}
	case KindInventory:
		if r.State.Inventory == nil {
			r.State.Inventory = &InventoryState{}
		}
	case KindCustomer:
		if r.State.Customer == nil {
			r.State.Customer = &CustomerState{}
		}
	case KindOrder:
		if r.State.Order == nil {
			r.State.Order = &OrderState{}
		}
	case KindPayment:
		if r.State.Payment == nil {
			r.State.Payment = &PaymentState{}
		}
	}
}

// Normalize fills in the state matching the scope kind. Used after decoding stored rows.
func (r *Record) Normalize() *Record {
	r.ensureState()
	return r
}

// Touch records that eventID was applied to r at now.
func (r *Record) Touch(eventID string, now time.Time) {
	r.EventCount++
	r.LastEventID = eventID
	r.UpdatedAt = now.UTC()
}

// AlertType classifies an alert.
type AlertType string

const (
	AlertLowStock       AlertType = "LOW_STOCK"
	AlertSalesDrop      AlertType = "SALES_DROP"
	AlertInventoryAging AlertType = "INVENTORY_AGING"
)

// Severity grades an alert.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Alert is generated when an alert rule fires during an aggregate update.
type Alert struct {
	ID        uuid.UUID `json:"id"`
	DealerID  string    `json:"dealerId"`
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Subject   string    `json:"subject,omitempty"` // model id for stock alerts
	Timestamp time.Time `json:"timestamp"`
}

// alertNamespace seeds deterministic alert ids so redelivered events
// regenerate the same id and alert inserts stay idempotent.
var alertNamespace = uuid.MustParse("4d1f6a3c-2b7e-5c90-9e21-7a8b3c4d5e6f")

// AlertID derives a stable id from the parts that make an alert unique.
func AlertID(parts ...string) uuid.UUID {
	return uuid.NewSHA1(alertNamespace, []byte(strings.Join(parts, "|")))
}
