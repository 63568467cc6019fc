package v1

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Payload is implemented by every event variant carried in Envelope.Data.
type Payload interface {
	EventType() EventType
	// DealerKey is the dealer the event belongs to; every variant carries one.
	DealerKey() string
	// OccurredAt is the business time used to pick the aggregation period.
	OccurredAt() Time
	Validate() error
}

// ChangeType describes how an inventory quantity was modified upstream.
type ChangeType string

const (
	ChangeIncrement ChangeType = "INCREMENT"
	ChangeDecrement ChangeType = "DECREMENT"
	ChangeSet       ChangeType = "SET"
)

// OrderCompleted is published by the order service once an order is fulfilled.
// Revenue is recognized here and only here.
type OrderCompleted struct {
	OrderID     string          `json:"orderId"`
	DealerID    string          `json:"dealerId"`
	StaffID     string          `json:"staffId,omitempty"`
	CustomerID  string          `json:"customerId"`
	ModelID     string          `json:"modelId"`
	Quantity    int64           `json:"quantity"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Profit      decimal.Decimal `json:"profit"`
	Region      string          `json:"region"`
	CompletedAt Time            `json:"completedAt"`
}

func (OrderCompleted) EventType() EventType { return TypeOrderCompleted }
func (p OrderCompleted) DealerKey() string  { return p.DealerID }
func (p OrderCompleted) OccurredAt() Time   { return p.CompletedAt }

func (p OrderCompleted) Validate() error {
	switch {
	case p.OrderID == "":
		return requiredField("orderId")
	case p.DealerID == "":
		return requiredField("dealerId")
	case p.ModelID == "":
		return requiredField("modelId")
	case p.CompletedAt.IsZero():
		return requiredField("completedAt")
	case p.Quantity <= 0:
		return fmt.Errorf("quantity must be > 0, got %d", p.Quantity)
	case p.TotalAmount.IsNegative():
		return fmt.Errorf("totalAmount must be >= 0, got %s", p.TotalAmount)
	}
	return nil
}

// InventoryChanged carries the absolute before/after quantity of one stock line.
type InventoryChanged struct {
	InventoryID      string          `json:"inventoryId"`
	DealerID         string          `json:"dealerId"`
	ModelID          string          `json:"modelId"`
	PreviousQuantity int64           `json:"previousQuantity"`
	NewQuantity      int64           `json:"newQuantity"`
	Value            decimal.Decimal `json:"value"`
	ChangeType       ChangeType      `json:"changeType"`
	Reason           string          `json:"reason"`
	ChangedAt        Time            `json:"changedAt"`
}

func (InventoryChanged) EventType() EventType { return TypeInventoryChanged }
func (p InventoryChanged) DealerKey() string  { return p.DealerID }
func (p InventoryChanged) OccurredAt() Time   { return p.ChangedAt }

func (p InventoryChanged) Validate() error {
	switch {
	case p.DealerID == "":
		return requiredField("dealerId")
	case p.ModelID == "":
		return requiredField("modelId")
	case p.ChangedAt.IsZero():
		return requiredField("changedAt")
	case p.NewQuantity < 0:
		return fmt.Errorf("newQuantity must be >= 0, got %d", p.NewQuantity)
	case p.PreviousQuantity < 0:
		return fmt.Errorf("previousQuantity must be >= 0, got %d", p.PreviousQuantity)
	}
	switch p.ChangeType {
	case ChangeIncrement, ChangeDecrement, ChangeSet:
	default:
		return fmt.Errorf("unsupported changeType %q", p.ChangeType)
	}
	return nil
}

// CustomerCreated is published by the customer service for every new customer record.
type CustomerCreated struct {
	CustomerID     string `json:"customerId"`
	DealerID       string `json:"dealerId"`
	Region         string `json:"region"`
	TestDriveCount int64  `json:"testDriveCount"`
	Source         string `json:"source"`
	CreatedAt      Time   `json:"createdAt"`
}

func (CustomerCreated) EventType() EventType { return TypeCustomerCreated }
func (p CustomerCreated) DealerKey() string  { return p.DealerID }
func (p CustomerCreated) OccurredAt() Time   { return p.CreatedAt }

func (p CustomerCreated) Validate() error {
	switch {
	case p.CustomerID == "":
		return requiredField("customerId")
	case p.DealerID == "":
		return requiredField("dealerId")
	case p.CreatedAt.IsZero():
		return requiredField("createdAt")
	case p.TestDriveCount < 0:
		return fmt.Errorf("testDriveCount must be >= 0, got %d", p.TestDriveCount)
	}
	return nil
}

// PaymentReceived is a reconciliation feed; it never changes recognized revenue.
type PaymentReceived struct {
	PaymentID     string          `json:"paymentId"`
	OrderID       string          `json:"orderId"`
	DealerID      string          `json:"dealerId"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod"`
	ReceivedAt    Time            `json:"receivedAt"`
}

func (PaymentReceived) EventType() EventType { return TypePaymentReceived }
func (p PaymentReceived) DealerKey() string  { return p.DealerID }
func (p PaymentReceived) OccurredAt() Time   { return p.ReceivedAt }

func (p PaymentReceived) Validate() error {
	switch {
	case p.PaymentID == "":
		return requiredField("paymentId")
	case p.OrderID == "":
		return requiredField("orderId")
	case p.DealerID == "":
		return requiredField("dealerId")
	case p.ReceivedAt.IsZero():
		return requiredField("receivedAt")
	case !p.Amount.IsPositive():
		return fmt.Errorf("amount must be > 0, got %s", p.Amount)
	}
	return nil
}

// TestDriveScheduled is published by the dealer service when a test drive is booked.
type TestDriveScheduled struct {
	TestDriveID string `json:"testDriveId"`
	DealerID    string `json:"dealerId"`
	CustomerID  string `json:"customerId"`
	Region      string `json:"region"`
	ScheduledAt Time   `json:"scheduledAt"`
}

func (TestDriveScheduled) EventType() EventType { return TypeTestDriveScheduled }
func (p TestDriveScheduled) DealerKey() string  { return p.DealerID }
func (p TestDriveScheduled) OccurredAt() Time   { return p.ScheduledAt }

func (p TestDriveScheduled) Validate() error {
	switch {
	case p.DealerID == "":
		return requiredField("dealerId")
	case p.ScheduledAt.IsZero():
		return requiredField("scheduledAt")
	}
	return nil
}

func requiredField(name string) error {
	return fmt.Errorf("%s is required", name)
}
