package report

import (
	"time"

	"github.com/shopspring/decimal"

	coreagg "github.com/aevon-lab/report-core/internal/core/aggregation"
	"github.com/aevon-lab/report-core/internal/forecast"
)

// Kind names a report. It prefixes cache keys and labels query metrics.
type Kind string

const (
	KindSales     Kind = "sales"
	KindDashboard Kind = "dashboard"
	KindForecast  Kind = "forecast"
	KindInventory Kind = "inventory"
	KindCustomer  Kind = "customer"
	KindFinancial Kind = "financial"
)

// GroupBy selects the breakdown rows of a sales report.
type GroupBy string

const (
	GroupByModel  GroupBy = "model"
	GroupByRegion GroupBy = "region"
	GroupByStaff  GroupBy = "staff"
	GroupByPeriod GroupBy = "period"
)

// UserType is the audience of a dashboard.
type UserType string

const (
	UserDealer       UserType = "dealer"
	UserManufacturer UserType = "manufacturer"
	UserAdmin        UserType = "admin"
)

// Format is an export encoding.
type Format string

const (
	FormatCSV   Format = "CSV"
	FormatExcel Format = "EXCEL"
	FormatPDF   Format = "PDF"
)

// DateRange is an inclusive range of UTC days.
type DateRange struct {
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// end is the exclusive upper bound of the range.
func (r DateRange) end() time.Time { return coreagg.Day(r.EndDate).AddDate(0, 0, 1) }

func (r DateRange) start() time.Time { return coreagg.Day(r.StartDate) }

// previous is the range of equal length immediately before r.
func (r DateRange) previous() DateRange {
	days := int(r.end().Sub(r.start()).Hours() / 24)
	return DateRange{
		StartDate: r.start().AddDate(0, 0, -days),
		EndDate:   r.start().AddDate(0, 0, -1),
	}
}

type SalesReportRequest struct {
	DealerID string `json:"dealerId,omitempty"`
	Region   string `json:"region,omitempty"`
	DateRange
	// Last replaces StartDate with EndDate minus the span, e.g. "30d".
	Last    string              `json:"last,omitempty"`
	Period  coreagg.Granularity `json:"period"`
	GroupBy GroupBy             `json:"groupBy,omitempty"`
}

type DashboardRequest struct {
	DealerID string   `json:"dealerId,omitempty"`
	UserType UserType `json:"userType"`
}

type ForecastRequest struct {
	ModelID string `json:"modelId"`
	// Region is empty for all regions.
	Region   string `json:"region,omitempty"`
	DealerID string `json:"dealerId,omitempty"`
	Periods  int    `json:"periods"`
	// Period is the forecast granularity; monthly when empty.
	Period coreagg.Granularity `json:"period,omitempty"`
}

type InventoryReportRequest struct {
	DealerID string `json:"dealerId,omitempty"`
	ModelID  string `json:"modelId,omitempty"`
}

type CustomerReportRequest struct {
	DealerID string `json:"dealerId,omitempty"`
	Region   string `json:"region,omitempty"`
	DateRange
	Period coreagg.Granularity `json:"period"`
}

type FinancialReportRequest struct {
	DealerID string `json:"dealerId,omitempty"`
	DateRange
}

// ExportRequest asks for one report rendered in Format. Exactly one of the
// request fields is set; Kind says which.
type ExportRequest struct {
	Format    Format                  `json:"format"`
	Kind      Kind                    `json:"reportType"`
	Sales     *SalesReportRequest     `json:"sales,omitempty"`
	Dashboard *DashboardRequest       `json:"dashboard,omitempty"`
	Forecast  *ForecastRequest        `json:"forecast,omitempty"`
	Inventory *InventoryReportRequest `json:"inventory,omitempty"`
	Customer  *CustomerReportRequest  `json:"customer,omitempty"`
	Financial *FinancialReportRequest `json:"financial,omitempty"`
}

// Freshness tells whether a response came from a current or a stale view.
type Freshness struct {
	ComputedAt time.Time `json:"computedAt"`
	// Stale is set when the view could not be recomputed in time and the
	// last known copy was served instead.
	Stale bool `json:"stale,omitempty"`
}

func (f *Freshness) stamp(v Freshness) { *f = v }

type SalesSummary struct {
	TotalRevenue decimal.Decimal `json:"totalRevenue"`
	TotalOrders  int64           `json:"totalOrders"`
	TotalProfit  decimal.Decimal `json:"totalProfit"`
	TotalUnits   int64           `json:"totalUnits"`
	// GrowthRate is the revenue change against the preceding range in percent.
	GrowthRate        decimal.Decimal `json:"growthRate"`
	AverageOrderValue decimal.Decimal `json:"averageOrderValue"`
}

// SalesRow is one breakdown row. Key is the model, region, staff id or the
// period start (YYYY-MM-DD) depending on GroupBy.
type SalesRow struct {
	Key     string          `json:"key"`
	Orders  int64           `json:"orders"`
	Units   int64           `json:"units"`
	Revenue decimal.Decimal `json:"revenue"`
	Profit  decimal.Decimal `json:"profit"`
	// Share is the row's part of total revenue in percent.
	Share decimal.Decimal `json:"share"`
}

// SeriesPoint is the sales of one period bucket.
type SeriesPoint struct {
	Period  time.Time       `json:"period"`
	Orders  int64           `json:"orders"`
	Units   int64           `json:"units"`
	Revenue decimal.Decimal `json:"revenue"`
	Profit  decimal.Decimal `json:"profit"`
}

type SalesReport struct {
	DealerID  string              `json:"dealerId,omitempty"`
	Region    string              `json:"region,omitempty"`
	StartDate time.Time           `json:"startDate"`
	EndDate   time.Time           `json:"endDate"`
	Period    coreagg.Granularity `json:"period"`
	GroupBy   GroupBy             `json:"groupBy,omitempty"`
	Summary   SalesSummary        `json:"summary"`
	Breakdown []SalesRow          `json:"breakdown,omitempty"`
	Series    []SeriesPoint       `json:"series"`
	Freshness
}

type InventorySummary struct {
	TotalValue    decimal.Decimal `json:"totalValue"`
	TotalItems    int64           `json:"totalItems"`
	LowStockItems int             `json:"lowStockItems"`
	// TurnoverRate is units out over units out plus on hand, in percent.
	TurnoverRate   decimal.Decimal `json:"turnoverRate"`
	AgingInventory int             `json:"agingInventory"`
}

type CustomerMetrics struct {
	NewCustomers int64 `json:"newCustomers"`
	TestDrives   int64 `json:"testDrives"`
	// ConversionRate is new customers per test drive in percent, capped at 100.
	ConversionRate decimal.Decimal  `json:"conversionRate"`
	BySource       map[string]int64 `json:"bySource,omitempty"`
}

type TopSellingModel struct {
	ModelID string          `json:"modelId"`
	Units   int64           `json:"sales"`
	Revenue decimal.Decimal `json:"revenue"`
	// Growth compares the trailing growth window against the window before it.
	Growth decimal.Decimal `json:"growth"`
}

type Dashboard struct {
	DealerID         string            `json:"dealerId,omitempty"`
	UserType         UserType          `json:"userType"`
	SalesSummary     SalesSummary      `json:"salesSummary"`
	InventorySummary InventorySummary  `json:"inventorySummary"`
	CustomerMetrics  CustomerMetrics   `json:"customerMetrics"`
	TopSellingModels []TopSellingModel `json:"topSellingModels"`
	RecentAlerts     []coreagg.Alert   `json:"recentAlerts"`
	Freshness
}

type ForecastReport struct {
	ModelID     string              `json:"modelId"`
	Region      string              `json:"region,omitempty"`
	Period      coreagg.Granularity `json:"period"`
	History     []forecast.Point    `json:"history"`
	Forecasts   []forecast.Forecast `json:"forecasts"`
	Freshness
}

type InventoryLine struct {
	DealerID    string          `json:"dealerId"`
	ModelID     string          `json:"modelId"`
	OnHand      int64           `json:"onHand"`
	UnitsOut    int64           `json:"unitsOut"`
	Value       decimal.Decimal `json:"value"`
	Turnover    decimal.Decimal `json:"turnover"`
	DaysInStock int             `json:"daysInStock"`
	LowStock    bool            `json:"lowStock"`
	Aging       bool            `json:"aging"`
}

type InventoryReport struct {
	DealerID string           `json:"dealerId,omitempty"`
	Summary  InventorySummary `json:"summary"`
	Lines    []InventoryLine  `json:"lines"`
	Freshness
}

type CustomerPoint struct {
	Period       time.Time `json:"period"`
	NewCustomers int64     `json:"newCustomers"`
	TestDrives   int64     `json:"testDrives"`
}

type CustomerReport struct {
	DealerID  string              `json:"dealerId,omitempty"`
	Region    string              `json:"region,omitempty"`
	StartDate time.Time           `json:"startDate"`
	EndDate   time.Time           `json:"endDate"`
	Period    coreagg.Granularity `json:"period"`
	Metrics   CustomerMetrics     `json:"metrics"`
	ByRegion  map[string]int64    `json:"byRegion,omitempty"`
	Series    []CustomerPoint     `json:"series"`
	Freshness
}

// Reconciliation counts orders by payment status.
type Reconciliation struct {
	Paid      int `json:"paid"`
	Partial   int `json:"partial"`
	Pending   int `json:"pending"`
	Unmatched int `json:"unmatched"`
}

type FinancialReport struct {
	DealerID  string    `json:"dealerId,omitempty"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	// Revenue and Profit are recognized from completed orders only.
	Revenue decimal.Decimal `json:"revenue"`
	Profit  decimal.Decimal `json:"profit"`
	// ProfitMargin is profit over revenue in percent.
	ProfitMargin decimal.Decimal `json:"profitMargin"`
	// PaymentsReceived is cash received in the range by payment date.
	PaymentsReceived decimal.Decimal            `json:"paymentsReceived"`
	PaymentCount     int64                      `json:"paymentCount"`
	ByMethod         map[string]decimal.Decimal `json:"byMethod,omitempty"`
	// Reconciliation and Outstanding cover orders completed in the range plus
	// payments not yet matched to an order.
	Reconciliation Reconciliation `json:"reconciliation"`
	Outstanding    decimal.Decimal `json:"outstanding"`
	// PaymentCompletionRate is paid amount over billed amount of completed orders, in percent.
	PaymentCompletionRate decimal.Decimal `json:"paymentCompletionRate"`
	Freshness
}

// Export is a rendered report.
type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}
