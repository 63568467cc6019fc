package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	contentTypeCSV   = "text/csv; charset=utf-8"
	contentTypeExcel = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypePDF   = "application/pdf"
)

// Table is the format-independent shape every export is rendered from.
type Table struct {
	Title   string
	Columns []string
	Rows    [][]string
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatExcel:
		return contentTypeExcel
	case FormatPDF:
		return contentTypePDF
	default:
		return contentTypeCSV
	}
}

func (f Format) extension() string {
	switch f {
	case FormatExcel:
		return "xlsx"
	case FormatPDF:
		return "pdf"
	default:
		return "csv"
	}
}

// Export resolves the requested report through the same path as the query
// methods and renders it.
func (s *Service) Export(ctx context.Context, req ExportRequest) (*Export, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	table, err := s.exportTable(ctx, req)
	if err != nil {
		return nil, err
	}

	body, err := Render(table, req.Format)
	if err != nil {
		return nil, fmt.Errorf("render %s export: %w", req.Kind, err)
	}

	slog.Debug("[Report] Export rendered", "report", req.Kind, "format", req.Format, "rows", len(table.Rows), "bytes", len(body))
	return &Export{
		Filename:    fmt.Sprintf("%s-report-%s.%s", req.Kind, s.nowFn().Format("20060102"), req.Format.extension()),
		ContentType: req.Format.ContentType(),
		Body:        body,
	}, nil
}

func (s *Service) exportTable(ctx context.Context, req ExportRequest) (Table, error) {
	switch req.Kind {
	case KindSales:
		r, err := s.SalesReport(ctx, *req.Sales)
		if err != nil {
			return Table{}, err
		}
		return salesTable(r), nil
	case KindDashboard:
		r, err := s.Dashboard(ctx, *req.Dashboard)
		if err != nil {
			return Table{}, err
		}
		return dashboardTable(r), nil
	case KindForecast:
		r, err := s.Forecast(ctx, *req.Forecast)
		if err != nil {
			return Table{}, err
		}
		return forecastTable(r), nil
	case KindInventory:
		r, err := s.InventoryReport(ctx, *req.Inventory)
		if err != nil {
			return Table{}, err
		}
		return inventoryTable(r), nil
	case KindCustomer:
		r, err := s.CustomerReport(ctx, *req.Customer)
		if err != nil {
			return Table{}, err
		}
		return customerTable(r), nil
	default:
		r, err := s.FinancialReport(ctx, *req.Financial)
		if err != nil {
			return Table{}, err
		}
		return financialTable(r), nil
	}
}

// Render encodes t in format f.
func Render(t Table, f Format) ([]byte, error) {
	switch f {
	case FormatCSV:
		return renderCSV(t)
	case FormatExcel:
		return renderExcel(t)
	case FormatPDF:
		return renderPDF(t)
	default:
		return nil, invalidQueryf("invalid format %q", f)
	}
}

func renderCSV(t Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Columns); err != nil {
		return nil, err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderExcel(t Table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(t.Title)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for i, row := range t.Rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = excelValue(v)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// excelValue stores numeric cells as numbers so spreadsheets can sum them.
func excelValue(v string) interface{} {
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return n
	}
	return v
}

// sheetName fits title into the 31 character sheet name limit.
func sheetName(title string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '-'
		}
		return r
	}, title)
	if name == "" {
		return "Report"
	}
	if r := []rune(name); len(r) > 31 {
		name = strings.TrimSpace(string(r[:31]))
	}
	return name
}

func renderPDF(t Table) ([]byte, error) {
	orientation := "P"
	if len(t.Columns) > 6 {
		orientation = "L"
	}
	pdf := fpdf.New(orientation, "mm", "A4", "")
	pdf.SetTitle(t.Title, true)
	pdf.SetMargins(10, 10, 10)
	pdf.AddPage()

	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	colWidth := (pageWidth - left - right) / float64(max(len(t.Columns), 1))
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, tr(t.Title), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for _, c := range t.Columns {
		pdf.CellFormat(colWidth, 7, tr(c), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range t.Rows {
		for _, v := range row {
			align := "L"
			if _, err := strconv.ParseFloat(v, 64); err == nil {
				align = "R"
			}
			pdf.CellFormat(colWidth, 6, tr(fitText(pdf, v, colWidth-2)), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// fitText shortens s until it fits width at the current font.
func fitText(pdf *fpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	r := []rune(s)
	for len(r) > 1 && pdf.GetStringWidth(string(r)+"...") > width {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}

func day(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}

func num(d decimal.Decimal) string { return d.StringFixed(2) }

func count[N int | int64](n N) string { return strconv.FormatInt(int64(n), 10) }

func salesTable(r *SalesReport) Table {
	t := Table{
		Title: fmt.Sprintf("Sales report %s to %s", day(r.StartDate), day(r.EndDate)),
	}
	if r.GroupBy != "" {
		t.Columns = []string{string(r.GroupBy), "orders", "units", "revenue", "profit", "share_pct"}
		for _, row := range r.Breakdown {
			t.Rows = append(t.Rows, []string{row.Key, count(row.Orders), count(row.Units), num(row.Revenue), num(row.Profit), num(row.Share)})
		}
		t.Rows = append(t.Rows, []string{"total", count(r.Summary.TotalOrders), count(r.Summary.TotalUnits),
			num(r.Summary.TotalRevenue), num(r.Summary.TotalProfit), ""})
		return t
	}

	t.Columns = []string{"period", "orders", "units", "revenue", "profit"}
	for _, p := range r.Series {
		t.Rows = append(t.Rows, []string{day(p.Period), count(p.Orders), count(p.Units), num(p.Revenue), num(p.Profit)})
	}
	t.Rows = append(t.Rows, []string{"total", count(r.Summary.TotalOrders), count(r.Summary.TotalUnits),
		num(r.Summary.TotalRevenue), num(r.Summary.TotalProfit)})
	return t
}

func dashboardTable(r *Dashboard) Table {
	title := "Dashboard"
	if r.DealerID != "" {
		title += " " + r.DealerID
	}
	t := Table{Title: title, Columns: []string{"metric", "value"}}
	add := func(k, v string) { t.Rows = append(t.Rows, []string{k, v}) }

	add("total_revenue", num(r.SalesSummary.TotalRevenue))
	add("total_orders", count(r.SalesSummary.TotalOrders))
	add("total_profit", num(r.SalesSummary.TotalProfit))
	add("growth_rate_pct", num(r.SalesSummary.GrowthRate))
	add("average_order_value", num(r.SalesSummary.AverageOrderValue))
	add("inventory_value", num(r.InventorySummary.TotalValue))
	add("inventory_items", count(r.InventorySummary.TotalItems))
	add("low_stock_items", count(r.InventorySummary.LowStockItems))
	add("turnover_rate_pct", num(r.InventorySummary.TurnoverRate))
	add("aging_inventory", count(r.InventorySummary.AgingInventory))
	add("new_customers", count(r.CustomerMetrics.NewCustomers))
	add("test_drives", count(r.CustomerMetrics.TestDrives))
	add("conversion_rate_pct", num(r.CustomerMetrics.ConversionRate))
	for i, m := range r.TopSellingModels {
		add(fmt.Sprintf("top_model_%d", i+1), fmt.Sprintf("%s (%d units)", m.ModelID, m.Units))
	}
	add("recent_alerts", count(len(r.RecentAlerts)))
	return t
}

func forecastTable(r *ForecastReport) Table {
	t := Table{
		Title:   "Demand forecast " + r.ModelID,
		Columns: []string{"forecast_date", "predicted_demand", "lower", "upper", "accuracy_pct", "low_confidence"},
	}
	for _, f := range r.Forecasts {
		acc := ""
		if f.Accuracy != nil {
			acc = strconv.FormatFloat(*f.Accuracy, 'f', 2, 64)
		}
		t.Rows = append(t.Rows, []string{
			day(f.ForecastDate),
			strconv.FormatFloat(f.PredictedDemand, 'f', 2, 64),
			strconv.FormatFloat(f.ConfidenceInterval.Lower, 'f', 2, 64),
			strconv.FormatFloat(f.ConfidenceInterval.Upper, 'f', 2, 64),
			acc,
			strconv.FormatBool(f.LowConfidence),
		})
	}
	return t
}

func inventoryTable(r *InventoryReport) Table {
	t := Table{
		Title:   "Inventory report",
		Columns: []string{"dealer_id", "model_id", "on_hand", "value", "turnover_pct", "days_in_stock", "low_stock", "aging"},
	}
	for _, l := range r.Lines {
		t.Rows = append(t.Rows, []string{
			l.DealerID, l.ModelID, count(l.OnHand), num(l.Value), num(l.Turnover),
			count(l.DaysInStock), strconv.FormatBool(l.LowStock), strconv.FormatBool(l.Aging),
		})
	}
	return t
}

func customerTable(r *CustomerReport) Table {
	t := Table{
		Title:   fmt.Sprintf("Customer report %s to %s", day(r.StartDate), day(r.EndDate)),
		Columns: []string{"period", "new_customers", "test_drives"},
	}
	for _, p := range r.Series {
		t.Rows = append(t.Rows, []string{day(p.Period), count(p.NewCustomers), count(p.TestDrives)})
	}
	t.Rows = append(t.Rows, []string{"total", count(r.Metrics.NewCustomers), count(r.Metrics.TestDrives)})
	return t
}

func financialTable(r *FinancialReport) Table {
	t := Table{
		Title:   fmt.Sprintf("Financial report %s to %s", day(r.StartDate), day(r.EndDate)),
		Columns: []string{"metric", "value"},
	}
	add := func(k, v string) { t.Rows = append(t.Rows, []string{k, v}) }
	add("revenue", num(r.Revenue))
	add("profit", num(r.Profit))
	add("profit_margin_pct", num(r.ProfitMargin))
	add("payments_received", num(r.PaymentsReceived))
	add("payment_count", count(r.PaymentCount))
	add("orders_paid", count(r.Reconciliation.Paid))
	add("orders_partial", count(r.Reconciliation.Partial))
	add("orders_pending", count(r.Reconciliation.Pending))
	add("payments_unmatched", count(r.Reconciliation.Unmatched))
	add("outstanding", num(r.Outstanding))
	add("payment_completion_rate_pct", num(r.PaymentCompletionRate))
	return t
}
