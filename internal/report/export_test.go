package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	coreagg "github.com/aevon-lab/report-core/internal/core/aggregation"
)

func TestExport_SalesCSV(t *testing.T) {
	f := newFixture(t)
	seedSales(t, f)

	out, err := f.svc.Export(context.Background(), ExportRequest{
		Format: FormatCSV,
		Kind:   KindSales,
		Sales:  &SalesReportRequest{DealerID: "d1", DateRange: january(), GroupBy: GroupByModel},
	})
	require.NoError(t, err)
	assert.Equal(t, "sales-report-20240301.csv", out.Filename)
	assert.Equal(t, "text/csv; charset=utf-8", out.ContentType)

	rows, err := csv.NewReader(bytes.NewReader(out.Body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"model", "orders", "units", "revenue", "profit", "share_pct"}, rows[0])
	assert.Equal(t, []string{"m1", "1", "2", "40000.00", "4000.00", "66.67"}, rows[1])
	assert.Equal(t, []string{"m2", "1", "1", "20000.00", "1000.00", "33.33"}, rows[2])
	assert.Equal(t, []string{"total", "2", "3", "60000.00", "5000.00", ""}, rows[3])
}

func TestExport_SeriesWithoutGrouping(t *testing.T) {
	f := newFixture(t)
	seedSales(t, f)

	out, err := f.svc.Export(context.Background(), ExportRequest{
		Format: FormatCSV,
		Kind:   KindSales,
		Sales:  &SalesReportRequest{DealerID: "d1", DateRange: january(), Period: coreagg.Monthly},
	})
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewReader(out.Body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "period", rows[0][0])
	assert.Equal(t, []string{"2024-01-01", "2", "3", "60000.00", "5000.00"}, rows[1])
}

func TestExport_FinancialExcel(t *testing.T) {
	f := newFixture(t)
	f.apply(t, completed("o1", "m1", "north", "", 1, 40000, 4000, "2024-01-10"))
	f.apply(t, payment("p1", "o1", "card", 40000, "2024-01-11"))

	out, err := f.svc.Export(context.Background(), ExportRequest{
		Format:    FormatExcel,
		Kind:      KindFinancial,
		Financial: &FinancialReportRequest{DealerID: "d1", DateRange: january()},
	})
	require.NoError(t, err)
	assert.Equal(t, "financial-report-20240301.xlsx", out.Filename)
	assert.Equal(t, contentTypeExcel, out.ContentType)

	wb, err := excelize.OpenReader(bytes.NewReader(out.Body))
	require.NoError(t, err)
	defer wb.Close()

	sheets := wb.GetSheetList()
	require.Len(t, sheets, 1)
	assert.Equal(t, "Financial report 2024-01-01 to", sheets[0])

	rows, err := wb.GetRows(sheets[0])
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, []string{"metric", "value"}, rows[0])
	assert.Equal(t, "revenue", rows[1][0])
	assert.Equal(t, "40000", rows[1][1])
	assert.Equal(t, "orders_paid", rows[6][0])
	assert.Equal(t, "1", rows[6][1])
}

func TestExport_DashboardPDF(t *testing.T) {
	f := newFixture(t)
	seedSales(t, f)

	out, err := f.svc.Export(context.Background(), ExportRequest{
		Format:    FormatPDF,
		Kind:      KindDashboard,
		Dashboard: &DashboardRequest{DealerID: "d1", UserType: UserDealer},
	})
	require.NoError(t, err)
	assert.Equal(t, "dashboard-report-20240301.pdf", out.Filename)
	assert.Equal(t, "application/pdf", out.ContentType)
	assert.True(t, bytes.HasPrefix(out.Body, []byte("%PDF-")))
}

func TestExport_PropagatesQueryErrors(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Export(context.Background(), ExportRequest{
		Format:   FormatCSV,
		Kind:     KindForecast,
		Forecast: &ForecastRequest{ModelID: "m1"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "periods")
}

func TestRender_WideTables(t *testing.T) {
	table := Table{
		Title:   "Inventory report",
		Columns: []string{"a", "b", "c", "d", "e", "f", "g", "h"},
		Rows: [][]string{
			{strings.Repeat("long text ", 20), "1", "2", "3", "4", "5", "6", "7"},
		},
	}
	for _, format := range []Format{FormatCSV, FormatExcel, FormatPDF} {
		body, err := Render(table, format)
		require.NoError(t, err, format)
		assert.NotEmpty(t, body, format)
	}

	_, err := Render(table, "DOCX")
	require.Error(t, err)
}

func TestSheetName(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{title: "", want: "Report"},
		{title: "Sales report", want: "Sales report"},
		{title: "a/b:c", want: "a-b-c"},
		{title: "Customer report 2024-01-01 to 2024-01-31", want: "Customer report 2024-01-01 to 2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sheetName(tt.title))
	}
}
