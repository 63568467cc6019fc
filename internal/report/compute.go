package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	coreagg "github.com/aevon-lab/report-core/internal/core/aggregation"
	"github.com/aevon-lab/report-core/internal/core/storage"
	"github.com/aevon-lab/report-core/internal/forecast"
)

func (s *Service) query(ctx context.Context, f storage.Filter) ([]*coreagg.Record, error) {
	records, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query %s records: %w", f.Kind, err)
	}
	return records, nil
}

func (s *Service) computeSales(ctx context.Context, req SalesReportRequest) (*SalesReport, error) {
	prev := req.previous()

	// One query covers the report range and the preceding range used for growth.
	records, err := s.query(ctx, storage.Filter{
		Kind:     coreagg.KindSales,
		DealerID: req.DealerID,
		From:     prev.start(),
		To:       req.end(),
	})
	if err != nil {
		return nil, err
	}

	var current []*coreagg.Record
	for _, rec := range records {
		if inPeriod(rec.Scope.Period, req.start(), req.end()) {
			current = append(current, rec)
		}
	}

	total := sumSales(current, req.Region, time.Time{}, time.Time{})
	before := sumSales(records, req.Region, prev.start(), prev.end())
	series := rollupSales(current, req.Region, req.Period, req.start(), req.end())

	out := &SalesReport{
		DealerID:  req.DealerID,
		Region:    req.Region,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Period:    req.Period,
		GroupBy:   req.GroupBy,
		Summary:   summarize(total, before),
		Series:    series,
	}

	switch req.GroupBy {
	case GroupByModel:
		out.Breakdown = breakdownByModel(current, req.Region)
	case GroupByRegion:
		out.Breakdown = breakdownByRegion(current, req.Region)
	case GroupByStaff:
		out.Breakdown = breakdownByStaff(current)
	case GroupByPeriod:
		out.Breakdown = breakdownByPeriod(series)
	}
	for i := range out.Breakdown {
		out.Breakdown[i].Share = coreagg.Percent(out.Breakdown[i].Revenue, total.Revenue)
	}
	return out, nil
}

func summarize(total, before salesTotals) SalesSummary {
	growth, _ := coreagg.Change(total.Revenue, before.Revenue)
	aov := decimal.Zero
	if total.Orders > 0 {
		aov = total.Revenue.DivRound(decimal.NewFromInt(total.Orders), 2)
	}
	return SalesSummary{
		TotalRevenue:      total.Revenue,
		TotalOrders:       total.Orders,
		TotalProfit:       total.Profit,
		TotalUnits:        total.Units,
		GrowthRate:        growth,
		AverageOrderValue: aov,
	}
}

func breakdownByModel(records []*coreagg.Record, region string) []SalesRow {
	rows := make(map[string]salesTotals)
	for _, rec := range records {
		t := rows[rec.Scope.Dimension]
		t.add(salesOf(rec, region))
		rows[rec.Scope.Dimension] = t
	}
	return sortedRows(rows)
}

func breakdownByRegion(records []*coreagg.Record, only string) []SalesRow {
	rows := make(map[string]salesTotals)
	for _, rec := range records {
		s := rec.State.Sales
		if s == nil {
			continue
		}
		for region, revenue := range s.RevenueByRegion {
			if only != "" && region != only {
				continue
			}
			t := rows[region]
			t.add(salesTotals{
				Orders:  s.OrdersByRegion[region],
				Units:   s.UnitsByRegion[region],
				Revenue: revenue,
				Profit:  s.ProfitByRegion[region],
			})
			rows[region] = t
		}
	}
	return sortedRows(rows)
}

func breakdownByStaff(records []*coreagg.Record) []SalesRow {
	rows := make(map[string]salesTotals)
	for _, rec := range records {
		s := rec.State.Sales
		if s == nil {
			continue
		}
		for staff, revenue := range s.RevenueByStaff {
			t := rows[staff]
			t.add(salesTotals{
				Orders:  s.OrdersByStaff[staff],
				Units:   s.UnitsByStaff[staff],
				Revenue: revenue,
				Profit:  s.ProfitByStaff[staff],
			})
			rows[staff] = t
		}
	}
	return sortedRows(rows)
}

func breakdownByPeriod(series []SeriesPoint) []SalesRow {
	rows := make([]SalesRow, 0, len(series))
	for _, p := range series {
		rows = append(rows, SalesRow{
			Key:     p.Period.Format(time.DateOnly),
			Orders:  p.Orders,
			Units:   p.Units,
			Revenue: p.Revenue,
			Profit:  p.Profit,
		})
	}
	return rows
}

// sortedRows orders rows by revenue, highest first, then by key.
func sortedRows(m map[string]salesTotals) []SalesRow {
	rows := make([]SalesRow, 0, len(m))
	for key, t := range m {
		rows = append(rows, SalesRow{Key: key, Orders: t.Orders, Units: t.Units, Revenue: t.Revenue, Profit: t.Profit})
	}
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].Revenue.Cmp(rows[j].Revenue); c != 0 {
			return c > 0
		}
		return rows[i].Key < rows[j].Key
	})
	return rows
}

func (s *Service) computeDashboard(ctx context.Context, req DashboardRequest) (*Dashboard, error) {
	var (
		sales, inventory, customers []*coreagg.Record
		alerts                      []coreagg.Alert
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		sales, err = s.query(gctx, storage.Filter{Kind: coreagg.KindSales, DealerID: req.DealerID})
		return err
	})
	g.Go(func() (err error) {
		inventory, err = s.query(gctx, storage.Filter{Kind: coreagg.KindInventory, DealerID: req.DealerID})
		return err
	})
	g.Go(func() (err error) {
		customers, err = s.query(gctx, storage.Filter{Kind: coreagg.KindCustomer, DealerID: req.DealerID})
		return err
	})
	g.Go(func() error {
		var err error
		alerts, err = s.store.RecentAlerts(gctx, req.DealerID, s.opts.AlertLimit)
		if err != nil {
			return fmt.Errorf("recent alerts: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := s.nowFn()
	cur, prev := s.growthWindows(now)

	summary := summarize(sumSales(sales, "", time.Time{}, time.Time{}), salesTotals{})
	summary.GrowthRate, _ = coreagg.Change(
		sumSales(sales, "", cur.start(), cur.end()).Revenue,
		sumSales(sales, "", prev.start(), prev.end()).Revenue,
	)

	if alerts == nil {
		alerts = []coreagg.Alert{}
	}
	return &Dashboard{
		DealerID:         req.DealerID,
		UserType:         req.UserType,
		SalesSummary:     summary,
		InventorySummary: s.inventorySummary(s.inventoryLines(inventory, now)),
		CustomerMetrics:  customerMetrics(customers),
		TopSellingModels: topModels(sales, cur, prev, s.opts.TopModels),
		RecentAlerts:     alerts,
	}, nil
}

// growthWindows returns the trailing growth window ending today and the window before it.
func (s *Service) growthWindows(now time.Time) (cur, prev DateRange) {
	today := coreagg.Day(now)
	cur = DateRange{StartDate: today.AddDate(0, 0, -(s.opts.GrowthWindowDays - 1)), EndDate: today}
	return cur, cur.previous()
}

// topModels ranks models by units sold, then revenue.
func topModels(sales []*coreagg.Record, cur, prev DateRange, limit int) []TopSellingModel {
	type acc struct {
		all, cur, prev salesTotals
	}
	byModel := make(map[string]*acc)
	for _, rec := range sales {
		a := byModel[rec.Scope.Dimension]
		if a == nil {
			a = &acc{}
			byModel[rec.Scope.Dimension] = a
		}
		t := salesOf(rec, "")
		a.all.add(t)
		switch p := rec.Scope.Period; {
		case inPeriod(p, cur.start(), cur.end()):
			a.cur.add(t)
		case inPeriod(p, prev.start(), prev.end()):
			a.prev.add(t)
		}
	}

	out := make([]TopSellingModel, 0, len(byModel))
	for model, a := range byModel {
		growth, _ := coreagg.Change(a.cur.Revenue, a.prev.Revenue)
		out = append(out, TopSellingModel{
			ModelID: model,
			Units:   a.all.Units,
			Revenue: a.all.Revenue,
			Growth:  growth,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Units != out[j].Units {
			return out[i].Units > out[j].Units
		}
		if c := out[i].Revenue.Cmp(out[j].Revenue); c != 0 {
			return c > 0
		}
		return out[i].ModelID < out[j].ModelID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Service) inventoryLines(records []*coreagg.Record, now time.Time) []InventoryLine {
	lines := make([]InventoryLine, 0, len(records))
	for _, rec := range records {
		inv := rec.State.Inventory
		if inv == nil {
			continue
		}
		days := inv.DaysInStock(now)
		lines = append(lines, InventoryLine{
			DealerID:    rec.Scope.DealerID,
			ModelID:     rec.Scope.Dimension,
			OnHand:      inv.OnHand,
			UnitsOut:    inv.UnitsOut,
			Value:       inv.Value,
			Turnover:    inv.Turnover.Mul(decimal.NewFromInt(100)).Round(2),
			DaysInStock: days,
			LowStock:    inv.OnHand < s.opts.Thresholds.LowStockFloor,
			Aging:       s.opts.Thresholds.InventoryAgingDays > 0 && days >= s.opts.Thresholds.InventoryAgingDays,
		})
	}
	return lines
}

func (s *Service) inventorySummary(lines []InventoryLine) InventorySummary {
	sum := InventorySummary{TotalValue: decimal.Zero}
	var unitsOut int64
	for _, l := range lines {
		sum.TotalValue = sum.TotalValue.Add(l.Value)
		sum.TotalItems += l.OnHand
		unitsOut += l.UnitsOut
		if l.LowStock {
			sum.LowStockItems++
		}
		if l.Aging {
			sum.AgingInventory++
		}
	}
	sum.TurnoverRate = coreagg.Percent(decimal.NewFromInt(unitsOut), decimal.NewFromInt(unitsOut+sum.TotalItems))
	return sum
}

func customerMetrics(records []*coreagg.Record) CustomerMetrics {
	var m CustomerMetrics
	for _, rec := range records {
		c := rec.State.Customer
		if c == nil {
			continue
		}
		m.NewCustomers += c.NewCustomers
		m.TestDrives += c.TestDrives
		for source, n := range c.BySource {
			if m.BySource == nil {
				m.BySource = make(map[string]int64)
			}
			m.BySource[source] += n
		}
	}
	m.ConversionRate = coreagg.PercentCapped(decimal.NewFromInt(m.NewCustomers), decimal.NewFromInt(m.TestDrives))
	return m
}

func (s *Service) computeInventory(ctx context.Context, req InventoryReportRequest) (*InventoryReport, error) {
	records, err := s.query(ctx, storage.Filter{
		Kind:      coreagg.KindInventory,
		DealerID:  req.DealerID,
		Dimension: req.ModelID,
	})
	if err != nil {
		return nil, err
	}
	lines := s.inventoryLines(records, s.nowFn())
	return &InventoryReport{
		DealerID: req.DealerID,
		Summary:  s.inventorySummary(lines),
		Lines:    lines,
	}, nil
}

func (s *Service) computeCustomer(ctx context.Context, req CustomerReportRequest) (*CustomerReport, error) {
	records, err := s.query(ctx, storage.Filter{
		Kind:      coreagg.KindCustomer,
		DealerID:  req.DealerID,
		From:      req.start(),
		To:        req.end(),
		Dimension: req.Region,
	})
	if err != nil {
		return nil, err
	}

	byRegion := make(map[string]int64)
	for _, rec := range records {
		if c := rec.State.Customer; c != nil {
			byRegion[rec.Scope.Dimension] += c.NewCustomers
		}
	}

	return &CustomerReport{
		DealerID:  req.DealerID,
		Region:    req.Region,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Period:    req.Period,
		Metrics:   customerMetrics(records),
		ByRegion:  byRegion,
		Series:    rollupCustomers(records, req.Period, req.start(), req.end()),
	}, nil
}

func (s *Service) computeFinancial(ctx context.Context, req FinancialReportRequest) (*FinancialReport, error) {
	var sales, payments, orders []*coreagg.Record

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		sales, err = s.query(gctx, storage.Filter{
			Kind: coreagg.KindSales, DealerID: req.DealerID, From: req.start(), To: req.end(),
		})
		return err
	})
	g.Go(func() (err error) {
		payments, err = s.query(gctx, storage.Filter{
			Kind: coreagg.KindPayment, DealerID: req.DealerID, From: req.start(), To: req.end(),
		})
		return err
	})
	g.Go(func() (err error) {
		orders, err = s.query(gctx, storage.Filter{Kind: coreagg.KindOrder, DealerID: req.DealerID})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := sumSales(sales, "", time.Time{}, time.Time{})
	out := &FinancialReport{
		DealerID:         req.DealerID,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
		Revenue:          total.Revenue,
		Profit:           total.Profit,
		ProfitMargin:     coreagg.Percent(total.Profit, total.Revenue),
		PaymentsReceived: decimal.Zero,
		Outstanding:      decimal.Zero,
	}

	for _, rec := range payments {
		p := rec.State.Payment
		if p == nil {
			continue
		}
		out.PaymentsReceived = out.PaymentsReceived.Add(p.Total)
		out.PaymentCount += p.Count
		for method, amount := range p.ByMethod {
			if out.ByMethod == nil {
				out.ByMethod = make(map[string]decimal.Decimal)
			}
			out.ByMethod[method] = out.ByMethod[method].Add(amount)
		}
	}

	billed, settled := decimal.Zero, decimal.Zero
	for _, rec := range orders {
		o := rec.State.Order
		if o == nil {
			continue
		}
		at := o.CompletedAt
		if !o.Completed {
			at = o.LastPaymentAt
		}
		if !inPeriod(at, req.start(), req.end()) {
			continue
		}

		switch o.Status() {
		case coreagg.PaymentPaid:
			out.Reconciliation.Paid++
		case coreagg.PaymentPartial:
			out.Reconciliation.Partial++
		case coreagg.PaymentPending:
			out.Reconciliation.Pending++
		case coreagg.PaymentUnmatched:
			out.Reconciliation.Unmatched++
			continue
		}
		out.Outstanding = out.Outstanding.Add(o.Outstanding())
		billed = billed.Add(o.Amount)
		settled = settled.Add(decimal.Min(o.Paid, o.Amount))
	}
	out.PaymentCompletionRate = coreagg.PercentCapped(settled, billed)
	return out, nil
}

func (s *Service) computeForecast(ctx context.Context, req ForecastRequest) (*ForecastReport, error) {
	next := coreagg.BucketFor(s.nowFn(), req.Period)
	from := next
	for i := 0; i < s.opts.ForecastHistoryPeriods; i++ {
		from = previousBucket(from, req.Period)
	}

	records, err := s.query(ctx, storage.Filter{
		Kind:      coreagg.KindSales,
		DealerID:  req.DealerID,
		From:      from,
		To:        next,
		Dimension: req.ModelID,
	})
	if err != nil {
		return nil, err
	}

	// History starts at the first period with sales.
	points := rollupSales(records, req.Region, req.Period, from, next)
	for len(points) > 0 && points[0].Units == 0 {
		points = points[1:]
	}

	series := forecast.Series{
		ModelID:     req.ModelID,
		Region:      req.Region,
		Granularity: req.Period,
		Next:        next,
	}
	for _, p := range points {
		series.Points = append(series.Points, forecast.Point{Period: p.Period, Demand: float64(p.Units)})
	}

	history := series.Points
	if history == nil {
		history = []forecast.Point{}
	}
	return &ForecastReport{
		ModelID:   req.ModelID,
		Region:    req.Region,
		Period:    req.Period,
		History:   history,
		Forecasts: forecast.Predict(series, req.Periods, forecast.Options{MinHistory: s.opts.ForecastMinHistory}),
	}, nil
}

func previousBucket(start time.Time, g coreagg.Granularity) time.Time {
	switch g {
	case coreagg.Monthly:
		return start.AddDate(0, -1, 0)
	case coreagg.Yearly:
		return start.AddDate(-1, 0, 0)
	default:
		return start.AddDate(0, 0, -1)
	}
}
