package report

import (
	"time"

	"github.com/shopspring/decimal"

	coreagg "github.com/aevon-lab/report-core/internal/core/aggregation"
)

// salesTotals is the part of one or more sales records that passes a region filter.
type salesTotals struct {
	Orders  int64
	Units   int64
	Revenue decimal.Decimal
	Profit  decimal.Decimal
}

func (t *salesTotals) add(o salesTotals) {
	t.Orders += o.Orders
	t.Units += o.Units
	t.Revenue = t.Revenue.Add(o.Revenue)
	t.Profit = t.Profit.Add(o.Profit)
}

// salesOf returns the totals of rec, restricted to region when set.
func salesOf(rec *coreagg.Record, region string) salesTotals {
	s := rec.State.Sales
	if s == nil {
		return salesTotals{}
	}
	if region == "" {
		return salesTotals{Orders: s.Orders, Units: s.Units, Revenue: s.Revenue, Profit: s.Profit}
	}
	return salesTotals{
		Orders:  s.OrdersByRegion[region],
		Units:   s.UnitsByRegion[region],
		Revenue: s.RevenueByRegion[region],
		Profit:  s.ProfitByRegion[region],
	}
}

func sumSales(records []*coreagg.Record, region string, from, to time.Time) salesTotals {
	var total salesTotals
	for _, rec := range records {
		if !inPeriod(rec.Scope.Period, from, to) {
			continue
		}
		total.add(salesOf(rec, region))
	}
	return total
}

// inPeriod reports whether p is in [from, to). Zero bounds are open.
func inPeriod(p, from, to time.Time) bool {
	if !from.IsZero() && p.Before(from) {
		return false
	}
	if !to.IsZero() && !p.Before(to) {
		return false
	}
	return true
}

// rollupSales groups daily sales records into g buckets covering [start, end).
// Buckets without sales are present with zero totals.
func rollupSales(records []*coreagg.Record, region string, g coreagg.Granularity, start, end time.Time) []SeriesPoint {
	buckets := make(map[time.Time]salesTotals)
	for _, rec := range records {
		b := coreagg.BucketFor(rec.Scope.Period, g)
		t := buckets[b]
		t.add(salesOf(rec, region))
		buckets[b] = t
	}

	starts := coreagg.Buckets(start, end, g)
	out := make([]SeriesPoint, 0, len(starts))
	for _, b := range starts {
		t := buckets[b]
		out = append(out, SeriesPoint{
			Period:  b,
			Orders:  t.Orders,
			Units:   t.Units,
			Revenue: t.Revenue,
			Profit:  t.Profit,
		})
	}
	return out
}

// rollupCustomers groups daily customer records into g buckets covering [start, end).
func rollupCustomers(records []*coreagg.Record, g coreagg.Granularity, start, end time.Time) []CustomerPoint {
	buckets := make(map[time.Time]CustomerPoint)
	for _, rec := range records {
		c := rec.State.Customer
		if c == nil {
			continue
		}
		b := coreagg.BucketFor(rec.Scope.Period, g)
		p := buckets[b]
		p.NewCustomers += c.NewCustomers
		p.TestDrives += c.TestDrives
		buckets[b] = p
	}

	starts := coreagg.Buckets(start, end, g)
	out := make([]CustomerPoint, 0, len(starts))
	for _, b := range starts {
		p := buckets[b]
		p.Period = b
		out = append(out, p)
	}
	return out
}

