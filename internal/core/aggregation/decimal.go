package aggregation

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Ratio returns num/den, or zero when den is zero.
func Ratio(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.DivRound(den, 6)
}

// Percent returns num/den*100 rounded to two places, or zero when den is zero.
func Percent(num, den decimal.Decimal) decimal.Decimal {
	return Ratio(num, den).Mul(hundred).Round(2)
}

// PercentCapped is Percent clamped to [0, 100].
func PercentCapped(num, den decimal.Decimal) decimal.Decimal {
	p := Percent(num, den)
	if p.GreaterThan(hundred) {
		return hundred
	}
	if p.IsNegative() {
		return decimal.Zero
	}
	return p
}

// Change returns the relative change from prev to cur in percent.
// ok is false when prev is zero and the change is undefined.
func Change(cur, prev decimal.Decimal) (pct decimal.Decimal, ok bool) {
	if prev.IsZero() {
		return decimal.Zero, false
	}
	return Percent(cur.Sub(prev), prev), true
}

// addTo adds v to m[k], allocating m if needed.
func addTo(m map[string]decimal.Decimal, k string, v decimal.Decimal) map[string]decimal.Decimal {
	if m == nil {
		m = make(map[string]decimal.Decimal)
	}
	m[k] = m[k].Add(v)
	return m
}

// incr adds n to m[k], allocating m if needed.
func incr(m map[string]int64, k string, n int64) map[string]int64 {
	if m == nil {
		m = make(map[string]int64)
	}
	m[k] += n
	return m
}
