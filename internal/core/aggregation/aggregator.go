package aggregation

import (
	"github.com/shopspring/decimal"
)

// Comparator decides whether an observed metric crosses an alert threshold.
// To add a new operator: implement this interface and register it in Comparators.
type Comparator interface {
	Holds(observed, threshold decimal.Decimal) bool
}

// Supported alert rule operators.
const (
	OpLess         = "<"
	OpLessEqual    = "<="
	OpGreater      = ">"
	OpGreaterEqual = ">="
	OpEqual        = "=="
)

// Comparators is the registry of all supported alert rule operators.
var Comparators = map[string]Comparator{
	OpLess:         lessCmp{},
	OpLessEqual:    lessEqualCmp{},
	OpGreater:      greaterCmp{},
	OpGreaterEqual: greaterEqualCmp{},
	OpEqual:        equalCmp{},
}

// ValidOperator reports whether op is a registered comparator.
func ValidOperator(op string) bool {
	_, ok := Comparators[op]
	return ok
}

type lessCmp struct{}

func (lessCmp) Holds(o, t decimal.Decimal) bool { return o.LessThan(t) }

type lessEqualCmp struct{}

func (lessEqualCmp) Holds(o, t decimal.Decimal) bool { return o.LessThanOrEqual(t) }

type greaterCmp struct{}

func (greaterCmp) Holds(o, t decimal.Decimal) bool { return o.GreaterThan(t) }

type greaterEqualCmp struct{}

func (greaterEqualCmp) Holds(o, t decimal.Decimal) bool { return o.GreaterThanOrEqual(t) }

type equalCmp struct{}

func (equalCmp) Holds(o, t decimal.Decimal) bool { return o.Equal(t) }
