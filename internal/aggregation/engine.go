// Package aggregation applies decoded events to the aggregate store and runs
// the store's periodic maintenance.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	v1 "github.com/aevon-lab/report-core/internal/api/v1"
	"github.com/aevon-lab/report-core/internal/cache"
	coreagg "github.com/aevon-lab/report-core/internal/core/aggregation"
	"github.com/aevon-lab/report-core/internal/core/storage"
)

// Result describes what one applied event changed.
type Result struct {
	Records []*coreagg.Record
	Alerts  []coreagg.Alert
	// Tags are the cache tags invalidated after the write.
	Tags []string
}

type EngineOptions struct {
	// SalesDropWindow is the trailing window, in days, compared against the
	// window before it by sales-drop rules.
	SalesDropWindow int
}

// Engine is the single writer of aggregates. Each event is applied through
// storage.Store.Apply, which claims the event id and updates every touched
// scope atomically.
type Engine struct {
	store storage.Store
	cache cache.Cache
	rules coreagg.AlertRuleRepository
	opts  EngineOptions
}

func NewEngine(store storage.Store, c cache.Cache, rules coreagg.AlertRuleRepository, opts EngineOptions) *Engine {
	if c == nil {
		c = cache.NewNop()
	}
	if opts.SalesDropWindow <= 0 {
		opts.SalesDropWindow = 7
	}
	return &Engine{store: store, cache: c, rules: rules, opts: opts}
}

// Handle applies payload under eventID. Returns storage.ErrDuplicate when the
// event was already applied; nothing is changed in that case.
// Alerts are raised inside the same Apply, so they commit with the ledger claim.
func (e *Engine) Handle(ctx context.Context, eventID uuid.UUID, payload v1.Payload) (*Result, error) {
	steps, err := coreagg.Plan(payload)
	if err != nil {
		return nil, err
	}

	inventoryRules, err := e.rules.List(ctx, coreagg.KindInventory)
	if err != nil {
		return nil, fmt.Errorf("load inventory rules: %w", err)
	}

	var drop *salesDrop
	if order, ok := payload.(v1.OrderCompleted); ok {
		if drop, err = e.salesDropFor(ctx, order); err != nil {
			return nil, fmt.Errorf("sales drop baseline: %w", err)
		}
	}

	at := payload.OccurredAt().Time
	raised := make([][]coreagg.Alert, len(steps))
	mutations := make([]storage.Mutation, len(steps))
	for i, step := range steps {
		i, step := i, step
		mutations[i] = storage.Mutation{
			Scope: step.Scope,
			Update: func(rec *coreagg.Record) ([]coreagg.Alert, error) {
				step.Apply(rec)
				switch rec.Scope.Kind {
				case coreagg.KindInventory:
					raised[i] = evaluateInventory(inventoryRules, rec, at)
				case coreagg.KindSales:
					raised[i] = drop.evaluate()
				default:
					raised[i] = nil
				}
				return raised[i], nil
			},
		}
	}

	records, err := e.store.Apply(ctx, eventID, mutations)
	if err != nil {
		return nil, err
	}

	res := &Result{Records: records}
	for _, alerts := range raised {
		res.Alerts = append(res.Alerts, alerts...)
	}

	res.Tags = tagsFor(records)
	if err := e.cache.Invalidate(ctx, res.Tags...); err != nil {
		slog.Warn("[Engine] Cache invalidation failed, entries expire by TTL",
			"event_id", eventID, "tags", res.Tags, "error", err)
	}

	for _, al := range res.Alerts {
		slog.Info("[Engine] Alert raised",
			"event_id", eventID, "dealer_id", al.DealerID, "type", al.Type, "severity", al.Severity)
	}
	return res, nil
}

// evaluateInventory runs the inventory rules against an updated inventory scope
// and tracks each rule's breach in the scope state. One alert per rule and breach:
// repeated events inside the same breach raise the same alert id. Events older
// than the scope's last change raise nothing.
func evaluateInventory(rules []coreagg.AlertRule, rec *coreagg.Record, at time.Time) []coreagg.Alert {
	inv := rec.State.Inventory
	if at.Before(inv.LastChangedAt) {
		return nil
	}
	metrics := coreagg.InventoryMetrics(inv, at)
	var alerts []coreagg.Alert
	for _, rule := range rules {
		observed, fired := rule.Evaluate(metrics)
		if !fired {
			delete(inv.Breaches, rule.Name)
			continue
		}
		since, ok := inv.Breaches[rule.Name]
		if !ok {
			if inv.Breaches == nil {
				inv.Breaches = make(map[string]time.Time)
			}
			since = at.UTC()
			inv.Breaches[rule.Name] = since
		}
		alerts = append(alerts, rule.Fire(rec.Scope.DealerID, rec.Scope.Dimension, observed, at, since.Format(time.RFC3339Nano)))
	}
	return alerts
}

// salesDrop compares a dealer's revenue over the trailing window ending with the
// day of an order against the window before it. The windows are read before the
// order is applied and the order's amount is added to the current one.
type salesDrop struct {
	rules     []coreagg.AlertRule
	dealerID  string
	at        time.Time
	windowEnd time.Time
	current   decimal.Decimal
	previous  decimal.Decimal
}

func (e *Engine) salesDropFor(ctx context.Context, order v1.OrderCompleted) (*salesDrop, error) {
	rules, err := e.rules.List(ctx, coreagg.KindSales)
	if err != nil || len(rules) == 0 {
		return nil, err
	}

	at := order.CompletedAt.Time
	end := coreagg.Day(at).AddDate(0, 0, 1)
	mid := end.AddDate(0, 0, -e.opts.SalesDropWindow)
	start := mid.AddDate(0, 0, -e.opts.SalesDropWindow)

	records, err := e.store.Query(ctx, storage.Filter{
		Kind:     coreagg.KindSales,
		DealerID: order.DealerID,
		From:     start,
		To:       end,
	})
	if err != nil {
		return nil, err
	}

	d := &salesDrop{rules: rules, dealerID: order.DealerID, at: at, windowEnd: end, current: order.TotalAmount}
	for _, rec := range records {
		if rec.Scope.Period.Before(mid) {
			d.previous = d.previous.Add(rec.State.Sales.Revenue)
		} else {
			d.current = d.current.Add(rec.State.Sales.Revenue)
		}
	}
	return d, nil
}

// evaluate returns the alerts raised for the windows. One alert per dealer, rule
// and window end.
func (d *salesDrop) evaluate() []coreagg.Alert {
	if d == nil {
		return nil
	}
	change, ok := coreagg.Change(d.current, d.previous)
	if !ok {
		return nil
	}

	metrics := coreagg.Metrics{coreagg.MetricRevenueChangePct: change}
	var alerts []coreagg.Alert
	for _, rule := range d.rules {
		observed, fired := rule.Evaluate(metrics)
		if !fired {
			continue
		}
		alerts = append(alerts, rule.Fire(d.dealerID, "", observed, d.at, d.windowEnd.Format("2006-01-02")))
	}
	return alerts
}

// tagsFor lists the cache tags covering records, sorted.
func tagsFor(records []*coreagg.Record) []string {
	set := map[string]struct{}{cache.AllDealersTag: {}}
	for _, rec := range records {
		set[cache.DealerTag(rec.Scope.DealerID)] = struct{}{}
		if rec.Scope.Kind == coreagg.KindSales {
			set[cache.ModelTag(rec.Scope.Dimension)] = struct{}{}
		}
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// IsDuplicate reports whether err means the event was already applied.
func IsDuplicate(err error) bool {
	return errors.Is(err, storage.ErrDuplicate)
}
