package aggregation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	coreagg "github.com/aevon-lab/report-core/internal/core/aggregation"
)

// staticRules is an in-memory AlertRuleRepository.
type staticRules struct {
	rules map[string]coreagg.AlertRule
	err   error
}

func newStaticRules(rules ...coreagg.AlertRule) *staticRules {
	r := &staticRules{rules: make(map[string]coreagg.AlertRule)}
	for _, rule := range rules {
		r.rules[rule.Name] = rule
	}
	return r
}

func (r *staticRules) Get(_ context.Context, name string) (*coreagg.AlertRule, error) {
	if rule, ok := r.rules[name]; ok {
		return &rule, nil
	}
	return nil, fmt.Errorf("rule not found: %s", name)
}

func (r *staticRules) List(_ context.Context, kind coreagg.Kind) ([]coreagg.AlertRule, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []coreagg.AlertRule
	for _, rule := range r.GetRules() {
		if kind == "" || rule.Kind() == kind {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *staticRules) GetRules() []coreagg.AlertRule {
	out := make([]coreagg.AlertRule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	return out
}

// fakeLedger records prune calls and deletes from a fixed backlog.
type fakeLedger struct {
	mu      sync.Mutex
	backlog int64
	cutoffs []time.Time
	err     error
}

func (l *fakeLedger) LedgerContains(context.Context, uuid.UUID) (bool, error) { return false, nil }
func (l *fakeLedger) LedgerAdd(context.Context, uuid.UUID) error             { return nil }

func (l *fakeLedger) PruneLedger(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, l.err
	}
	l.cutoffs = append(l.cutoffs, cutoff)
	n := int64(limit)
	if l.backlog < n {
		n = l.backlog
	}
	l.backlog -= n
	return n, nil
}

func (l *fakeLedger) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cutoffs)
}
