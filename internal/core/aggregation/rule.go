package aggregation

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Metric names an observable an alert rule can compare against.
type Metric string

const (
	MetricOnHand           Metric = "on_hand"
	MetricDaysInStock      Metric = "days_in_stock"
	MetricTurnoverPct      Metric = "turnover_pct"
	MetricRevenueChangePct Metric = "revenue_change_pct"
)

// metricKinds maps each metric to the scope kind it is computed from.
var metricKinds = map[Metric]Kind{
	MetricOnHand:           KindInventory,
	MetricDaysInStock:      KindInventory,
	MetricTurnoverPct:      KindInventory,
	MetricRevenueChangePct: KindSales,
}

// Metrics is a snapshot of observables for one scope.
type Metrics map[Metric]decimal.Decimal

// InventoryMetrics computes the observables of an inventory scope at t.
func InventoryMetrics(s *InventoryState, t time.Time) Metrics {
	return Metrics{
		MetricOnHand:      decimal.NewFromInt(s.OnHand),
		MetricDaysInStock: decimal.NewFromInt(int64(s.DaysInStock(t))),
		MetricTurnoverPct: s.Turnover.Mul(hundred).Round(2),
	}
}

// AlertRule fires an alert when Metric compared to Threshold with Operator holds.
// Rules are loaded at startup from YAML files and fingerprinted like aggregation config.
type AlertRule struct {
	Name      string
	Type      AlertType
	Metric    Metric
	Operator  string
	Threshold decimal.Decimal
	// Severity is fixed when set; empty grades by distance to the threshold.
	Severity    Severity
	Fingerprint string // SHA-256 of the raw YAML file; "default" for built-in rules
}

// rawRule is the on-disk YAML shape.
type rawRule struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Metric    string `yaml:"metric"`
	Operator  string `yaml:"operator"`
	Threshold string `yaml:"threshold"`
	Severity  string `yaml:"severity"`
}

// Kind returns the scope kind the rule is evaluated on.
func (r AlertRule) Kind() Kind { return metricKinds[r.Metric] }

// Evaluate reports whether the rule holds for m, and the observed value.
// A metric missing from m never fires.
func (r AlertRule) Evaluate(m Metrics) (decimal.Decimal, bool) {
	observed, ok := m[r.Metric]
	if !ok {
		return decimal.Zero, false
	}
	cmp, ok := Comparators[r.Operator]
	if !ok {
		return observed, false
	}
	return observed, cmp.Holds(observed, r.Threshold)
}

// SeverityFor returns the rule's fixed severity, or grades observed against the threshold:
// zero or below is HIGH, under half the threshold is MEDIUM, otherwise LOW.
func (r AlertRule) SeverityFor(observed decimal.Decimal) Severity {
	if r.Severity != "" {
		return r.Severity
	}
	switch {
	case !observed.IsPositive():
		return SeverityHigh
	case observed.LessThan(r.Threshold.Div(decimal.NewFromInt(2))):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Fire builds the alert for an observation. idParts make the alert id unique;
// the rule name is always part of it.
func (r AlertRule) Fire(dealerID, subject string, observed decimal.Decimal, at time.Time, idParts ...string) Alert {
	parts := append([]string{r.Name, dealerID, subject}, idParts...)
	return Alert{
		ID:        AlertID(parts...),
		DealerID:  dealerID,
		Type:      r.Type,
		Severity:  r.SeverityFor(observed),
		Message:   r.message(subject, observed),
		Subject:   subject,
		Timestamp: at.UTC(),
	}
}

func (r AlertRule) message(subject string, observed decimal.Decimal) string {
	switch r.Type {
	case AlertLowStock:
		return fmt.Sprintf("Low stock for model %s: %s units on hand (floor %s)", subject, observed, r.Threshold)
	case AlertInventoryAging:
		return fmt.Sprintf("Model %s has been in stock for %s days (limit %s)", subject, observed, r.Threshold)
	case AlertSalesDrop:
		return fmt.Sprintf("Revenue changed %s%% against the previous window (threshold %s%%)", observed, r.Threshold)
	default:
		return fmt.Sprintf("%s: %s %s %s", r.Name, r.Metric, r.Operator, r.Threshold)
	}
}

// AlertThresholds are the configured defaults used when no rule files exist.
type AlertThresholds struct {
	LowStockFloor      int64
	SalesDropFraction  decimal.Decimal // 0.3 means a 30% drop
	InventoryAgingDays int
}

// DefaultAlertRules derives the built-in rule set from configured thresholds.
func DefaultAlertRules(t AlertThresholds) []AlertRule {
	return []AlertRule{
		{
			Name:        "low_stock",
			Type:        AlertLowStock,
			Metric:      MetricOnHand,
			Operator:    OpLess,
			Threshold:   decimal.NewFromInt(t.LowStockFloor),
			Fingerprint: "default",
		},
		{
			Name:        "inventory_aging",
			Type:        AlertInventoryAging,
			Metric:      MetricDaysInStock,
			Operator:    OpGreaterEqual,
			Threshold:   decimal.NewFromInt(int64(t.InventoryAgingDays)),
			Severity:    SeverityMedium,
			Fingerprint: "default",
		},
		{
			Name:        "sales_drop",
			Type:        AlertSalesDrop,
			Metric:      MetricRevenueChangePct,
			Operator:    OpLessEqual,
			Threshold:   t.SalesDropFraction.Mul(hundred).Neg(),
			Severity:    SeverityHigh,
			Fingerprint: "default",
		},
	}
}

// AlertRuleRepository serves the alert rules in effect.
type AlertRuleRepository interface {
	// Get returns the rule with the given name, or an error if not found.
	Get(ctx context.Context, name string) (*AlertRule, error)

	// List returns all rules, optionally filtered by the scope kind they evaluate.
	List(ctx context.Context, kind Kind) ([]AlertRule, error)

	// GetRules returns all rules sorted by name.
	GetRules() []AlertRule
}

// FileSystemRuleRepository loads alert rules from *.yaml files in a directory.
// Each file contains exactly one rule at the top level. Rules are loaded once at
// startup; when the directory is missing or empty the fallback rules apply.
type FileSystemRuleRepository struct {
	dir   string
	rules map[string]AlertRule // keyed by Name
}

// NewFileSystemRuleRepository creates a new repository and eagerly loads all rules
// from dir. Returns an error if any rule file is malformed or invalid.
func NewFileSystemRuleRepository(dir string, fallback []AlertRule) (*FileSystemRuleRepository, error) {
	repo := &FileSystemRuleRepository{
		dir:   dir,
		rules: make(map[string]AlertRule),
	}
	if dir != "" {
		if err := repo.load(); err != nil {
			return nil, err
		}
	}
	if len(repo.rules) == 0 {
		for _, r := range fallback {
			repo.rules[r.Name] = r
		}
	}
	return repo, nil
}

func (r *FileSystemRuleRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("alert rule dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("alert rule path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading alert rule dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading rule file %s: %w", path, err)
		}

		var raw rawRule
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing rule file %s: %w", path, err)
		}
		if raw.Name == "" {
			continue // skip empty / comment-only files
		}

		rule, err := raw.compile()
		if err != nil {
			return fmt.Errorf("rule %q: %w", raw.Name, err)
		}
		rule.Fingerprint = fmt.Sprintf("%x", sha256.Sum256(data))

		if _, exists := r.rules[rule.Name]; exists {
			return fmt.Errorf("rule %q: duplicate rule name (check multiple YAML files)", rule.Name)
		}
		r.rules[rule.Name] = rule
	}
	return nil
}

func (raw rawRule) compile() (AlertRule, error) {
	rule := AlertRule{
		Name:     raw.Name,
		Type:     AlertType(strings.ToUpper(raw.Type)),
		Metric:   Metric(raw.Metric),
		Operator: raw.Operator,
		Severity: Severity(strings.ToUpper(raw.Severity)),
	}

	switch rule.Type {
	case AlertLowStock, AlertInventoryAging, AlertSalesDrop:
	default:
		return rule, fmt.Errorf("unsupported type %q", raw.Type)
	}
	kind, ok := metricKinds[rule.Metric]
	if !ok {
		return rule, fmt.Errorf("unsupported metric %q", raw.Metric)
	}
	if (rule.Type == AlertSalesDrop) != (kind == KindSales) {
		return rule, fmt.Errorf("metric %q cannot drive a %s alert", raw.Metric, rule.Type)
	}
	if !ValidOperator(rule.Operator) {
		return rule, fmt.Errorf("unsupported operator %q", raw.Operator)
	}
	threshold, err := decimal.NewFromString(raw.Threshold)
	if err != nil {
		return rule, fmt.Errorf("invalid threshold %q: %w", raw.Threshold, err)
	}
	rule.Threshold = threshold
	if rule.Severity != "" && !ValidSeverity(rule.Severity) {
		return rule, fmt.Errorf("unsupported severity %q", raw.Severity)
	}
	return rule, nil
}

// Get returns the rule with the given name, or an error if not found.
func (r *FileSystemRuleRepository) Get(_ context.Context, name string) (*AlertRule, error) {
	rule, ok := r.rules[name]
	if !ok {
		return nil, fmt.Errorf("alert rule %q not found", name)
	}
	return &rule, nil
}

// List returns all loaded rules, optionally filtered by scope kind.
func (r *FileSystemRuleRepository) List(_ context.Context, kind Kind) ([]AlertRule, error) {
	var out []AlertRule
	for _, rule := range r.GetRules() {
		if kind != "" && rule.Kind() != kind {
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

// GetRules returns all rules sorted by name.
func (r *FileSystemRuleRepository) GetRules() []AlertRule {
	rules := make([]AlertRule, 0, len(r.rules))
	for _, rule := range r.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules
}
