// Package report serves the read side: sales, dashboard, forecast, inventory,
// customer and financial reports computed from the aggregate store.
//
// Every request is normalized and hashed into a cache key. A cached view is
// returned as is; otherwise the report is computed once per key (concurrent
// identical requests share the computation), stored with the tags of the
// dealers and models it covers and returned. When the computation times out
// or the store is failing, the last known copy of the view is served with
// Stale set.
package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aevon-lab/report-core/internal/cache"
	coreagg "github.com/aevon-lab/report-core/internal/core/aggregation"
	coreerrors "github.com/aevon-lab/report-core/internal/core/errors"
	"github.com/aevon-lab/report-core/internal/core/storage"
	"github.com/aevon-lab/report-core/internal/metrics"
)

const keyPrefix = "report:v1:"

// Reader is the part of the store reports are computed from.
type Reader interface {
	storage.AggregateStore
	storage.AlertStore
}

type Options struct {
	// Timeout bounds one report computation.
	Timeout time.Duration
	// TTL and StaleTTL override the cache defaults when set.
	TTL      time.Duration
	StaleTTL time.Duration

	ForecastMinHistory     int
	ForecastHistoryPeriods int
	TopModels              int
	AlertLimit             int
	// GrowthWindowDays is the trailing window dashboards compare against the one before it.
	GrowthWindowDays int
	Thresholds       coreagg.AlertThresholds
}

func (o Options) normalized() Options {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.ForecastMinHistory < 3 {
		o.ForecastMinHistory = 3
	}
	if o.ForecastHistoryPeriods < o.ForecastMinHistory {
		o.ForecastHistoryPeriods = 12
	}
	if o.TopModels <= 0 {
		o.TopModels = 5
	}
	if o.AlertLimit <= 0 {
		o.AlertLimit = 20
	}
	if o.GrowthWindowDays <= 0 {
		o.GrowthWindowDays = 30
	}
	return o
}

type Service struct {
	store   Reader
	cache   cache.Cache
	metrics *metrics.Metrics
	opts    Options
	flights singleflight.Group
	nowFn   func() time.Time
}

func NewService(store Reader, c cache.Cache, m *metrics.Metrics, opts Options) *Service {
	if c == nil {
		c = cache.NewNop()
	}
	return &Service{
		store:   store,
		cache:   c,
		metrics: m,
		opts:    opts.normalized(),
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SalesReport returns sales totals, the period series and the requested breakdown.
func (s *Service) SalesReport(ctx context.Context, req SalesReportRequest) (*SalesReport, error) {
	req, err := normalizeSales(req)
	if err != nil {
		return nil, err
	}
	return resolve[SalesReport](ctx, s, KindSales, req, dealerTags(req.DealerID), func(ctx context.Context) (*SalesReport, error) {
		return s.computeSales(ctx, req)
	})
}

// Dashboard returns the all-time summary of one dealer, or of every dealer for
// manufacturer and admin users without a dealer.
func (s *Service) Dashboard(ctx context.Context, req DashboardRequest) (*Dashboard, error) {
	req, err := normalizeDashboard(req)
	if err != nil {
		return nil, err
	}
	return resolve[Dashboard](ctx, s, KindDashboard, req, dealerTags(req.DealerID), func(ctx context.Context) (*Dashboard, error) {
		return s.computeDashboard(ctx, req)
	})
}

// Forecast predicts demand of one model for the next periods.
func (s *Service) Forecast(ctx context.Context, req ForecastRequest) (*ForecastReport, error) {
	req, err := normalizeForecast(req)
	if err != nil {
		return nil, err
	}
	return resolve[ForecastReport](ctx, s, KindForecast, req, []string{cache.ModelTag(req.ModelID)}, func(ctx context.Context) (*ForecastReport, error) {
		return s.computeForecast(ctx, req)
	})
}

func (s *Service) InventoryReport(ctx context.Context, req InventoryReportRequest) (*InventoryReport, error) {
	req = normalizeInventory(req)
	return resolve[InventoryReport](ctx, s, KindInventory, req, dealerTags(req.DealerID), func(ctx context.Context) (*InventoryReport, error) {
		return s.computeInventory(ctx, req)
	})
}

func (s *Service) CustomerReport(ctx context.Context, req CustomerReportRequest) (*CustomerReport, error) {
	req, err := normalizeCustomer(req)
	if err != nil {
		return nil, err
	}
	return resolve[CustomerReport](ctx, s, KindCustomer, req, dealerTags(req.DealerID), func(ctx context.Context) (*CustomerReport, error) {
		return s.computeCustomer(ctx, req)
	})
}

func (s *Service) FinancialReport(ctx context.Context, req FinancialReportRequest) (*FinancialReport, error) {
	req, err := normalizeFinancial(req)
	if err != nil {
		return nil, err
	}
	return resolve[FinancialReport](ctx, s, KindFinancial, req, dealerTags(req.DealerID), func(ctx context.Context) (*FinancialReport, error) {
		return s.computeFinancial(ctx, req)
	})
}

// resolve returns the view of req from the cache or computes it.
func resolve[T any, PT interface {
	*T
	stamp(Freshness)
}](
	ctx context.Context,
	s *Service,
	kind Kind,
	req any,
	tags []string,
	compute func(context.Context) (*T, error),
) (*T, error) {
	defer s.metrics.ObserveQuery(string(kind), time.Now())

	key, err := queryKey(kind, req)
	if err != nil {
		return nil, err
	}

	if v, ok := s.lookup(ctx, key, s.cache.Get, metrics.CacheHit); ok {
		out, err := decodeView[T, PT](v, false)
		if err == nil {
			return out, nil
		}
		slog.Warn("[Report] Ignoring undecodable cached view", "key", key, "error", err)
	}

	flight := s.flights.DoChan(key, func() (interface{}, error) {
		// The flight outlives the caller that started it.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
		defer cancel()

		// Versions are read before the store so a write landing mid-compute
		// keeps the result out of the cache.
		versions, verErr := s.cache.Versions(fctx, tags...)

		res, err := compute(fctx)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("encode %s view: %w", kind, err)
		}
		v := &cache.View{Key: key, Payload: payload, ComputedAt: s.nowFn(), Tags: tags}
		if verErr != nil {
			slog.Warn("[Report] Not caching view, tag versions unavailable", "key", key, "report", kind, "error", verErr)
			return v, nil
		}
		opts := append(s.putOptions(), cache.IfVersions(versions))
		switch err := s.cache.Set(fctx, *v, opts...); {
		case errors.Is(err, cache.ErrConflict):
			slog.Debug("[Report] View invalidated while computing, not cached", "key", key, "report", kind)
		case err != nil:
			slog.Warn("[Report] Failed to cache view", "key", key, "report", kind, "error", err)
		}
		return v, nil
	})

	timer := time.NewTimer(s.opts.Timeout)
	defer timer.Stop()

	select {
	case res := <-flight:
		if res.Err == nil {
			return decodeView[T, PT](res.Val.(*cache.View), false)
		}
		err = res.Err
	case <-timer.C:
		err = fmt.Errorf("%s report: %w", kind, context.DeadlineExceeded)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if !degradable(err) {
		return nil, fmt.Errorf("compute %s report: %w", kind, err)
	}
	v, ok := s.lookup(ctx, key, s.cache.Stale, metrics.CacheStale)
	if !ok {
		return nil, fmt.Errorf("compute %s report: %w", kind, err)
	}
	out, decodeErr := decodeView[T, PT](v, true)
	if decodeErr != nil {
		return nil, fmt.Errorf("compute %s report: %w", kind, err)
	}
	slog.Warn("[Report] Serving stale view",
		"report", kind, "key", key, "computed_at", v.ComputedAt, "error", err)
	return out, nil
}

// lookup reads key with get. Backend failures count as unavailable and read as a miss.
func (s *Service) lookup(
	ctx context.Context,
	key string,
	get func(context.Context, string) (*cache.View, bool, error),
	found string,
) (*cache.View, bool) {
	v, ok, err := get(ctx, key)
	switch {
	case err != nil:
		s.metrics.CacheRequest(metrics.CacheUnavailable)
		slog.Warn("[Report] Cache unavailable, computing from store",
			"key", key, "error", fmt.Errorf("%w: %w", coreerrors.ErrCacheUnavailable, err))
		return nil, false
	case !ok:
		if found == metrics.CacheHit {
			s.metrics.CacheRequest(metrics.CacheMiss)
		}
		return nil, false
	}
	s.metrics.CacheRequest(found)
	return v, true
}

func (s *Service) putOptions() []cache.PutOption {
	var opts []cache.PutOption
	if s.opts.TTL > 0 {
		opts = append(opts, cache.WithTTL(s.opts.TTL))
	}
	if s.opts.StaleTTL > 0 {
		opts = append(opts, cache.WithStaleTTL(s.opts.StaleTTL))
	}
	return opts
}

func decodeView[T any, PT interface {
	*T
	stamp(Freshness)
}](v *cache.View, stale bool) (*T, error) {
	var out T
	if err := json.Unmarshal(v.Payload, &out); err != nil {
		return nil, fmt.Errorf("decode view %s: %w", v.Key, err)
	}
	PT(&out).stamp(Freshness{ComputedAt: v.ComputedAt.UTC(), Stale: stale})
	return &out, nil
}

// queryKey hashes the normalized request. Equal requests always share a key.
func queryKey(kind Kind, req any) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", kind, err)
	}
	sum := sha256.Sum256(b)
	return keyPrefix + string(kind) + ":" + hex.EncodeToString(sum[:16]), nil
}

// degradable reports whether a stale view may stand in for a failed computation.
func degradable(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, coreerrors.ErrTransientStore)
}

func dealerTags(dealerID string) []string {
	if dealerID == "" {
		return []string{cache.AllDealersTag}
	}
	return []string{cache.DealerTag(dealerID)}
}
