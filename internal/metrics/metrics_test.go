package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/report-core/internal/core/aggregation"
	"github.com/aevon-lab/report-core/internal/core/storage"
	"github.com/aevon-lab/report-core/internal/core/storage/memory"
)

func TestEventHandled(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.EventHandled("order.completed", OutcomeApplied)
	m.EventHandled("order.completed", OutcomeApplied)
	m.EventHandled("order.completed", OutcomeDuplicate)
	m.EventHandled("unknown", OutcomeMalformed)
	m.EventHandled("payment.received", OutcomeDeadLettered)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("order.completed", OutcomeApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.duplicates))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.malformed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deadLetters))
}

func TestCacheAndBrokerCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CacheRequest(CacheHit)
	m.CacheRequest(CacheMiss)
	m.CacheRequest(CacheHit)
	m.BrokerReconnect()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheRequests.WithLabelValues(CacheHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheRequests.WithLabelValues(CacheMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.brokerReconnects))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.EventHandled("order.completed", OutcomeApplied)
	m.CacheRequest(CacheHit)
	m.BrokerReconnect()
	m.ObserveStore("get", time.Now())
	m.ObserveQuery("sales", time.Now())

	s := memory.New()
	require.Same(t, storage.Store(s), InstrumentStore(s, nil))
}

func TestInstrumentStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	s := InstrumentStore(memory.New(), m)
	ctx := context.Background()

	scope := aggregation.SalesScope("d1", time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), "m1")
	_, err := s.Apply(ctx, uuid.New(), []storage.Mutation{{
		Scope: scope,
		Update: func(rec *aggregation.Record) ([]aggregation.Alert, error) {
			rec.State.Sales.Orders++
			return nil, nil
		},
	}})
	require.NoError(t, err)
	_, _, err = s.Get(ctx, scope)
	require.NoError(t, err)

	require.Equal(t, 2, testutil.CollectAndCount(m.storeDuration))
}
