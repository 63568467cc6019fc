//go:build integration

package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aevon-lab/report-core/internal/aggregation"
	v1 "github.com/aevon-lab/report-core/internal/api/v1"
	"github.com/aevon-lab/report-core/internal/broker"
	"github.com/aevon-lab/report-core/internal/cache"
	coreagg "github.com/aevon-lab/report-core/internal/core/aggregation"
	"github.com/aevon-lab/report-core/internal/core/config"
	"github.com/aevon-lab/report-core/internal/core/storage/postgres"
	"github.com/aevon-lab/report-core/internal/deadletter"
	"github.com/aevon-lab/report-core/internal/dispatcher"
	"github.com/aevon-lab/report-core/internal/ingestion"
	"github.com/aevon-lab/report-core/internal/metrics"
	"github.com/aevon-lab/report-core/internal/migrations"
	"github.com/aevon-lab/report-core/internal/report"
	"github.com/aevon-lab/report-core/internal/schema"
	"github.com/aevon-lab/report-core/internal/server"
)

const (
	testExchange = "events"
	testQueue    = "report-core-integration"
	deadLetters  = "report:dead_letters:it"
)

var testBindings = []string{"order.*", "inventory.*", "customer.*", "payment.*", "testdrive.*"}

type integrationHarness struct {
	baseURL   string
	client    *http.Client
	db        *sql.DB
	redis     *redis.Client
	publisher *broker.Publisher
	cancel    context.CancelFunc
	done      chan error
}

func (h *integrationHarness) close(t *testing.T) {
	t.Helper()

	h.cancel()
	select {
	case <-h.done:
	case <-time.After(10 * time.Second):
		t.Log("pipeline shutdown timed out")
	}
	require.NoError(t, h.redis.Close())
	require.NoError(t, h.db.Close())
}

func startHarness(t *testing.T) *integrationHarness {
	t.Helper()
	ctx := context.Background()

	pg, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("report"),
		tcpostgres.WithUsername("report"),
		tcpostgres.WithPassword("report"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pg); err != nil {
			t.Errorf("failed to terminate postgres container: %s", err)
		}
	})
	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	rd, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(rd); err != nil {
			t.Errorf("failed to terminate redis container: %s", err)
		}
	})
	redisURL, err := rd.ConnectionString(ctx)
	require.NoError(t, err)

	mq, err := tcrabbitmq.Run(ctx, "rabbitmq:3.13-management-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(mq); err != nil {
			t.Errorf("failed to terminate rabbitmq container: %s", err)
		}
	})
	amqpURL, err := mq.AmqpURL(ctx)
	require.NoError(t, err)

	db, err := postgres.Open(dsn, 10, 10)
	require.NoError(t, err)
	require.NoError(t, migrations.Run(db, true))
	store := postgres.NewAggregateAdapter(db)

	redisCli, err := cache.OpenRedis(redisURL)
	require.NoError(t, err)

	rules, err := coreagg.NewFileSystemRuleRepository("", coreagg.DefaultAlertRules(coreagg.AlertThresholds{
		LowStockFloor:      5,
		SalesDropFraction:  decimal.RequireFromString("0.3"),
		InventoryAgingDays: 90,
	}))
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	viewCache := cache.NewRedis(redisCli, cache.PutOptions{TTL: time.Minute, StaleTTL: time.Hour})
	engine := aggregation.NewEngine(store, viewCache, rules, aggregation.EngineOptions{SalesDropWindow: 7})
	disp := dispatcher.New(schema.NewDefaultRegistry(), store, engine, deadletter.NewRedisSink(redisCli, deadLetters), m,
		dispatcher.Options{MaxRetries: 2, InitialInterval: 50 * time.Millisecond, MaxInterval: 200 * time.Millisecond})

	brokerCfg := config.BrokerConfig{
		URL:                  amqpURL,
		Exchange:             testExchange,
		Queue:                testQueue,
		Bindings:             testBindings,
		Prefetch:             16,
		WorkerCount:          4,
		ChannelBufferSize:    32,
		MaxRetries:           2,
		RetryInitialInterval: 50 * time.Millisecond,
		ReconnectMaxInterval: time.Second,
		OperationTimeout:     5 * time.Second,
	}
	consumer := broker.NewConsumer(brokerCfg, disp, m)

	publisher := newPublisher(t, amqpURL)

	reports := report.NewService(store, viewCache, m, report.Options{Timeout: 5 * time.Second})
	ingest := ingestion.NewService(schema.NewDefaultRegistry(), publisher, 1)
	addr := fmt.Sprintf("127.0.0.1:%d", freePort(t))
	srv := server.New(addr, server.Options{
		Mode:   "release",
		Checks: map[string]server.HealthChecker{"store": store, "cache": viewCache},
	}, reports, ingest)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 2)
	go func() { done <- consumer.Run(runCtx) }()
	go func() { done <- srv.Run(runCtx) }()

	h := &integrationHarness{
		baseURL:   "http://" + addr,
		client:    &http.Client{Timeout: 5 * time.Second},
		db:        db,
		redis:     redisCli,
		publisher: publisher,
		cancel:    cancel,
		done:      done,
	}
	waitForHealthy(t, h.baseURL)
	return h
}

// newPublisher declares the consumer's durable queue up front so nothing
// published before the consumer connects is dropped.
func newPublisher(t *testing.T, url string) *broker.Publisher {
	t.Helper()

	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ch, err := conn.Channel()
	require.NoError(t, err)
	require.NoError(t, ch.ExchangeDeclare(testExchange, amqp.ExchangeTopic, true, false, false, false, nil))
	_, err = ch.QueueDeclare(testQueue, true, false, false, false, nil)
	require.NoError(t, err)
	for _, pattern := range testBindings {
		require.NoError(t, ch.QueueBind(testQueue, pattern, testExchange, false, nil))
	}
	return broker.NewPublisher(ch, testExchange)
}

func (h *integrationHarness) publish(t *testing.T, env *v1.Envelope) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.publisher.Publish(ctx, env))
}

func (h *integrationHarness) publishRaw(t *testing.T, routingKey string, body []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.publisher.PublishRaw(ctx, routingKey, body))
}

// getJSON fetches path and decodes a 200 response into out.
func (h *integrationHarness) getJSON(t *testing.T, path string, out interface{}) int {
	t.Helper()

	resp, err := h.client.Get(h.baseURL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if resp.StatusCode == http.StatusOK && out != nil {
		require.NoError(t, json.Unmarshal(body, out), string(body))
	}
	return resp.StatusCode
}

// ledgerSize counts applied event ids.
func (h *integrationHarness) ledgerSize(t *testing.T) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var n int
	require.NoError(t, h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM report_ledger`).Scan(&n))
	return n
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("%s not reached within %s", what, timeout)
}

func waitForHealthy(t *testing.T, baseURL string) {
	t.Helper()
	waitFor(t, 10*time.Second, "healthy server at "+baseURL, func() bool {
		resp, err := http.Get(baseURL + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})
}

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
