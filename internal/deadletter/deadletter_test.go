package deadletter

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/report-core/internal/core/storage"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cli.Close() })
	return cli
}

func TestRedisSink_PushAndList(t *testing.T) {
	ctx := context.Background()
	sink := NewRedisSink(newRedis(t), "")

	first := storage.DeadLetter{
		At:         time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC),
		RoutingKey: "order.completed",
		EventID:    "evt-1",
		Attempts:   4,
		Error:      "store unavailable",
		Payload:    json.RawMessage(`{"eventId":"evt-1"}`),
	}
	second := first
	second.EventID = "evt-2"

	require.NoError(t, sink.Push(ctx, first))
	require.NoError(t, sink.Push(ctx, second))

	got, err := sink.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "evt-2", got[0].EventID)
	require.Equal(t, "evt-1", got[1].EventID)
	require.Equal(t, 4, got[1].Attempts)
	require.JSONEq(t, `{"eventId":"evt-1"}`, string(got[1].Payload))
}

func TestRedisSink_PushFailsWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer cli.Close()
	mr.Close()

	err := NewRedisSink(cli, "dlq").Push(context.Background(), storage.DeadLetter{Error: "x", Payload: json.RawMessage(`{}`)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "push dead letter to dlq")
}

func TestLogSink_Push(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	err := sink.Push(context.Background(), storage.DeadLetter{
		RoutingKey: "payment.received",
		EventID:    "evt-9",
		Error:      "boom",
		Payload:    json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	require.Contains(t, buf.String(), "[DeadLetter] Event dead-lettered")
	require.Contains(t, buf.String(), "event_id=evt-9")
}
