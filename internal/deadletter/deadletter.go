// Package deadletter holds messages that exhausted their retries for manual inspection.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/aevon-lab/report-core/internal/core/storage"
)

const defaultListKey = "report:dead_letters"

// RedisSink pushes dead letters onto a Redis list, newest first.
type RedisSink struct {
	cli *redis.Client
	key string
}

var _ storage.DeadLetterSink = (*RedisSink)(nil)

func NewRedisSink(cli *redis.Client, key string) *RedisSink {
	if key == "" {
		key = defaultListKey
	}
	return &RedisSink{cli: cli, key: key}
}

func (s *RedisSink) Push(ctx context.Context, dl storage.DeadLetter) error {
	b, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := s.cli.LPush(ctx, s.key, b).Err(); err != nil {
		return fmt.Errorf("push dead letter to %s: %w", s.key, err)
	}
	return nil
}

// List returns up to limit dead letters, newest first.
func (s *RedisSink) List(ctx context.Context, limit int64) ([]storage.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := s.cli.LRange(ctx, s.key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	out := make([]storage.DeadLetter, 0, len(raw))
	for _, r := range raw {
		var dl storage.DeadLetter
		if err := json.Unmarshal([]byte(r), &dl); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, nil
}

// LogSink only logs dead letters. Used when no Redis is configured.
type LogSink struct {
	logger *slog.Logger
}

var _ storage.DeadLetterSink = (*LogSink)(nil)

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Push(ctx context.Context, dl storage.DeadLetter) error {
	s.logger.ErrorContext(ctx, "[DeadLetter] Event dead-lettered",
		"routing_key", dl.RoutingKey,
		"event_id", dl.EventID,
		"attempts", dl.Attempts,
		"error", dl.Error,
		"payload", string(dl.Payload),
	)
	return nil
}
