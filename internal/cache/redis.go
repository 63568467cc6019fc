package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	coreerrors "github.com/aevon-lab/report-core/internal/core/errors"
)

const (
	freshPrefix = "report:view:"
	stalePrefix = "report:stale:"
	tagPrefix   = "report:tag:"
	verPrefix   = "report:tagver:"
)

// Redis stores views as JSON strings. Tag membership is kept in sets so an
// invalidation only deletes the fresh copies it names.
type Redis struct {
	cli      *redis.Client
	defaults PutOptions
}

var _ Cache = (*Redis)(nil)

func NewRedis(cli *redis.Client, defaults PutOptions) *Redis {
	return &Redis{cli: cli, defaults: defaults}
}

// OpenRedis parses a redis:// URL and returns a client for it.
func OpenRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (c *Redis) Get(ctx context.Context, key string) (*View, bool, error) {
	return c.read(ctx, freshPrefix+key)
}

func (c *Redis) Stale(ctx context.Context, key string) (*View, bool, error) {
	return c.read(ctx, stalePrefix+key)
}

func (c *Redis) read(ctx context.Context, redisKey string) (*View, bool, error) {
	b, err := c.cli.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get", err)
	}
	var v View
	if err := json.Unmarshal(b, &v); err != nil {
		// A corrupt entry is a miss; the next Set overwrites it.
		return nil, false, nil
	}
	return &v, true, nil
}

func (c *Redis) Set(ctx context.Context, v View, opts ...PutOption) error {
	o := resolve(c.defaults, opts)
	v.TTL = o.TTL
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal view %s: %w", v.Key, err)
	}

	write := func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, freshPrefix+v.Key, b, o.TTL)
		pipe.Set(ctx, stalePrefix+v.Key, b, o.StaleTTL)
		for _, tag := range v.Tags {
			pipe.SAdd(ctx, tagPrefix+tag, v.Key)
			pipe.Expire(ctx, tagPrefix+tag, o.StaleTTL)
		}
		return nil
	}

	if o.versions == nil {
		if _, err := c.cli.TxPipelined(ctx, write); err != nil {
			return unavailable("set", err)
		}
		return nil
	}

	// WATCH the version keys so an Invalidate between the check and EXEC aborts the write.
	err = c.cli.Watch(ctx, func(tx *redis.Tx) error {
		current, err := c.versions(ctx, tx, v.Tags)
		if err != nil {
			return err
		}
		if err := checkVersions(v, o.versions, func(tag string) int64 { return current[tag] }); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, write)
		return err
	}, versionKeys(v.Tags)...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrConflict):
		return ErrConflict
	}
	return unavailable("set", err)
}

func (c *Redis) Versions(ctx context.Context, tags ...string) ([]int64, error) {
	current, err := c.versions(ctx, c.cli, tags)
	if err != nil {
		return nil, unavailable("versions", err)
	}
	out := make([]int64, len(tags))
	for i, tag := range tags {
		out[i] = current[tag]
	}
	return out, nil
}

// versions reads the version counters of tags. Missing counters are 0.
func (c *Redis) versions(ctx context.Context, r mgetter, tags []string) (map[string]int64, error) {
	out := make(map[string]int64, len(tags))
	if len(tags) == 0 {
		return out, nil
	}
	vals, err := r.MGet(ctx, versionKeys(tags)...).Result()
	if err != nil {
		return nil, err
	}
	for i, val := range vals {
		s, ok := val.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("version of tag %s: %w", tags[i], err)
		}
		out[tags[i]] = n
	}
	return out, nil
}

// mgetter is satisfied by both *redis.Client and *redis.Tx.
type mgetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func versionKeys(tags []string) []string {
	keys := make([]string, len(tags))
	for i, tag := range tags {
		keys[i] = verPrefix + tag
	}
	return keys
}

func (c *Redis) Invalidate(ctx context.Context, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}
	// Bump versions first: a conditional Set racing with this call then fails
	// even if it lands before the fresh copies are deleted.
	bump := c.cli.TxPipeline()
	for _, key := range versionKeys(tags) {
		bump.Incr(ctx, key)
	}
	if _, err := bump.Exec(ctx); err != nil {
		return unavailable("invalidate", err)
	}

	for _, tag := range tags {
		keys, err := c.cli.SMembers(ctx, tagPrefix+tag).Result()
		if err != nil {
			return unavailable("invalidate", err)
		}
		if len(keys) == 0 {
			continue
		}
		fresh := make([]string, len(keys))
		members := make([]interface{}, len(keys))
		for i, k := range keys {
			fresh[i] = freshPrefix + k
			members[i] = k
		}
		pipe := c.cli.TxPipeline()
		pipe.Del(ctx, fresh...)
		// Remove only what was read; views tagged concurrently stay tracked.
		pipe.SRem(ctx, tagPrefix+tag, members...)
		if _, err := pipe.Exec(ctx); err != nil {
			return unavailable("invalidate", err)
		}
	}
	return nil
}

func (c *Redis) Ping(ctx context.Context) error {
	if err := c.cli.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("cache %s: %w: %w", op, coreerrors.ErrCacheUnavailable, err)
}
