package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/aevon-lab/report-core/internal/core/errors"
)

var defaults = PutOptions{TTL: time.Minute, StaleTTL: time.Hour}

func view(key string, tags ...string) View {
	return View{
		Key:        key,
		Payload:    json.RawMessage(`{"totalRevenue":"40000"}`),
		ComputedAt: time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC),
		Tags:       tags,
	}
}

// contract runs the behavior every Cache implementation shares.
func contract(t *testing.T, newCache func(t *testing.T) Cache) {
	t.Run("miss then hit", func(t *testing.T) {
		ctx := context.Background()
		c := newCache(t)

		_, ok, err := c.Get(ctx, "sales|d1")
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, c.Set(ctx, view("sales|d1", DealerTag("d1"))))
		got, ok, err := c.Get(ctx, "sales|d1")
		require.NoError(t, err)
		require.True(t, ok)
		require.JSONEq(t, `{"totalRevenue":"40000"}`, string(got.Payload))
		require.Equal(t, time.Minute, got.TTL)
	})

	t.Run("invalidate by tag keeps stale copy", func(t *testing.T) {
		ctx := context.Background()
		c := newCache(t)

		require.NoError(t, c.Set(ctx, view("sales|d1", DealerTag("d1"))))
		require.NoError(t, c.Set(ctx, view("sales|d2", DealerTag("d2"))))
		require.NoError(t, c.Set(ctx, view("dashboard|all", AllDealersTag)))

		require.NoError(t, c.Invalidate(ctx, DealerTag("d1"), AllDealersTag))

		_, ok, err := c.Get(ctx, "sales|d1")
		require.NoError(t, err)
		require.False(t, ok)
		_, ok, err = c.Get(ctx, "dashboard|all")
		require.NoError(t, err)
		require.False(t, ok)
		_, ok, err = c.Get(ctx, "sales|d2")
		require.NoError(t, err)
		require.True(t, ok)

		stale, ok, err := c.Stale(ctx, "sales|d1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "sales|d1", stale.Key)
	})

	t.Run("set after invalidate is fresh again", func(t *testing.T) {
		ctx := context.Background()
		c := newCache(t)

		require.NoError(t, c.Set(ctx, view("sales|d1", DealerTag("d1"))))
		require.NoError(t, c.Invalidate(ctx, DealerTag("d1")))
		require.NoError(t, c.Set(ctx, view("sales|d1", DealerTag("d1"))))

		_, ok, err := c.Get(ctx, "sales|d1")
		require.NoError(t, err)
		require.True(t, ok)

		// The tag still tracks the re-stored view.
		require.NoError(t, c.Invalidate(ctx, DealerTag("d1")))
		_, ok, err = c.Get(ctx, "sales|d1")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("conditional set rejects a view invalidated meanwhile", func(t *testing.T) {
		ctx := context.Background()
		c := newCache(t)
		tags := []string{DealerTag("d1"), AllDealersTag}

		versions, err := c.Versions(ctx, tags...)
		require.NoError(t, err)
		require.Equal(t, []int64{0, 0}, versions)

		require.NoError(t, c.Invalidate(ctx, DealerTag("d1")))
		err = c.Set(ctx, view("sales|d1", tags...), IfVersions(versions))
		require.ErrorIs(t, err, ErrConflict)

		_, ok, err := c.Get(ctx, "sales|d1")
		require.NoError(t, err)
		require.False(t, ok)
		_, ok, err = c.Stale(ctx, "sales|d1")
		require.NoError(t, err)
		require.False(t, ok)

		versions, err = c.Versions(ctx, tags...)
		require.NoError(t, err)
		require.Equal(t, []int64{1, 0}, versions)
		require.NoError(t, c.Set(ctx, view("sales|d1", tags...), IfVersions(versions)))
		_, ok, err = c.Get(ctx, "sales|d1")
		require.NoError(t, err)
		require.True(t, ok)
	})
}

func TestLRU(t *testing.T) {
	contract(t, func(*testing.T) Cache { return NewLRU(16, defaults) })
}

func TestRedis(t *testing.T) {
	contract(t, func(t *testing.T) Cache {
		mr := miniredis.RunT(t)
		cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { cli.Close() })
		return NewRedis(cli, defaults)
	})
}

func TestLRU_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(4, defaults)
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, view("k")))

	now = now.Add(2 * time.Minute)
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = c.Stale(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Hour)
	_, ok, err = c.Stale(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, c.Len())
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(2, defaults)

	require.NoError(t, c.Set(ctx, view("a", "t")))
	require.NoError(t, c.Set(ctx, view("b", "t")))
	_, _, _ = c.Get(ctx, "a")
	require.NoError(t, c.Set(ctx, view("c", "t")))

	_, ok, _ := c.Get(ctx, "b")
	require.False(t, ok)
	_, ok, _ = c.Get(ctx, "a")
	require.True(t, ok)
	require.Equal(t, 2, c.Len())
}

func TestRedis_TTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cli.Close()
	c := NewRedis(cli, defaults)

	require.NoError(t, c.Set(ctx, view("k"), WithTTL(10*time.Second)))
	mr.FastForward(11 * time.Second)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = c.Stale(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedis_UnavailableIsTyped(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer cli.Close()
	c := NewRedis(cli, defaults)
	mr.Close()

	_, _, err := c.Get(context.Background(), "k")
	require.ErrorIs(t, err, coreerrors.ErrCacheUnavailable)
	require.ErrorIs(t, c.Ping(context.Background()), coreerrors.ErrCacheUnavailable)
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	c := NewNop()
	require.NoError(t, c.Set(ctx, view("k")))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	versions, err := c.Versions(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, []int64{0, 0}, versions)
}
