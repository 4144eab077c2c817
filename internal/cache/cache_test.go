package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/contacts-extractor/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewRedis(rdb, ttl), server
}

func TestRedis_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedis(t, time.Minute)

	got, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "miss returns nil")

	avg := 2.5
	stats := &domain.Statistics{TotalJobs: 3, CompletedJobs: 2, FailedJobs: 1, AverageExtractionTime: &avg}
	gen, err := c.Generation(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, stats, gen))

	got, err = c.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, stats.TotalJobs, got.TotalJobs)
	assert.Equal(t, stats.CompletedJobs, got.CompletedJobs)
	require.NotNil(t, got.AverageExtractionTime)
	assert.InDelta(t, 2.5, *got.AverageExtractionTime, 1e-9)
}

func TestRedis_Invalidate(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedis(t, time.Minute)

	require.NoError(t, c.Set(ctx, &domain.Statistics{TotalJobs: 1, PendingJobs: 1}, 0))
	require.NoError(t, c.Invalidate(ctx))

	got, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	// invalidating an empty cache is not an error
	assert.NoError(t, c.Invalidate(ctx))
}

func TestRedis_SetSkipsStaleGeneration(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedis(t, time.Minute)

	gen, err := c.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	// a transition commits between reading the store and caching the result
	require.NoError(t, c.Invalidate(ctx))

	err = c.Set(ctx, &domain.Statistics{TotalJobs: 1, PendingJobs: 1}, gen)
	assert.ErrorIs(t, err, ErrStale)

	got, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "stale snapshot must not be cached")

	current, err := c.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current)
	require.NoError(t, c.Set(ctx, &domain.Statistics{TotalJobs: 1, CancelledJobs: 1}, current))

	got, err = c.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.CancelledJobs)
}

func TestRedis_Expires(t *testing.T) {
	ctx := context.Background()
	c, server := newRedis(t, 30*time.Second)

	require.NoError(t, c.Set(ctx, &domain.Statistics{TotalJobs: 1}, 0))
	server.FastForward(31 * time.Second)

	got, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedis_Unreachable(t *testing.T) {
	c, server := newRedis(t, time.Minute)
	server.Close()

	_, err := c.Get(context.Background())
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	var c StatisticsCache = Nop{}
	require.NoError(t, c.Set(context.Background(), &domain.Statistics{TotalJobs: 1}, 0))

	got, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}
