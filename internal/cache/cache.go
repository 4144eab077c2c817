// Package cache keeps the job statistics aggregate out of the database
// between lifecycle transitions.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/contacts-extractor/internal/domain"
	"github.com/redis/go-redis/v9"
)

// StatisticsKey is the key the aggregate is stored under
const StatisticsKey = "contacts-extractor:statistics"

// GenerationKey counts invalidations. A snapshot is only stored while the
// generation it was computed under is still current.
const GenerationKey = "contacts-extractor:statistics:generation"

// ErrStale is returned by Set when the cache was invalidated after the
// snapshot's generation was read
var ErrStale = errors.New("statistics snapshot is stale")

// StatisticsCache stores the latest statistics aggregate.
// Get returns (nil, nil) on a miss. Callers read Generation before computing
// a snapshot and pass it to Set.
type StatisticsCache interface {
	Get(ctx context.Context) (*domain.Statistics, error)
	Generation(ctx context.Context) (int64, error)
	Set(ctx context.Context, stats *domain.Statistics, generation int64) error
	Invalidate(ctx context.Context) error
}

// Nop never holds anything
type Nop struct{}

func (Nop) Get(context.Context) (*domain.Statistics, error)      { return nil, nil }
func (Nop) Generation(context.Context) (int64, error)            { return 0, nil }
func (Nop) Set(context.Context, *domain.Statistics, int64) error { return nil }
func (Nop) Invalidate(context.Context) error                     { return nil }

// Redis caches statistics as JSON in Redis with a TTL
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis creates a Redis backed statistics cache
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func (c *Redis) Get(ctx context.Context) (*domain.Statistics, error) {
	data, err := c.rdb.Get(ctx, StatisticsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached statistics: %w", err)
	}

	var stats domain.Statistics
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to decode cached statistics: %w", err)
	}
	return &stats, nil
}

func (c *Redis) Generation(ctx context.Context) (int64, error) {
	gen, err := generation(ctx, c.rdb)
	if err != nil {
		return 0, fmt.Errorf("failed to read statistics generation: %w", err)
	}
	return gen, nil
}

// Set stores stats unless an invalidation happened since generation was read.
// The generation check and the write run in one WATCH/MULTI transaction.
func (c *Redis) Set(ctx context.Context, stats *domain.Statistics, gen int64) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to encode statistics: %w", err)
	}

	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := generation(ctx, tx)
		if err != nil {
			return err
		}
		if current != gen {
			return ErrStale
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, StatisticsKey, data, c.ttl)
			return nil
		})
		return err
	}, GenerationKey)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStale), errors.Is(err, redis.TxFailedErr):
		return ErrStale
	default:
		return fmt.Errorf("failed to cache statistics: %w", err)
	}
}

// Invalidate drops the cached snapshot and bumps the generation so that
// snapshots computed before this call are never stored
func (c *Redis) Invalidate(ctx context.Context) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, GenerationKey)
		pipe.Del(ctx, StatisticsKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate statistics: %w", err)
	}
	return nil
}

func generation(ctx context.Context, rdb redis.Cmdable) (int64, error) {
	gen, err := rdb.Get(ctx, GenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}
