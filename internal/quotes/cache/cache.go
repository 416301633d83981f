package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"quotestream.com/internal/quotes/model"
	"quotestream.com/pkg/metrics"
)

const DefaultLatestTTL = 5 * time.Second

type Cache interface {
	GetLatest(ctx context.Context, ticker string) (model.Quote, bool, error)
	SetLatest(ctx context.Context, q model.Quote) error
	DelLatest(ctx context.Context, tickers ...string) error
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	jitter time.Duration
}

func NewRedisCache(c *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultLatestTTL
	}
	return &RedisCache{client: c, ttl: ttl, jitter: ttl / 10}
}

func LatestKey(ticker string) string {
	return fmt.Sprintf("quote:%s:latest", ticker)
}

func (r *RedisCache) GetLatest(ctx context.Context, ticker string) (q model.Quote, ok bool, err error) {
	key := LatestKey(ticker)
	start := time.Now()
	b, err := r.client.Get(ctx, key).Bytes()
	metrics.ObserveRedis("get", start, err)
	if errors.Is(err, redis.Nil) {
		return model.Quote{}, false, nil
	}
	if err != nil {
		return model.Quote{}, false, err
	}

	q, err = model.ParseQuote(b)
	if err != nil {
		// a dirty entry would keep failing; drop it
		_ = r.client.Del(ctx, key).Err()
		return model.Quote{}, false, err
	}
	return q, true, nil
}

func (r *RedisCache) SetLatest(ctx context.Context, q model.Quote) error {
	b, err := model.EncodeQuote(q)
	if err != nil {
		return err
	}
	start := time.Now()
	err = r.client.Set(ctx, LatestKey(q.Ticker), b, withJitter(r.ttl, r.jitter)).Err()
	metrics.ObserveRedis("set", start, err)
	return err
}

func (r *RedisCache) DelLatest(ctx context.Context, tickers ...string) error {
	if len(tickers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tickers))
	for _, t := range tickers {
		keys = append(keys, LatestKey(t))
	}
	start := time.Now()
	err := r.client.Del(ctx, keys...).Err()
	metrics.ObserveRedis("del", start, err)
	return err
}

// Name and WriteQuote let the cache ride the upstream runner as a sink, so
// the newest streamed quote is served by REST without a store read.
func (r *RedisCache) Name() string { return "redis-cache" }

func (r *RedisCache) WriteQuote(ctx context.Context, q model.Quote) error {
	return r.SetLatest(ctx, q)
}

func withJitter(ttl time.Duration, jitter time.Duration) time.Duration {
	if ttl <= 0 || jitter <= 0 {
		return ttl
	}
	// [0, jitter)
	j := time.Duration(rand.Int63n(int64(jitter)))
	return ttl + j
}
