package publish

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"quotestream.com/pkg/metrics"
)

type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	start := time.Now()
	err := p.rdb.Publish(ctx, channel, payload).Err()
	metrics.ObserveRedis("publish", start, err)
	return err
}

func (p *RedisPublisher) Close() error { return p.rdb.Close() }
