package mdsource

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSource subscribes to one Redis Pub/Sub channel.
type RedisSource struct {
	rdb     *redis.Client
	channel string
}

func NewRedisSource(rdb *redis.Client, channel string) *RedisSource {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSource{rdb: rdb, channel: channel}
}

func (s *RedisSource) Name() string { return "redis:" + s.channel }

func (s *RedisSource) Run(ctx context.Context, out chan<- []byte) error {
	ps := s.rdb.Subscribe(ctx, s.channel)
	defer ps.Close()
	// ReceiveMessage only honours ctx deadlines; closing the PubSub unblocks it
	stop := context.AfterFunc(ctx, func() { _ = ps.Close() })
	defer stop()

	// wait for the subscribe confirmation so a dead server fails fast
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive %s: %w", s.channel, err)
		}
		select {
		case out <- []byte(msg.Payload):
		case <-ctx.Done():
			return nil
		}
	}
}
