package capacity

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"quotestream.com/internal/quotes/mdsource"
	"quotestream.com/pkg/logger"
)

// Subscriber keeps a Redis subscription on the scoring channel and writes
// every valid score into the Store. Bad messages are dropped with a warning.
type Subscriber struct {
	rdb     *redis.Client
	store   *Store
	channel string

	backoff *mdsource.Backoff
	sleep   mdsource.Sleeper
}

func NewSubscriber(rdb *redis.Client, store *Store, channel string) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Subscriber{
		rdb:     rdb,
		store:   store,
		channel: channel,
		backoff: mdsource.NewBackoff(time.Second, 30*time.Second, 0.2),
		sleep:   mdsource.SleepCtx,
	}
}

// Run blocks until ctx is cancelled, resubscribing after failures.
func (s *Subscriber) Run(ctx context.Context) {
	for ctx.Err() == nil {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		delay := s.backoff.Next()
		logger.Warn(ctx, "capacity subscription lost, retrying",
			zap.String("channel", s.channel),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if s.sleep(ctx, delay) != nil {
			return
		}
	}
}

func (s *Subscriber) session(ctx context.Context) error {
	ps := s.rdb.Subscribe(ctx, s.channel)
	defer ps.Close()
	stop := context.AfterFunc(ctx, func() { _ = ps.Close() })
	defer stop()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	s.backoff.Reset()
	logger.Info(ctx, "capacity subscriber listening", zap.String("channel", s.channel))

	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.handle(ctx, []byte(msg.Payload))
	}
}

func (s *Subscriber) handle(ctx context.Context, raw []byte) {
	ticker, c, err := ParseMessage(raw)
	if err != nil {
		logger.Warn(ctx, "capacity message dropped", zap.ByteString("payload", raw), zap.Error(err))
		return
	}
	if err := s.store.Put(ctx, ticker, c); err != nil {
		logger.Error(ctx, "capacity cache write failed", zap.String("ticker", ticker), zap.Error(err))
		return
	}
	logger.Debug(ctx, "capacity score cached",
		zap.String("ticker", ticker),
		zap.Float64("score", c.Score),
		zap.Float64("confidence", c.Confidence),
	)
}
