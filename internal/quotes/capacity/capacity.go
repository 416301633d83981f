// Package capacity caches capacity scores published by the scoring model so
// quote responses can be enriched with them.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
	"quotestream.com/internal/quotes/model"
	"quotestream.com/pkg/metrics"
)

const (
	DefaultChannel = "capacity.scoring"
	DefaultTTL     = time.Hour
)

var ErrIncomplete = errors.New("capacity: incomplete message")

// Context is what a quote response carries under capacity_context.
type Context struct {
	Score        float64 `json:"score"`
	Confidence   float64 `json:"confidence"`
	LastUpdated  string  `json:"last_updated"`
	ModelVersion string  `json:"model_version"`
}

// message is the published payload; pointers tell absent from zero.
type message struct {
	Ticker       *string  `json:"ticker"`
	Score        *float64 `json:"score"`
	Confidence   *float64 `json:"confidence"`
	Timestamp    *string  `json:"timestamp"`
	ModelVersion *string  `json:"model_version"`
}

func Key(ticker string) string {
	return fmt.Sprintf("capacity:score:%s", ticker)
}

// ParseMessage validates one published score.
func ParseMessage(raw []byte) (ticker string, c Context, err error) {
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", Context{}, fmt.Errorf("capacity: decode: %w", err)
	}
	if m.Ticker == nil || m.Score == nil || m.Confidence == nil || m.Timestamp == nil || m.ModelVersion == nil {
		return "", Context{}, ErrIncomplete
	}
	ticker = model.NormalizeTicker(*m.Ticker)
	if ticker == "" {
		return "", Context{}, ErrIncomplete
	}
	return ticker, Context{
		Score:        *m.Score,
		Confidence:   *m.Confidence,
		LastUpdated:  *m.Timestamp,
		ModelVersion: *m.ModelVersion,
	}, nil
}

// Store reads and writes cached scores.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Put(ctx context.Context, ticker string, c Context) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.rdb.Set(ctx, Key(ticker), b, s.ttl).Err()
	metrics.ObserveRedis("set", start, err)
	return err
}

// Get returns the cached score; ok is false when none is cached.
func (s *Store) Get(ctx context.Context, ticker string) (c Context, ok bool, err error) {
	start := time.Now()
	b, err := s.rdb.Get(ctx, Key(ticker)).Bytes()
	metrics.ObserveRedis("get", start, err)
	if errors.Is(err, redis.Nil) {
		return Context{}, false, nil
	}
	if err != nil {
		return Context{}, false, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return Context{}, false, err
	}
	return c, true, nil
}
