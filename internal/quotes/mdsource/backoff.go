package mdsource

import (
	"context"
	"math/rand"
	"time"
)

// Sleeper waits for d or until ctx ends; it returns ctx.Err() in the latter
// case. Tests swap it out to run without real delays.
type Sleeper func(ctx context.Context, d time.Duration) error

func SleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff is a capped exponential delay sequence: Base, Base*Factor, ...
// up to Max. Jitter adds up to that fraction of the delay on top, still
// capped at Max. Not safe for concurrent use.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64

	next time.Duration
	rnd  func() float64
}

func NewBackoff(base, max time.Duration, jitter float64) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Backoff{Base: base, Max: max, Factor: 2, Jitter: jitter, rnd: rand.Float64}
}

// Next returns the delay before the next attempt and advances the sequence.
func (b *Backoff) Next() time.Duration {
	if b.next <= 0 {
		b.next = b.Base
	}
	d := b.next

	grown := time.Duration(float64(b.next) * b.Factor)
	if grown > b.Max || grown <= 0 {
		grown = b.Max
	}
	b.next = grown

	if b.Jitter > 0 && b.rnd != nil {
		d += time.Duration(b.Jitter * b.rnd() * float64(d))
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// Reset starts the sequence over from Base.
func (b *Backoff) Reset() { b.next = 0 }
