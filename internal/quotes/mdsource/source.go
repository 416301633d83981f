package mdsource

import (
	"context"
	"errors"
)

// DefaultChannel is the upstream pub/sub channel (Redis) or subject (NATS)
// carrying serialized quotes.
const DefaultChannel = "quotes.realtime"

var ErrUpstreamClosed = errors.New("mdsource: upstream connection closed")

// Source is one pluggable upstream. Run holds a single upstream session: it
// pushes every raw payload into out and returns when that session ends. A
// cancelled ctx ends it with a nil error.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- []byte) error
}
