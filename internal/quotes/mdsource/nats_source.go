package mdsource

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// NatsSource subscribes to one NATS subject. The client's own reconnect is
// disabled so a lost server ends the session and the Runner's backoff takes
// over, same as for Redis.
type NatsSource struct {
	url     string
	subject string
	opts    []nats.Option
}

func NewNatsSource(url, subject string, opts ...nats.Option) *NatsSource {
	if subject == "" {
		subject = DefaultChannel
	}
	return &NatsSource{url: url, subject: subject, opts: opts}
}

func (s *NatsSource) Name() string { return "nats:" + s.subject }

func (s *NatsSource) Run(ctx context.Context, out chan<- []byte) error {
	closed := make(chan struct{})
	var once sync.Once
	opts := append([]nats.Option{
		nats.Name("quotes-gateway"),
		nats.NoReconnect(),
		nats.ClosedHandler(func(*nats.Conn) { once.Do(func() { close(closed) }) }),
	}, s.opts...)

	nc, err := nats.Connect(s.url, opts...)
	if err != nil {
		return fmt.Errorf("connect %s: %w", s.url, err)
	}
	defer nc.Close()

	msgs := make(chan *nats.Msg, 8192)
	sub, err := nc.ChanSubscribe(s.subject, msgs)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			return ErrUpstreamClosed
		case m := <-msgs:
			select {
			case out <- m.Data:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
