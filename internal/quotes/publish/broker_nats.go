package publish

import (
	"context"

	"github.com/nats-io/nats.go"
)

type NatsPublisher struct {
	nc *nats.Conn
}

func NewNatsPublisher(url string, opts ...nats.Option) (*NatsPublisher, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsPublisher{nc: nc}, nil
}

func (p *NatsPublisher) Publish(_ context.Context, subject string, payload []byte) error {
	return p.nc.Publish(subject, payload)
}

// Close flushes pending publishes before closing.
func (p *NatsPublisher) Close() error {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
	return nil
}
