// Package publish puts quote events onto the upstream channel the gateway
// listens to. It backs the quotes-publisher dev tool.
package publish

import "context"

type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Close() error
}
