package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"quotestream.com/internal/quotes/model"
	"quotestream.com/internal/quotes/wsmetrics"
	"quotestream.com/pkg/logger"
)

// CloseSlowConsumer is sent when a full queue disconnects its subscriber.
const (
	CloseSlowConsumer       = websocket.ClosePolicyViolation
	closeReasonSlowConsumer = "slow consumer"
)

// RouteResult counts what one Route call did.
type RouteResult struct {
	Matched      int
	Enqueued     int
	Evicted      int
	Disconnected int
	Closed       int
}

// Router fans one quote out to every matching subscription.
type Router struct {
	reg Registry
}

func NewRouter(reg Registry) *Router {
	return &Router{reg: reg}
}

// Route encodes q once and offers the payload to each match without
// blocking; a full or closed queue on one subscription never affects the
// others.
func (r *Router) Route(ctx context.Context, q model.Quote) (RouteResult, error) {
	start := time.Now()

	var res RouteResult
	subs := r.reg.SnapshotMatching(q.Ticker)
	res.Matched = len(subs)
	if len(subs) == 0 {
		wsmetrics.ObserveRoute(0, 0, time.Since(start))
		return res, nil
	}

	payload, err := model.EncodeQuote(q)
	if err != nil {
		return res, fmt.Errorf("ws: encode %s: %w", q.Ticker, err)
	}

	for _, sub := range subs {
		switch sub.queue.offer(payload) {
		case offerEnqueued:
			res.Enqueued++
		case offerEvicted:
			res.Enqueued++
			res.Evicted++
			wsmetrics.DroppedTotal.WithLabelValues("evicted").Inc()
		case offerOverflow:
			res.Disconnected++
			wsmetrics.DroppedTotal.WithLabelValues("overflow").Inc()
			if sub.Stop(CloseSlowConsumer, closeReasonSlowConsumer) {
				logger.Warn(logger.WithConnID(ctx, sub.id), "queue full, disconnecting subscriber",
					zap.String("ticker", q.Ticker),
					zap.Int("pending", sub.queue.len()),
				)
			}
		case offerClosed:
			res.Closed++
			wsmetrics.DroppedTotal.WithLabelValues("closed").Inc()
		}
	}

	wsmetrics.ObserveRoute(res.Matched, res.Enqueued, time.Since(start))
	return res, nil
}
