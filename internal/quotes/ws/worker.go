package ws

import (
	"math/rand"
	"time"

	"github.com/gorilla/websocket"
	"quotestream.com/internal/quotes/wsmetrics"
)

const maxFlush = 256 // max events written per wake-up before re-checking control signals

type closeInfo struct {
	code   int
	reason string
	err    error
	sent   bool // close frame written by us
}

type workerConfig struct {
	pingPeriod time.Duration
	pingJitter time.Duration
}

// deliver is the per-connection delivery loop. It returns when the
// subscription is stopped, the peer goes away, or a write fails; writes are
// never retried.
func deliver(sub *Subscription, cfg workerConfig) closeInfo {
	var (
		pingT *time.Timer
		pingC <-chan time.Time
	)
	if cfg.pingPeriod > 0 {
		first := cfg.pingPeriod
		if cfg.pingJitter > 0 {
			first += time.Duration(rand.Int63n(int64(cfg.pingJitter)))
		}
		pingT = time.NewTimer(first)
		defer pingT.Stop()
		pingC = pingT.C
	}

	batch := make([][]byte, 0, maxFlush)
	for {
		select {
		case <-sub.queue.notify:
			more, err := flushOnce(sub, &batch)
			if err != nil {
				return closeInfo{code: websocket.CloseAbnormalClosure, reason: "write error", err: err}
			}
			if more {
				select {
				case sub.queue.notify <- struct{}{}:
				default:
				}
			}

		case <-pingC:
			if err := sub.transport.WritePing(); err != nil {
				wsmetrics.PingErrorsTotal.Inc()
				return closeInfo{code: websocket.CloseAbnormalClosure, reason: "ping error", err: err}
			}
			wsmetrics.PingSentTotal.Inc()
			pingT.Reset(cfg.pingPeriod)

		case <-sub.stopCh:
			code, reason := sub.stopCode, sub.stopReason
			sub.queue.close()
			if code == websocket.CloseNormalClosure {
				for {
					more, err := flushOnce(sub, &batch)
					if err != nil {
						return closeInfo{code: websocket.CloseAbnormalClosure, reason: "write error", err: err}
					}
					if !more {
						break
					}
				}
			}
			err := sub.transport.WriteClose(code, reason)
			return closeInfo{code: code, reason: reason, err: err, sent: err == nil}

		case <-sub.gone:
			return closeInfo{code: sub.goneCode, reason: sub.goneReason}
		}
	}
}

// flushOnce writes up to maxFlush queued events, one text frame each, in
// FIFO order. more reports whether the queue still holds events.
func flushOnce(sub *Subscription, batch *[][]byte) (more bool, err error) {
	*batch = sub.queue.drain((*batch)[:0], maxFlush)
	if len(*batch) == 0 {
		return false, nil
	}

	start := time.Now()
	n, bytes := 0, 0
	for _, payload := range *batch {
		if err = sub.transport.WriteText(payload); err != nil {
			break
		}
		n++
		bytes += len(payload)
	}
	wsmetrics.ObserveWrite(n, bytes, time.Since(start), err)

	clear(*batch)
	if err != nil {
		return false, err
	}
	return sub.queue.len() > 0, nil
}
