package ws

import (
	"fmt"
	"sync"
)

// Policy decides what happens when a subscription's queue is full.
type Policy string

const (
	// PolicyDropOldest evicts the oldest pending event; a stale quote is worth
	// less than a fresh one.
	PolicyDropOldest Policy = "drop_oldest"
	// PolicyDisconnect refuses the event and closes the subscriber.
	PolicyDisconnect Policy = "disconnect"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyDropOldest:
		return PolicyDropOldest, nil
	case PolicyDisconnect:
		return PolicyDisconnect, nil
	}
	return "", fmt.Errorf("ws: unknown backpressure policy %q", s)
}

type offerResult int

const (
	offerEnqueued offerResult = iota
	offerEvicted              // enqueued after dropping the oldest item
	offerOverflow             // full under PolicyDisconnect; nothing enqueued
	offerClosed
)

// queue is a bounded FIFO ring. The router is the only writer and the
// delivery worker the only reader; notify coalesces wake-ups (buffer 1).
type queue struct {
	mu     sync.Mutex
	buf    [][]byte
	head   int
	n      int
	policy Policy
	closed bool

	notify chan struct{}
}

func newQueue(capacity int, policy Policy) *queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &queue{
		buf:    make([][]byte, capacity),
		policy: policy,
		notify: make(chan struct{}, 1),
	}
}

func (q *queue) offer(payload []byte) offerResult {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return offerClosed
	}

	res := offerEnqueued
	if q.n == len(q.buf) {
		if q.policy == PolicyDisconnect {
			q.mu.Unlock()
			return offerOverflow
		}
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		res = offerEvicted
	}
	q.buf[(q.head+q.n)%len(q.buf)] = payload
	q.n++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return res
}

// drain pops up to max items in FIFO order, appending to dst.
func (q *queue) drain(dst [][]byte, max int) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.n > 0 && (max <= 0 || len(dst) < max) {
		dst = append(dst, q.buf[q.head])
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
		q.n--
	}
	return dst
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// close rejects further offers; items already queued stay drainable.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
