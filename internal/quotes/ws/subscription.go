package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"quotestream.com/internal/quotes/filter"
)

// Transport is the write side of one client connection. Only the delivery
// worker writes; Close may be called from any goroutine.
type Transport interface {
	WriteText(payload []byte) error
	WritePing() error
	WriteClose(code int, reason string) error
	Close() error
}

type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// Subscription is the live state of one connection. The filter never changes;
// a client that wants other tickers reconnects.
type Subscription struct {
	id        string
	filter    filter.Filter
	queue     *queue
	transport Transport
	createdAt time.Time

	state atomic.Int32

	stopOnce    sync.Once
	stopCh      chan struct{}
	stopCode    int
	stopReason  string
	goneOnce    sync.Once
	gone        chan struct{}
	goneCode    int
	goneReason  string
	releaseOnce sync.Once
	releaseErr  error
}

func newSubscription(id string, f filter.Filter, t Transport, capacity int, policy Policy) *Subscription {
	return &Subscription{
		id:        id,
		filter:    f,
		queue:     newQueue(capacity, policy),
		transport: t,
		createdAt: time.Now(),
		stopCh:    make(chan struct{}),
		gone:      make(chan struct{}),
	}
}

func (s *Subscription) ID() string            { return s.id }
func (s *Subscription) Filter() filter.Filter { return s.filter }
func (s *Subscription) State() State          { return State(s.state.Load()) }
func (s *Subscription) Pending() int          { return s.queue.len() }

// Stop asks the delivery worker to send a close frame and exit. A normal
// closure flushes what is already queued first. Only the first call counts
// and reports true.
func (s *Subscription) Stop(code int, reason string) bool {
	first := false
	s.stopOnce.Do(func() {
		s.stopCode, s.stopReason = code, reason
		close(s.stopCh)
		first = true
	})
	return first
}

// peerGone records that the read side saw the connection end.
func (s *Subscription) peerGone(code int, reason string) {
	s.goneOnce.Do(func() {
		s.goneCode, s.goneReason = code, reason
		close(s.gone)
	})
}

// beginClosing moves the subscription to Closing; false if it already was.
func (s *Subscription) beginClosing() bool {
	for {
		cur := s.state.Load()
		if State(cur) == StateClosing {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(StateClosing)) {
			s.queue.close()
			return true
		}
	}
}

// release closes the transport exactly once.
func (s *Subscription) release() error {
	s.releaseOnce.Do(func() {
		s.releaseErr = s.transport.Close()
	})
	return s.releaseErr
}
