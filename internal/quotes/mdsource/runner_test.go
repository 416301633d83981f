package mdsource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quotestream.com/internal/quotes/model"
	"quotestream.com/internal/quotes/ws"
)

// scriptSource plays one step per session: either fail right away or emit
// payloads and then block until cancelled.
type scriptSource struct {
	mu       sync.Mutex
	steps    []step
	sessions int
}

type step struct {
	err      error
	payloads []string
	hold     bool
}

func (s *scriptSource) Name() string { return "script" }

func (s *scriptSource) Run(ctx context.Context, out chan<- []byte) error {
	s.mu.Lock()
	i := s.sessions
	s.sessions++
	s.mu.Unlock()

	if i >= len(s.steps) {
		<-ctx.Done()
		return nil
	}
	st := s.steps[i]
	for _, p := range st.payloads {
		out <- []byte(p)
	}
	if st.hold {
		<-ctx.Done()
		return nil
	}
	return st.err
}

type recordRouter struct {
	mu     sync.Mutex
	quotes []model.Quote
}

func (r *recordRouter) Route(_ context.Context, q model.Quote) (ws.RouteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotes = append(r.quotes, q)
	return ws.RouteResult{Matched: 1, Enqueued: 1}, nil
}

func (r *recordRouter) tickers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.quotes))
	for _, q := range r.quotes {
		out = append(out, q.Ticker)
	}
	return out
}

type recordSink struct {
	recordRouter
	err error
}

func (s *recordSink) Name() string { return "record" }
func (s *recordSink) WriteQuote(ctx context.Context, q model.Quote) error {
	_, _ = s.Route(ctx, q)
	return s.err
}

// slowSink takes delay per write.
type slowSink struct {
	recordSink
	delay time.Duration
}

func (s *slowSink) WriteQuote(ctx context.Context, q model.Quote) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.recordSink.WriteQuote(ctx, q)
}

type fakeSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (f *fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.delays = append(f.delays, d)
	f.mu.Unlock()
	return ctx.Err()
}

func (f *fakeSleeper) got() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

func newTestRunner(src Source, router Router, sinks ...QuoteSink) (*Runner, *fakeSleeper) {
	r := NewRunner(src, router, RunnerConfig{Jitter: 0}, sinks...)
	fs := &fakeSleeper{}
	r.sleep = fs.sleep
	return r, fs
}

const (
	aapl = `{"ticker":"aapl","timestamp":"2024-03-01T14:30:00Z","close":150.9}`
	msft = `{"ticker":"MSFT","timestamp":"2024-03-01T14:30:01Z","close":"410.1","volume":10}`
)

func TestRunner_RetriesWithBackoffThenRoutes(t *testing.T) {
	src := &scriptSource{steps: []step{
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
		{payloads: []string{aapl, `not json`, `{"ticker":"X"}`, msft}, hold: true},
	}}
	router := &recordRouter{}
	sink := &recordSink{err: errors.New("sink down")}
	r, fs := newTestRunner(src, router, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(router.tickers()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(sink.tickers()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{"AAPL", "MSFT"}, router.tickers(), "malformed messages are dropped, order kept")
	assert.Equal(t, []string{"AAPL", "MSFT"}, sink.tickers(), "sink errors do not stop routing")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, fs.got())
}

func TestRunner_StableSessionResetsBackoff(t *testing.T) {
	src := &scriptSource{steps: []step{
		{err: errors.New("down")},
		{err: errors.New("down")},
		{err: errors.New("dropped after a long session")},
		{err: errors.New("down")},
	}}
	r, fs := newTestRunner(src, &recordRouter{})

	// every session "lasts" 4s of fake time; the third one 20s
	var mu sync.Mutex
	clock := time.Unix(0, 0)
	calls := 0
	r.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		calls++
		step := 4 * time.Second
		if calls == 6 { // end of third session
			step = 20 * time.Second
		}
		clock = clock.Add(step)
		return clock
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool { return len(fs.got()) >= 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second, 2 * time.Second}, fs.got()[:4])
}

func TestRunner_StopsOnCancel(t *testing.T) {
	src := &scriptSource{steps: []step{{hold: true}}}
	r, fs := newTestRunner(src, &recordRouter{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Empty(t, fs.got())
}

func burst(n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, msft)
	}
	return out
}

func TestRunner_SlowSinkDoesNotHoldRouting(t *testing.T) {
	src := &scriptSource{steps: []step{{payloads: burst(20), hold: true}}}
	router := &recordRouter{}
	sink := &slowSink{delay: 50 * time.Millisecond}
	r, _ := newTestRunner(src, router, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool { return len(router.tickers()) == 20 }, 200*time.Millisecond, 5*time.Millisecond)
	assert.Less(t, len(sink.tickers()), 20)
}

func TestRunner_FullSinkQueueDrops(t *testing.T) {
	src := &scriptSource{steps: []step{{payloads: burst(20), hold: true}}}
	router := &recordRouter{}
	sink := &slowSink{delay: 20 * time.Millisecond}
	r := NewRunner(src, router, RunnerConfig{SinkBuffer: 2}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool { return len(router.tickers()) == 20 }, time.Second, 5*time.Millisecond)
	// one in flight plus two queued; the rest were dropped
	assert.Never(t, func() bool { return len(sink.tickers()) > 3 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestRunner_SinkWorkersStopWithRun(t *testing.T) {
	src := &scriptSource{steps: []step{{payloads: burst(5), hold: true}}}
	sink := &slowSink{delay: time.Hour}
	r, _ := newTestRunner(src, &recordRouter{}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner waited on a stuck sink")
	}
	assert.Empty(t, sink.tickers())
}
