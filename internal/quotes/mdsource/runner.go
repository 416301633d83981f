package mdsource

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"quotestream.com/internal/quotes/model"
	"quotestream.com/internal/quotes/ws"
	"quotestream.com/internal/quotes/wsmetrics"
	"quotestream.com/pkg/logger"
	"quotestream.com/pkg/safe"
)

// Router is the fan-out ingestion point.
type Router interface {
	Route(ctx context.Context, q model.Quote) (ws.RouteResult, error)
}

// QuoteSink receives every routed quote after fan-out (cache warm-up,
// archive). Each sink is fed from its own bounded queue so a slow one never
// holds up routing; a full queue drops the quote. A sink error is logged and
// counted, never retried.
type QuoteSink interface {
	Name() string
	WriteQuote(ctx context.Context, q model.Quote) error
}

type RunnerConfig struct {
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	Jitter      float64       `mapstructure:"jitter"`
	// a session that stayed up this long resets the backoff sequence
	StableAfter time.Duration `mapstructure:"stable_after"`
	Buffer      int           `mapstructure:"buffer"`
	SinkBuffer  int           `mapstructure:"sink_buffer"`
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
		Jitter:      0.2,
		StableAfter: 10 * time.Second,
		Buffer:      4096,
		SinkBuffer:  1024,
	}
}

// Runner keeps one Source subscribed forever: run a session, on failure wait
// out the backoff, run the next one. While disconnected nothing is delivered;
// missed upstream events are not replayed.
type Runner struct {
	src    Source
	router Router
	sinks  []*sinkQueue
	cfg    RunnerConfig

	backoff *Backoff
	sleep   Sleeper
	now     func() time.Time
}

func NewRunner(src Source, router Router, cfg RunnerConfig, sinks ...QuoteSink) *Runner {
	def := DefaultRunnerConfig()
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = def.StableAfter
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.SinkBuffer <= 0 {
		cfg.SinkBuffer = def.SinkBuffer
	}
	queues := make([]*sinkQueue, 0, len(sinks))
	for _, s := range sinks {
		queues = append(queues, &sinkQueue{sink: s, ch: make(chan model.Quote, cfg.SinkBuffer)})
	}
	return &Runner{
		src:     src,
		router:  router,
		sinks:   queues,
		cfg:     cfg,
		backoff: NewBackoff(cfg.BaseBackoff, cfg.MaxBackoff, cfg.Jitter),
		sleep:   SleepCtx,
		now:     time.Now,
	}
}

// Run blocks until ctx is cancelled. Sink workers stop with it; quotes still
// queued for a sink at that point are dropped.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for _, q := range r.sinks {
		safe.GoWG(ctx, &wg, q.run)
	}

	name := r.src.Name()
	for {
		if ctx.Err() != nil {
			return
		}

		started := r.now()
		err := r.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = ErrUpstreamClosed
		}
		if r.now().Sub(started) >= r.cfg.StableAfter {
			r.backoff.Reset()
		}

		delay := r.backoff.Next()
		wsmetrics.UpstreamReconnectTotal.WithLabelValues(name).Inc()
		logger.Warn(ctx, "upstream session ended, retrying",
			zap.String("source", name),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if r.sleep(ctx, delay) != nil {
			return
		}
	}
}

func (r *Runner) session(ctx context.Context) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	name := r.src.Name()
	wsmetrics.UpstreamUp.WithLabelValues(name).Set(1)
	defer wsmetrics.UpstreamUp.WithLabelValues(name).Set(0)

	out := make(chan []byte, r.cfg.Buffer)
	done := make(chan error, 1)
	safe.GoCtx(sctx, func(ctx context.Context) {
		err := errors.New("mdsource: source panicked")
		defer func() { done <- err }()
		err = r.src.Run(ctx, out)
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw := <-out:
			r.handle(ctx, raw)
		case err := <-done:
			for {
				select {
				case raw := <-out:
					r.handle(ctx, raw)
				default:
					return err
				}
			}
		}
	}
}

func (r *Runner) handle(ctx context.Context, raw []byte) {
	name := r.src.Name()
	wsmetrics.UpstreamMsgsTotal.WithLabelValues(name).Inc()

	q, err := model.ParseQuote(raw)
	if err != nil {
		wsmetrics.MalformedTotal.WithLabelValues(name).Inc()
		logger.Warn(ctx, "malformed upstream message dropped",
			zap.String("source", name),
			zap.ByteString("payload", truncate(raw, 256)),
			zap.Error(err),
		)
		return
	}

	if _, err := r.router.Route(ctx, q); err != nil {
		logger.Error(ctx, "route failed", zap.String("ticker", q.Ticker), zap.Error(err))
	}

	for _, s := range r.sinks {
		s.offer(q)
	}
}

type sinkQueue struct {
	sink QuoteSink
	ch   chan model.Quote
}

func (s *sinkQueue) offer(q model.Quote) {
	select {
	case s.ch <- q:
	default:
		wsmetrics.SinkDroppedTotal.WithLabelValues(s.sink.Name()).Inc()
	}
}

func (s *sinkQueue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-s.ch:
			if err := s.sink.WriteQuote(ctx, q); err != nil {
				wsmetrics.SinkErrorsTotal.WithLabelValues(s.sink.Name()).Inc()
				logger.Debug(ctx, "sink write failed", zap.String("sink", s.sink.Name()), zap.Error(err))
			}
		}
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
