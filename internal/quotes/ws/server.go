package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"quotestream.com/internal/quotes/filter"
	"quotestream.com/internal/quotes/wsmetrics"
	"quotestream.com/pkg/logger"
	"quotestream.com/pkg/safe"
)

// TickersParam is the query parameter carrying the filter.
const TickersParam = "tickers"

const closeReasonShutdown = "server shutdown"

type Config struct {
	WriteWait        time.Duration `mapstructure:"write_wait"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	PingJitter       time.Duration `mapstructure:"ping_jitter"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReadLimit        int64         `mapstructure:"read_limit"`
	MaxConns         int           `mapstructure:"max_conns"` // 0 = unlimited
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
}

func DefaultConfig() Config {
	return Config{
		WriteWait:        5 * time.Second,
		PongWait:         60 * time.Second,
		PingPeriod:       30 * time.Second,
		PingJitter:       100 * time.Millisecond,
		HandshakeTimeout: 30 * time.Second,
		ReadLimit:        512,
	}
}

// Server runs the accept, register, stream, unregister sequence for every
// websocket session.
type Server struct {
	reg      Registry
	cfg      Config
	upgrader websocket.Upgrader
	newID    func() string

	mu       sync.Mutex // orders session reservation against Shutdown
	closing  atomic.Bool
	sessions sync.WaitGroup
	pending  atomic.Int64 // sessions past admission, registered or not
}

func NewServer(reg Registry, cfg Config) *Server {
	def := DefaultConfig()
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}

	s := &Server{
		reg:   reg,
		cfg:   cfg,
		newID: uuid.NewString,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: cfg.HandshakeTimeout,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Len is the number of registered subscriptions.
func (s *Server) Len() int { return s.reg.Len() }

// ServeWS handles one websocket session. Filter and capacity checks answer
// with a plain HTTP error before the upgrade.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := filter.Parse(q.Get(TickersParam), q.Has(TickersParam))
	if err != nil {
		wsmetrics.OnReject("bad_filter")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !s.admit() {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	defer s.sessions.Done()

	id := s.newID()
	ctx := logger.WithConnID(context.WithoutCancel(r.Context()), id)

	// Connecting: no registry work until the handshake succeeds.
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.pending.Add(-1)
		wsmetrics.OnReject("handshake")
		logger.Warn(ctx, "ws upgrade failed", zap.Error(err))
		return
	}
	t := newGorillaTransport(conn, s.cfg.WriteWait)

	sub, err := s.reg.Register(id, f, t)
	if err != nil {
		s.pending.Add(-1)
		wsmetrics.OnReject("duplicate")
		logger.Error(ctx, "ws register failed", zap.Error(err))
		_ = t.WriteClose(websocket.CloseInternalServerErr, "internal error")
		_ = t.Close()
		return
	}
	wsmetrics.OnOpen(f.IsAll())
	logger.Info(ctx, "ws session active",
		zap.String("tickers", f.String()),
		zap.String("remote", r.RemoteAddr),
	)

	// Shutdown may have snapshotted the registry before this Register.
	if s.closing.Load() {
		sub.Stop(websocket.CloseNormalClosure, closeReasonShutdown)
	}

	safe.GoWG(ctx, &s.sessions, func(ctx context.Context) {
		s.readPump(ctx, sub, conn)
	})
	safe.GoWG(ctx, &s.sessions, func(ctx context.Context) {
		s.writePump(ctx, sub)
	})
}

// admit reserves a session slot; false once shutting down or at max_conns.
func (s *Server) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing.Load() {
		wsmetrics.OnReject("shutdown")
		return false
	}
	if n := s.pending.Add(1); s.cfg.MaxConns > 0 && n > int64(s.cfg.MaxConns) {
		s.pending.Add(-1)
		wsmetrics.OnReject("max_conns")
		return false
	}
	s.sessions.Add(1)
	return true
}

// readPump discards client frames; its job is to notice the peer going away
// and to keep the pong deadline moving.
func (s *Server) readPump(ctx context.Context, sub *Subscription, conn *websocket.Conn) {
	conn.SetReadLimit(s.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		wsmetrics.PongRecvTotal.Inc()
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, r, err := conn.NextReader()
		if err != nil {
			code, reason := classifyReadErr(err)
			if code == websocket.CloseAbnormalClosure {
				logger.Debug(ctx, "ws read ended", zap.Error(err))
			}
			sub.peerGone(code, reason)
			return
		}
		if _, err := io.Copy(io.Discard, r); err != nil {
			sub.peerGone(websocket.CloseMessageTooBig, "read limit")
			return
		}
	}
}

func classifyReadErr(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, "peer closed"
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return websocket.CloseMessageTooBig, "read limit"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		wsmetrics.PongTimeoutTotal.Inc()
		return websocket.CloseAbnormalClosure, "pong timeout"
	}
	return websocket.CloseAbnormalClosure, "read error"
}

func (s *Server) writePump(ctx context.Context, sub *Subscription) {
	info := deliver(sub, workerConfig{pingPeriod: s.cfg.PingPeriod, pingJitter: s.cfg.PingJitter})
	s.teardown(ctx, sub, info)
}

// teardown is the Closing transition: unregister, release the transport,
// record the outcome. It runs once per session.
func (s *Server) teardown(ctx context.Context, sub *Subscription, info closeInfo) {
	if !sub.beginClosing() {
		return
	}
	s.reg.Unregister(sub.id)

	if info.sent {
		// give the peer a moment to echo the close frame
		select {
		case <-sub.gone:
		case <-time.After(s.cfg.WriteWait):
		}
	}
	_ = sub.release()
	s.pending.Add(-1)

	wsmetrics.OnClose(sub.filter.IsAll(), info.code, info.reason)
	fields := []zap.Field{
		zap.Int("code", info.code),
		zap.String("reason", info.reason),
		zap.Duration("age", time.Since(sub.createdAt)),
	}
	if info.err != nil {
		logger.Warn(ctx, "ws session closed with error", append(fields, zap.Error(info.err))...)
		return
	}
	logger.Info(ctx, "ws session closed", fields...)
}

// Drain refuses new sessions and asks every active one to flush and close
// normally. It does not wait; it reports how many sessions were signalled.
func (s *Server) Drain(ctx context.Context) int {
	s.mu.Lock()
	s.closing.Store(true)
	s.mu.Unlock()

	n := 0
	for _, sub := range s.reg.All() {
		if sub.Stop(websocket.CloseNormalClosure, closeReasonShutdown) {
			n++
		}
	}
	if n > 0 {
		logger.Info(ctx, "ws shutdown: draining sessions", zap.Int("sessions", n))
	}
	return n
}

// Shutdown is Drain followed by a wait for every session or for ctx.
// Sessions still running at the deadline have their transports closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Drain(ctx)

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, sub := range s.reg.All() {
			_ = sub.release()
		}
		logger.Warn(ctx, "ws shutdown deadline hit, transports closed", zap.Int("remaining", s.reg.Len()))
		return ctx.Err()
	}
}
