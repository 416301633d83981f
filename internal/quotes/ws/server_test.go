package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	cws "github.com/coder/websocket"
	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quotestream.com/internal/quotes/filter"
	"quotestream.com/internal/quotes/model"
)

type harness struct {
	reg    *SubscriptionRegistry
	router *Router
	srv    *Server
	http   *httptest.Server
}

func newHarness(t *testing.T, cfg Config, opts RegistryOptions) *harness {
	t.Helper()
	if cfg.WriteWait == 0 {
		cfg.WriteWait = time.Second
	}
	reg := NewRegistry(opts)
	h := &harness{reg: reg, router: NewRouter(reg), srv: NewServer(reg, cfg)}
	h.http = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws/quotes" {
			h.srv.ServeWS(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(h.http.Close)
	return h
}

func (h *harness) url(query string) string {
	u := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws/quotes"
	if query != "" {
		u += "?" + query
	}
	return u
}

func (h *harness) waitRegistered(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.reg.Len() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestServeWS_FilteredDelivery(t *testing.T) {
	h := newHarness(t, Config{}, RegistryOptions{})

	c, _, err := websocket.DefaultDialer.Dial(h.url("tickers=aapl,googl"), nil)
	require.NoError(t, err)
	defer c.Close()
	h.waitRegistered(t, 1)

	ctx := context.Background()
	_, err = h.router.Route(ctx, quote("MSFT", "410.00", 0))
	require.NoError(t, err)
	_, err = h.router.Route(ctx, quote("AAPL", "150.90", 1))
	require.NoError(t, err)
	_, err = h.router.Route(ctx, quote("GOOGL", "140.25", 2))
	require.NoError(t, err)

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []model.QuoteDTO
	for i := 0; i < 2; i++ {
		mt, msg, err := c.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, mt)
		var dto model.QuoteDTO
		require.NoError(t, json.Unmarshal(msg, &dto))
		got = append(got, dto)
	}
	assert.Equal(t, "AAPL", got[0].Ticker)
	assert.Equal(t, "150.9", got[0].Close.String())
	assert.Equal(t, "GOOGL", got[1].Ticker)
}

func TestServeWS_InvalidTickerRejectedBeforeUpgrade(t *testing.T) {
	h := newHarness(t, Config{}, RegistryOptions{})

	_, resp, err := websocket.DefaultDialer.Dial(h.url("tickers=AAPL,<bad>"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, h.reg.Len())
}

func TestServeWS_MaxConns(t *testing.T) {
	h := newHarness(t, Config{MaxConns: 1}, RegistryOptions{})

	c1, _, err := websocket.DefaultDialer.Dial(h.url(""), nil)
	require.NoError(t, err)
	defer c1.Close()
	h.waitRegistered(t, 1)

	_, resp, err := websocket.DefaultDialer.Dial(h.url(""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServeWS_ClientCloseUnregisters(t *testing.T) {
	h := newHarness(t, Config{}, RegistryOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c, _, err := cws.Dial(ctx, h.url("tickers=*"), nil)
	require.NoError(t, err)
	h.waitRegistered(t, 1)

	q := quote("TSLA", "201.5", 0)
	_, err = h.router.Route(ctx, q)
	require.NoError(t, err)

	typ, msg, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, cws.MessageText, typ)
	assert.JSONEq(t, string(encoded(q)), string(msg))

	require.NoError(t, c.Close(cws.StatusNormalClosure, "done"))
	h.waitRegistered(t, 0)

	// routing to a departed client is a silent no-op
	res, err := h.router.Route(ctx, q)
	require.NoError(t, err)
	assert.Zero(t, res.Matched)
}

func TestServeWS_DuplicateIDClosesWithInternalError(t *testing.T) {
	h := newHarness(t, Config{}, RegistryOptions{})
	_, err := h.reg.Register("fixed", filter.All(), newFakeTransport())
	require.NoError(t, err)
	h.srv.newID = func() string { return "fixed" }

	c, _, err := websocket.DefaultDialer.Dial(h.url(""), nil)
	require.NoError(t, err)
	defer c.Close()

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseInternalServerErr), "got %v", err)
	assert.Equal(t, 1, h.reg.Len())
}

func TestServer_ShutdownDrainsAndClosesNormally(t *testing.T) {
	h := newHarness(t, Config{}, RegistryOptions{})

	c, _, err := websocket.DefaultDialer.Dial(h.url("tickers=AAPL"), nil)
	require.NoError(t, err)
	defer c.Close()
	h.waitRegistered(t, 1)

	last := quote("AAPL", "151", 9)
	_, err = h.router.Route(context.Background(), last)
	require.NoError(t, err)

	read := make(chan error, 1)
	var frames [][]byte
	go func() {
		_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				read <- err
				return
			}
			frames = append(frames, msg)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, h.srv.Shutdown(ctx))

	err = <-read
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	require.Len(t, frames, 1)
	assert.JSONEq(t, string(encoded(last)), string(frames[0]))
	assert.Zero(t, h.reg.Len())

	_, resp, err := websocket.DefaultDialer.Dial(h.url(""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_DrainSignalsWithoutWaiting(t *testing.T) {
	h := newHarness(t, Config{}, RegistryOptions{})

	c, _, err := websocket.DefaultDialer.Dial(h.url("tickers=AAPL"), nil)
	require.NoError(t, err)
	defer c.Close()
	h.waitRegistered(t, 1)

	assert.Equal(t, 1, h.srv.Drain(context.Background()))
	assert.Zero(t, h.srv.Drain(context.Background()), "a session is signalled once")

	_, resp, err := websocket.DefaultDialer.Dial(h.url(""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, h.srv.Shutdown(ctx))
}
