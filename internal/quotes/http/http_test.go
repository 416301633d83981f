package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	cws "github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quotestream.com/internal/quotes/capacity"
	"quotestream.com/internal/quotes/handler"
	"quotestream.com/internal/quotes/model"
	"quotestream.com/internal/quotes/ohlc"
	"quotestream.com/internal/quotes/service"
	"quotestream.com/internal/quotes/ws"
	"quotestream.com/pkg/common"
	"quotestream.com/pkg/xerr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type historyCall struct {
	ticker   string
	from, to time.Time
	interval string
}

type fakeService struct {
	latest  map[string]model.Quote
	batches [][]model.Quote
	history []historyCall
}

func (f *fakeService) Latest(_ context.Context, ticker string) (*service.LatestView, error) {
	t, err := service.ValidTicker(ticker)
	if err != nil {
		return nil, err
	}
	q, ok := f.latest[t]
	if !ok {
		return nil, xerr.New(xerr.RecordNotFound, "latest quote: not found")
	}
	return &service.LatestView{
		QuoteDTO:        model.ToDTO(q),
		CapacityContext: &capacity.Context{Score: 0.5, Confidence: 0.9, LastUpdated: "2026-02-10T13:00:00Z", ModelVersion: "1"},
	}, nil
}

func (f *fakeService) Tickers(_ context.Context, offset, limit int) ([]string, error) {
	if limit > service.MaxPageLimit {
		return nil, xerr.New(xerr.RequestParamsError, "limit must be 1-1000 and offset >= 0")
	}
	return []string{"AAPL", "MSFT"}, nil
}

func (f *fakeService) CreateBatch(_ context.Context, quotes []model.Quote) (int64, error) {
	f.batches = append(f.batches, quotes)
	return int64(len(quotes)), nil
}

func (f *fakeService) LatestBatch(_ context.Context, raw []string) (*service.BatchView, error) {
	tickers, err := service.NormalizeTickers(raw)
	if err != nil {
		return nil, err
	}
	v := &service.BatchView{Total: len(tickers)}
	for _, t := range tickers {
		q, ok := f.latest[t]
		if !ok {
			v.Quotes = append(v.Quotes, service.BatchItem{Ticker: t, Error: "ticker not found"})
			v.Failed++
			continue
		}
		dto := model.ToDTO(q)
		v.Quotes = append(v.Quotes, service.BatchItem{Ticker: t, Quote: &dto})
		v.Successful++
	}
	return v, nil
}

func (f *fakeService) History(_ context.Context, ticker string, from, to time.Time, interval string) (*service.HistoryView, error) {
	if !to.After(from) {
		return nil, xerr.New(xerr.RequestParamsError, "end_date must be after start_date")
	}
	f.history = append(f.history, historyCall{ticker: ticker, from: from, to: to, interval: interval})
	return &service.HistoryView{Ticker: model.NormalizeTicker(ticker), Interval: "5m", Data: []ohlc.BarDTO{{Timestamp: "2025-12-22T09:30:00.000000Z", Open: "150", High: "150.5", Low: "149.8", Close: "150.25", Volume: 50000}}, Count: 1}, nil
}

type env struct {
	svc *fakeService
	reg *ws.SubscriptionRegistry
	eng *gin.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c := decimal.RequireFromString("150.90")
	svc := &fakeService{latest: map[string]model.Quote{
		"AAPL": {Ticker: "AAPL", Timestamp: time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC), Open: c, High: c, Low: c, Close: c, Volume: 5},
	}}
	reg := ws.NewRegistry(ws.RegistryOptions{})
	srv := ws.NewServer(reg, ws.Config{WriteWait: time.Second})
	eng := NewRouter(ctx, Options{
		ServiceName: "quotes-gateway-test",
		Health:      &handler.Health{Version: "test", Conns: srv.Len},
		Quotes:      &handler.Quotes{Svc: svc},
		WS:          &handler.WS{Srv: srv},
	})
	return &env{svc: svc, reg: reg, eng: eng}
}

func (e *env) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.eng.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) common.Response {
	t.Helper()
	var resp struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	if data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return common.Response{Code: resp.Code, Message: resp.Message}
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.EqualValues(t, 0, body["connections"])
}

func TestLatest(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/v1/quotes/aapl/latest", "")
	require.Equal(t, http.StatusOK, w.Code)
	var v struct {
		Ticker          string            `json:"ticker"`
		Close           json.Number       `json:"close"`
		CapacityContext *capacity.Context `json:"capacity_context"`
	}
	decode(t, w, &v)
	assert.Equal(t, "AAPL", v.Ticker)
	assert.Equal(t, "150.9", v.Close.String())
	require.NotNil(t, v.CapacityContext)
	assert.Equal(t, 0.5, v.CapacityContext.Score)

	w = e.do(http.MethodGet, "/v1/quotes/ZZZ/latest", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decode(t, w, nil)
	assert.Equal(t, xerr.RecordNotFound, resp.Code)

	w = e.do(http.MethodGet, "/v1/quotes/BRK.B/latest", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestList(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/v1/quotes?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Tickers []string `json:"tickers"`
		Limit   int      `json:"limit"`
	}
	decode(t, w, &out)
	assert.Equal(t, []string{"AAPL", "MSFT"}, out.Tickers)
	assert.Equal(t, 2, out.Limit)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/v1/quotes?limit=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/v1/quotes?limit=5000", "").Code)
}

func TestCreateBatch(t *testing.T) {
	e := newEnv(t)

	body := `{"quotes":[
		{"ticker":"aapl","timestamp":"2026-01-10T09:11:31.294777Z","price":259.35,"volume":318089,"source":"yfinance"},
		{"ticker":"MSFT","timestamp":"2026-01-10T09:11:31Z","open":410,"high":411,"low":409,"close":"410.5"}
	]}`
	w := e.do(http.MethodPost, "/v1/quotes/batch", body)
	require.Equal(t, http.StatusCreated, w.Code)
	var out struct {
		Status  string `json:"status"`
		Created int    `json:"created"`
	}
	decode(t, w, &out)
	assert.Equal(t, "success", out.Status)
	assert.Equal(t, 2, out.Created)

	require.Len(t, e.svc.batches, 1)
	assert.Equal(t, "AAPL", e.svc.batches[0][0].Ticker)
	assert.True(t, e.svc.batches[0][0].Open.Equal(decimal.RequireFromString("259.35")))

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/v1/quotes/batch", `{"quotes":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/v1/quotes/batch", `not json`).Code)

	w = e.do(http.MethodPost, "/v1/quotes/batch", `{"quotes":[{"ticker":"AAPL","timestamp":"2026-01-10T09:11:31Z"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w, nil)
	assert.Contains(t, resp.Message, "quotes[0]")
	assert.Len(t, e.svc.batches, 1)
}

func TestLatestBatch(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/v1/quotes/batch?tickers=aapl,nope&tickers=AAPL", "")
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Quotes []struct {
			Ticker string          `json:"ticker"`
			Quote  *model.QuoteDTO `json:"quote"`
			Error  string          `json:"error"`
		} `json:"quotes"`
		Total      int `json:"total"`
		Successful int `json:"successful"`
		Failed     int `json:"failed"`
	}
	decode(t, w, &out)
	assert.Equal(t, 2, out.Total)
	assert.Equal(t, 1, out.Successful)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Quotes, 2)
	require.NotNil(t, out.Quotes[0].Quote)
	assert.Equal(t, "150.9", out.Quotes[0].Quote.Close.String())
	assert.Nil(t, out.Quotes[1].Quote)
	assert.Equal(t, "ticker not found", out.Quotes[1].Error)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/v1/quotes/batch", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/v1/quotes/batch?tickers=BRK.B", "").Code)

	// the static segment does not shadow per-ticker routes
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/v1/quotes/AAPL/latest", "").Code)
}

func TestHistory(t *testing.T) {
	e := newEnv(t)

	body := `{"ticker":"AAPL","start_date":"2025-12-22T09:30:00Z","end_date":"2025-12-22T16:00:00Z","interval":"5m"}`
	w := e.do(http.MethodPost, "/v1/quotes/AAPL/history", body)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Ticker   string `json:"ticker"`
		Interval string `json:"interval"`
		Count    int    `json:"count"`
		Data     []struct {
			Timestamp string      `json:"timestamp"`
			Close     json.Number `json:"close"`
			Volume    int64       `json:"volume"`
		} `json:"data"`
	}
	decode(t, w, &out)
	assert.Equal(t, "AAPL", out.Ticker)
	assert.Equal(t, "5m", out.Interval)
	require.Len(t, out.Data, 1)
	assert.Equal(t, "150.25", out.Data[0].Close.String())

	require.Len(t, e.svc.history, 1)
	call := e.svc.history[0]
	assert.Equal(t, "AAPL", call.ticker)
	assert.Equal(t, "5m", call.interval)
	assert.True(t, call.from.Equal(time.Date(2025, 12, 22, 9, 30, 0, 0, time.UTC)))
	assert.True(t, call.to.Equal(time.Date(2025, 12, 22, 16, 0, 0, 0, time.UTC)))

	w = e.do(http.MethodPost, "/v1/quotes/MSFT/history", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w, nil)
	assert.Contains(t, resp.Message, "must match")

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/v1/quotes/AAPL/history", `{"ticker":"AAPL","start_date":"yesterday"}`).Code)
	reversed := `{"ticker":"AAPL","start_date":"2025-12-22T16:00:00Z","end_date":"2025-12-22T09:30:00Z"}`
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/v1/quotes/AAPL/history", reversed).Code)
	assert.Len(t, e.svc.history, 1)
}

func TestWebSocketRoutes(t *testing.T) {
	e := newEnv(t)
	ts := httptest.NewServer(e.eng)
	defer ts.Close()
	base := "ws" + strings.TrimPrefix(ts.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i, p := range []string{"/ws", "/ws/quotes", "/v1/ws", "/v1/ws/quotes"} {
		c, _, err := cws.Dial(ctx, base+p+"?tickers=AAPL", nil)
		require.NoError(t, err, p)
		n := i + 1
		require.Eventually(t, func() bool { return e.reg.Len() == n }, 2*time.Second, 5*time.Millisecond)
		defer c.CloseNow()
	}

	_, resp, err := cws.Dial(ctx, base+"/ws?tickers=NOT_VALID!", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
