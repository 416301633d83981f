package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"quotestream.com/internal/quotes/model"
	"quotestream.com/internal/quotes/service"
	"quotestream.com/pkg/common"
	"quotestream.com/pkg/logger"
	"quotestream.com/pkg/xerr"
)

// QuotesService is what the REST routes need from the service layer.
type QuotesService interface {
	Latest(ctx context.Context, ticker string) (*service.LatestView, error)
	Tickers(ctx context.Context, offset, limit int) ([]string, error)
	CreateBatch(ctx context.Context, quotes []model.Quote) (int64, error)
	LatestBatch(ctx context.Context, tickers []string) (*service.BatchView, error)
	History(ctx context.Context, ticker string, from, to time.Time, interval string) (*service.HistoryView, error)
}

type Quotes struct {
	Svc QuotesService
}

type batchReq struct {
	Quotes []json.RawMessage `json:"quotes"`
}

type batchResp struct {
	Status  string `json:"status"`
	Created int64  `json:"created"`
	Failed  int    `json:"failed"`
}

type historyReq struct {
	Ticker    string    `json:"ticker"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Interval  string    `json:"interval"`
}

type tickersResp struct {
	Tickers []string `json:"tickers"`
	Offset  int      `json:"offset"`
	Limit   int      `json:"limit"`
}

func (h *Quotes) Latest(c *gin.Context) {
	v, err := h.Svc.Latest(c.Request.Context(), c.Param("ticker"))
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, v)
}

func (h *Quotes) List(c *gin.Context) {
	offset, err1 := intQuery(c, "offset", 0)
	limit, err2 := intQuery(c, "limit", service.DefaultLimit)
	if err1 != nil || err2 != nil {
		common.FailErr(c, xerr.New(xerr.RequestParamsError, "offset and limit must be integers"))
		return
	}
	tickers, err := h.Svc.Tickers(c.Request.Context(), offset, limit)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	if tickers == nil {
		tickers = []string{}
	}
	common.Success(c, tickersResp{Tickers: tickers, Offset: offset, Limit: limit})
}

func (h *Quotes) CreateBatch(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, "unreadable body"))
		return
	}
	var req batchReq
	if err := json.Unmarshal(body, &req); err != nil {
		common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, "body must be {\"quotes\":[...]}"))
		return
	}
	if len(req.Quotes) == 0 || len(req.Quotes) > service.MaxBatch {
		common.FailErr(c, xerr.New(xerr.RequestParamsError, "batch must hold 1-1000 quotes"))
		return
	}

	quotes := make([]model.Quote, 0, len(req.Quotes))
	for i, raw := range req.Quotes {
		q, err := model.ParseQuote(raw)
		if err != nil {
			common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, "quotes["+strconv.Itoa(i)+"]: "+err.Error()))
			return
		}
		quotes = append(quotes, q)
	}

	n, err := h.Svc.CreateBatch(c.Request.Context(), quotes)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	logger.Info(c.Request.Context(), "quote batch stored", zap.Int64("created", n))
	common.SuccessWithStatus(c, http.StatusCreated, batchResp{Status: "success", Created: n})
}

// LatestBatch serves GET /quotes/batch?tickers=AAPL,MSFT; the parameter may
// also be repeated.
func (h *Quotes) LatestBatch(c *gin.Context) {
	var tickers []string
	for _, v := range c.QueryArray("tickers") {
		tickers = append(tickers, strings.Split(v, ",")...)
	}
	v, err := h.Svc.LatestBatch(c.Request.Context(), tickers)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, v)
}

func (h *Quotes) History(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, "unreadable body"))
		return
	}
	var req historyReq
	if err := json.Unmarshal(body, &req); err != nil {
		common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, "body must carry ticker, start_date, end_date and interval"))
		return
	}
	ticker := c.Param("ticker")
	if model.NormalizeTicker(req.Ticker) != model.NormalizeTicker(ticker) {
		common.FailErr(c, xerr.New(xerr.RequestParamsError, "ticker in URL must match ticker in request body"))
		return
	}

	v, err := h.Svc.History(c.Request.Context(), ticker, req.StartDate, req.EndDate, req.Interval)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, v)
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
