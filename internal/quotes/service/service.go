package service

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"quotestream.com/internal/quotes/cache"
	"quotestream.com/internal/quotes/capacity"
	"quotestream.com/internal/quotes/model"
	"quotestream.com/internal/quotes/ohlc"
	"quotestream.com/internal/quotes/repo"
	rowmodel "quotestream.com/internal/quotes/repo/model"
	"quotestream.com/pkg/logger"
	"quotestream.com/pkg/ratelimit"
	"quotestream.com/pkg/xerr"
)

const (
	MaxBatch        = 1000
	MaxPageLimit    = 1000
	DefaultLimit    = 100
	MaxBatchTickers = 50
	MaxHistoryRows  = 200_000 // raw rows folded into one history response

	// bounds a shared store read no matter which caller started it
	sharedReadTimeout = 5 * time.Second

	breakerRead  = "repo.read"
	breakerWrite = "repo.write"
)

var restTickerRe = regexp.MustCompile(`^[A-Z]{1,10}$`)

// CapacityLookup is the read side of the capacity score cache.
type CapacityLookup interface {
	Get(ctx context.Context, ticker string) (capacity.Context, bool, error)
}

// LatestView is the latest-quote response body.
type LatestView struct {
	model.QuoteDTO
	CapacityContext *capacity.Context `json:"capacity_context,omitempty"`
}

type QuotesService struct {
	cache    cache.Cache
	repo     repo.Repo
	capacity CapacityLookup
	breakers *ratelimit.Manager
	sf       singleflight.Group
}

// NewQuotesService wires the REST read/write path. capacity may be nil.
func NewQuotesService(r repo.Repo, c cache.Cache, capLookup CapacityLookup, breakers *ratelimit.Manager) *QuotesService {
	if breakers == nil {
		breakers = ratelimit.NewManager(ratelimit.Rule{}, nil, IsExpected)
	}
	return &QuotesService{cache: c, repo: r, capacity: capLookup, breakers: breakers}
}

// IsExpected marks errors that say nothing about store health.
func IsExpected(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}

func ValidTicker(raw string) (string, error) {
	t := model.NormalizeTicker(raw)
	if !restTickerRe.MatchString(t) {
		return "", xerr.New(xerr.RequestParamsError, "ticker must be 1-10 letters")
	}
	return t, nil
}

// Latest serves the newest quote for ticker: cache first, then a single
// store read per ticker no matter how many callers are waiting.
func (s *QuotesService) Latest(ctx context.Context, rawTicker string) (*LatestView, error) {
	ticker, err := ValidTicker(rawTicker)
	if err != nil {
		return nil, err
	}

	q, ok, err := s.cache.GetLatest(ctx, ticker)
	if err != nil {
		logger.Warn(ctx, "cache read failed", zap.String("ticker", ticker), zap.Error(err))
	}
	if !ok {
		ch := s.sf.DoChan(ticker, func() (interface{}, error) {
			// waiters share this read; one of them going away must not fail the rest
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedReadTimeout)
			defer cancel()
			row, err := ratelimit.Do(s.breakers, breakerRead, func() (rowmodel.QuoteRow, error) {
				return s.repo.Latest(rctx, ticker)
			})
			if err != nil {
				return nil, err
			}
			q := row.Quote()
			_ = s.cache.SetLatest(rctx, q)
			return q, nil
		})
		select {
		case <-ctx.Done():
			return nil, xerr.Wrap(ctx.Err(), xerr.ServerCommonError, "latest quote")
		case res := <-ch:
			if res.Err != nil {
				return nil, mapStoreErr(res.Err, "latest quote")
			}
			q = res.Val.(model.Quote)
		}
	}

	view := &LatestView{QuoteDTO: model.ToDTO(q)}
	if s.capacity != nil {
		c, ok, err := s.capacity.Get(ctx, ticker)
		if err != nil {
			logger.Warn(ctx, "capacity lookup failed", zap.String("ticker", ticker), zap.Error(err))
		}
		if ok {
			view.CapacityContext = &c
		}
	}
	return view, nil
}

// BatchItem is one entry of a multi-ticker latest lookup. Quote is nil when
// the ticker has no stored quote.
type BatchItem struct {
	Ticker string          `json:"ticker"`
	Quote  *model.QuoteDTO `json:"quote"`
	Error  string          `json:"error,omitempty"`
}

type BatchView struct {
	Quotes     []BatchItem `json:"quotes"`
	Total      int         `json:"total"`
	Successful int         `json:"successful"`
	Failed     int         `json:"failed"`
}

// NormalizeTickers upper-cases, trims and de-duplicates, keeping first-seen
// order. Every ticker must be valid and 1..MaxBatchTickers must remain.
func NormalizeTickers(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		t := model.NormalizeTicker(r)
		if t == "" {
			continue
		}
		if !restTickerRe.MatchString(t) {
			return nil, xerr.New(xerr.RequestParamsError, "invalid ticker "+t)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 || len(out) > MaxBatchTickers {
		return nil, xerr.New(xerr.RequestParamsError, "tickers must hold 1-50 symbols")
	}
	return out, nil
}

// LatestBatch returns the newest quote of up to MaxBatchTickers tickers.
// Cached entries are served as is; the rest come from one store query and
// are written back to the cache.
func (s *QuotesService) LatestBatch(ctx context.Context, rawTickers []string) (*BatchView, error) {
	tickers, err := NormalizeTickers(rawTickers)
	if err != nil {
		return nil, err
	}

	found := make(map[string]model.Quote, len(tickers))
	misses := make([]string, 0, len(tickers))
	for _, t := range tickers {
		q, ok, err := s.cache.GetLatest(ctx, t)
		if err != nil {
			logger.Warn(ctx, "cache read failed", zap.String("ticker", t), zap.Error(err))
		}
		if ok {
			found[t] = q
			continue
		}
		misses = append(misses, t)
	}

	if len(misses) > 0 {
		rows, err := ratelimit.Do(s.breakers, breakerRead, func() ([]rowmodel.QuoteRow, error) {
			return s.repo.LatestMany(ctx, misses)
		})
		if err != nil {
			return nil, mapStoreErr(err, "batch latest")
		}
		for _, row := range rows {
			q := row.Quote()
			found[q.Ticker] = q
			_ = s.cache.SetLatest(ctx, q)
		}
	}

	view := &BatchView{Quotes: make([]BatchItem, 0, len(tickers)), Total: len(tickers)}
	for _, t := range tickers {
		q, ok := found[t]
		if !ok {
			view.Quotes = append(view.Quotes, BatchItem{Ticker: t, Error: "ticker not found"})
			view.Failed++
			continue
		}
		dto := model.ToDTO(q)
		view.Quotes = append(view.Quotes, BatchItem{Ticker: t, Quote: &dto})
		view.Successful++
	}
	return view, nil
}

// HistoryView is the bucketed OHLCV series of one ticker.
type HistoryView struct {
	Ticker   string        `json:"ticker"`
	Interval string        `json:"interval"`
	Data     []ohlc.BarDTO `json:"data"`
	Count    int           `json:"count"`
}

// History buckets the stored quotes of ticker within [from, to] by interval
// (1m, 5m, 15m, 30m, 1h, 1d; empty means 1m). to must be after from.
func (s *QuotesService) History(ctx context.Context, rawTicker string, from, to time.Time, interval string) (*HistoryView, error) {
	ticker, err := ValidTicker(rawTicker)
	if err != nil {
		return nil, err
	}
	name, width, err := ohlc.ParseInterval(interval)
	if err != nil {
		return nil, xerr.Wrap(err, xerr.RequestParamsError, err.Error())
	}
	if from.IsZero() || to.IsZero() || !to.After(from) {
		return nil, xerr.New(xerr.RequestParamsError, "end_date must be after start_date")
	}

	rows, err := ratelimit.Do(s.breakers, breakerRead, func() ([]rowmodel.QuoteRow, error) {
		return s.repo.Range(ctx, ticker, from, to, MaxHistoryRows+1)
	})
	if err != nil {
		return nil, mapStoreErr(err, "history")
	}
	if len(rows) > MaxHistoryRows {
		return nil, xerr.New(xerr.RequestParamsError, "range holds too many quotes; narrow it")
	}

	quotes := make([]model.Quote, 0, len(rows))
	for _, r := range rows {
		quotes = append(quotes, r.Quote())
	}
	data := ohlc.ToDTOs(ohlc.Aggregate(quotes, width))
	return &HistoryView{Ticker: ticker, Interval: name, Data: data, Count: len(data)}, nil
}

// Tickers pages through distinct tickers. limit defaults to DefaultLimit and
// must be within 1..MaxPageLimit.
func (s *QuotesService) Tickers(ctx context.Context, offset, limit int) ([]string, error) {
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxPageLimit || offset < 0 {
		return nil, xerr.New(xerr.RequestParamsError, "limit must be 1-1000 and offset >= 0")
	}
	out, err := ratelimit.Do(s.breakers, breakerRead, func() ([]string, error) {
		return s.repo.Tickers(ctx, offset, limit)
	})
	if err != nil {
		return nil, mapStoreErr(err, "list tickers")
	}
	return out, nil
}

// CreateBatch validates and upserts 1..MaxBatch quotes, then invalidates the
// cached latest entry of every touched ticker.
func (s *QuotesService) CreateBatch(ctx context.Context, quotes []model.Quote) (int64, error) {
	if len(quotes) == 0 || len(quotes) > MaxBatch {
		return 0, xerr.New(xerr.RequestParamsError, "batch must hold 1-1000 quotes")
	}

	rows := make([]rowmodel.QuoteRow, 0, len(quotes))
	seen := make(map[string]struct{}, len(quotes))
	tickers := make([]string, 0, len(quotes))
	for _, q := range quotes {
		if _, err := ValidTicker(q.Ticker); err != nil {
			return 0, xerr.New(xerr.RequestParamsError, "invalid ticker "+q.Ticker)
		}
		if err := q.Validate(); err != nil {
			return 0, xerr.Wrap(err, xerr.RequestParamsError, err.Error())
		}
		rows = append(rows, rowmodel.FromQuote(q))
		if _, ok := seen[q.Ticker]; !ok {
			seen[q.Ticker] = struct{}{}
			tickers = append(tickers, q.Ticker)
		}
	}

	n, err := ratelimit.Do(s.breakers, breakerWrite, func() (int64, error) {
		return s.repo.Upsert(ctx, rows)
	})
	if err != nil {
		return 0, mapStoreErr(err, "create batch")
	}
	if err := s.cache.DelLatest(ctx, tickers...); err != nil {
		logger.Warn(ctx, "cache invalidation failed", zap.Strings("tickers", tickers), zap.Error(err))
	}
	return n, nil
}

func mapStoreErr(err error, op string) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return xerr.Wrap(err, xerr.RecordNotFound, op+": not found")
	case ratelimit.IsOpen(err):
		return xerr.Wrap(err, xerr.StoreUnavailable, op+": store unavailable")
	default:
		return xerr.Wrap(err, xerr.ServerCommonError, op)
	}
}
