package repo

import (
	"context"
	"errors"
	"time"

	"quotestream.com/internal/quotes/repo/model"
)

var ErrNotFound = errors.New("repo: quote not found")

type QuotesRepo interface {
	// Latest returns the newest row for ticker or ErrNotFound.
	Latest(ctx context.Context, ticker string) (model.QuoteRow, error)
	// LatestMany returns the newest row of each ticker that has one; tickers
	// without rows are simply absent from the result.
	LatestMany(ctx context.Context, tickers []string) ([]model.QuoteRow, error)
	// Range returns rows of ticker with from <= ts <= to in ascending ts
	// order, at most limit of them.
	Range(ctx context.Context, ticker string, from, to time.Time, limit int) ([]model.QuoteRow, error)
	// Tickers lists distinct tickers in ascending order.
	Tickers(ctx context.Context, offset, limit int) ([]string, error)
	// Upsert stores rows keyed by (ticker, ts); an existing key is overwritten.
	Upsert(ctx context.Context, rows []model.QuoteRow) (int64, error)
}

type Repo interface {
	QuotesRepo
}
