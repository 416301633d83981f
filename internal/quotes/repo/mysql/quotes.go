package mysql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"quotestream.com/internal/quotes/repo"
	"quotestream.com/internal/quotes/repo/model"
	"quotestream.com/pkg/metrics"
	"quotestream.com/pkg/orm"
)

const upsertBatch = 500

type quotesRepo struct {
	db *gorm.DB
}

func NewQuotesRepo(db *gorm.DB) repo.Repo {
	return &quotesRepo{db: db}
}

// AutoMigrate creates the quotes table when missing.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.QuoteRow{})
}

func (r *quotesRepo) Latest(ctx context.Context, ticker string) (row model.QuoteRow, err error) {
	defer func(start time.Time) { metrics.ObserveDB("quotes_latest", start, err) }(time.Now())

	err = r.db.WithContext(ctx).
		Where("ticker = ?", ticker).
		Order("ts DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.QuoteRow{}, repo.ErrNotFound
	}
	return row, err
}

func (r *quotesRepo) LatestMany(ctx context.Context, tickers []string) (rows []model.QuoteRow, err error) {
	defer func(start time.Time) { metrics.ObserveDB("quotes_latest_many", start, err) }(time.Now())

	rows = []model.QuoteRow{}
	if len(tickers) == 0 {
		return rows, nil
	}
	newest := r.db.Model(&model.QuoteRow{}).
		Select("ticker, MAX(ts) AS max_ts").
		Where("ticker IN ?", tickers).
		Group("ticker")
	err = r.db.WithContext(ctx).
		Select("quotes.*").
		Joins("JOIN (?) AS newest ON quotes.ticker = newest.ticker AND quotes.ts = newest.max_ts", newest).
		Order("quotes.ticker ASC").
		Find(&rows).Error
	return rows, err
}

func (r *quotesRepo) Range(ctx context.Context, ticker string, from, to time.Time, limit int) (rows []model.QuoteRow, err error) {
	defer func(start time.Time) { metrics.ObserveDB("quotes_range", start, err) }(time.Now())

	rows = []model.QuoteRow{}
	q := r.db.WithContext(ctx).
		Where("ticker = ? AND ts >= ? AND ts <= ?", ticker, from.UTC(), to.UTC()).
		Order("ts ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err = q.Find(&rows).Error
	return rows, err
}

func (r *quotesRepo) Tickers(ctx context.Context, offset, limit int) (out []string, err error) {
	defer func(start time.Time) { metrics.ObserveDB("quotes_tickers", start, err) }(time.Now())

	q := r.db.WithContext(ctx).
		Model(&model.QuoteRow{}).
		Distinct("ticker").
		Order("ticker ASC")
	q = orm.ApplyPagination(q, offset, limit)

	out = []string{}
	err = q.Pluck("ticker", &out).Error
	return out, err
}

func (r *quotesRepo) Upsert(ctx context.Context, rows []model.QuoteRow) (n int64, err error) {
	defer func(start time.Time) { metrics.ObserveDB("quotes_upsert", start, err) }(time.Now())

	if len(rows) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ticker"}, {Name: "ts"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "bid", "ask"}),
		}).
		CreateInBatches(rows, upsertBatch)
	return int64(len(rows)), res.Error
}
