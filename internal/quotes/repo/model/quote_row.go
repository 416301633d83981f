package model

import (
	"time"

	"github.com/shopspring/decimal"
	qm "quotestream.com/internal/quotes/model"
)

type QuoteRow struct {
	Ticker    string              `gorm:"column:ticker;primaryKey;type:varchar(10);not null"`
	Ts        time.Time           `gorm:"column:ts;primaryKey;not null"`
	Open      decimal.Decimal     `gorm:"column:open;type:decimal(20,6);not null"`
	High      decimal.Decimal     `gorm:"column:high;type:decimal(20,6);not null"`
	Low       decimal.Decimal     `gorm:"column:low;type:decimal(20,6);not null"`
	Close     decimal.Decimal     `gorm:"column:close;type:decimal(20,6);not null"`
	Volume    int64               `gorm:"column:volume;not null"`
	Bid       decimal.NullDecimal `gorm:"column:bid;type:decimal(20,6)"`
	Ask       decimal.NullDecimal `gorm:"column:ask;type:decimal(20,6)"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (QuoteRow) TableName() string {
	return "quotes"
}

func FromQuote(q qm.Quote) QuoteRow {
	return QuoteRow{
		Ticker: q.Ticker,
		Ts:     q.Timestamp.UTC(),
		Open:   q.Open,
		High:   q.High,
		Low:    q.Low,
		Close:  q.Close,
		Volume: q.Volume,
		Bid:    q.Bid,
		Ask:    q.Ask,
	}
}

func (r QuoteRow) Quote() qm.Quote {
	return qm.Quote{
		Ticker:    r.Ticker,
		Timestamp: r.Ts.UTC(),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
		Bid:       r.Bid,
		Ask:       r.Ask,
	}
}
