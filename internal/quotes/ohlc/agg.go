package ohlc

import (
	"errors"
	"slices"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"quotestream.com/internal/quotes/model"
)

// DefaultInterval is used when a history request names none.
const DefaultInterval = "1m"

var ErrBadInterval = errors.New("ohlc: interval must be one of 1m, 5m, 15m, 30m, 1h, 1d")

var intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"1d":  24 * time.Hour,
}

// ParseInterval maps an interval name onto its bucket width. An empty name
// means DefaultInterval.
func ParseInterval(name string) (string, time.Duration, error) {
	if name == "" {
		name = DefaultInterval
	}
	d, ok := intervals[name]
	if !ok {
		return "", 0, ErrBadInterval
	}
	return name, d, nil
}

// Bar is one bucket [Start, Start+interval).
type Bar struct {
	Start  time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
	Count  int
}

// BucketStart aligns ts down to its bucket; buckets are aligned to the Unix
// epoch in UTC, so daily bars start at 00:00 UTC.
func BucketStart(ts time.Time, interval time.Duration) time.Time {
	ms := interval.Milliseconds()
	return time.UnixMilli(bucketStartMs(ts.UnixMilli(), ms)).UTC()
}

func bucketStartMs(tsMs, intervalMs int64) int64 {
	start := (tsMs / intervalMs) * intervalMs
	if tsMs < 0 && tsMs%intervalMs != 0 {
		start -= intervalMs
	}
	return start
}

// Aggregate folds quotes into bars: open of the earliest quote, highest high,
// lowest low, close of the latest quote, summed volume. Bars come back in
// ascending order; empty buckets are not filled.
func Aggregate(quotes []model.Quote, interval time.Duration) []Bar {
	if len(quotes) == 0 || interval <= 0 {
		return nil
	}
	sorted := slices.Clone(quotes)
	slices.SortStableFunc(sorted, func(a, b model.Quote) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	bars := make([]Bar, 0, 16)
	var cur *Bar
	for _, q := range sorted {
		start := BucketStart(q.Timestamp, interval)
		if cur == nil || !start.Equal(cur.Start) {
			bars = append(bars, Bar{
				Start:  start,
				Open:   q.Open,
				High:   q.High,
				Low:    q.Low,
				Close:  q.Close,
				Volume: q.Volume,
				Count:  1,
			})
			cur = &bars[len(bars)-1]
			continue
		}
		if q.High.GreaterThan(cur.High) {
			cur.High = q.High
		}
		if q.Low.LessThan(cur.Low) {
			cur.Low = q.Low
		}
		cur.Close = q.Close
		cur.Volume += q.Volume
		cur.Count++
	}
	return bars
}

// BarDTO is the outbound shape of one bar.
type BarDTO struct {
	Timestamp string      `json:"timestamp"`
	Open      json.Number `json:"open"`
	High      json.Number `json:"high"`
	Low       json.Number `json:"low"`
	Close     json.Number `json:"close"`
	Volume    int64       `json:"volume"`
}

func ToDTOs(bars []Bar) []BarDTO {
	out := make([]BarDTO, 0, len(bars))
	for _, b := range bars {
		out = append(out, BarDTO{
			Timestamp: b.Start.Format(model.TimestampLayout),
			Open:      json.Number(b.Open.String()),
			High:      json.Number(b.High.String()),
			Low:       json.Number(b.Low.String()),
			Close:     json.Number(b.Close.String()),
			Volume:    b.Volume,
		})
	}
	return out
}
