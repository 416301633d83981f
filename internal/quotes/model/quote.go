package model

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
)

var (
	ErrMissingTicker    = errors.New("quote: missing ticker")
	ErrMissingTimestamp = errors.New("quote: missing or invalid timestamp")
	ErrMissingClose     = errors.New("quote: missing close")
	ErrNegative         = errors.New("quote: negative price or volume")
	ErrBadVolume        = errors.New("quote: volume is not a whole number in range")
)

var maxVolume = decimal.NewFromInt(math.MaxInt64)

// Quote is one OHLCV(+bid/ask) update for a ticker. Identity is
// (Ticker, Timestamp); duplicates are passed through.
type Quote struct {
	Ticker    string
	Timestamp time.Time // UTC, assigned upstream
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
	Bid       decimal.NullDecimal
	Ask       decimal.NullDecimal
}

// NormalizeTicker is the canonical form used for all filter matching.
func NormalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// wireQuote is the upstream payload. "price" is accepted as an alias of close.
type wireQuote struct {
	Ticker    string          `json:"ticker"`
	Timestamp string          `json:"timestamp"`
	Open      json.RawMessage `json:"open"`
	High      json.RawMessage `json:"high"`
	Low       json.RawMessage `json:"low"`
	Close     json.RawMessage `json:"close"`
	Price     json.RawMessage `json:"price"`
	Volume    json.RawMessage `json:"volume"`
	Bid       json.RawMessage `json:"bid"`
	Ask       json.RawMessage `json:"ask"`
}

// ParseQuote decodes one upstream message. Missing open/high/low default to
// close.
func ParseQuote(raw []byte) (Quote, error) {
	var w wireQuote
	if err := json.Unmarshal(raw, &w); err != nil {
		return Quote{}, fmt.Errorf("quote: decode: %w", err)
	}

	q := Quote{Ticker: NormalizeTicker(w.Ticker)}
	if q.Ticker == "" {
		return Quote{}, ErrMissingTicker
	}

	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return Quote{}, ErrMissingTimestamp
	}
	q.Timestamp = ts

	closeRaw := w.Close
	if isAbsent(closeRaw) {
		closeRaw = w.Price
	}
	if isAbsent(closeRaw) {
		return Quote{}, ErrMissingClose
	}
	if q.Close, err = rawDecimal(closeRaw); err != nil {
		return Quote{}, fmt.Errorf("quote: close: %w", err)
	}

	if q.Open, err = priceOr(w.Open, q.Close); err != nil {
		return Quote{}, fmt.Errorf("quote: open: %w", err)
	}
	if q.High, err = priceOr(w.High, q.Close); err != nil {
		return Quote{}, fmt.Errorf("quote: high: %w", err)
	}
	if q.Low, err = priceOr(w.Low, q.Close); err != nil {
		return Quote{}, fmt.Errorf("quote: low: %w", err)
	}
	if q.Bid, err = optionalPrice(w.Bid); err != nil {
		return Quote{}, fmt.Errorf("quote: bid: %w", err)
	}
	if q.Ask, err = optionalPrice(w.Ask); err != nil {
		return Quote{}, fmt.Errorf("quote: ask: %w", err)
	}

	if !isAbsent(w.Volume) {
		v, err := rawDecimal(w.Volume)
		if err != nil {
			return Quote{}, fmt.Errorf("quote: volume: %w", err)
		}
		if !v.IsInteger() || v.GreaterThan(maxVolume) || v.LessThan(maxVolume.Neg()) {
			return Quote{}, ErrBadVolume
		}
		q.Volume = v.IntPart()
	}

	if err := q.Validate(); err != nil {
		return Quote{}, err
	}
	return q, nil
}

// Validate checks the invariants every routed quote satisfies.
func (q Quote) Validate() error {
	if q.Ticker == "" {
		return ErrMissingTicker
	}
	if q.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	if q.Volume < 0 {
		return ErrNegative
	}
	for _, d := range []decimal.Decimal{q.Open, q.High, q.Low, q.Close} {
		if d.IsNegative() {
			return ErrNegative
		}
	}
	if (q.Bid.Valid && q.Bid.Decimal.IsNegative()) || (q.Ask.Valid && q.Ask.Decimal.IsNegative()) {
		return ErrNegative
	}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrMissingTimestamp
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrMissingTimestamp
}

func isAbsent(raw json.RawMessage) bool {
	s := bytes.TrimSpace(raw)
	return len(s) == 0 || bytes.Equal(s, []byte("null"))
}

// rawDecimal accepts 150.9 as well as "150.9".
func rawDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	s := bytes.TrimSpace(raw)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return decimal.NewFromString(string(s))
}

func priceOr(raw json.RawMessage, fallback decimal.Decimal) (decimal.Decimal, error) {
	if isAbsent(raw) {
		return fallback, nil
	}
	return rawDecimal(raw)
}

func optionalPrice(raw json.RawMessage) (decimal.NullDecimal, error) {
	if isAbsent(raw) {
		return decimal.NullDecimal{}, nil
	}
	d, err := rawDecimal(raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
