package model

import (
	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
)

// TimestampLayout always carries microseconds, so whole seconds still read
// as sub-second precision on the wire.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// QuoteDTO is the outbound event shape. Prices are emitted as JSON numbers.
type QuoteDTO struct {
	Ticker    string      `json:"ticker"`
	Timestamp string      `json:"timestamp"`
	Open      json.Number `json:"open"`
	High      json.Number `json:"high"`
	Low       json.Number `json:"low"`
	Close     json.Number `json:"close"`
	Volume    int64       `json:"volume"`
	Bid       json.Number `json:"bid,omitempty"`
	Ask       json.Number `json:"ask,omitempty"`
}

func ToDTO(q Quote) QuoteDTO {
	dto := QuoteDTO{
		Ticker:    q.Ticker,
		Timestamp: q.Timestamp.UTC().Format(TimestampLayout),
		Open:      num(q.Open),
		High:      num(q.High),
		Low:       num(q.Low),
		Close:     num(q.Close),
		Volume:    q.Volume,
	}
	if q.Bid.Valid {
		dto.Bid = num(q.Bid.Decimal)
	}
	if q.Ask.Valid {
		dto.Ask = num(q.Ask.Decimal)
	}
	return dto
}

// EncodeQuote renders q as one outbound JSON event.
func EncodeQuote(q Quote) ([]byte, error) {
	return json.Marshal(ToDTO(q))
}

func num(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
