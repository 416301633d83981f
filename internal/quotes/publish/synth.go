package publish

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"quotestream.com/internal/quotes/model"
	"quotestream.com/pkg/logger"
)

// Synth random-walks one price per ticker.
type Synth struct {
	tickers []string
	last    map[string]decimal.Decimal
	rnd     *rand.Rand
	now     func() time.Time
}

func NewSynth(tickers []string, seed int64) *Synth {
	s := &Synth{
		tickers: tickers,
		last:    make(map[string]decimal.Decimal, len(tickers)),
		rnd:     rand.New(rand.NewSource(seed)),
		now:     time.Now,
	}
	for _, t := range tickers {
		s.last[t] = decimal.NewFromInt(int64(50 + s.rnd.Intn(450)))
	}
	return s
}

// Next returns the next quote for the i-th ticker (round robin).
func (s *Synth) Next(i int) model.Quote {
	t := s.tickers[i%len(s.tickers)]
	open := s.last[t]

	// ±0.5% step, cents precision
	step := decimal.NewFromFloat((s.rnd.Float64() - 0.5) / 100).Mul(open)
	closePx := open.Add(step).Round(2)
	if !closePx.IsPositive() {
		closePx = open
	}
	s.last[t] = closePx

	high, low := decimal.Max(open, closePx), decimal.Min(open, closePx)
	spread := decimal.New(1, -2)
	return model.Quote{
		Ticker:    t,
		Timestamp: s.now().UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    int64(100 + s.rnd.Intn(10000)),
		Bid:       decimal.NewNullDecimal(closePx.Sub(spread)),
		Ask:       decimal.NewNullDecimal(closePx.Add(spread)),
	}
}

// Run publishes one synthetic quote every interval until ctx ends or count
// quotes went out (count <= 0 means no limit).
func Run(ctx context.Context, p Publisher, channel string, s *Synth, interval time.Duration, count int) (int, error) {
	tk := time.NewTicker(interval)
	defer tk.Stop()

	sent := 0
	for count <= 0 || sent < count {
		select {
		case <-ctx.Done():
			return sent, nil
		case <-tk.C:
		}
		q := s.Next(sent)
		b, err := model.EncodeQuote(q)
		if err != nil {
			return sent, err
		}
		if err := p.Publish(ctx, channel, b); err != nil {
			logger.Warn(ctx, "publish failed", zap.String("ticker", q.Ticker), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}
