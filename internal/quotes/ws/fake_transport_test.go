package ws

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"quotestream.com/internal/quotes/model"
)

type closeFrame struct {
	code   int
	reason string
}

// fakeTransport records frames. When block is set WriteText waits on it,
// simulating a peer that stopped reading.
type fakeTransport struct {
	mu       sync.Mutex
	frames   [][]byte
	closes   []closeFrame
	pings    int
	released int
	writeErr error
	block    chan struct{}

	written chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{written: make(chan []byte, 1024)}
}

func (f *fakeTransport) WriteText(p []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	err := f.writeErr
	if err == nil {
		f.frames = append(f.frames, p)
	}
	f.mu.Unlock()
	if err == nil {
		select {
		case f.written <- p:
		default:
		}
	}
	return err
}

func (f *fakeTransport) WritePing() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return nil
}

func (f *fakeTransport) WriteClose(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, closeFrame{code: code, reason: reason})
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return nil
}

func (f *fakeTransport) snapshot() (frames [][]byte, closes []closeFrame, released int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...), append([]closeFrame(nil), f.closes...), f.released
}

var baseTS = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func quote(ticker, close string, seq int) model.Quote {
	c := decimal.RequireFromString(close)
	return model.Quote{
		Ticker:    ticker,
		Timestamp: baseTS.Add(time.Duration(seq) * time.Millisecond),
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Volume:    int64(100 + seq),
	}
}

func encoded(q model.Quote) []byte {
	b, err := model.EncodeQuote(q)
	if err != nil {
		panic(err)
	}
	return b
}
