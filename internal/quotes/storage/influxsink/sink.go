// Package influxsink archives every routed quote as an InfluxDB point.
package influxsink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
	"quotestream.com/internal/quotes/model"
	"quotestream.com/internal/quotes/wsmetrics"
	"quotestream.com/pkg/logger"
)

const measurement = "quote"

type Config struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`

	// 写入优化项
	BatchSize     uint          `mapstructure:"batch_size"`     // 建议从 1000~5000 起步
	FlushInterval time.Duration `mapstructure:"flush_interval"` // 例如 1s
	UseGzip       bool          `mapstructure:"use_gzip"`
}

type Sink struct {
	client influxdb2.Client
	write  api.WriteAPI
	errs   chan struct{}
}

func New(cfg Config) *Sink {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 1 * time.Second
	}

	opt := influxdb2.DefaultOptions().
		SetBatchSize(cfg.BatchSize).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())).
		SetUseGZip(cfg.UseGzip)

	c := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opt)
	w := c.WriteAPI(cfg.Org, cfg.Bucket)
	s := &Sink{client: c, write: w, errs: make(chan struct{})}

	// Errors() must be drained or async writes back up
	go func() {
		defer close(s.errs)
		for err := range w.Errors() {
			wsmetrics.SinkErrorsTotal.WithLabelValues(s.Name()).Inc()
			logger.Warn(context.Background(), "influx write failed", zap.Error(err))
		}
	}()
	return s
}

func (s *Sink) Name() string { return "influx" }

// WriteQuote buffers one point; the client flushes in batches.
func (s *Sink) WriteQuote(_ context.Context, q model.Quote) error {
	s.write.WritePoint(Point(q))
	return nil
}

// Close flushes the buffer.
func (s *Sink) Close() {
	s.client.Close()
}

// Point maps a quote onto measurement "quote", tagged by ticker.
func Point(q model.Quote) *write.Point {
	fields := map[string]interface{}{
		"open":   q.Open.InexactFloat64(),
		"high":   q.High.InexactFloat64(),
		"low":    q.Low.InexactFloat64(),
		"close":  q.Close.InexactFloat64(),
		"volume": q.Volume,
	}
	if q.Bid.Valid {
		fields["bid"] = q.Bid.Decimal.InexactFloat64()
	}
	if q.Ask.Valid {
		fields["ask"] = q.Ask.Decimal.InexactFloat64()
	}
	return write.NewPoint(measurement, map[string]string{"ticker": q.Ticker}, fields, q.Timestamp)
}

func (cfg Config) String() string {
	return fmt.Sprintf("url=%s org=%s bucket=%s batch=%d flush=%s gzip=%v",
		cfg.URL, cfg.Org, cfg.Bucket, cfg.BatchSize, cfg.FlushInterval, cfg.UseGzip)
}
