package config

import (
	"time"

	"quotestream.com/internal/quotes/mdsource"
	"quotestream.com/internal/quotes/storage/influxsink"
	"quotestream.com/internal/quotes/ws"
	"quotestream.com/pkg/orm"
	"quotestream.com/pkg/xredis"
)

const ServiceName = "quotes-gateway"

// 总配置
type GatewayConfig struct {
	Name            string        `mapstructure:"name"`
	Version         string        `mapstructure:"version"`
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	HTTP     HTTPConfig     `mapstructure:"http"`
	WS       ws.Config      `mapstructure:"ws"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Capacity CapacityConfig `mapstructure:"capacity"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Redis    xredis.Config  `mapstructure:"redis"`
	MySQL    orm.Config     `mapstructure:"mysql"`
	Influx   InfluxConfig   `mapstructure:"influx"`
	Trace    TraceConfig    `mapstructure:"trace"`
	Debug    DebugConfig    `mapstructure:"debug"`
}

// HTTP 配置
type HTTPConfig struct {
	Addr      string  `mapstructure:"addr"`
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

type QueueConfig struct {
	Capacity     int    `mapstructure:"capacity"`
	Backpressure string `mapstructure:"backpressure"`
}

type UpstreamConfig struct {
	// redis | nats
	Kind    string                `mapstructure:"kind"`
	Channel string                `mapstructure:"channel"`
	NatsURL string                `mapstructure:"nats_url"`
	Retry   mdsource.RunnerConfig `mapstructure:"retry"`
}

type CapacityConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Channel string        `mapstructure:"channel"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type CacheConfig struct {
	LatestTTL time.Duration `mapstructure:"latest_ttl"`
}

type InfluxConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	influxsink.Config `mapstructure:",squash"`
}

type TraceConfig struct {
	// empty disables tracing; "stdout" prints spans
	Host string `mapstructure:"host"`
}

type DebugConfig struct {
	// empty disables the pprof listener
	PprofAddr string `mapstructure:"pprof_addr"`
}

// Defaults holds every key so env overrides work without a config file.
func Defaults() map[string]interface{} {
	wsd := ws.DefaultConfig()
	rd := mdsource.DefaultRunnerConfig()
	return map[string]interface{}{
		"name":             ServiceName,
		"version":          "0.1.0",
		"log_level":        "info",
		"shutdown_timeout": 10 * time.Second,

		"http.addr":       ":8000",
		"http.rate_limit": 50.0,
		"http.burst":      100,

		"ws.write_wait":        wsd.WriteWait,
		"ws.pong_wait":         wsd.PongWait,
		"ws.ping_period":       wsd.PingPeriod,
		"ws.ping_jitter":       wsd.PingJitter,
		"ws.handshake_timeout": wsd.HandshakeTimeout,
		"ws.read_limit":        wsd.ReadLimit,
		"ws.max_conns":         wsd.MaxConns,
		"ws.allowed_origins":   []string{},

		"queue.capacity":     256,
		"queue.backpressure": string(ws.PolicyDropOldest),

		"upstream.kind":               "redis",
		"upstream.channel":            mdsource.DefaultChannel,
		"upstream.nats_url":           "nats://127.0.0.1:4222",
		"upstream.retry.base_backoff": rd.BaseBackoff,
		"upstream.retry.max_backoff":  rd.MaxBackoff,
		"upstream.retry.jitter":       rd.Jitter,
		"upstream.retry.stable_after": rd.StableAfter,
		"upstream.retry.buffer":       rd.Buffer,
		"upstream.retry.sink_buffer":  rd.SinkBuffer,

		"capacity.enabled": true,
		"capacity.channel": "capacity.scoring",
		"capacity.ttl":     time.Hour,

		"cache.latest_ttl": 5 * time.Second,

		"redis.url":       "",
		"redis.addr":      "127.0.0.1:6379",
		"redis.password":  "",
		"redis.db":        0,
		"redis.pool_size": 100,

		"mysql.dsn":          "",
		"mysql.max_idle":     10,
		"mysql.max_open":     50,
		"mysql.max_lifetime": 3600,
		"mysql.log_level":    "warn",

		"influx.enabled":        false,
		"influx.url":            "http://127.0.0.1:8086",
		"influx.token":          "",
		"influx.org":            "",
		"influx.bucket":         "quotes",
		"influx.batch_size":     2000,
		"influx.flush_interval": time.Second,
		"influx.use_gzip":       false,

		"trace.host": "",

		"debug.pprof_addr": "",
	}
}
