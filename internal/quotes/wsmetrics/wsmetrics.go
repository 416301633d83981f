package wsmetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Conns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_conns",
		Help: "Active websocket connections",
	})
	ConnOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_conn_open_total",
		Help: "Total websocket connections opened",
	})
	ConnCloseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_conn_close_total",
		Help: "Total websocket connections closed, partitioned by close code and reason",
	}, []string{"code", "reason"})
	ConnRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_conn_rejected_total",
		Help: "Connections refused before registration",
	}, []string{"why"}) // bad_filter/max_conns/shutdown/handshake/duplicate

	SubscribersByFilter = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ws_subscribers",
		Help: "Registered subscriptions by filter kind",
	}, []string{"kind"}) // all/tickers

	RoutedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quotes_routed_total",
		Help: "Quotes passed to the fan-out router",
	})
	EnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quotes_enqueued_total",
		Help: "Per-subscription enqueues",
	})
	FanoutSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quotes_fanout_size",
		Help:    "Matching subscriptions per routed quote",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 64, 256, 1024, 4096},
	})
	RouteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quotes_route_duration_seconds",
		Help:    "Time spent routing one quote to every match",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16), // 10us -> ~0.3s
	})

	MsgsOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_msgs_out_total",
		Help: "Total websocket messages sent out",
	})
	BytesOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_bytes_out_total",
		Help: "Total websocket bytes sent out",
	})
	WriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_write_errors_total",
		Help: "Total websocket write errors",
	})
	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_dropped_total",
		Help: "Total dropped messages",
	}, []string{"why"}) // evicted/overflow/closed

	PingSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_ping_sent_total",
		Help: "Total ping sent",
	})
	PingErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_ping_errors_total",
		Help: "Total ping send errors",
	})
	PongRecvTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_pong_recv_total",
		Help: "Total pong received",
	})
	PongTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_pong_timeout_total",
		Help: "Total pong timeouts",
	})

	WriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ws_write_duration_seconds",
		Help:    "Duration of a websocket write batch",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms -> ~4s
	})
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ws_batch_size",
		Help:    "Number of messages per flush/batch",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	})

	UpstreamMsgsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotes_upstream_messages_total",
		Help: "Raw messages received from the upstream channel",
	}, []string{"source"})
	MalformedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotes_malformed_total",
		Help: "Upstream messages discarded because they did not parse",
	}, []string{"source"})
	UpstreamReconnectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotes_upstream_reconnect_total",
		Help: "Upstream sessions that ended and were retried",
	}, []string{"source"})
	UpstreamUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quotes_upstream_up",
		Help: "1 while the upstream subscription is live",
	}, []string{"source"})
	SinkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotes_sink_errors_total",
		Help: "Errors writing routed quotes to side sinks",
	}, []string{"sink"})
	SinkDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotes_sink_dropped_total",
		Help: "Quotes skipped by a side sink because its queue was full",
	}, []string{"sink"})
)

func OnOpen(allTickers bool) {
	Conns.Inc()
	ConnOpenTotal.Inc()
	SubscribersByFilter.WithLabelValues(filterKind(allTickers)).Inc()
}

func OnClose(allTickers bool, code int, reason string) {
	Conns.Dec()
	SubscribersByFilter.WithLabelValues(filterKind(allTickers)).Dec()
	ConnCloseTotal.WithLabelValues(strconv.Itoa(code), reason).Inc()
}

func OnReject(why string) {
	ConnRejectedTotal.WithLabelValues(why).Inc()
}

func ObserveRoute(matched, enqueued int, dur time.Duration) {
	RoutedTotal.Inc()
	FanoutSize.Observe(float64(matched))
	if enqueued > 0 {
		EnqueuedTotal.Add(float64(enqueued))
	}
	RouteDuration.Observe(dur.Seconds())
}

func ObserveWrite(batchN int, bytes int, dur time.Duration, err error) {
	if batchN > 0 {
		MsgsOutTotal.Add(float64(batchN))
		BatchSize.Observe(float64(batchN))
	}
	if bytes > 0 {
		BytesOutTotal.Add(float64(bytes))
	}
	WriteDuration.Observe(dur.Seconds())
	if err != nil {
		WriteErrorsTotal.Inc()
	}
}

func filterKind(all bool) string {
	if all {
		return "all"
	}
	return "tickers"
}
