package metrics

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	DbPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "app_db_pool_open",
		Help: "Current open DB connections",
	})
	DbPoolIdle         = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_db_pool_idle"})
	DbPoolInuse        = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_db_pool_inuse"})
	DbPoolWaitCount    = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_db_pool_wait_count"})
	DbPoolWaitDuration = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_db_pool_wait_seconds"})

	RedisPoolOpen  = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_open"})
	RedisPoolIdle  = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_idle"})
	RedisPoolHits  = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_hits"})
	RedisPoolMiss  = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_misses"})
	RedisPoolStale = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_stale"})

	DbQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "app_db_query_duration_seconds",
		Help:    "DB query latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms ~ 16s
	}, []string{"query", "status"})

	RedisCmdDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "app_redis_cmd_duration_seconds",
		Help:    "Redis command latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"cmd", "status"})
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "app_redis_errors_total",
		Help: "Redis errors",
	}, []string{"cmd", "code"})
)

func ObserveDB(query string, start time.Time, err error) {
	status := "ok"
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	DbQueryDuration.WithLabelValues(query, status).Observe(time.Since(start).Seconds())
}

// ObserveRedis records a command; redis.Nil counts as a miss, not an error.
func ObserveRedis(cmd string, start time.Time, err error) {
	status := "ok"
	switch {
	case errors.Is(err, redis.Nil):
		status = "miss"
	case errors.Is(err, context.DeadlineExceeded):
		status = "timeout"
		RedisErrors.WithLabelValues(cmd, status).Inc()
	case err != nil:
		status = "error"
		RedisErrors.WithLabelValues(cmd, status).Inc()
	}
	RedisCmdDuration.WithLabelValues(cmd, status).Observe(time.Since(start).Seconds())
}

// CollectPools samples connection pool stats every interval until ctx ends.
// Either handle may be nil.
func CollectPools(ctx context.Context, db *sql.DB, rdb *redis.Client, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if db != nil {
			s := db.Stats()
			DbPoolOpen.Set(float64(s.OpenConnections))
			DbPoolIdle.Set(float64(s.Idle))
			DbPoolInuse.Set(float64(s.InUse))
			DbPoolWaitCount.Set(float64(s.WaitCount))
			DbPoolWaitDuration.Set(s.WaitDuration.Seconds())
		}
		if rdb != nil {
			s := rdb.PoolStats()
			RedisPoolOpen.Set(float64(s.TotalConns))
			RedisPoolIdle.Set(float64(s.IdleConns))
			RedisPoolHits.Set(float64(s.Hits))
			RedisPoolMiss.Set(float64(s.Misses))
			RedisPoolStale.Set(float64(s.StaleConns))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
