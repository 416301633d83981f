package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"quotestream.com/internal/quotes/cache"
	"quotestream.com/internal/quotes/capacity"
	gwConfig "quotestream.com/internal/quotes/config"
	"quotestream.com/internal/quotes/handler"
	qhttp "quotestream.com/internal/quotes/http"
	"quotestream.com/internal/quotes/mdsource"
	"quotestream.com/internal/quotes/repo/mysql"
	"quotestream.com/internal/quotes/service"
	"quotestream.com/internal/quotes/storage/influxsink"
	"quotestream.com/internal/quotes/ws"
	vipConfig "quotestream.com/pkg/config"
	"quotestream.com/pkg/logger"
	"quotestream.com/pkg/metrics"
	"quotestream.com/pkg/orm"
	"quotestream.com/pkg/ratelimit"
	"quotestream.com/pkg/safe"
	"quotestream.com/pkg/trace"
	"quotestream.com/pkg/xredis"
)

type App struct {
	cfg gwConfig.GatewayConfig

	rdb    *redis.Client
	db     *gorm.DB
	influx *influxsink.Sink

	reg    *ws.SubscriptionRegistry
	wsSrv  *ws.Server
	router *ws.Router
	runner *mdsource.Runner
	capSub *capacity.Subscriber
	httpS  *http.Server
	pprofS *http.Server

	traceShutdown func(context.Context) error
}

// New loads config/{name}.yaml plus environment overrides and starts the
// logger. The log level follows file edits.
func New(configName string) (*App, error) {
	if configName == "" {
		configName = gwConfig.ServiceName
	}
	app := &App{}
	_, err := vipConfig.Load(configName, &app.cfg, gwConfig.Defaults(), func() {
		logger.SetLevel(app.cfg.LogLevel)
	})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(app.cfg.Name, app.cfg.LogLevel)
	return app, nil
}

func (app *App) Config() gwConfig.GatewayConfig { return app.cfg }

// Run wires every component, serves until ctx is cancelled, then shuts down
// in order: HTTP listener, session close signal, upstream, bounded session
// drain, sinks and clients.
func (app *App) Run(ctx context.Context) error {
	defer logger.Sync()
	defer app.closeClients(ctx)

	if err := app.start(ctx); err != nil {
		return err
	}

	// the upstream and capacity loops outlive ctx until sessions are signalled
	bgCtx, stopBg := context.WithCancel(context.WithoutCancel(ctx))
	var bg sync.WaitGroup
	safe.GoWG(bgCtx, &bg, app.runner.Run)
	if app.capSub != nil {
		safe.GoWG(bgCtx, &bg, app.capSub.Run)
	}
	var sqlDB *sql.DB
	if app.db != nil {
		sqlDB, _ = app.db.DB()
	}
	safe.GoWG(bgCtx, &bg, func(ctx context.Context) {
		metrics.CollectPools(ctx, sqlDB, app.rdb, 15*time.Second)
	})

	serveErr := make(chan error, 1)
	safe.Go(func() {
		logger.Info(ctx, "http listening", zap.String("addr", app.cfg.HTTP.Addr))
		if err := app.httpS.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	})

	if addr := app.cfg.Debug.PprofAddr; addr != "" {
		app.pprofS = pprofServer(addr)
		safe.Go(func() {
			logger.Info(ctx, "pprof listening", zap.String("addr", addr))
			if err := app.pprofS.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn(ctx, "pprof server error", zap.Error(err))
			}
		})
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	case runErr = <-serveErr:
		logger.Error(ctx, "http server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.cfg.ShutdownTimeout)
	defer cancel()
	if err := app.httpS.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "http shutdown", zap.Error(err))
	}
	if app.pprofS != nil {
		_ = app.pprofS.Close()
	}
	app.wsSrv.Drain(ctx)
	// nothing new reaches the queues once the upstream is gone
	stopBg()
	if err := app.wsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "ws sessions did not drain in time", zap.Error(err), zap.Int("remaining", app.reg.Len()))
	}
	bg.Wait()
	logger.Info(ctx, "shutdown complete")
	return runErr
}

func (app *App) start(ctx context.Context) error {
	cfg := app.cfg
	metrics.MustRegister()

	if cfg.Trace.Host != "" {
		shutdown, err := trace.InitTrace(cfg.Name, cfg.Trace.Host)
		if err != nil {
			return err
		}
		app.traceShutdown = shutdown
	}

	rdb, err := xredis.NewRedis(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	app.rdb = rdb

	policy, err := ws.ParsePolicy(cfg.Queue.Backpressure)
	if err != nil {
		return err
	}
	app.reg = ws.NewRegistry(ws.RegistryOptions{QueueCapacity: cfg.Queue.Capacity, Policy: policy})
	app.router = ws.NewRouter(app.reg)
	app.wsSrv = ws.NewServer(app.reg, cfg.WS)

	latest := cache.NewRedisCache(rdb, cfg.Cache.LatestTTL)
	sinks := []mdsource.QuoteSink{latest}
	if cfg.Influx.Enabled {
		app.influx = influxsink.New(cfg.Influx.Config)
		sinks = append(sinks, app.influx)
		logger.Info(ctx, "influx archive enabled", zap.Stringer("influx", cfg.Influx.Config))
	}

	src, err := app.source()
	if err != nil {
		return err
	}
	app.runner = mdsource.NewRunner(src, app.router, cfg.Upstream.Retry, sinks...)

	var capStore *capacity.Store
	if cfg.Capacity.Enabled {
		capStore = capacity.NewStore(rdb, cfg.Capacity.TTL)
		app.capSub = capacity.NewSubscriber(rdb, capStore, cfg.Capacity.Channel)
	}

	var quotes *handler.Quotes
	if cfg.MySQL.DSN != "" {
		db, err := orm.NewMySQL(&cfg.MySQL)
		if err != nil {
			return err
		}
		if err := mysql.AutoMigrate(db); err != nil {
			return fmt.Errorf("migrate quotes: %w", err)
		}
		app.db = db

		breakers := ratelimit.NewManager(ratelimit.Rule{}, nil, service.IsExpected)
		breakers.Service = cfg.Name
		var capLookup service.CapacityLookup
		if capStore != nil {
			capLookup = capStore
		}
		svc := service.NewQuotesService(mysql.NewQuotesRepo(db), latest, capLookup, breakers)
		quotes = &handler.Quotes{Svc: svc}
	} else {
		logger.Warn(ctx, "mysql.dsn empty, REST quote routes disabled")
	}

	app.httpS = qhttp.NewServer(ctx, qhttp.Options{
		Addr:           cfg.HTTP.Addr,
		ServiceName:    cfg.Name,
		RateLimit:      rate.Limit(cfg.HTTP.RateLimit),
		Burst:          cfg.HTTP.Burst,
		AllowedOrigins: cfg.WS.AllowedOrigins,
		Health:         &handler.Health{Version: cfg.Version, Conns: app.wsSrv.Len},
		Quotes:         quotes,
		WS:             &handler.WS{Srv: app.wsSrv},
	})
	return nil
}

func (app *App) source() (mdsource.Source, error) {
	u := app.cfg.Upstream
	switch u.Kind {
	case "", "redis":
		return mdsource.NewRedisSource(app.rdb, u.Channel), nil
	case "nats":
		return mdsource.NewNatsSource(u.NatsURL, u.Channel), nil
	default:
		return nil, fmt.Errorf("unknown upstream.kind %q", u.Kind)
	}
}

func (app *App) closeClients(ctx context.Context) {
	if app.influx != nil {
		app.influx.Close()
	}
	if app.db != nil {
		if sqlDB, err := app.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if app.rdb != nil {
		_ = app.rdb.Close()
	}
	if app.traceShutdown != nil {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		_ = app.traceShutdown(tctx)
	}
}

func pprofServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
