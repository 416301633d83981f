package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
	"quotestream.com/internal/quotes/handler"
	"quotestream.com/internal/quotes/http/router"
	"quotestream.com/pkg/middleware"
	"quotestream.com/pkg/ratelimit"
)

type Options struct {
	Addr        string
	ServiceName string
	// per client IP and route, REST only
	RateLimit rate.Limit
	Burst     int
	// empty allows any origin
	AllowedOrigins []string

	Health *handler.Health
	// nil leaves the REST quote routes unmounted
	Quotes *handler.Quotes
	WS     *handler.WS
}

// NewRouter builds the gin engine: /metrics, /health, REST under /v1 and the
// WebSocket routes. The rate limiter janitor stops with ctx.
func NewRouter(ctx context.Context, o Options) *gin.Engine {
	if o.RateLimit <= 0 {
		o.RateLimit = 50
	}
	if o.Burst <= 0 {
		o.Burst = 100
	}
	store := ratelimit.NewStore(o.RateLimit, o.Burst, 10*time.Minute)
	store.StartJanitor(ctx, time.Minute)

	r := gin.New()
	p := ginprom.NewPrometheus("quotestream")
	p.Use(r)
	r.Use(
		otelgin.Middleware(o.ServiceName),
		middleware.ReqId(),
		corsMiddleware(o.AllowedOrigins),
		middleware.Recover(),
	)

	r.GET("/health", o.Health.Check)
	router.WS(r, o.WS)

	if o.Quotes != nil {
		api := r.Group("/v1", middleware.RateLimit(store))
		router.Quotes(api, o.Quotes)
	}
	return r
}

func NewServer(ctx context.Context, o Options) *http.Server {
	return &http.Server{
		Addr:              o.Addr,
		Handler:           NewRouter(ctx, o),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return cors.Default()
	}
	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = origins
	return cors.New(cfg)
}
