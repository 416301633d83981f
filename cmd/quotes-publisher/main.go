package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"quotestream.com/internal/quotes/mdsource"
	"quotestream.com/internal/quotes/publish"
	"quotestream.com/pkg/logger"
	"quotestream.com/pkg/xredis"
)

var (
	kind     = flag.String("kind", "redis", "upstream transport: redis | nats")
	redisURL = flag.String("redis", "redis://127.0.0.1:6379/0", "redis url")
	natsURL  = flag.String("nats", "nats://127.0.0.1:4222", "nats url")
	channel  = flag.String("channel", mdsource.DefaultChannel, "channel / subject")
	tickers  = flag.String("tickers", "AAPL,MSFT,GOOGL,NVDA,TSLA", "comma-separated tickers")
	interval = flag.Duration("interval", 100*time.Millisecond, "delay between quotes")
	count    = flag.Int("n", 0, "stop after n quotes (0 = run until interrupted)")
	seed     = flag.Int64("seed", time.Now().UnixNano(), "random seed")
)

func main() {
	flag.Parse()
	logger.Init("quotes-publisher", "info")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		pub publish.Publisher
		err error
	)
	switch *kind {
	case "redis":
		rdb, rerr := xredis.NewRedis(ctx, &xredis.Config{URL: *redisURL})
		if rerr != nil {
			log.Fatalf("redis: %v", rerr)
		}
		pub = publish.NewRedisPublisher(rdb)
	case "nats":
		pub, err = publish.NewNatsPublisher(*natsURL)
		if err != nil {
			log.Fatalf("nats: %v", err)
		}
	default:
		log.Fatalf("unknown -kind %q", *kind)
	}
	defer pub.Close()

	var syms []string
	for _, t := range strings.Split(*tickers, ",") {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			syms = append(syms, t)
		}
	}
	if len(syms) == 0 {
		log.Fatal("no tickers")
	}

	logger.Info(ctx, "publishing synthetic quotes",
		zap.String("kind", *kind),
		zap.String("channel", *channel),
		zap.Strings("tickers", syms),
		zap.Duration("interval", *interval),
	)
	sent, err := publish.Run(ctx, pub, *channel, publish.NewSynth(syms, *seed), *interval, *count)
	if err != nil {
		logger.Error(ctx, "publisher stopped", zap.Error(err))
	}
	logger.Info(ctx, "publisher done", zap.Int("sent", sent))
}
