package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/websocket"
)

var (
	addr    = flag.String("addr", "ws://127.0.0.1:8000/ws/quotes", "stream endpoint")
	tickers = flag.String("tickers", "", "comma-separated tickers; empty streams everything")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	u, err := url.Parse(*addr)
	if err != nil {
		log.Fatalf("bad -addr: %v", err)
	}
	if *tickers != "" {
		q := u.Query()
		q.Set("tickers", *tickers)
		u.RawQuery = q.Encode()
	}

	c, resp, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			log.Fatalf("dial %s: %v (http %d)", u, err, resp.StatusCode)
		}
		log.Fatalf("dial %s: %v", u, err)
	}
	defer c.CloseNow()
	c.SetReadLimit(1 << 20)

	for {
		_, msg, err := c.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			switch {
			case errors.As(err, &ce):
				log.Printf("closed by server: %d %s", ce.Code, ce.Reason)
			case ctx.Err() != nil:
				_ = c.Close(websocket.StatusNormalClosure, "bye")
			default:
				log.Printf("read: %v", err)
			}
			return
		}
		fmt.Fprintln(os.Stdout, string(msg))
	}
}
