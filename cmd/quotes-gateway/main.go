package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"quotestream.com/internal/quotes/app"
	gwConfig "quotestream.com/internal/quotes/config"
)

var configName = flag.String("config", gwConfig.ServiceName, "config name, read from config/{name}.yaml")

func main() {
	flag.Parse()

	// Ctrl+C / kubernetes 停止信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := app.New(*configName)
	if err != nil {
		log.Fatalf("init quotes-gateway: %v", err)
	}
	if err := gw.Run(ctx); err != nil {
		log.Fatalf("quotes-gateway: %v", err)
	}
	log.Println("quotes-gateway exit")
}
