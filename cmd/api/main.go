package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boonlink/promptpay-bridge/internal/bridge"
	"github.com/boonlink/promptpay-bridge/internal/config"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx := context.Background()
	brg, err := bridge.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bridge wiring failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	brg.Start(runCtx)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: brg.HTTP.Router,
	}

	go func() {
		log.Printf("api listening on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	brg.Stop()
}
