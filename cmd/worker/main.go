package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boonlink/promptpay-bridge/internal/bridge"
	"github.com/boonlink/promptpay-bridge/internal/config"
)

const cleanupInterval = 24 * time.Hour
const cleanupOlderThanDays = 30

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

	go runCleanupLoop(runCtx, brg)

	log.Printf("worker started (demo=%v)", cfg.Demo.Enabled)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	brg.Stop()
}

func runCleanupLoop(ctx context.Context, brg *bridge.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := brg.Sync.CleanupOldOrders(ctx, cleanupOlderThanDays)
			if err != nil {
				brg.Log.Error("cleanup failed", map[string]any{"error": err.Error()})
				continue
			}
			brg.Log.Info("cleanup completed", map[string]any{"removed": removed})
		}
	}
}
