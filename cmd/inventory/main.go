package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-pos-checkout/internal/catalog"
	"github.com/ariefcatur/go-pos-checkout/internal/config"
	"github.com/ariefcatur/go-pos-checkout/internal/inventory"
	kafkax "github.com/ariefcatur/go-pos-checkout/internal/kafka"
	"github.com/ariefcatur/go-pos-checkout/internal/obs"
	"github.com/ariefcatur/go-pos-checkout/internal/redisx"
	"github.com/ariefcatur/go-pos-checkout/internal/sales"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger, err := obs.NewLogger(cfg.ServiceName+"-inventory", cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// only eviction is used, so the cache needs no backend
	cache := catalog.NewCache(nil, rdb, cfg.CatalogTTL, logger.Named("catalog"))
	svc := &inventory.Service{Catalog: cache, Redis: rdb, Log: logger}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InventoryGroup, sales.TopicSaleCommitted, cfg.InventoryWorkers, logger.Named("consumer"))
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("inventory consumer started",
			zap.String("group", cfg.InventoryGroup), zap.String("topic", sales.TopicSaleCommitted), zap.Int("workers", cfg.InventoryWorkers))
		if err := cons.Start(ctx, svc.HandleSaleCommitted); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumer")
	cancel()
	<-done
}
