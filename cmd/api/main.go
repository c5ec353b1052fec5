package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-pos-checkout/internal/catalog"
	"github.com/ariefcatur/go-pos-checkout/internal/config"
	"github.com/ariefcatur/go-pos-checkout/internal/draft"
	"github.com/ariefcatur/go-pos-checkout/internal/httpx"
	kafkax "github.com/ariefcatur/go-pos-checkout/internal/kafka"
	"github.com/ariefcatur/go-pos-checkout/internal/obs"
	"github.com/ariefcatur/go-pos-checkout/internal/payment"
	"github.com/ariefcatur/go-pos-checkout/internal/postgres"
	"github.com/ariefcatur/go-pos-checkout/internal/redisx"
	"github.com/ariefcatur/go-pos-checkout/internal/sales"
	"github.com/ariefcatur/go-pos-checkout/internal/scanner"
	"github.com/ariefcatur/go-pos-checkout/internal/terminal"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := obs.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Catalog: postgres behind the redis cache
	cat := catalog.NewCache(&catalog.PGCatalog{DB: db}, rdb, cfg.CatalogTTL, logger.Named("catalog"))

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, sales.TopicSaleCommitted, 1024, logger.Named("producer"))
	prod.Start()

	// Draft store
	var drafts draft.Store
	switch cfg.DraftStore {
	case "sqlite":
		s, err := draft.OpenSQLite(cfg.DraftSQLitePath)
		if err != nil {
			logger.Fatal("open draft store", zap.String("path", cfg.DraftSQLitePath), zap.Error(err))
		}
		defer s.Close()
		drafts = s
	case "none":
	default:
		drafts = draft.NewRedisStore(rdb, cfg.DraftTTL)
	}

	repo := &sales.Repo{DB: db}
	terminals := terminal.NewRegistry(terminal.Deps{
		Resolver:       catalog.NewResolver(cat),
		Reconciler:     payment.NewReconciler(),
		Persister:      repo,
		Publisher:      &sales.EventPublisher{Producer: prod, ServiceName: cfg.ServiceName},
		DraftStore:     drafts,
		TaxRate:        cfg.TaxRate,
		CommitTimeout:  cfg.CommitTimeout,
		CatalogTimeout: cfg.CatalogTimeout,
		Log:            logger.Named("terminal"),
	})

	// Scanner; Listen closes the device once ctx is cancelled
	scanDone := make(chan struct{})
	if cfg.ScannerDevice == "" {
		close(scanDone)
	} else {
		dev, err := os.Open(cfg.ScannerDevice)
		if err != nil {
			logger.Fatal("open scanner", zap.String("device", cfg.ScannerDevice), zap.Error(err))
		}
		defer dev.Close()
		session := terminals.Session(cfg.ScannerTerminal)
		go func() {
			defer close(scanDone)
			err := scanner.Listen(ctx, dev, logger.Named("scanner"), func(ctx context.Context, code string) error {
				_, err := session.Scan(ctx, code)
				return err
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("scanner stopped", zap.Error(err))
			}
		}()
	}

	router := httpx.NewRouter()
	ph := &httpx.POSHandler{Terminals: terminals, Sales: repo, Log: logger.Named("http")}
	ph.Register(router)

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.Instrument(router, cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// graceful shutdown
	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel() // stop scanner
	select {
	case <-scanDone:
	case <-ctx2.Done():
		logger.Warn("scanner did not stop in time")
	}
	prod.Close()      // tutup inbox -> flush & close writer
	prod.WaitClosed() // drain
}
