package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/vendalog/order-engine/internal/config"
	"github.com/vendalog/order-engine/internal/customers"
	"github.com/vendalog/order-engine/internal/events"
	"github.com/vendalog/order-engine/internal/httpx"
	"github.com/vendalog/order-engine/internal/idempotency"
	kafkax "github.com/vendalog/order-engine/internal/kafka"
	"github.com/vendalog/order-engine/internal/orders"
	"github.com/vendalog/order-engine/internal/postgres"
	"github.com/vendalog/order-engine/internal/products"
	"github.com/vendalog/order-engine/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	producer := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	producer.Start(ctx)
	notifier := events.NewKafkaNotifier(producer, cfg.ServiceName)

	customerStore := customers.NewStore(db)
	productStore := products.NewStore(db)
	orderStore := orders.NewStore(db)
	ledger := products.NewLedger()
	adjuster := products.NewAdjuster(db, ledger, log)
	orderService := orders.NewService(db, ledger, orderStore, customerStore, notifier, log)

	router := httpx.NewRouter(log)
	gate := idempotency.Middleware(
		idempotency.NewRedisStore(rdb),
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithLogger(log),
	)
	router.Group(func(r chi.Router) {
		r.Use(gate)
		(&httpx.OrdersHandler{Service: orderService, Store: orderStore, Redis: rdb, Log: log}).Register(r)
	})
	(&httpx.ProductsHandler{Store: productStore, Adjuster: adjuster, Log: log}).Register(router)
	(&httpx.CustomersHandler{Store: customerStore, Log: log}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	producer.Close()
	cancel()
	producer.WaitClosed()
}
