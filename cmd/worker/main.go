package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/vendalog/order-engine/internal/config"
	"github.com/vendalog/order-engine/internal/events"
	kafkax "github.com/vendalog/order-engine/internal/kafka"
	"github.com/vendalog/order-engine/internal/redisx"
	"github.com/vendalog/order-engine/internal/worker"
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

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &worker.Service{
		Redis:       rdb,
		ServiceName: cfg.ServiceName + "-worker",
		Log:         log,
	}

	topics := []string{
		events.TopicOrderCreated,
		events.TopicOrderStatusChanged,
		events.TopicOrderCancelled,
	}

	var wg sync.WaitGroup
	for _, topic := range topics {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, topic, cfg.WorkerCount, log)
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			log.Info("consumer started",
				zap.String("group", cfg.ConsumerGroup),
				zap.String("topic", topic),
				zap.Int("workers", cfg.WorkerCount),
			)
			if err := cons.Start(ctx, svc.HandleEvent); err != nil {
				log.Error("consumer exit", zap.String("topic", topic), zap.Error(err))
				cancel()
			}
		}(topic)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("shutting down consumers")
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()
}
