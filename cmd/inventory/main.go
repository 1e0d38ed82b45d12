package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/config"
	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/ariefcatur/go-order-saga/internal/httpx"
	"github.com/ariefcatur/go-order-saga/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/logger"
	"github.com/ariefcatur/go-order-saga/internal/metrics"
	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	name := cfg.ServiceName + "-inventory"
	log := logger.New(name, cfg.LogLevel, os.Stdout)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db, inventory.Schema...); err != nil {
		log.Fatal().Err(err).Msg("schema")
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers)
	defer prod.Close()

	svc := &inventory.Service{
		Repo:        &inventory.ReservationRepo{DB: db},
		Redis:       rdb,
		Publisher:   kafkax.NewPublisher(prod),
		ServiceName: name,
		Logger:      log,
	}

	m := metrics.New()
	router := httpx.NewRouter(log, m)
	router.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: getenv("INVENTORY_HTTP_ADDR", ":8082"), Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics listener")
		}
	}()

	// Consumer
	group := getenv("INVENTORY_GROUP", "inventory-svc")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, events.TopicStockCommands, kafkax.Options{
		Workers:    cfg.ConsumerWorkers,
		MaxRetries: cfg.MaxRetries,
		Backoff:    cfg.RetryBackoff,
		DLQ:        prod,
		Logger:     log,
		Observer:   m,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info().Str("group", group).Str("topic", events.TopicStockCommands).Msg("inventory consumer started")
		if err := cons.Start(ctx, svc.HandleCommand); err != nil {
			log.Error().Err(err).Msg("consumer exit")
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
	log.Info().Msg("shutting down consumer...")
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
	<-done
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
