package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/auth"
	"github.com/ariefcatur/go-order-saga/internal/config"
	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/ariefcatur/go-order-saga/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/logger"
	"github.com/ariefcatur/go-order-saga/internal/metrics"
	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
	"github.com/ariefcatur/go-order-saga/internal/saga"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.ServiceName, cfg.LogLevel, os.Stdout)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis: saga state, active index, leases
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis ping")
	}
	store := redisx.NewStore(rdb, cfg.SagaTTL)

	// Journal (optional)
	var journal saga.Journal
	if cfg.PostgresDSN != "" {
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect")
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db, postgres.JournalSchema...); err != nil {
			log.Fatal().Err(err).Msg("journal schema")
		}
		journal = &postgres.Journal{DB: db}
	}

	// Kafka producer (commands + DLQ)
	prod := kafkax.NewProducer(cfg.KafkaBrokers)
	defer prod.Close()

	m := metrics.New()
	orch := saga.New(saga.Deps{
		Store:     store,
		Index:     store,
		Locks:     redisx.NewLocker(rdb, cfg.SagaLockTTL, cfg.SagaLockWait),
		Publisher: kafkax.NewPublisher(prod),
		Auth:      auth.NewChain(auth.NewHTTPChecker(cfg.AuthURL, cfg.AuthTimeout), auth.DefaultRoles...),
		Journal:   journal,
		Observer:  m,
	}, saga.Options{
		Producer:          cfg.ServiceName,
		TTL:               cfg.SagaTTL,
		TerminalRetention: cfg.SagaTerminalRetention,
		StallAfter:        cfg.ReconcileStallAfter,
		MaxAttempts:       cfg.ReconcileMaxAttempts,
		SweepBatch:        cfg.ReconcileBatch,
		Logger:            log,
	})

	// Result consumers, one per step topic
	var wg sync.WaitGroup
	handle := resultHandler(orch, log)
	for _, topic := range events.ResultTopics() {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, topic, kafkax.Options{
			Workers:    cfg.ConsumerWorkers,
			MaxRetries: cfg.MaxRetries,
			Backoff:    cfg.RetryBackoff,
			DLQ:        prod,
			Logger:     log,
			Observer:   m,
		})
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			log.Info().Str("topic", topic).Str("group", cfg.ConsumerGroup).Int("workers", cfg.ConsumerWorkers).Msg("consumer started")
			if err := cons.Start(ctx, handle); err != nil {
				log.Error().Err(err).Str("topic", topic).Msg("consumer exit")
				cancel()
			}
		}(topic)
	}

	if _, err := orch.StartReconciler(ctx, cfg.ReconcileSchedule); err != nil {
		log.Fatal().Err(err).Msg("reconciler")
	}

	// HTTP
	router := httpx.NewRouter(log, m)
	(&httpx.OrdersHandler{Sagas: orch, Logger: log}).Register(router)
	router.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()  // stop consumers and reconciler
	wg.Wait() // in-flight messages finish before the producer closes
}
