package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"webhook-scheduler/internal/archive"
	"webhook-scheduler/internal/config"
	"webhook-scheduler/internal/dispatch"
	"webhook-scheduler/internal/loadtest"
	"webhook-scheduler/internal/queue"
	"webhook-scheduler/internal/ratelimit"
	"webhook-scheduler/internal/store"
	"webhook-scheduler/internal/telemetry"
	"webhook-scheduler/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	runQueue := queue.NewRunQueue(redisClient, cfg)
	limiter := ratelimit.NewDailyCounter(redisClient, cfg.RateLimitWindow)

	archiver, err := archive.NewS3Archiver(ctx, cfg)
	if err != nil {
		log.Fatalf("init report archiver: %v", err)
	}

	executor := dispatch.New(cfg, st, limiter, nil)
	runner := loadtest.NewRunner(st, archiverOrNil(archiver), cfg.CancelPollInterval)
	consumer := worker.NewConsumer(cfg, runQueue, runner)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	go func() {
		if err := executor.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("dispatch executor stopped: %v", err)
		}
	}()

	log.Printf("worker started poll=%s lease=%s", cfg.RunPollInterval, cfg.RunLeaseTimeout)
	if err := consumer.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("worker stopped: %v", err)
	}
}

// archiverOrNil keeps a typed-nil *S3Archiver out of the Archiver
// interface value.
func archiverOrNil(a *archive.S3Archiver) loadtest.Archiver {
	if a == nil {
		return nil
	}
	return a
}
