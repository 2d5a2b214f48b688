package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/geocoder89/impacthub/internal/config"
	"github.com/geocoder89/impacthub/internal/credits"
	"github.com/geocoder89/impacthub/internal/db"
	"github.com/geocoder89/impacthub/internal/notifications"
	"github.com/geocoder89/impacthub/internal/observability"
	"github.com/geocoder89/impacthub/internal/queue/redisclient"
	"github.com/geocoder89/impacthub/internal/queue/worker"
	"github.com/geocoder89/impacthub/internal/repo/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	log := observability.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	pool, err := db.NewPool(cfg.DBURL, int32(cfg.WorkerConcurrency+2))
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}

	defer pool.Close()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	// notifications go to redis pub/sub when available, the log otherwise
	var notifier notifications.Notifier = notifications.NewLogNotifier(log)

	redisCfg := redisclient.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	if redisCfg.Enabled() {
		rdb, err := redisclient.Connect(ctx, redisCfg, 2*time.Second)
		if err != nil {
			log.Warn("redis unavailable, notifications will be logged", "err", err)
		} else {
			defer rdb.Close()
			notifier = notifications.NewRedisNotifier(rdb)
		}
	}

	notifier = notifications.NewProtectedNotifier(notifier, notifications.ProtectedNotifierConfig{
		Timeout:          3 * time.Second,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	})

	jobsRepo := postgres.NewJobsRepo(pool, prom)

	host, _ := os.Hostname()
	workerID := host + "-" + strconv.Itoa(os.Getpid())

	w := worker.New(worker.Config{
		PollInterval:  250 * time.Millisecond,
		WorkerID:      workerID,
		Concurrency:   cfg.WorkerConcurrency,
		ShutdownGrace: 10 * time.Second,
	}, jobsRepo, prom, log)

	credits.NewProcessor(
		postgres.NewActivitiesRepo(pool, prom),
		postgres.NewUsersRepo(pool, prom),
		postgres.NewTransactionsRepo(pool, prom),
		postgres.NewNotificationDeliveriesRepo(pool, prom),
		notifier,
		log,
	).Register(w)

	health := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WorkerHealthPort),
		Handler:           w.HealthHandler(pool, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := health.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("health server failed", "err", err)
		}
	}()

	log.Info("worker has started", "worker_id", workerID, "concurrency", cfg.WorkerConcurrency)

	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped with error", "err", err)
	}

	sctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()
	_ = health.Shutdown(sctx)

	log.Info("worker shutdown complete")
}
