package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/impacthub/internal/config"
	"github.com/geocoder89/impacthub/internal/db"
	httpx "github.com/geocoder89/impacthub/internal/http"
	"github.com/geocoder89/impacthub/internal/limiter"
	"github.com/geocoder89/impacthub/internal/observability"
	"github.com/geocoder89/impacthub/internal/payments"
	"github.com/geocoder89/impacthub/internal/queue/redisclient"
	"github.com/geocoder89/impacthub/internal/repo/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Load the config set up
	cfg := config.Load()

	// start up the observability logger
	log := observability.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		log.Warn("tracing disabled", "err", err)
		shutdownTracer = func(context.Context) error { return nil }
	}

	pool, err := db.NewPool(cfg.DBURL, 10)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool)
	if err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	if len(applied) > 0 {
		log.Info("migrations applied", "files", applied)
	}

	if err := db.EnsureAdminUser(ctx, pool, cfg); err != nil {
		log.Error("admin seed failed", "err", err)
		os.Exit(1)
	}

	// rate-limit counters: redis when configured, in-process otherwise
	memory := limiter.NewMemoryCounter()
	var counter limiter.Counter = memory

	redisCfg := redisclient.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	if redisCfg.Enabled() {
		rdb, err := redisclient.Connect(ctx, redisCfg, 2*time.Second)
		if err != nil {
			log.Warn("redis unavailable, counting in memory", "err", err)
		} else {
			defer rdb.Close()
			counter = limiter.FallbackCounter{
				Primary:   limiter.NewRedisCounter(rdb),
				Secondary: memory,
				Logger:    log,
			}
		}
	}

	var confirmer payments.Confirmer
	if cfg.StripeSecretKey != "" {
		confirmer = payments.NewStripeConfirmer(cfg.StripeSecretKey, cfg.CheckoutReturnURL)
	} else {
		log.Info("STRIPE_SECRET_KEY not set, checkout disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// set up routers with the log
	router := httpx.NewRouter(httpx.Deps{
		Log:       log,
		Pool:      pool,
		Cfg:       cfg,
		Counter:   counter,
		Confirmer: confirmer,
		Registry:  reg,
	})

	go housekeeping(ctx, memory, postgres.NewRefreshTokensRepo(pool, nil), log)

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Info("server shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		sctx, cancel := config.WithTimeout(10 * time.Second)
		defer cancel()

		if err := srv.Shutdown(sctx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
		}
		if err := shutdownTracer(sctx); err != nil {
			log.Warn("tracer shutdown failed", "err", err)
		}
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}

type expiredPurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// housekeeping drops expired in-memory windows every minute and expired
// refresh tokens every hour.
func housekeeping(ctx context.Context, memory *limiter.MemoryCounter, tokens expiredPurger, log *slog.Logger) {
	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()
	purge := time.NewTicker(time.Hour)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			memory.Sweep()
		case <-purge.C:
			n, err := tokens.PurgeExpired(ctx, time.Now().UTC())
			if err != nil {
				log.Warn("refresh token purge failed", "err", err)
				continue
			}
			if n > 0 {
				log.Info("refresh tokens purged", "count", n)
			}
		}
	}
}
