package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/geocoder89/impacthub/internal/access"
	"github.com/geocoder89/impacthub/internal/audit"
	"github.com/geocoder89/impacthub/internal/auth"
	"github.com/geocoder89/impacthub/internal/cache"
	"github.com/geocoder89/impacthub/internal/config"
	"github.com/geocoder89/impacthub/internal/domain/activity"
	"github.com/geocoder89/impacthub/internal/domain/transaction"
	"github.com/geocoder89/impacthub/internal/domain/user"
	"github.com/geocoder89/impacthub/internal/http/handlers"
	"github.com/geocoder89/impacthub/internal/http/middlewares"
	"github.com/geocoder89/impacthub/internal/limiter"
	"github.com/geocoder89/impacthub/internal/observability"
	"github.com/geocoder89/impacthub/internal/payments"
	"github.com/geocoder89/impacthub/internal/repo/postgres"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxBodyBytes = 1 << 20

// Deps are the process-level resources the router wires into handlers.
type Deps struct {
	Log  *slog.Logger
	Pool *pgxpool.Pool
	Cfg  config.Config

	// Counter backs rate limiting; nil means in-process counters.
	Counter limiter.Counter
	// Confirmer talks to the payment provider; nil disables checkout.
	Confirmer payments.Confirmer
	// Registry receives the HTTP and DB metrics; nil means a fresh registry.
	Registry *prometheus.Registry
}

func NewRouter(d Deps) *gin.Engine {
	cfg := d.Cfg
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	if cfg.Env != "dev" && cfg.Env != "test" {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := d.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	prom := observability.NewProm(reg)

	counter := d.Counter
	if counter == nil {
		counter = limiter.NewMemoryCounter()
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(log))
	r.Use(prom.GinHandleMiddleware())
	r.Use(middlewares.SecurityHeaders(cfg.Env == "prod"))
	r.Use(middlewares.CORSMiddleware(cfg.CORSOrigins))
	r.Use(middlewares.MaxBodyBytes(maxBodyBytes))
	r.Use(middlewares.RequireJSON())

	// health
	ping := func(ctx context.Context) error {
		if d.Pool == nil {
			return nil
		}
		return d.Pool.Ping(ctx)
	}

	health := handlers.NewHealthHandler(ping)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)

	if cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	// repositories
	usersRepo := postgres.NewUsersRepo(d.Pool, prom)
	refreshRepo := postgres.NewRefreshTokensRepo(d.Pool, prom)
	activitiesRepo := postgres.NewActivitiesRepo(d.Pool, prom)
	rateLimitsRepo := postgres.NewRateLimitsRepo(d.Pool, prom)
	auditRepo := postgres.NewAuditLogsRepo(d.Pool, prom)
	transactionsRepo := postgres.NewTransactionsRepo(d.Pool, prom)
	jobsRepo := postgres.NewJobsRepo(d.Pool, prom)

	// services
	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.AccessTTL(), cfg.RefreshTTL())
	recorder := audit.NewRecorder(auditRepo, prom, log)
	verifier := audit.NewVerifier(auditRepo)
	guard := access.NewGuard(access.DefaultTable())
	enforcer := limiter.NewEnforcer(counter, rateLimitsRepo, limiter.Options{
		DefaultLimit:  cfg.RateLimitDefault,
		DefaultWindow: time.Duration(cfg.RateLimitWindowSeconds) * time.Second,
	})
	checkout := payments.NewService(d.Confirmer, transactionsRepo, prom, log)

	// caches
	statsTTL := time.Duration(cfg.StatsCacheTTLSeconds) * time.Second
	userStats := cache.New[user.Stats](statsTTL)
	activityStats := cache.New[activity.Stats](statsTTL)
	transactionStats := cache.New[transaction.Stats](statsTTL)
	userStandings := cache.New[middlewares.Standing](30 * time.Second)

	authMW := middlewares.NewAuthMiddleware(jwtManager, usersRepo, userStandings)
	rateLimit := middlewares.RateLimit(enforcer, prom, log)

	// handlers
	authHandler := handlers.NewAuthHandler(usersRepo, jwtManager, refreshRepo, guard.Table(), recorder, log, cfg.Env == "prod")
	accessHandler := handlers.NewAccessHandler(guard, prom)
	usersHandler := handlers.NewAdminUsersHandler(usersRepo, refreshRepo, recorder, userStats, log, authMW.ForgetUser)
	activitiesHandler := handlers.NewActivitiesHandler(activitiesRepo, jobsRepo, recorder, activityStats, log)
	rateLimitsHandler := handlers.NewRateLimitsHandler(rateLimitsRepo, enforcer, recorder, log)
	auditHandler := handlers.NewAuditLogsHandler(auditRepo, verifier, log)
	transactionsHandler := handlers.NewTransactionsHandler(transactionsRepo, transactionStats)
	checkoutHandler := handlers.NewCheckoutHandler(checkout, transactionsHandler.InvalidateStats)
	jobsHandler := handlers.NewAdminJobsHandler(jobsRepo, recorder, log)

	api := r.Group("/api/v1")

	// public, limited per client IP
	public := api.Group("", rateLimit)
	{
		public.POST("/auth/signup", authHandler.SignUp)
		public.POST("/auth/login", authHandler.Login)
		public.POST("/auth/refresh", authHandler.Refresh)
		public.POST("/auth/logout", authHandler.Logout)
		public.GET("/access/check", authMW.OptionalAuth(), accessHandler.Check)
	}

	// signed in, limited per user
	authed := api.Group("", authMW.RequireAuth(), rateLimit)
	{
		authed.GET("/auth/me", authHandler.Me)
		authed.GET("/access/routes", accessHandler.Routes)

		authed.POST("/activities", activitiesHandler.Submit)
		authed.GET("/activities/mine", activitiesHandler.ListMine)

		authed.GET("/transactions/mine", transactionsHandler.ListMine)
		authed.POST("/checkout", checkoutHandler.Checkout)
	}

	admin := authed.Group("/admin", middlewares.RequireRoles(user.RoleAdmin))
	{
		admin.GET("/users", usersHandler.List)
		admin.GET("/users/stats", usersHandler.Stats)
		admin.GET("/users/:id", usersHandler.Get)
		admin.PATCH("/users/:id", usersHandler.Update)
		admin.DELETE("/users/:id", usersHandler.Delete)

		admin.GET("/activities", activitiesHandler.List)
		admin.GET("/activities/stats", activitiesHandler.Stats)
		admin.GET("/activities/:id", activitiesHandler.Get)
		admin.POST("/activities/:id/verify", activitiesHandler.Verify)
		admin.POST("/activities/:id/unverify", activitiesHandler.Unverify)

		admin.GET("/rate-limits", rateLimitsHandler.List)
		admin.POST("/rate-limits", rateLimitsHandler.Create)
		admin.GET("/rate-limits/:id", rateLimitsHandler.Get)
		admin.PATCH("/rate-limits/:id", rateLimitsHandler.Update)
		admin.DELETE("/rate-limits/:id", rateLimitsHandler.Delete)
		admin.POST("/rate-limits/:id/reset", rateLimitsHandler.Reset)

		admin.GET("/audit-logs", auditHandler.List)
		admin.GET("/audit-logs/verify", auditHandler.VerifyChain)
		admin.GET("/audit-logs/export", auditHandler.Export)
		admin.GET("/audit-logs/:id", auditHandler.Get)
		admin.GET("/audit-logs/:id/verify", auditHandler.Verify)

		admin.GET("/transactions", transactionsHandler.List)
		admin.GET("/transactions/stats", transactionsHandler.Stats)
		admin.GET("/transactions/:id", transactionsHandler.Get)

		admin.GET("/jobs", jobsHandler.List)
		admin.GET("/jobs/:id", jobsHandler.GetByID)
		admin.POST("/jobs/:id/retry", jobsHandler.Retry)
		admin.POST("/jobs/reprocess-dead", jobsHandler.ReprocessDead)
	}

	return r
}
