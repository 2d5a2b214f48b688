package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env   string
	Port  int
	DBURL string

	// seeded admin account
	AdminEmail    string
	AdminPassword string
	AdminName     string
	AdminRole     string

	JWTSecret           string
	JWTAccessTTLMinutes int
	JWTRefreshTTLDays   int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CORSOrigins []string

	OTELEndpoint string
	ServiceName  string

	// default limit applied to endpoints with no stored rule
	RateLimitDefault       int
	RateLimitWindowSeconds int

	StripeSecretKey   string
	CheckoutReturnURL string

	StatsCacheTTLSeconds int
	MetricsEnabled       bool

	WorkerConcurrency int
	WorkerHealthPort  int
}

func Load() Config {
	// a missing .env is fine, real deployments inject the environment
	_ = godotenv.Load()

	return Config{
		Env:   getEnv("APP_ENV", "dev"),
		Port:  getEnvInt("PORT", 8080),
		DBURL: buildDBURL(),

		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		AdminName:     getEnv("ADMIN_NAME", "Platform Admin"),
		AdminRole:     getEnv("ADMIN_ROLE", "admin"),

		JWTSecret:           getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTAccessTTLMinutes: getEnvInt("JWT_ACCESS_TTL_MINUTES", 15),
		JWTRefreshTTLDays:   getEnvInt("JWT_REFRESH_TTL_DAYS", 7),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		CORSOrigins: splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000")),

		OTELEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  getEnv("OTEL_SERVICE_NAME", "impacthub-api"),

		RateLimitDefault:       getEnvInt("RATE_LIMIT_DEFAULT", 120),
		RateLimitWindowSeconds: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),

		StripeSecretKey:   getEnv("STRIPE_SECRET_KEY", ""),
		CheckoutReturnURL: getEnv("CHECKOUT_RETURN_URL", "http://localhost:3000/checkout/complete"),

		StatsCacheTTLSeconds: getEnvInt("STATS_CACHE_TTL_SECONDS", 30),
		MetricsEnabled:       getEnv("METRICS_ENABLED", "true") == "true",

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		WorkerHealthPort:  getEnvInt("WORKER_HEALTH_PORT", 8081),
	}
}

func (c Config) AccessTTL() time.Duration {
	return time.Duration(c.JWTAccessTTLMinutes) * time.Minute
}

func (c Config) RefreshTTL() time.Duration {
	return time.Duration(c.JWTRefreshTTLDays) * 24 * time.Hour
}

func buildDBURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "impacthub")
	pass := getEnv("DB_PASSWORD", "impacthub")
	name := getEnv("DB_NAME", "impacthub")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %s=%q is not a number, using %d\n", key, v, fallback)
			return fallback
		}

		return num
	}
	return fallback
}

func splitCSV(raw string) []string {
	var out []string

	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}

	return out
}
