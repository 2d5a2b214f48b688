package middlewares

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/geocoder89/impacthub/internal/http/handlers"
	"github.com/geocoder89/impacthub/internal/limiter"
	"github.com/geocoder89/impacthub/internal/observability"
	"github.com/gin-gonic/gin"
)

type RateChecker interface {
	Check(ctx context.Context, method, route, client string) (limiter.Decision, error)
}

// RateLimit enforces the stored per-endpoint rules and the default
// per-client limit. Counter or rule store errors are logged and the
// request is let through.
func RateLimit(checker RateChecker, prom *observability.Prom, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			c.Next()
			return
		}

		d, err := checker.Check(c.Request.Context(), c.Request.Method, route, KeyByUserOrIP(c))
		if err != nil && log != nil {
			log.WarnContext(c.Request.Context(), "rate_limit_check_failed", "route", route, "err", err)
		}

		if d.Limit > 0 {
			remaining := d.Limit - d.Current
			if remaining < 0 {
				remaining = 0
			}
			c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}

		if !d.Allowed {
			label := d.Key
			if strings.HasPrefix(label, "client:") {
				label = "default"
			}
			prom.IncRateLimited(label)
			handlers.RespondTooManyRequests(c, int(math.Ceil(d.RetryAfter.Seconds())))
			return
		}

		c.Next()
	}
}

// For authenticated endpoints: rate limit by userID if available
func KeyByUserOrIP(c *gin.Context) string {
	id, ok := UserIDFromContext(c)

	if ok && id != "" {
		return "user:" + id
	}

	return clientIP(c)
}
