package middlewares

import (
	"net/http"
	"slices"

	"github.com/geocoder89/impacthub/internal/domain/user"
	"github.com/geocoder89/impacthub/internal/http/handlers"
	"github.com/gin-gonic/gin"
)

// RequireRoles admits callers whose token role is one of allowed.
func RequireRoles(allowed ...user.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := RoleFromContext(c)

		if !ok || role == "" {
			handlers.AbortWithError(c, http.StatusUnauthorized, "unauthorized", "Missing identity context")
			return
		}
		if !slices.Contains(allowed, user.Role(role)) {
			handlers.AbortWithError(c, http.StatusForbidden, "forbidden", "Your role cannot access this resource")
			return
		}
		c.Next()
	}
}
