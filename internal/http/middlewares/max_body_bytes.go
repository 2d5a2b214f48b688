package middlewares

import (
	"net/http"

	"github.com/geocoder89/impacthub/internal/http/handlers"
	"github.com/gin-gonic/gin"
)

// MaxBodyBytes caps request bodies at limit bytes. A declared Content-Length
// over the cap is refused with 413 before the handler runs; a body that only
// turns out too long while reading fails inside BindJSON as body_too_large.
func MaxBodyBytes(limit int64) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.Request.ContentLength > limit {
			handlers.AbortWithError(ctx, http.StatusRequestEntityTooLarge, "body_too_large", "Request body is too large")
			return
		}
		if ctx.Request.Body != nil && ctx.Request.Body != http.NoBody {
			ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, limit)
		}
		ctx.Next()
	}
}
