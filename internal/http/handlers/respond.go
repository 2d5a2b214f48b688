package handlers

import (
	"net/http"
	"strconv"

	"github.com/geocoder89/impacthub/internal/actorctx"
	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

// Envelope is the body of every API response. Business rejections carry
// success=false with a message; transport-level failures never reach here.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	if id := actorctx.RequestIDFrom(ctx.Request.Context()); id != "" {
		return id
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func RespondOK(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

func RespondCreated(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusCreated, Envelope{Success: true, Data: data})
}

// RespondData writes a success envelope with an ETag so list and detail
// pages can revalidate with If-None-Match.
func RespondData(ctx *gin.Context, data interface{}) {
	RespondJSONWithETag(ctx, http.StatusOK, Envelope{Success: true, Data: data})
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, errorEnvelope(ctx, code, message, details))
}

// AbortWithError is RespondError for middlewares.
func AbortWithError(ctx *gin.Context, status int, code, message string) {
	ctx.AbortWithStatusJSON(status, errorEnvelope(ctx, code, message, nil))
}

func errorEnvelope(ctx *gin.Context, code, message string, details interface{}) Envelope {
	return Envelope{
		Success: false,
		Message: message,
		Error: &APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	}
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondUnAuthorized(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusUnauthorized, code, message, nil)
}

func RespondForbidden(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusForbidden, "forbidden", message, nil)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

func RespondConflict(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusConflict, code, message, nil)
}

func RespondTooManyRequests(ctx *gin.Context, retryAfterSeconds int) {
	ctx.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	ctx.AbortWithStatusJSON(http.StatusTooManyRequests, errorEnvelope(ctx, "rate_limited", "Too many requests. Please try again shortly.", nil))
}

func RespondServiceUnavailable(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusServiceUnavailable, "unavailable", message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

func parseIntDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return n
}
