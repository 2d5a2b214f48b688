package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/impacthub/internal/actorctx"
	"github.com/geocoder89/impacthub/internal/domain/auditlog"
	"github.com/geocoder89/impacthub/internal/listquery"
	"github.com/gin-gonic/gin"
)

// CtxJobID is the gin key the request logger reads to tag job routes.
const CtxJobID = "job_id"

const defaultTimeout = 3 * time.Second

// Auditor appends to the hash-chained audit log.
type Auditor interface {
	Record(ctx context.Context, rec auditlog.Record) (auditlog.Entry, error)
}

// requestCtx bounds a handler's store calls while keeping the actor and
// request id the middlewares stored on the request context.
func requestCtx(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), defaultTimeout)
}

func requireActor(ctx *gin.Context) (actorctx.Actor, bool) {
	a, ok := actorctx.ActorFrom(ctx.Request.Context())
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity context")
		return actorctx.Actor{}, false
	}
	return a, true
}

// parseListQuery reads search, filters and page from the query string.
func parseListQuery(ctx *gin.Context, filterKeys ...string) (listquery.Query, bool) {
	q, err := listquery.Parse(ctx.Request.URL.Query(), filterKeys...)
	if err != nil {
		reason := "invalid_query"
		switch {
		case errors.Is(err, listquery.ErrUnknownFilter):
			reason = "unknown_filter"
		case errors.Is(err, listquery.ErrInvalidPage), errors.Is(err, listquery.ErrInvalidPageSize):
			reason = "invalid_pagination"
		case errors.Is(err, listquery.ErrSearchTooLong):
			reason = "search_too_long"
		}
		RespondBadRequest(ctx, err.Error(), gin.H{"query": reason, "allowedFilters": filterKeys})
		return listquery.Query{}, false
	}
	return q, true
}

// parseTimeFilter accepts RFC3339 or a bare date. A bare "to" date covers the whole day.
func parseTimeFilter(raw *string, endOfDay bool) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339, *raw); err == nil {
		return &t, nil
	}

	t, err := time.Parse(time.DateOnly, *raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// audit records an admin mutation. A failed append is logged, the mutation
// it describes has already committed.
func audit(ctx *gin.Context, a Auditor, log *slog.Logger, rec auditlog.Record) {
	if a == nil {
		return
	}

	if _, err := a.Record(context.WithoutCancel(ctx.Request.Context()), rec); err != nil {
		if log == nil {
			log = slog.Default()
		}
		log.ErrorContext(ctx.Request.Context(), "audit_append_failed",
			"action", rec.Action,
			"resource_id", rec.ResourceID,
			"err", err,
		)
	}
}

func respondBadID(ctx *gin.Context) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", "invalid_id", nil)
}
