package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/geocoder89/impacthub/internal/domain/auditlog"
	"github.com/geocoder89/impacthub/internal/domain/job"
	"github.com/geocoder89/impacthub/internal/utils"
	"github.com/gin-gonic/gin"
)

type AdminJobsRepo interface {
	ListCursor(
		ctx context.Context,
		status *string,
		limit int,
		after utils.Cursor,
	) (items []job.Job, nextCursor *string, hasMore bool, err error)
	GetByID(ctx context.Context, id string) (job.Job, error)
	Retry(ctx context.Context, id string) error
	RetryManyFailed(ctx context.Context, limit int) (int64, error)
}

// AdminJobsHandler exposes the credit job queue for operators.
type AdminJobsHandler struct {
	repo  AdminJobsRepo
	audit Auditor
	log   *slog.Logger
}

func NewAdminJobsHandler(repo AdminJobsRepo, auditor Auditor, log *slog.Logger) *AdminJobsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AdminJobsHandler{repo: repo, audit: auditor, log: log}
}

// Get /admin/jobs?status=failed&limit=50&cursor=

func (h *AdminJobsHandler) List(ctx *gin.Context) {
	limit := parseIntDefault(ctx.Query("limit"), 20)
	if limit < 1 || limit > 100 {
		RespondBadRequest(ctx, "limit must be between 1 and 100", gin.H{"field": "limit"})
		return
	}

	var statusPtr *string
	if s := ctx.Query("status"); s != "" {
		if !job.Status(s).IsValid() {
			RespondBadRequest(ctx, "status filter is invalid", gin.H{"field": "status"})
			return
		}
		statusPtr = &s
	}

	after := utils.FirstPage()
	if raw := ctx.Query("cursor"); raw != "" {
		cur, err := utils.DecodeCursor(raw)
		if err != nil {
			RespondBadRequest(ctx, "cursor is invalid", gin.H{"field": "cursor"})
			return
		}
		after = cur
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	items, next, hasMore, err := h.repo.ListCursor(cctx, statusPtr, limit, after)
	if err != nil {
		RespondInternal(ctx, "Could not list jobs")
		return
	}

	RespondData(ctx, gin.H{
		"limit":      limit,
		"count":      len(items),
		"items":      items,
		"hasMore":    hasMore,
		"nextCursor": next,
	})
}

// Get /admin/jobs/:id

func (h *AdminJobsHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")
	ctx.Set(CtxJobID, id)

	if !utils.IsUUID(id) {
		respondBadID(ctx)
		return
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	j, err := h.repo.GetByID(cctx, id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			RespondNotFound(ctx, "Job not found")
			return
		}

		RespondInternal(ctx, "Could not fetch job")
		return
	}

	RespondData(ctx, j)
}

// POST /admin/jobs/:id/retry
func (h *AdminJobsHandler) Retry(ctx *gin.Context) {
	id := ctx.Param("id")
	ctx.Set(CtxJobID, id)

	if !utils.IsUUID(id) {
		respondBadID(ctx)
		return
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	if err := h.repo.Retry(cctx, id); err != nil {
		switch {
		case errors.Is(err, job.ErrJobNotFound):
			RespondNotFound(ctx, "Job not found")
		case errors.Is(err, job.ErrJobNotFailed):
			RespondConflict(ctx, "job_not_failed", "Only failed jobs can be retried")
		default:
			RespondInternal(ctx, "Could not retry job")
		}
		return
	}

	audit(ctx, h.audit, h.log, auditlog.Record{
		Action:     "job.retry",
		Resource:   "job",
		ResourceID: id,
		Severity:   auditlog.SeverityInfo,
	})

	RespondOK(ctx, gin.H{
		"jobId":  id,
		"status": job.StatusPending,
	})
}

// POST /admin/jobs/reprocess-dead?limit=50

func (h *AdminJobsHandler) ReprocessDead(ctx *gin.Context) {
	limit := 50

	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			RespondBadRequest(ctx, "limit must be a number between 1 and 1000", gin.H{"field": "limit"})
			return
		}
		limit = n
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	n, err := h.repo.RetryManyFailed(cctx, limit)
	if err != nil {
		RespondInternal(ctx, "Could not reprocess dead jobs")
		return
	}

	audit(ctx, h.audit, h.log, auditlog.Record{
		Action:   "job.reprocess_dead",
		Resource: "job",
		Severity: auditlog.SeverityWarning,
		Details:  map[string]string{"requeued": strconv.FormatInt(n, 10)},
	})

	RespondOK(ctx, gin.H{
		"requeued": n,
	})
}
