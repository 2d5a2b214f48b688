package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/geocoder89/impacthub/internal/actorctx"
	"github.com/geocoder89/impacthub/internal/cache"
	"github.com/geocoder89/impacthub/internal/domain/activity"
	"github.com/geocoder89/impacthub/internal/domain/auditlog"
	"github.com/geocoder89/impacthub/internal/domain/job"
	"github.com/geocoder89/impacthub/internal/jobs"
	"github.com/geocoder89/impacthub/internal/listquery"
	"github.com/geocoder89/impacthub/internal/repo/postgres"
	"github.com/geocoder89/impacthub/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

type ActivityStore interface {
	Create(ctx context.Context, a activity.Activity) error
	GetByID(ctx context.Context, id string) (activity.Activity, error)
	List(ctx context.Context, f activity.ListFilter) ([]activity.Activity, int, error)
	Stats(ctx context.Context, f activity.ListFilter) (activity.Stats, error)
	Review(
		ctx context.Context,
		id string,
		in postgres.ReviewInput,
		onReviewed func(ctx context.Context, tx pgx.Tx, before, after activity.Activity) error,
	) (activity.Activity, error)
}

// JobEnqueuer writes a job inside the caller's transaction.
type JobEnqueuer interface {
	CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error)
}

var (
	adminActivityFilters = []string{"status", "type", "userId"}
	ownActivityFilters   = []string{"status", "type"}
)

const activityStatsKey = "activities"

type ActivitiesHandler struct {
	repo  ActivityStore
	jobs  JobEnqueuer
	audit Auditor
	stats *cache.Cache[activity.Stats]
	log   *slog.Logger
}

func NewActivitiesHandler(
	repo ActivityStore,
	jobQueue JobEnqueuer,
	auditor Auditor,
	stats *cache.Cache[activity.Stats],
	log *slog.Logger,
) *ActivitiesHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ActivitiesHandler{repo: repo, jobs: jobQueue, audit: auditor, stats: stats, log: log}
}

// Submit handles POST /activities. A submission without proof is rejected
// before anything is written.
func (h *ActivitiesHandler) Submit(ctx *gin.Context) {
	var req activity.SubmitRequest
	if !BindJSON(ctx, &req) {
		return
	}

	if err := req.Validate(); err != nil {
		RespondBadRequest(ctx, err.Error(), gin.H{"fields": []FieldError{{
			Field: "proofImage", Rule: "required", Message: validationMessage("required", ""),
		}}})
		return
	}

	actor, ok := requireActor(ctx)
	if !ok {
		return
	}
	req.UserID = actor.UserID

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	a := activity.NewFromSubmitRequest(req)
	if err := h.repo.Create(cctx, a); err != nil {
		RespondInternal(ctx, "Could not submit activity")
		return
	}

	h.invalidateStats()

	RespondCreated(ctx, a)
}

// ListMine handles GET /activities/mine.
func (h *ActivitiesHandler) ListMine(ctx *gin.Context) {
	actor, ok := requireActor(ctx)
	if !ok {
		return
	}

	q, ok := parseListQuery(ctx, ownActivityFilters...)
	if !ok {
		return
	}

	f, ok := activityFilter(ctx, q)
	if !ok {
		return
	}
	f.UserID = &actor.UserID

	h.list(ctx, q, f, false)
}

// List handles GET /admin/activities.
func (h *ActivitiesHandler) List(ctx *gin.Context) {
	q, ok := parseListQuery(ctx, adminActivityFilters...)
	if !ok {
		return
	}

	f, ok := activityFilter(ctx, q)
	if !ok {
		return
	}
	if v := q.Filter("userId"); v != nil {
		if !utils.IsUUID(*v) {
			RespondBadRequest(ctx, "userId filter is invalid", gin.H{"field": "userId"})
			return
		}
		f.UserID = v
	}

	h.list(ctx, q, f, true)
}

func (h *ActivitiesHandler) list(ctx *gin.Context, q listquery.Query, f activity.ListFilter, cacheStats bool) {
	cctx, cancel := requestCtx(ctx)
	defer cancel()

	items, total, err := h.repo.List(cctx, f)
	if err != nil {
		RespondInternal(ctx, "Could not list activities")
		return
	}

	// stats follow the same filters as the list, only the unfiltered admin view is cached
	statsFilter := f
	statsFilter.Limit, statsFilter.Offset = 0, 0

	var stats activity.Stats
	if cacheStats && isUnfiltered(q) {
		stats, err = h.globalStats(cctx)
	} else {
		stats, err = h.repo.Stats(cctx, statsFilter)
	}
	if err != nil {
		RespondInternal(ctx, "Could not load activity stats")
		return
	}

	RespondData(ctx, listquery.NewResult(q, items, total, stats))
}

func (h *ActivitiesHandler) Stats(ctx *gin.Context) {
	cctx, cancel := requestCtx(ctx)
	defer cancel()

	stats, err := h.globalStats(cctx)
	if err != nil {
		RespondInternal(ctx, "Could not load activity stats")
		return
	}

	RespondData(ctx, stats)
}

func (h *ActivitiesHandler) globalStats(ctx context.Context) (activity.Stats, error) {
	if h.stats == nil {
		return h.repo.Stats(ctx, activity.ListFilter{})
	}
	return h.stats.GetOrLoad(activityStatsKey, func() (activity.Stats, error) {
		return h.repo.Stats(ctx, activity.ListFilter{})
	})
}

func (h *ActivitiesHandler) invalidateStats() {
	if h.stats != nil {
		h.stats.Delete(activityStatsKey)
	}
}

func (h *ActivitiesHandler) Get(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		respondBadID(ctx)
		return
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	a, err := h.repo.GetByID(cctx, id)
	if err != nil {
		if errors.Is(err, activity.ErrNotFound) {
			RespondNotFound(ctx, "Activity not found")
			return
		}
		RespondInternal(ctx, "Could not fetch activity")
		return
	}

	RespondData(ctx, a)
}

// Verify handles POST /admin/activities/:id/verify. The credit award job
// commits in the same transaction as the status change.
func (h *ActivitiesHandler) Verify(ctx *gin.Context) {
	var req activity.ReviewRequest
	if ctx.Request.ContentLength != 0 && !BindJSON(ctx, &req) {
		return
	}

	h.review(ctx, activity.StatusVerified, req, func(cctx context.Context, tx pgx.Tx, before, after activity.Activity) error {
		payload, err := jobs.EncodePayload(jobs.TypeCreditAward, jobs.CreditAwardPayload{
			ActivityID: after.ID,
			UserID:     after.UserID,
			Credits:    after.Credits,
			ReviewedBy: derefString(after.ReviewedBy),
			ReviewedAt: derefTime(after.ReviewedAt),
			RequestID:  actorctx.RequestIDFrom(cctx),
		})
		if err != nil {
			return err
		}
		return h.enqueue(cctx, tx, jobs.TypeCreditAward, after, payload)
	})
}

// Unverify handles POST /admin/activities/:id/unverify. Revoking a verified
// activity also queues the reversal of its credits.
func (h *ActivitiesHandler) Unverify(ctx *gin.Context) {
	var req activity.ReviewRequest
	if !BindJSON(ctx, &req) {
		return
	}
	if strings.TrimSpace(req.Note) == "" {
		RespondBadRequest(ctx, "A reason is required", gin.H{"fields": []FieldError{{
			Field: "note", Rule: "required", Message: validationMessage("required", ""),
		}}})
		return
	}
	req.Credits = nil

	h.review(ctx, activity.StatusUnverified, req, func(cctx context.Context, tx pgx.Tx, before, after activity.Activity) error {
		if before.Status != activity.StatusVerified {
			return nil
		}
		payload, err := jobs.EncodePayload(jobs.TypeCreditRevoke, jobs.CreditRevokePayload{
			ActivityID: after.ID,
			UserID:     after.UserID,
			Reason:     req.Note,
			ReviewedBy: derefString(after.ReviewedBy),
			RequestID:  actorctx.RequestIDFrom(cctx),
		})
		if err != nil {
			return err
		}
		return h.enqueue(cctx, tx, jobs.TypeCreditRevoke, after, payload)
	})
}

func (h *ActivitiesHandler) enqueue(ctx context.Context, tx pgx.Tx, t jobs.JobType, a activity.Activity, payload []byte) error {
	key := jobs.IdempotencyKey(t, a.ID)
	userID := a.UserID

	_, err := h.jobs.CreateTx(ctx, tx, job.CreateRequest{
		Type:           t.String(),
		Payload:        payload,
		IdempotencyKey: &key,
		UserID:         &userID,
	})
	return err
}

func (h *ActivitiesHandler) review(
	ctx *gin.Context,
	to activity.Status,
	req activity.ReviewRequest,
	onReviewed func(ctx context.Context, tx pgx.Tx, before, after activity.Activity) error,
) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		respondBadID(ctx)
		return
	}

	actor, ok := requireActor(ctx)
	if !ok {
		return
	}

	var note *string
	if n := strings.TrimSpace(req.Note); n != "" {
		note = &n
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	updated, err := h.repo.Review(cctx, id, postgres.ReviewInput{
		To:         to,
		Credits:    req.Credits,
		Note:       note,
		ReviewedBy: actor.UserID,
		At:         time.Now().UTC(),
	}, onReviewed)
	if err != nil {
		switch {
		case errors.Is(err, activity.ErrNotFound):
			RespondNotFound(ctx, "Activity not found")
		case errors.Is(err, activity.ErrAlreadyReviewed):
			RespondConflict(ctx, "already_reviewed", "Activity is already "+string(to))
		case errors.Is(err, activity.ErrInvalidTransition):
			RespondConflict(ctx, "invalid_transition", "Activity cannot move to "+string(to))
		default:
			h.log.ErrorContext(cctx, "activity_review_failed", "activity_id", id, "err", err)
			RespondInternal(ctx, "Could not review activity")
		}
		return
	}

	h.invalidateStats()

	details := map[string]string{"status": string(to)}
	if note != nil {
		details["note"] = *note
	}
	severity := auditlog.SeverityInfo
	if to == activity.StatusUnverified {
		severity = auditlog.SeverityWarning
	}

	audit(ctx, h.audit, h.log, auditlog.Record{
		Action:     "activity." + reviewVerb(to),
		Resource:   "activity",
		ResourceID: id,
		Severity:   severity,
		Details:    details,
	})

	RespondOK(ctx, updated)
}

func reviewVerb(to activity.Status) string {
	if to == activity.StatusVerified {
		return "verify"
	}
	return "unverify"
}

func activityFilter(ctx *gin.Context, q listquery.Query) (activity.ListFilter, bool) {
	f := activity.ListFilter{
		Search: q.SearchPtr(),
		Type:   q.Filter("type"),
		Limit:  q.Limit(),
		Offset: q.Offset(),
	}

	if v := q.Filter("status"); v != nil {
		s := activity.Status(*v)
		if !s.IsValid() {
			RespondBadRequest(ctx, "status filter is invalid", gin.H{"field": "status"})
			return f, false
		}
		f.Status = &s
	}

	return f, true
}

func isUnfiltered(q listquery.Query) bool {
	return q.Search == "" && len(q.Filters) == 0
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
