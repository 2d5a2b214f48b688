package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/geocoder89/impacthub/internal/domain/auditlog"
	"github.com/geocoder89/impacthub/internal/domain/ratelimit"
	"github.com/geocoder89/impacthub/internal/listquery"
	"github.com/geocoder89/impacthub/internal/utils"
	"github.com/gin-gonic/gin"
)

type RateLimitStore interface {
	Create(ctx context.Context, rl ratelimit.Rule) error
	GetByID(ctx context.Context, id string) (ratelimit.Rule, error)
	List(ctx context.Context, f ratelimit.ListFilter) ([]ratelimit.Rule, error)
	Update(ctx context.Context, id string, req ratelimit.UpdateRequest) (ratelimit.Rule, error)
	Delete(ctx context.Context, id string) error
}

// RateUsage reads and resets the live counters behind the stored rules.
type RateUsage interface {
	WithUsage(ctx context.Context, rules []ratelimit.Rule) ([]ratelimit.Rule, error)
	Reset(ctx context.Context, r ratelimit.Rule) error
	Invalidate()
}

var rateLimitFilters = []string{"method", "status"}

type RateLimitsHandler struct {
	repo  RateLimitStore
	usage RateUsage
	audit Auditor
	log   *slog.Logger
}

func NewRateLimitsHandler(repo RateLimitStore, usage RateUsage, auditor Auditor, log *slog.Logger) *RateLimitsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &RateLimitsHandler{repo: repo, usage: usage, audit: auditor, log: log}
}

// List handles GET /admin/rate-limits. Status depends on live counters, so
// the status filter and paging run after usage is stamped.
func (h *RateLimitsHandler) List(ctx *gin.Context) {
	q, ok := parseListQuery(ctx, rateLimitFilters...)
	if !ok {
		return
	}

	f := ratelimit.ListFilter{Search: q.SearchPtr(), Method: q.Filter("method")}

	if v := q.Filter("status"); v != nil {
		s := ratelimit.Status(*v)
		switch s {
		case ratelimit.StatusNormal, ratelimit.StatusWarning, ratelimit.StatusCritical:
			f.Status = &s
		default:
			RespondBadRequest(ctx, "status filter is invalid", gin.H{"field": "status"})
			return
		}
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	rules, err := h.repo.List(cctx, f)
	if err != nil {
		RespondInternal(ctx, "Could not list rate limits")
		return
	}

	rules, err = h.usage.WithUsage(cctx, rules)
	if err != nil {
		RespondServiceUnavailable(ctx, "Rate limit counters are unavailable")
		return
	}

	stats := ratelimit.Summarize(rules)

	if f.Status != nil {
		kept := rules[:0]
		for _, r := range rules {
			if r.Status == *f.Status {
				kept = append(kept, r)
			}
		}
		rules = kept
	}

	total := len(rules)
	start := min(q.Offset(), total)
	end := min(start+q.Limit(), total)

	RespondData(ctx, listquery.NewResult(q, rules[start:end], total, stats))
}

func (h *RateLimitsHandler) Get(ctx *gin.Context) {
	rl, ok := h.load(ctx)
	if !ok {
		return
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	stamped, err := h.usage.WithUsage(cctx, []ratelimit.Rule{rl})
	if err != nil {
		RespondServiceUnavailable(ctx, "Rate limit counters are unavailable")
		return
	}

	RespondData(ctx, stamped[0])
}

func (h *RateLimitsHandler) Create(ctx *gin.Context) {
	var req ratelimit.CreateRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	rl := ratelimit.NewFromCreateRequest(req)
	if err := h.repo.Create(cctx, rl); err != nil {
		if errors.Is(err, ratelimit.ErrAlreadyExists) {
			RespondConflict(ctx, "rate_limit_exists", "A rate limit already exists for this endpoint and method")
			return
		}
		RespondInternal(ctx, "Could not create rate limit")
		return
	}

	h.usage.Invalidate()

	audit(ctx, h.audit, h.log, auditlog.Record{
		Action:     "rate_limit.create",
		Resource:   "rate_limit",
		ResourceID: rl.ID,
		Severity:   auditlog.SeverityInfo,
		Details:    ruleDetails(rl),
	})

	RespondCreated(ctx, rl.WithUsage(0))
}

func (h *RateLimitsHandler) Update(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		respondBadID(ctx)
		return
	}

	var req ratelimit.UpdateRequest
	if !BindJSON(ctx, &req) {
		return
	}
	if req.Limit == nil && req.Window == nil {
		RespondBadRequest(ctx, "Nothing to update", nil)
		return
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	rl, err := h.repo.Update(cctx, id, req)
	if err != nil {
		if errors.Is(err, ratelimit.ErrNotFound) {
			RespondNotFound(ctx, "Rate limit not found")
			return
		}
		RespondInternal(ctx, "Could not update rate limit")
		return
	}

	h.usage.Invalidate()

	audit(ctx, h.audit, h.log, auditlog.Record{
		Action:     "rate_limit.update",
		Resource:   "rate_limit",
		ResourceID: rl.ID,
		Severity:   auditlog.SeverityWarning,
		Details:    ruleDetails(rl),
	})

	stamped, err := h.usage.WithUsage(cctx, []ratelimit.Rule{rl})
	if err != nil {
		RespondOK(ctx, rl)
		return
	}

	RespondOK(ctx, stamped[0])
}

func (h *RateLimitsHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		respondBadID(ctx)
		return
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	if err := h.repo.Delete(cctx, id); err != nil {
		if errors.Is(err, ratelimit.ErrNotFound) {
			RespondNotFound(ctx, "Rate limit not found")
			return
		}
		RespondInternal(ctx, "Could not delete rate limit")
		return
	}

	h.usage.Invalidate()

	audit(ctx, h.audit, h.log, auditlog.Record{
		Action:     "rate_limit.delete",
		Resource:   "rate_limit",
		ResourceID: id,
		Severity:   auditlog.SeverityWarning,
	})

	RespondOK(ctx, gin.H{"id": id, "deleted": true})
}

// Reset handles POST /admin/rate-limits/:id/reset.
func (h *RateLimitsHandler) Reset(ctx *gin.Context) {
	rl, ok := h.load(ctx)
	if !ok {
		return
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	if err := h.usage.Reset(cctx, rl); err != nil {
		RespondServiceUnavailable(ctx, "Could not reset the counter")
		return
	}

	audit(ctx, h.audit, h.log, auditlog.Record{
		Action:     "rate_limit.reset",
		Resource:   "rate_limit",
		ResourceID: rl.ID,
		Severity:   auditlog.SeverityInfo,
		Details:    ruleDetails(rl),
	})

	RespondOK(ctx, rl.WithUsage(0))
}

func (h *RateLimitsHandler) load(ctx *gin.Context) (ratelimit.Rule, bool) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		respondBadID(ctx)
		return ratelimit.Rule{}, false
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	rl, err := h.repo.GetByID(cctx, id)
	if err != nil {
		if errors.Is(err, ratelimit.ErrNotFound) {
			RespondNotFound(ctx, "Rate limit not found")
			return ratelimit.Rule{}, false
		}
		RespondInternal(ctx, "Could not fetch rate limit")
		return ratelimit.Rule{}, false
	}

	return rl, true
}

func ruleDetails(rl ratelimit.Rule) map[string]string {
	return map[string]string{
		"endpoint": rl.Endpoint,
		"method":   rl.Method,
		"limit":    strconv.Itoa(rl.Limit),
		"window":   strconv.Itoa(rl.Window),
	}
}
