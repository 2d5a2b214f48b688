package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/impacthub/internal/domain/auditlog"
	"github.com/geocoder89/impacthub/internal/listquery"
	"github.com/gin-gonic/gin"
)

type AuditLogStore interface {
	GetByID(ctx context.Context, id string) (auditlog.Entry, error)
	List(ctx context.Context, f auditlog.ListFilter) ([]auditlog.Entry, int, error)
	Stats(ctx context.Context, f auditlog.ListFilter) (auditlog.Stats, error)
}

type AuditVerifier interface {
	Verify(ctx context.Context, id string) (auditlog.Verification, error)
	VerifyChain(ctx context.Context) (auditlog.ChainReport, error)
	ExportCSV(ctx context.Context, w io.Writer, f auditlog.ListFilter) (int, error)
}

var auditFilters = []string{"severity", "status", "actor", "action", "from", "to"}

const exportTimeout = 60 * time.Second

type AuditLogsHandler struct {
	repo     AuditLogStore
	verifier AuditVerifier
	log      *slog.Logger
}

func NewAuditLogsHandler(repo AuditLogStore, verifier AuditVerifier, log *slog.Logger) *AuditLogsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AuditLogsHandler{repo: repo, verifier: verifier, log: log}
}

// List handles GET /admin/audit-logs?search=&severity=&status=&actor=&from=&to=
func (h *AuditLogsHandler) List(ctx *gin.Context) {
	q, ok := parseListQuery(ctx, auditFilters...)
	if !ok {
		return
	}

	f, ok := auditFilter(ctx, q)
	if !ok {
		return
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	items, total, err := h.repo.List(cctx, f)
	if err != nil {
		RespondInternal(ctx, "Could not list audit logs")
		return
	}

	statsFilter := f
	statsFilter.Limit, statsFilter.Offset = 0, 0

	stats, err := h.repo.Stats(cctx, statsFilter)
	if err != nil {
		RespondInternal(ctx, "Could not load audit stats")
		return
	}

	RespondData(ctx, listquery.NewResult(q, items, total, stats))
}

func (h *AuditLogsHandler) Get(ctx *gin.Context) {
	cctx, cancel := requestCtx(ctx)
	defer cancel()

	e, err := h.repo.GetByID(cctx, ctx.Param("id"))
	if err != nil {
		if errors.Is(err, auditlog.ErrNotFound) {
			RespondNotFound(ctx, "Audit log not found")
			return
		}
		RespondInternal(ctx, "Could not fetch audit log")
		return
	}

	RespondData(ctx, e)
}

// Verify handles GET /admin/audit-logs/:id/verify. The hash is recomputed
// on the server from the stored fields.
func (h *AuditLogsHandler) Verify(ctx *gin.Context) {
	cctx, cancel := requestCtx(ctx)
	defer cancel()

	v, err := h.verifier.Verify(cctx, ctx.Param("id"))
	if err != nil {
		if errors.Is(err, auditlog.ErrNotFound) {
			RespondNotFound(ctx, "Audit log not found")
			return
		}
		RespondInternal(ctx, "Could not verify audit log")
		return
	}

	RespondOK(ctx, v)
}

// VerifyChain handles GET /admin/audit-logs/verify.
func (h *AuditLogsHandler) VerifyChain(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), exportTimeout)
	defer cancel()

	report, err := h.verifier.VerifyChain(cctx)
	if err != nil {
		RespondInternal(ctx, "Could not verify audit chain")
		return
	}

	if !report.Valid {
		h.log.WarnContext(cctx, "audit_chain_broken", "first_bad_id", report.FirstBad, "checked", report.Checked)
	}

	RespondOK(ctx, report)
}

// Export handles GET /admin/audit-logs/export with the list filters.
func (h *AuditLogsHandler) Export(ctx *gin.Context) {
	q, ok := parseListQuery(ctx, auditFilters...)
	if !ok {
		return
	}

	f, ok := auditFilter(ctx, q)
	if !ok {
		return
	}
	f.Limit, f.Offset = 0, 0

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), exportTimeout)
	defer cancel()

	ctx.Header("Content-Type", "text/csv; charset=utf-8")
	ctx.Header("Content-Disposition", `attachment; filename="audit-logs-`+time.Now().UTC().Format("20060102-150405")+`.csv"`)
	ctx.Status(http.StatusOK)

	n, err := h.verifier.ExportCSV(cctx, ctx.Writer, f)
	if err != nil {
		// headers are gone, all that is left is to stop writing
		h.log.ErrorContext(cctx, "audit_export_failed", "rows", n, "err", err)
		_ = ctx.Error(err)
		return
	}

	h.log.InfoContext(cctx, "audit_export", "rows", n)
}

func auditFilter(ctx *gin.Context, q listquery.Query) (auditlog.ListFilter, bool) {
	f := auditlog.ListFilter{
		Search: q.SearchPtr(),
		Actor:  q.Filter("actor"),
		Action: q.Filter("action"),
		Limit:  q.Limit(),
		Offset: q.Offset(),
	}

	if v := q.Filter("severity"); v != nil {
		s := auditlog.Severity(*v)
		if !s.IsValid() {
			RespondBadRequest(ctx, "severity filter is invalid", gin.H{"field": "severity"})
			return f, false
		}
		f.Severity = &s
	}

	if v := q.Filter("status"); v != nil {
		s := auditlog.Status(*v)
		if !s.IsValid() {
			RespondBadRequest(ctx, "status filter is invalid", gin.H{"field": "status"})
			return f, false
		}
		f.Status = &s
	}

	from, err := parseTimeFilter(q.Filter("from"), false)
	if err != nil {
		RespondBadRequest(ctx, "from must be RFC3339 or YYYY-MM-DD", gin.H{"field": "from"})
		return f, false
	}
	to, err := parseTimeFilter(q.Filter("to"), true)
	if err != nil {
		RespondBadRequest(ctx, "to must be RFC3339 or YYYY-MM-DD", gin.H{"field": "to"})
		return f, false
	}
	f.From, f.To = from, to

	return f, true
}
