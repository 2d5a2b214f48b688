package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/geocoder89/impacthub/internal/cache"
	"github.com/geocoder89/impacthub/internal/domain/auditlog"
	"github.com/geocoder89/impacthub/internal/domain/user"
	"github.com/geocoder89/impacthub/internal/listquery"
	"github.com/geocoder89/impacthub/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

type AdminUserStore interface {
	List(ctx context.Context, f user.ListFilter) ([]user.User, int, error)
	Stats(ctx context.Context) (user.Stats, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	Update(ctx context.Context, id string, req user.UpdateRequest) (user.User, error)
	Delete(ctx context.Context, id string) error
}

type SessionRevoker interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	RevokeAllForUser(ctx context.Context, tx pgx.Tx, userID string) error
}

var userFilters = []string{"role", "status"}

const usersStatsKey = "users"

type AdminUsersHandler struct {
	repo     AdminUserStore
	sessions SessionRevoker
	audit    Auditor
	stats    *cache.Cache[user.Stats]
	log      *slog.Logger

	// called after a role or status change so auth caches drop the user
	onAccessChange func(userID string)
}

func NewAdminUsersHandler(
	repo AdminUserStore,
	sessions SessionRevoker,
	auditor Auditor,
	stats *cache.Cache[user.Stats],
	log *slog.Logger,
	onAccessChange func(userID string),
) *AdminUsersHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AdminUsersHandler{
		repo:           repo,
		sessions:       sessions,
		audit:          auditor,
		stats:          stats,
		log:            log,
		onAccessChange: onAccessChange,
	}
}

func (h *AdminUsersHandler) loadStats(ctx context.Context) (user.Stats, error) {
	if h.stats == nil {
		return h.repo.Stats(ctx)
	}
	return h.stats.GetOrLoad(usersStatsKey, func() (user.Stats, error) {
		return h.repo.Stats(ctx)
	})
}

// List handles GET /admin/users?search=&role=&status=&page=&pageSize=
func (h *AdminUsersHandler) List(ctx *gin.Context) {
	q, ok := parseListQuery(ctx, userFilters...)
	if !ok {
		return
	}

	f := user.ListFilter{
		Search: q.SearchPtr(),
		Limit:  q.Limit(),
		Offset: q.Offset(),
	}

	if v := q.Filter("role"); v != nil {
		r, err := user.ParseRole(*v)
		if err != nil {
			RespondBadRequest(ctx, "role filter is invalid", gin.H{"field": "role"})
			return
		}
		f.Role = &r
	}
	if v := q.Filter("status"); v != nil {
		s := user.Status(*v)
		if !s.IsValid() {
			RespondBadRequest(ctx, "status filter is invalid", gin.H{"field": "status"})
			return
		}
		f.Status = &s
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	items, total, err := h.repo.List(cctx, f)
	if err != nil {
		RespondInternal(ctx, "Could not list users")
		return
	}

	stats, err := h.loadStats(cctx)
	if err != nil {
		RespondInternal(ctx, "Could not load user stats")
		return
	}

	RespondData(ctx, listquery.NewResult(q, items, total, stats))
}

func (h *AdminUsersHandler) Stats(ctx *gin.Context) {
	cctx, cancel := requestCtx(ctx)
	defer cancel()

	stats, err := h.loadStats(cctx)
	if err != nil {
		RespondInternal(ctx, "Could not load user stats")
		return
	}

	RespondData(ctx, stats)
}

func (h *AdminUsersHandler) Get(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		respondBadID(ctx)
		return
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	u, err := h.repo.GetByID(cctx, id)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}
		RespondInternal(ctx, "Could not fetch user")
		return
	}

	RespondData(ctx, u.WithPortalAccess())
}

// Update handles PATCH /admin/users/:id. Suspending a user also revokes
// every refresh token they hold.
func (h *AdminUsersHandler) Update(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		respondBadID(ctx)
		return
	}

	var req user.UpdateRequest
	if !BindJSON(ctx, &req) {
		return
	}
	if req.IsEmpty() {
		RespondBadRequest(ctx, "Nothing to update", nil)
		return
	}

	actor, ok := requireActor(ctx)
	if !ok {
		return
	}
	if actor.UserID == id && (req.Role != nil || req.Status != nil) {
		RespondConflict(ctx, "cannot_modify_self", "Admins cannot change their own role or status")
		return
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	before, err := h.repo.GetByID(cctx, id)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}
		RespondInternal(ctx, "Could not fetch user")
		return
	}

	updated, err := h.repo.Update(cctx, id, req)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}
		RespondInternal(ctx, "Could not update user")
		return
	}

	suspended := before.Status != user.StatusSuspended && updated.Status == user.StatusSuspended
	if suspended {
		if err := h.revokeSessions(cctx, id); err != nil {
			h.log.ErrorContext(cctx, "revoke_sessions_failed", "user_id", id, "err", err)
		}
	}

	if before.Role != updated.Role || before.Status != updated.Status {
		if h.onAccessChange != nil {
			h.onAccessChange(id)
		}
	}

	if h.stats != nil {
		h.stats.Delete(usersStatsKey)
	}

	severity := auditlog.SeverityInfo
	if before.Role != updated.Role || suspended {
		severity = auditlog.SeverityWarning
	}

	audit(ctx, h.audit, h.log, auditlog.Record{
		Action:     "user.update",
		Resource:   "user",
		ResourceID: id,
		Severity:   severity,
		Details:    userChanges(before, updated),
	})

	RespondOK(ctx, updated.WithPortalAccess())
}

func (h *AdminUsersHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		respondBadID(ctx)
		return
	}

	actor, ok := requireActor(ctx)
	if !ok {
		return
	}
	if actor.UserID == id {
		RespondConflict(ctx, "cannot_modify_self", "Admins cannot delete their own account")
		return
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	if err := h.repo.Delete(cctx, id); err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}
		RespondInternal(ctx, "Could not delete user")
		return
	}

	if h.onAccessChange != nil {
		h.onAccessChange(id)
	}
	if h.stats != nil {
		h.stats.Delete(usersStatsKey)
	}

	audit(ctx, h.audit, h.log, auditlog.Record{
		Action:     "user.delete",
		Resource:   "user",
		ResourceID: id,
		Severity:   auditlog.SeverityCritical,
	})

	RespondOK(ctx, gin.H{"id": id, "deleted": true})
}

func (h *AdminUsersHandler) revokeSessions(ctx context.Context, userID string) error {
	if h.sessions == nil {
		return nil
	}

	tx, err := h.sessions.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.sessions.RevokeAllForUser(ctx, tx, userID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func userChanges(before, after user.User) map[string]string {
	d := map[string]string{}
	if before.Name != after.Name {
		d["name"] = before.Name + " -> " + after.Name
	}
	if before.Role != after.Role {
		d["role"] = string(before.Role) + " -> " + string(after.Role)
	}
	if before.Status != after.Status {
		d["status"] = string(before.Status) + " -> " + string(after.Status)
	}
	return d
}
