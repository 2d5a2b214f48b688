package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/geocoder89/impacthub/internal/access"
	"github.com/geocoder89/impacthub/internal/auth"
	"github.com/geocoder89/impacthub/internal/domain/auditlog"
	"github.com/geocoder89/impacthub/internal/domain/user"
	"github.com/geocoder89/impacthub/internal/repo/postgres"
	"github.com/geocoder89/impacthub/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type AuthUserStore interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	Create(ctx context.Context, u user.User) error
	TouchLastActive(ctx context.Context, id string, at time.Time) error
}

type RefreshTokenStore interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, tx pgx.Tx, row postgres.RefreshTokenRow) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (postgres.RefreshTokenRow, error)
	Revoke(ctx context.Context, tx pgx.Tx, id string, replacedBy *string) error
	RevokeAllForUser(ctx context.Context, tx pgx.Tx, userID string) error
}

type AuthHandler struct {
	users        AuthUserStore
	jwt          *auth.Manager
	refreshStore RefreshTokenStore
	table        *access.Table
	audit        Auditor
	log          *slog.Logger
	secureCookie bool
}

func NewAuthHandler(
	users AuthUserStore,
	jwtManager *auth.Manager,
	refreshStore RefreshTokenStore,
	table *access.Table,
	auditor Auditor,
	log *slog.Logger,
	secureCookie bool,
) *AuthHandler {
	if table == nil {
		table = access.DefaultTable()
	}
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{
		users:        users,
		jwt:          jwtManager,
		refreshStore: refreshStore,
		table:        table,
		audit:        auditor,
		log:          log,
		secureCookie: secureCookie,
	}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// SignUpRequest has no role field. Every new account starts as a simple user.
type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email,max=254"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Name     string `json:"name" binding:"required,min=2,max=120"`
}

// Session is what the portals need to route a signed-in user.
type Session struct {
	User         user.User `json:"user"`
	PortalAccess []string  `json:"portalAccess"`
	Home         string    `json:"home"`
	Routes       []string  `json:"routes"`
}

type TokenResponse struct {
	AccessToken string  `json:"accessToken"`
	Session     Session `json:"session"`
}

func (h *AuthHandler) session(u user.User) Session {
	u = u.WithPortalAccess()
	return Session{
		User:         u,
		PortalAccess: u.PortalAccess,
		Home:         h.table.Home(u.Role),
		Routes:       h.table.Routes(u.Role),
	}
}

func (h *AuthHandler) SignUp(ctx *gin.Context) {
	var req SignUpRequest

	if !BindJSON(ctx, &req) {
		return
	}

	if err := security.ValidatePasswordStrength(req.Password); err != nil {
		RespondBadRequest(ctx, err.Error(), gin.H{"fields": []FieldError{{
			Field: "password", Rule: "strength", Message: err.Error(),
		}}})
		return
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	now := time.Now().UTC()
	u := user.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
		Name:         strings.TrimSpace(req.Name),
		Role:         user.RoleSimpleUser,
		Status:       user.StatusActive,
		JoinDate:     now,
		LastActive:   &now,
		UpdatedAt:    now,
	}

	if err := h.users.Create(cctx, u); err != nil {
		if errors.Is(err, user.ErrEmailAlreadyUsed) {
			RespondConflict(ctx, "email_taken", "Email is already in use.")
			return
		}

		RespondInternal(ctx, "Could not create user")
		return
	}

	resp, ok := h.issueTokens(ctx, cctx, u)
	if !ok {
		return
	}

	RespondCreated(ctx, resp)
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	email := strings.ToLower(strings.TrimSpace(req.Email))

	foundUser, err := h.users.GetByEmail(cctx, email)
	if err == nil {
		err = security.CheckPassword(foundUser.PasswordHash, req.Password)
	}
	if err != nil {
		audit(ctx, h.audit, h.log, auditlog.Record{
			Actor:    email,
			Action:   "auth.login",
			Resource: "session",
			Severity: auditlog.SeverityWarning,
			Status:   auditlog.StatusFailure,
		})
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	if foundUser.Status == user.StatusSuspended {
		RespondError(ctx, http.StatusForbidden, "account_suspended", "This account has been suspended", nil)
		return
	}

	now := time.Now().UTC()
	if err := h.users.TouchLastActive(cctx, foundUser.ID, now); err != nil {
		h.log.WarnContext(cctx, "touch_last_active_failed", "user_id", foundUser.ID, "err", err)
	}
	foundUser.LastActive = &now

	resp, ok := h.issueTokens(ctx, cctx, foundUser)
	if !ok {
		return
	}

	RespondOK(ctx, resp)
}

func (h *AuthHandler) issueTokens(ctx *gin.Context, cctx context.Context, u user.User) (TokenResponse, bool) {
	accessToken, err := h.jwt.GenerateAccessToken(u)
	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return TokenResponse{}, false
	}

	rawRefreshToken, jti, expiresAt, err := h.jwt.GenerateRefreshToken(u)
	if err != nil {
		RespondInternal(ctx, "Could not generate refresh token")
		return TokenResponse{}, false
	}

	if err := h.storeRefreshToken(cctx, u.ID, jti, rawRefreshToken, expiresAt); err != nil {
		RespondInternal(ctx, "Could not create session")
		return TokenResponse{}, false
	}

	h.setRefreshCookie(ctx, rawRefreshToken, expiresAt)

	return TokenResponse{AccessToken: accessToken, Session: h.session(u)}, true
}

// Refresh rotates the refresh token under a row lock. The new tokens carry
// the user's current role, so admin role changes apply on the next refresh.
func (h *AuthHandler) Refresh(ctx *gin.Context) {
	raw, err := ctx.Cookie(refreshCookieName)

	if err != nil || raw == "" {
		RespondUnAuthorized(ctx, "no_refresh", "Missing refresh token")
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(raw)
	if err != nil {
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	u, err := h.users.GetByID(cctx, claims.UserID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			h.clearRefreshCookie(ctx)
			RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
			return
		}
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	if u.Status == user.StatusSuspended {
		h.clearRefreshCookie(ctx)
		RespondError(ctx, http.StatusForbidden, "account_suspended", "This account has been suspended", nil)
		return
	}

	tx, err := h.refreshStore.BeginTx(cctx)
	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	row, err := h.refreshStore.GetForUpdate(cctx, tx, claims.JTI)
	if err != nil {
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	if row.RevokedAt != nil {
		// a revoked token coming back means it was copied; end every session of the user
		if row.ReplacedBy != nil {
			if err := h.refreshStore.RevokeAllForUser(cctx, tx, row.UserID); err == nil {
				_ = tx.Commit(cctx)
			}
			h.log.WarnContext(cctx, "refresh_token_reuse", "user_id", row.UserID)
		}
		h.clearRefreshCookie(ctx)
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	if time.Now().UTC().After(row.ExpiresAt) {
		RespondUnAuthorized(ctx, "expired_refresh", "Refresh token expired.")
		return
	}

	// the stored hash must match the presented token
	if row.TokenHash != h.jwt.HashRefreshToken(raw) {
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token.")
		return
	}

	newRaw, newJTI, newExpiresAt, err := h.jwt.GenerateRefreshToken(u)
	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	if err := h.refreshStore.Revoke(cctx, tx, row.ID, &newJTI); err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	newRow := postgres.RefreshTokenRow{
		ID:        newJTI,
		UserID:    row.UserID,
		TokenHash: h.jwt.HashRefreshToken(newRaw),
		ExpiresAt: newExpiresAt,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.refreshStore.Create(cctx, tx, newRow); err != nil {
		h.log.ErrorContext(cctx, "refresh_token_store_failed", "err", err)
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	if err := tx.Commit(cctx); err != nil {
		h.log.ErrorContext(cctx, "refresh_token_commit_failed", "err", err)
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	accessToken, err := h.jwt.GenerateAccessToken(u)
	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	h.setRefreshCookie(ctx, newRaw, newExpiresAt)

	RespondOK(ctx, TokenResponse{AccessToken: accessToken, Session: h.session(u)})
}

func (h *AuthHandler) Logout(ctx *gin.Context) {
	raw, err := ctx.Cookie(refreshCookieName)

	if err != nil || raw == "" {
		h.clearRefreshCookie(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(raw)
	if err != nil {
		h.clearRefreshCookie(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	tx, err := h.refreshStore.BeginTx(cctx)
	if err != nil {
		h.clearRefreshCookie(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}
	defer func() { _ = tx.Rollback(cctx) }()

	// revoke that one token (idempotent)
	_ = h.refreshStore.Revoke(cctx, tx, claims.JTI, nil)
	_ = tx.Commit(cctx)

	h.clearRefreshCookie(ctx)
	ctx.Status(http.StatusNoContent)
}

// Me returns the session profile for the bearer token.
func (h *AuthHandler) Me(ctx *gin.Context) {
	a, ok := requireActor(ctx)
	if !ok {
		return
	}

	cctx, cancel := requestCtx(ctx)
	defer cancel()

	u, err := h.users.GetByID(cctx, a.UserID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			RespondUnAuthorized(ctx, "unauthorized", "Account no longer exists")
			return
		}
		RespondInternal(ctx, "Could not load profile")
		return
	}

	RespondOK(ctx, h.session(u))
}

func (h *AuthHandler) storeRefreshToken(ctx context.Context, userID, jti, raw string, expiresAt time.Time) error {
	tx, err := h.refreshStore.BeginTx(ctx)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := postgres.RefreshTokenRow{
		ID:        jti,
		UserID:    userID,
		TokenHash: h.jwt.HashRefreshToken(raw),
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.refreshStore.Create(ctx, tx, row); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

const (
	refreshCookieName = "refresh_token"
	refreshCookiePath = "/api/v1/auth"
)

func (h *AuthHandler) setRefreshCookie(ctx *gin.Context, raw string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())

	ctx.SetSameSite(http.SameSiteStrictMode)
	ctx.SetCookie(refreshCookieName, raw, maxAge, refreshCookiePath, "", h.secureCookie, true)
}

func (h *AuthHandler) clearRefreshCookie(ctx *gin.Context) {
	ctx.SetSameSite(http.SameSiteStrictMode)
	ctx.SetCookie(refreshCookieName, "", -1, refreshCookiePath, "", h.secureCookie, true)
}
