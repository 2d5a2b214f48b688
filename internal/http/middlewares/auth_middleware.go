package middlewares

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/geocoder89/impacthub/internal/actorctx"
	"github.com/geocoder89/impacthub/internal/auth"
	"github.com/geocoder89/impacthub/internal/cache"
	"github.com/geocoder89/impacthub/internal/domain/user"
	"github.com/geocoder89/impacthub/internal/http/handlers"
	"github.com/gin-gonic/gin"
)

// Keep this small interface so tests can fake it easily.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*auth.Claims, error)
}

// StatusLookup reports a user's current account status and role.
type StatusLookup interface {
	GetByID(ctx context.Context, id string) (user.User, error)
}

// Standing is what the middleware re-checks on every request.
type Standing struct {
	Status user.Status
	Role   user.Role
}

type AuthMiddleware struct {
	jwt       TokenVerifier
	users     StatusLookup
	standings *cache.Cache[Standing]
}

// NewAuthMiddleware verifies bearer tokens. When users is set, deleted,
// suspended and re-roled accounts are rejected even while their access token
// is still valid; standings is the short-lived cache in front of that lookup.
func NewAuthMiddleware(jwt TokenVerifier, users StatusLookup, standings *cache.Cache[Standing]) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt, users: users, standings: standings}
}

// ForgetUser drops the cached standing of one user after an admin change.
func (m *AuthMiddleware) ForgetUser(userID string) {
	if m.standings != nil {
		m.standings.Delete(userID)
	}
}

type verdict int

const (
	verdictOK verdict = iota
	verdictGone
	verdictSuspended
	verdictRoleChanged
)

const (
	ctxUserIDKey = "auth.userID"
	ctxEmailKey  = "auth.email"
	ctxRoleKey   = "auth.role"
)

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}

	raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
	return raw, raw != ""
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			handlers.AbortWithError(c, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
			return
		}

		claims, err := m.jwt.VerifyAccessToken(raw)
		if err != nil {
			handlers.AbortWithError(c, http.StatusUnauthorized, "unauthorized", "Invalid or expired access token")
			return
		}

		switch m.check(c.Request.Context(), claims) {
		case verdictGone:
			handlers.AbortWithError(c, http.StatusUnauthorized, "unauthorized", "Account no longer exists")
			return
		case verdictSuspended:
			handlers.AbortWithError(c, http.StatusForbidden, "account_suspended", "This account has been suspended")
			return
		case verdictRoleChanged:
			handlers.AbortWithError(c, http.StatusUnauthorized, "unauthorized", "Account role has changed, sign in again")
			return
		}

		m.attach(c, claims)
		c.Next()
	}
}

// OptionalAuth attaches the identity when a valid token is present and
// otherwise lets the request through anonymously.
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw, ok := bearerToken(c); ok {
			claims, err := m.jwt.VerifyAccessToken(raw)
			if err == nil && m.check(c.Request.Context(), claims) == verdictOK {
				m.attach(c, claims)
			}
		}
		c.Next()
	}
}

func (m *AuthMiddleware) attach(c *gin.Context, claims *auth.Claims) {
	c.Set(ctxUserIDKey, claims.UserID)
	c.Set(ctxEmailKey, claims.Email)
	c.Set(ctxRoleKey, claims.Role)

	ctx := actorctx.WithActor(c.Request.Context(), actorctx.Actor{
		UserID: claims.UserID,
		Email:  claims.Email,
		Role:   claims.Role,
	})
	c.Request = c.Request.WithContext(ctx)
}

// Lookup failures other than a missing user do not lock users out.
func (m *AuthMiddleware) check(ctx context.Context, claims *auth.Claims) verdict {
	if m.users == nil {
		return verdictOK
	}

	load := func() (Standing, error) {
		u, err := m.users.GetByID(ctx, claims.UserID)
		if err != nil {
			return Standing{}, err
		}
		return Standing{Status: u.Status, Role: u.Role}, nil
	}

	var (
		st  Standing
		err error
	)
	if m.standings != nil {
		st, err = m.standings.GetOrLoad(claims.UserID, load)
	} else {
		st, err = load()
	}

	switch {
	case errors.Is(err, user.ErrUserNotFound):
		return verdictGone
	case err != nil:
		return verdictOK
	case st.Status == user.StatusSuspended:
		return verdictSuspended
	case string(st.Role) != claims.Role:
		return verdictRoleChanged
	default:
		return verdictOK
	}
}

// Optional helpers so handlers don't need to know the magic keys.

func UserIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxUserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

func RoleFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxRoleKey)
	if !ok {
		return "", false
	}
	role, ok := v.(string)
	return role, ok
}
