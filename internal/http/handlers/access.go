package handlers

import (
	"strings"

	"github.com/geocoder89/impacthub/internal/access"
	"github.com/geocoder89/impacthub/internal/actorctx"
	"github.com/geocoder89/impacthub/internal/domain/user"
	"github.com/geocoder89/impacthub/internal/observability"
	"github.com/gin-gonic/gin"
)

type AccessHandler struct {
	guard *access.Guard
	prom  *observability.Prom
}

func NewAccessHandler(guard *access.Guard, prom *observability.Prom) *AccessHandler {
	if guard == nil {
		guard = access.NewGuard(nil)
	}
	return &AccessHandler{guard: guard, prom: prom}
}

// Check evaluates the route guard for the calling session.
// GET /access/check?path=/admin/users&requiredRole=admin&allowedRoles=admin,ngo
func (h *AccessHandler) Check(ctx *gin.Context) {
	pathname := ctx.Query("path")
	if pathname == "" {
		RespondBadRequest(ctx, "path is required", gin.H{"fields": []FieldError{{
			Field: "path", Rule: "required", Message: validationMessage("required", ""),
		}}})
		return
	}

	req, err := parseRequirement(ctx.Query("requiredRole"), ctx.Query("allowedRoles"))
	if err != nil {
		RespondBadRequest(ctx, err.Error(), nil)
		return
	}

	var s access.Session
	if a, ok := actorctx.ActorFrom(ctx.Request.Context()); ok {
		s = access.Session{Authenticated: true, Role: user.Role(a.Role)}
	}

	d := h.guard.Evaluate(s, pathname, req)
	h.prom.IncGuardDecision(string(d.Outcome), d.Reason)

	RespondOK(ctx, d)
}

// Routes lists the calling role's home and openable prefixes.
func (h *AccessHandler) Routes(ctx *gin.Context) {
	a, ok := requireActor(ctx)
	if !ok {
		return
	}

	role := user.Role(a.Role)
	table := h.guard.Table()

	RespondOK(ctx, gin.H{
		"role":         role,
		"home":         table.Home(role),
		"routes":       table.Routes(role),
		"portalAccess": user.PortalAccessFor(role),
	})
}

func parseRequirement(required, allowed string) (access.Requirement, error) {
	var req access.Requirement

	if required != "" {
		r, err := user.ParseRole(required)
		if err != nil {
			return req, err
		}
		req.RequiredRole = r
	}

	for _, part := range strings.Split(allowed, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		r, err := user.ParseRole(part)
		if err != nil {
			return req, err
		}
		req.AllowedRoles = append(req.AllowedRoles, r)
	}

	return req, nil
}
