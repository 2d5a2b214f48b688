package access

import (
	"slices"

	"github.com/geocoder89/impacthub/internal/domain/user"
)

type Outcome string

const (
	OutcomeLoading  Outcome = "loading"
	OutcomeRender   Outcome = "render"
	OutcomeRedirect Outcome = "redirect"
)

// Session is what the guard knows about the caller.
type Session struct {
	Loading       bool
	Authenticated bool
	Role          user.Role
}

// Requirement narrows a route beyond the routing table. Zero value means no extra rule.
type Requirement struct {
	RequiredRole user.Role
	AllowedRoles []user.Role
}

type Decision struct {
	Outcome  Outcome `json:"outcome"`
	Location string  `json:"location,omitempty"`
	// redirects replace the current history entry
	Replace bool   `json:"replace"`
	Reason  string `json:"reason,omitempty"`
}

type Guard struct {
	table *Table
}

func NewGuard(table *Table) *Guard {
	if table == nil {
		table = DefaultTable()
	}
	return &Guard{table: table}
}

func (g *Guard) Table() *Table {
	return g.table
}

// Evaluate runs the checks in order: loading, authentication, routing table, role requirement.
func (g *Guard) Evaluate(s Session, pathname string, req Requirement) Decision {
	if s.Loading {
		return Decision{Outcome: OutcomeLoading}
	}

	if !s.Authenticated {
		return redirect(AuthPath, "unauthenticated")
	}

	home := g.table.Home(s.Role)

	if !g.table.CheckAccess(s.Role, pathname) {
		return redirect(home, "route_not_allowed")
	}

	if req.RequiredRole != "" && req.RequiredRole != s.Role {
		return redirect(home, "role_mismatch")
	}

	if len(req.AllowedRoles) > 0 && !slices.Contains(req.AllowedRoles, s.Role) {
		return redirect(home, "role_not_allowed")
	}

	return Decision{Outcome: OutcomeRender}
}

func redirect(location, reason string) Decision {
	return Decision{
		Outcome:  OutcomeRedirect,
		Location: location,
		Replace:  true,
		Reason:   reason,
	}
}
