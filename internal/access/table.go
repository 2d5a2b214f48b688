package access

import (
	"path"
	"strings"

	"github.com/geocoder89/impacthub/internal/domain/user"
)

const AuthPath = "/auth"

// Table maps each role to its home dashboard and the path prefixes it may open.
type Table struct {
	homes    map[user.Role]string
	prefixes map[user.Role][]string
	shared   []string
}

// DefaultTable is the routing table the portals ship with.
func DefaultTable() *Table {
	return &Table{
		homes: map[user.Role]string{
			user.RoleSimpleUser: "/dashboard",
			user.RoleNGO:        "/ngo/dashboard",
			user.RoleCorporate:  "/corporate/dashboard",
			user.RoleCarbon:     "/carbon/dashboard",
			user.RoleAdmin:      "/admin/dashboard",
		},
		prefixes: map[user.Role][]string{
			user.RoleSimpleUser: {"/dashboard", "/activities", "/rewards", "/leaderboard"},
			user.RoleNGO:        {"/ngo"},
			user.RoleCorporate:  {"/corporate", "/carbon/marketplace"},
			user.RoleCarbon:     {"/carbon"},
			user.RoleAdmin:      {"/"},
		},
		shared: []string{"/profile", "/settings", "/notifications", "/checkout"},
	}
}

// Home returns the role's dashboard. Unknown roles are sent back to sign-in.
func (t *Table) Home(role user.Role) string {
	if h, ok := t.homes[role]; ok {
		return h
	}
	return AuthPath
}

// CheckAccess reports whether role may open pathname.
func (t *Table) CheckAccess(role user.Role, pathname string) bool {
	allowed, ok := t.prefixes[role]
	if !ok {
		return false
	}

	p := normalize(pathname)

	for _, prefix := range t.shared {
		if underPrefix(p, prefix) {
			return true
		}
	}

	for _, prefix := range allowed {
		if underPrefix(p, prefix) {
			return true
		}
	}

	return false
}

// Routes lists the prefixes a role may open, shared ones included.
func (t *Table) Routes(role user.Role) []string {
	own := t.prefixes[role]
	out := make([]string, 0, len(own)+len(t.shared))
	out = append(out, own...)
	out = append(out, t.shared...)
	return out
}

func normalize(pathname string) string {
	p := strings.TrimSpace(pathname)

	// drop query and fragment, the table only knows paths
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return path.Clean(p)
}

func underPrefix(p, prefix string) bool {
	if prefix == "/" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
