package access

import (
	"testing"

	"github.com/geocoder89/impacthub/internal/domain/user"
)

var samplePaths = []string{
	"/dashboard",
	"/activities/new",
	"/ngo/dashboard",
	"/ngo/projects/42",
	"/corporate/dashboard",
	"/carbon/dashboard",
	"/carbon/marketplace/listings",
	"/admin/users",
	"/admin/rate-limits",
	"/profile",
	"/checkout?session=abc",
	"/dashboard/../admin/users",
	"/ngox",
}

func TestGuard_LoadingWinsOverEverything(t *testing.T) {
	g := NewGuard(nil)

	sessions := []Session{
		{Loading: true},
		{Loading: true, Authenticated: true, Role: user.RoleAdmin},
		{Loading: true, Authenticated: true, Role: user.RoleSimpleUser},
	}

	for _, s := range sessions {
		d := g.Evaluate(s, "/admin/users", Requirement{RequiredRole: user.RoleNGO})
		if d.Outcome != OutcomeLoading {
			t.Fatalf("session %+v: expected loading, got %+v", s, d)
		}
		if d.Location != "" {
			t.Fatalf("loading decision should not carry a location: %+v", d)
		}
	}
}

func TestGuard_UnauthenticatedGoesToAuth(t *testing.T) {
	d := NewGuard(nil).Evaluate(Session{}, "/dashboard", Requirement{})

	if d.Outcome != OutcomeRedirect || d.Location != AuthPath || !d.Replace {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestGuard_SimpleUserOnAdminPageRedirectsHome(t *testing.T) {
	d := NewGuard(nil).Evaluate(
		Session{Authenticated: true, Role: user.RoleSimpleUser},
		"/admin/users",
		Requirement{},
	)

	if d.Outcome != OutcomeRedirect {
		t.Fatalf("expected redirect, got %+v", d)
	}
	if d.Location != "/dashboard" {
		t.Fatalf("expected /dashboard, got %q", d.Location)
	}
}

// every (role, path) outcome must agree with the routing table
func TestGuard_AgreesWithTable(t *testing.T) {
	g := NewGuard(nil)
	table := g.Table()

	for _, role := range user.Roles {
		for _, p := range samplePaths {
			d := g.Evaluate(Session{Authenticated: true, Role: role}, p, Requirement{})
			allowed := table.CheckAccess(role, p)

			if allowed && d.Outcome != OutcomeRender {
				t.Fatalf("role=%s path=%s: allowed by table but got %+v", role, p, d)
			}
			if !allowed {
				if d.Outcome != OutcomeRedirect {
					t.Fatalf("role=%s path=%s: denied by table but got %+v", role, p, d)
				}
				if d.Location != table.Home(role) {
					t.Fatalf("role=%s path=%s: redirected to %q, want %q", role, p, d.Location, table.Home(role))
				}
			}
		}
	}
}

func TestGuard_RoleRequirements(t *testing.T) {
	g := NewGuard(nil)
	ngo := Session{Authenticated: true, Role: user.RoleNGO}

	tests := []struct {
		name    string
		req     Requirement
		want    Outcome
		wantLoc string
	}{
		{"no requirement", Requirement{}, OutcomeRender, ""},
		{"required match", Requirement{RequiredRole: user.RoleNGO}, OutcomeRender, ""},
		{"required mismatch", Requirement{RequiredRole: user.RoleCarbon}, OutcomeRedirect, "/ngo/dashboard"},
		{"allowed includes", Requirement{AllowedRoles: []user.Role{user.RoleAdmin, user.RoleNGO}}, OutcomeRender, ""},
		{"allowed excludes", Requirement{AllowedRoles: []user.Role{user.RoleAdmin}}, OutcomeRedirect, "/ngo/dashboard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Evaluate(ngo, "/ngo/dashboard", tt.req)
			if d.Outcome != tt.want || d.Location != tt.wantLoc {
				t.Fatalf("got %+v, want outcome=%s location=%q", d, tt.want, tt.wantLoc)
			}
		})
	}
}

func TestTable_CheckAccess(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		role user.Role
		path string
		want bool
	}{
		{user.RoleSimpleUser, "/dashboard", true},
		{user.RoleSimpleUser, "/admin/users", false},
		{user.RoleSimpleUser, "/dashboard/../admin/users", false},
		{user.RoleSimpleUser, "/profile", true},
		{user.RoleNGO, "/ngo/dashboard", true},
		{user.RoleNGO, "/ngox", false},
		{user.RoleCorporate, "/carbon/marketplace/listings", true},
		{user.RoleCorporate, "/carbon/dashboard", false},
		{user.RoleCarbon, "/carbon/dashboard", true},
		{user.RoleAdmin, "/ngo/dashboard", true},
		{user.RoleAdmin, "/admin/users", true},
		{user.Role("ghost"), "/profile", false},
	}

	for _, tt := range tests {
		if got := table.CheckAccess(tt.role, tt.path); got != tt.want {
			t.Fatalf("CheckAccess(%s, %s) = %v, want %v", tt.role, tt.path, got, tt.want)
		}
	}
}

func TestTable_HomeForUnknownRole(t *testing.T) {
	if got := DefaultTable().Home(user.Role("ghost")); got != AuthPath {
		t.Fatalf("expected %s, got %s", AuthPath, got)
	}
}
