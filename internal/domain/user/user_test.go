package user

import (
	"slices"
	"testing"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "ngo", want: RoleNGO},
		{in: " Admin ", want: RoleAdmin},
		{in: "simple-user", want: RoleSimpleUser},
		{in: "superuser", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseRole(tt.in)

		if tt.wantErr {
			if err != ErrInvalidRole {
				t.Fatalf("ParseRole(%q): expected ErrInvalidRole, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseRole(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestPortalAccessFor(t *testing.T) {
	if got := PortalAccessFor(RoleSimpleUser); !slices.Equal(got, []string{PortalUser}) {
		t.Fatalf("simple-user portals: %v", got)
	}

	admin := PortalAccessFor(RoleAdmin)
	if !slices.Contains(admin, PortalAdmin) || len(admin) != 5 {
		t.Fatalf("admin should see every portal, got %v", admin)
	}

	if got := PortalAccessFor(Role("ghost")); len(got) != 0 {
		t.Fatalf("unknown role should see nothing, got %v", got)
	}
}

func TestWithPortalAccess(t *testing.T) {
	u := User{Role: RoleCarbon}.WithPortalAccess()

	if !slices.Equal(u.PortalAccess, []string{PortalCarbon}) {
		t.Fatalf("unexpected portals: %v", u.PortalAccess)
	}
}
