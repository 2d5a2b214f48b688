package user

const (
	PortalUser      = "user"
	PortalNGO       = "ngo"
	PortalCorporate = "corporate"
	PortalCarbon    = "carbon"
	PortalAdmin     = "admin"
)

// PortalAccessFor derives the portals a role may open. Admins see everything.
func PortalAccessFor(r Role) []string {
	switch r {
	case RoleSimpleUser:
		return []string{PortalUser}
	case RoleNGO:
		return []string{PortalNGO}
	case RoleCorporate:
		return []string{PortalCorporate, PortalCarbon}
	case RoleCarbon:
		return []string{PortalCarbon}
	case RoleAdmin:
		return []string{PortalUser, PortalNGO, PortalCorporate, PortalCarbon, PortalAdmin}
	default:
		return []string{}
	}
}
