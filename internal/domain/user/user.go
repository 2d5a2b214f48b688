package user

import (
	"errors"
	"strings"
	"time"
)

type Role string

const (
	RoleSimpleUser Role = "simple-user"
	RoleNGO        Role = "ngo"
	RoleCorporate  Role = "corporate"
	RoleCarbon     Role = "carbon"
	RoleAdmin      Role = "admin"
)

// Roles lists every role in display order.
var Roles = []Role{RoleSimpleUser, RoleNGO, RoleCorporate, RoleCarbon, RoleAdmin}

func (r Role) IsValid() bool {
	switch r {
	case RoleSimpleUser, RoleNGO, RoleCorporate, RoleCarbon, RoleAdmin:
		return true
	default:
		return false
	}
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))

	if !r.IsValid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	default:
		return false
	}
}

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrEmailAlreadyUsed = errors.New("email already in use")
	ErrInvalidRole      = errors.New("invalid role")
	ErrInvalidStatus    = errors.New("invalid status")
)

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // never expose hash in JSON
	Name         string     `json:"name"`
	Role         Role       `json:"role"`
	PortalAccess []string   `json:"portalAccess"`
	Status       Status     `json:"status"`
	JoinDate     time.Time  `json:"joinDate"`
	LastActive   *time.Time `json:"lastActive,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// WithPortalAccess fills PortalAccess from the role. Stored rows never carry it.
func (u User) WithPortalAccess() User {
	u.PortalAccess = PortalAccessFor(u.Role)
	return u
}

type ListFilter struct {
	Search *string
	Role   *Role
	Status *Status
	Limit  int
	Offset int
}

type Stats struct {
	Total     int          `json:"total"`
	Active    int          `json:"active"`
	Inactive  int          `json:"inactive"`
	Suspended int          `json:"suspended"`
	ByRole    map[Role]int `json:"byRole"`
}

// UpdateRequest is a partial update; nil fields are left untouched.
type UpdateRequest struct {
	Name   *string `json:"name" binding:"omitempty,min=2,max=120"`
	Role   *Role   `json:"role" binding:"omitempty,oneof=simple-user ngo corporate carbon admin"`
	Status *Status `json:"status" binding:"omitempty,oneof=active inactive suspended"`
}

func (r UpdateRequest) IsEmpty() bool {
	return r.Name == nil && r.Role == nil && r.Status == nil
}
