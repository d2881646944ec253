package auth

import (
	"errors"
	"strings"
	"time"
)

var ErrUnauthorized = errors.New("unauthorized")

const (
	RoleService   = "SERVICE"
	RoleModerator = "MODERATOR"
	RoleAdmin     = "ADMIN"
	RoleViewer    = "VIEWER"
)

type AccessClaims struct {
	Subject   string
	Role      string
	ExpiresAt time.Time
}

// NormalizeRole returns the upper-case role name, or "" for unknown roles.
func NormalizeRole(role string) string {
	switch r := strings.ToUpper(strings.TrimSpace(role)); r {
	case RoleService, RoleModerator, RoleAdmin, RoleViewer:
		return r
	default:
		return ""
	}
}
