package user

import (
	"strings"

	"github.com/trezcool/darasa/core"
)

// ErrRoleForbidden is returned by RequireRole when the principal holds none of the required roles.
var ErrRoleForbidden = core.NewForbiddenError("your role does not allow this operation")

// Principal is the authenticated caller of a core operation.
type Principal struct {
	ID    string
	Roles []string
}

// HasRole reports whether any of the principal's roles starts with role ("admin:" matches "admin:owner").
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if strings.HasPrefix(r, role) {
			return true
		}
	}
	return false
}

func (p Principal) IsAdmin() bool   { return p.HasRole(RoleAdmin) }
func (p Principal) IsTeacher() bool { return p.HasRole(RoleTeacher) }
func (p Principal) IsStudent() bool { return p.HasRole(RoleStudent) }

// RequireRole is the capability check every core operation starts with.
func RequireRole(p Principal, roles ...string) error {
	if p.ID == "" {
		return ErrRoleForbidden
	}
	for _, role := range roles {
		if p.HasRole(role) {
			return nil
		}
	}
	return ErrRoleForbidden
}
