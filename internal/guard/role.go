package guard

import (
	"context"
	"net/http"
	"strings"

	"github.com/civic-access/civic-access/internal/principal"
)

// RoleGuard allows principals whose role is in the allowed set. ADMIN is not
// implicitly allowed.
type RoleGuard struct {
	allowed []principal.Role
}

// Roles returns a RoleGuard for the given roles.
func Roles(allowed ...principal.Role) *RoleGuard {
	roles := make([]principal.Role, len(allowed))
	copy(roles, allowed)
	return &RoleGuard{allowed: roles}
}

// Name implements Guard.
func (g *RoleGuard) Name() string {
	return "role(" + strings.Join(g.allowedNames(), ",") + ")"
}

// Check denies with INSUFFICIENT_PERMISSIONS when the role is not allowed.
func (g *RoleGuard) Check(ctx context.Context, in *Input) Decision {
	p, denied, ok := requirePrincipal(in)
	if !ok {
		return denied
	}
	for _, r := range g.allowed {
		if p.Role == r {
			return Allow()
		}
	}
	return Deny(http.StatusForbidden, CodeInsufficientPermissions, "Insufficient permissions").
		WithDetail("attemptedRole", string(p.Role)).
		WithDetail("requiredRoles", g.allowedNames()).
		WithDetail("endpoint", in.Endpoint())
}

func (g *RoleGuard) allowedNames() []string {
	names := make([]string, len(g.allowed))
	for i, r := range g.allowed {
		names[i] = string(r)
	}
	return names
}
