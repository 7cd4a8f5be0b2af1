package guard

import (
	"context"
	"net/http"

	"github.com/civic-access/civic-access/internal/principal"
)

// IdentityResolver is the subset of *principal.Resolver used by guards.
type IdentityResolver interface {
	Resolve(ctx context.Context, authorization string) (*principal.Principal, error)
	ResolveOptional(ctx context.Context, authorization string) principal.Identity
}

// AuthenticatedGuard requires a verified token for an existing principal.
// It must be the first guard of any pipeline that reads the principal.
type AuthenticatedGuard struct {
	resolver IdentityResolver
}

// Authenticated returns the mandatory identity guard.
func Authenticated(resolver IdentityResolver) *AuthenticatedGuard {
	return &AuthenticatedGuard{resolver: resolver}
}

// Name implements Guard.
func (g *AuthenticatedGuard) Name() string { return "authenticated" }

// Check resolves the principal and attaches it to the input.
func (g *AuthenticatedGuard) Check(ctx context.Context, in *Input) Decision {
	p, err := g.resolver.Resolve(ctx, authorization(in))
	if err != nil {
		f := principal.FailureFor(err)
		return Deny(f.Status, f.Code, f.Message).WithErr(err)
	}
	in.Principal = p
	in.Identity = principal.Authenticated(p)
	return Allow()
}

// OptionalIdentityGuard resolves a principal when credentials are present and
// never denies. Only for routes whose behaviour changes with a known caller.
type OptionalIdentityGuard struct {
	resolver IdentityResolver
}

// OptionalIdentity returns the optional identity guard.
func OptionalIdentity(resolver IdentityResolver) *OptionalIdentityGuard {
	return &OptionalIdentityGuard{resolver: resolver}
}

// Name implements Guard.
func (g *OptionalIdentityGuard) Name() string { return "optional_identity" }

// Check records the identity; anonymous callers continue.
func (g *OptionalIdentityGuard) Check(ctx context.Context, in *Input) Decision {
	id := g.resolver.ResolveOptional(ctx, authorization(in))
	in.Identity = id
	if p, ok := id.Principal(); ok {
		in.Principal = p
	}
	return Allow()
}

func authorization(in *Input) string {
	if in.Request == nil {
		return ""
	}
	return in.Request.Header.Get("Authorization")
}

func requirePrincipal(in *Input) (*principal.Principal, Decision, bool) {
	if in.Principal == nil {
		return nil, Deny(http.StatusUnauthorized, principal.CodeAuthError, "Authentication required"), false
	}
	return in.Principal, Allow(), true
}
