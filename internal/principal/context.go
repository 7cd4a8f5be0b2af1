package principal

import "context"

type principalContextKey struct{}

type identityContextKey struct{}

// WithPrincipal stores the resolved principal in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// FromContext extracts the resolved principal from ctx.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok && p != nil
}

// WithIdentity stores the optional-resolution result in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the optional-resolution result. Requests that
// never ran identity resolution are reported as anonymous without a cause.
func IdentityFromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityContextKey{}).(Identity); ok {
		return id
	}
	if p, ok := FromContext(ctx); ok {
		return Authenticated(p)
	}
	return Anonymous(nil)
}
