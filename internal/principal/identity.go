package principal

// Identity is the result of optional resolution: either an authenticated
// principal or anonymous. Anonymous carries the reason resolution failed so
// "no token supplied" and "token rejected" stay distinguishable.
type Identity struct {
	principal *Principal
	cause     error
}

// Authenticated wraps a resolved principal.
func Authenticated(p *Principal) Identity {
	return Identity{principal: p}
}

// Anonymous builds an unauthenticated identity. cause is nil when the request
// carried no credentials.
func Anonymous(cause error) Identity {
	return Identity{cause: cause}
}

// Principal returns the principal when authenticated.
func (i Identity) Principal() (*Principal, bool) {
	return i.principal, i.principal != nil
}

// IsAnonymous reports whether no principal was resolved.
func (i Identity) IsAnonymous() bool {
	return i.principal == nil
}

// Cause is the resolution failure for anonymous identities that presented
// credentials.
func (i Identity) Cause() error {
	return i.cause
}
