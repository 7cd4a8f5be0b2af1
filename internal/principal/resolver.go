package principal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/civic-access/civic-access/internal/token"
)

// ErrMissingCredentials indicates an absent or malformed Authorization header.
var ErrMissingCredentials = errors.New("principal: missing bearer credentials")

// Failure codes returned to clients.
const (
	CodeAuthError      = "AUTH_ERROR"
	CodeTokenExpired   = "TOKEN_EXPIRED"
	CodeTokenInvalid   = "TOKEN_INVALID"
	CodeTokenNotBefore = "TOKEN_NOT_BEFORE"
	CodeUserNotFound   = "USER_NOT_FOUND"
	CodeInternal       = "INTERNAL_ERROR"
)

// Verifier verifies bearer tokens; satisfied by *token.Service.
type Verifier interface {
	Verify(raw string) (*token.Claims, error)
}

// Resolver turns an Authorization header into a freshly loaded principal.
type Resolver struct {
	tokens Verifier
	store  Store
}

// NewResolver constructs a Resolver.
func NewResolver(tokens Verifier, store Store) *Resolver {
	return &Resolver{tokens: tokens, store: store}
}

// Resolve is the mandatory variant: every failure is returned.
func (r *Resolver) Resolve(ctx context.Context, authorization string) (*Principal, error) {
	raw, err := BearerToken(authorization)
	if err != nil {
		return nil, err
	}
	claims, err := r.tokens.Verify(raw)
	if err != nil {
		return nil, err
	}
	p, err := r.store.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ResolveRequest resolves the principal for r.
func (r *Resolver) ResolveRequest(req *http.Request) (*Principal, error) {
	return r.Resolve(req.Context(), req.Header.Get("Authorization"))
}

// ResolveOptional never fails. A request without credentials is anonymous
// with a nil cause; any verification or lookup failure is anonymous with
// that failure as the cause.
func (r *Resolver) ResolveOptional(ctx context.Context, authorization string) Identity {
	if strings.TrimSpace(authorization) == "" {
		return Anonymous(nil)
	}
	p, err := r.Resolve(ctx, authorization)
	if err != nil {
		return Anonymous(err)
	}
	return Authenticated(p)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(authorization string) (string, error) {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return "", ErrMissingCredentials
	}
	scheme, raw, ok := strings.Cut(authorization, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("%w: expected bearer scheme", ErrMissingCredentials)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.ContainsAny(raw, " \t") {
		return "", fmt.Errorf("%w: empty token", ErrMissingCredentials)
	}
	return raw, nil
}

// Failure is the HTTP rendering of an identity failure.
type Failure struct {
	Status  int
	Code    string
	Message string
}

// FailureFor maps a resolution error to its HTTP status and code. Unknown
// errors map to 500 so a broken store is never reported as a client error.
func FailureFor(err error) Failure {
	switch {
	case errors.Is(err, ErrMissingCredentials):
		return Failure{Status: http.StatusUnauthorized, Code: CodeAuthError, Message: "Authentication required"}
	case errors.Is(err, token.ErrExpired):
		return Failure{Status: http.StatusUnauthorized, Code: CodeTokenExpired, Message: "Token expired"}
	case errors.Is(err, token.ErrNotYetValid):
		return Failure{Status: http.StatusUnauthorized, Code: CodeTokenNotBefore, Message: "Token not yet valid"}
	case errors.Is(err, token.ErrMalformed), errors.Is(err, token.ErrSignatureInvalid):
		return Failure{Status: http.StatusUnauthorized, Code: CodeTokenInvalid, Message: "Invalid token"}
	case errors.Is(err, ErrNotFound):
		return Failure{Status: http.StatusUnauthorized, Code: CodeUserNotFound, Message: "User not found"}
	default:
		return Failure{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "Authentication unavailable"}
	}
}
