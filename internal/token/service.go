// Package token issues and verifies the bearer tokens presented on the
// Authorization header. Tokens are HS256 JWTs signed with one secret; the
// algorithm is pinned by the verifier and never taken from the token header.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultLeeway is the clock skew tolerated on iat, nbf and exp.
const DefaultLeeway = 30 * time.Second

// Verification failures. Every one of them is terminal for the request.
var (
	ErrMalformed        = errors.New("token: malformed")
	ErrExpired          = errors.New("token: expired")
	ErrNotYetValid      = errors.New("token: not yet valid")
	ErrSignatureInvalid = errors.New("token: signature invalid")
)

var allowedMethods = []string{jwt.SigningMethodHS256.Alg()}

// knownRoles mirrors the roles principals can hold.
var knownRoles = map[string]bool{"ADMIN": true, "USER": true}

// Config is the immutable signing policy built once at startup.
type Config struct {
	Secret     string
	TTL        TTL
	Issuer     string
	Leeway     time.Duration
	Production bool
}

// Subject is the identity embedded in an issued token.
type Subject struct {
	UserID uuid.UUID
	Email  string
	Role   string
}

// Claims are the verified contents of a token.
type Claims struct {
	ID        string
	UserID    uuid.UUID
	Email     string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issued is a freshly signed token.
type Issued struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type wireClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service signs and verifies tokens.
type Service struct {
	secret  []byte
	ttl     time.Duration
	issuer  string
	leeway  time.Duration
	now     func() time.Time
	warning error
}

// NewService validates cfg and constructs a Service. A secret failing
// CheckSecret is fatal in production; elsewhere it is kept as Warning.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("%w: empty", ErrWeakSecret)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrInvalidTTL)
	}
	var warning error
	if err := CheckSecret(cfg.Secret, cfg.Production); err != nil {
		if cfg.Production {
			return nil, err
		}
		warning = err
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	s := &Service{
		secret:  []byte(cfg.Secret),
		ttl:     cfg.TTL.Duration(),
		issuer:  strings.TrimSpace(cfg.Issuer),
		leeway:  leeway,
		now:     time.Now,
		warning: warning,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Warning returns the non-fatal self-check failure, if any.
func (s *Service) Warning() error {
	return s.warning
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for sub valid for the configured TTL.
func (s *Service) Issue(sub Subject) (Issued, error) {
	if sub.UserID == uuid.Nil {
		return Issued{}, errors.New("token: subject id required")
	}
	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(s.ttl)
	claims := wireClaims{
		UserID: sub.UserID.String(),
		Email:  sub.Email,
		Role:   sub.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sub.UserID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("token: sign: %w", err)
	}
	return Issued{Token: signed, ExpiresAt: exp}, nil
}

// Verify checks the signature and time claims of raw and returns its claims.
func (s *Service) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformed
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(allowedMethods),
		jwt.WithLeeway(s.leeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	parser := jwt.NewParser(opts...)

	var wc wireClaims
	_, err := parser.ParseWithClaims(raw, &wc, s.keyFunc)
	if err != nil {
		return nil, classify(err)
	}

	userID, err := uuid.Parse(wc.UserID)
	if err != nil || userID == uuid.Nil {
		return nil, fmt.Errorf("%w: userId", ErrMalformed)
	}
	if wc.Subject != "" && wc.Subject != wc.UserID {
		return nil, fmt.Errorf("%w: subject mismatch", ErrMalformed)
	}
	if !knownRoles[wc.Role] {
		return nil, fmt.Errorf("%w: role %q", ErrMalformed, wc.Role)
	}
	claims := &Claims{
		ID:     wc.ID,
		UserID: userID,
		Email:  wc.Email,
		Role:   wc.Role,
	}
	if wc.IssuedAt != nil {
		claims.IssuedAt = wc.IssuedAt.Time
	}
	if wc.ExpiresAt != nil {
		claims.ExpiresAt = wc.ExpiresAt.Time
	}
	return claims, nil
}

func (s *Service) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	return s.secret, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %v", ErrNotYetValid, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
