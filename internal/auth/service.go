package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/civic-access/civic-access/internal/token"
)

// ErrInvalidCredentials is the only failure reported to clients.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// Failure reasons recorded in LOGIN_FAILED entries.
const (
	ReasonUnknownEmail = "unknown_email"
	ReasonInactive     = "inactive_account"
	ReasonBadPassword  = "bad_password"
)

// LoginError describes a rejected login. It matches ErrInvalidCredentials.
type LoginError struct {
	Reason string
	// Account is set when the email matched an account.
	Account *Credentials
}

func (e *LoginError) Error() string { return ErrInvalidCredentials.Error() + ": " + e.Reason }

// Unwrap implements errors.Unwrap.
func (e *LoginError) Unwrap() error { return ErrInvalidCredentials }

// Issuer signs tokens for authenticated accounts.
type Issuer interface {
	Issue(sub token.Subject) (token.Issued, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	tokens Issuer
	logger *slog.Logger
	now    func() time.Time
	// dummyHash keeps unknown-email logins as slow as bad passwords.
	dummyHash []byte
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens Issuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("civic-access-timing-guard"), bcrypt.DefaultCost)
	return &Service{repo: repo, tokens: tokens, logger: logger, now: time.Now, dummyHash: dummy}
}

// Login validates email/password credentials and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	creds, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUnknownEmail) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, &LoginError{Reason: ReasonUnknownEmail}
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return nil, &LoginError{Reason: ReasonBadPassword, Account: creds}
	}
	if !creds.IsActive {
		return nil, &LoginError{Reason: ReasonInactive, Account: creds}
	}
	issued, err := s.tokens.Issue(token.Subject{UserID: creds.ID, Email: creds.Email, Role: string(creds.Role)})
	if err != nil {
		return nil, err
	}
	if err := s.repo.TouchLogin(ctx, creds.ID, s.now()); err != nil {
		s.logger.Warn("record login time", slog.String("user_id", creds.ID.String()), slog.Any("error", err))
	}
	return newSession(creds, issued), nil
}
