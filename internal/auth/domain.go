package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/civic-access/civic-access/internal/principal"
	"github.com/civic-access/civic-access/internal/token"
)

// Credentials is the login view of a user account.
type Credentials struct {
	ID           uuid.UUID
	Email        string
	Name         string
	Role         principal.Role
	PasswordHash string
	IsActive     bool
}

// Principal returns the public part of the account.
func (c *Credentials) Principal() *principal.Principal {
	return &principal.Principal{ID: c.ID, Email: c.Email, Name: c.Name, Role: c.Role, Active: c.IsActive}
}

// Session is returned by a successful login.
type Session struct {
	Token     string               `json:"token"`
	ExpiresAt time.Time            `json:"expiresAt"`
	User      *principal.Principal `json:"user"`
}

func newSession(c *Credentials, issued token.Issued) *Session {
	return &Session{Token: issued.Token, ExpiresAt: issued.ExpiresAt, User: c.Principal()}
}
