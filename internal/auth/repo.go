package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/civic-access/civic-access/internal/platform/db"
	"github.com/civic-access/civic-access/internal/principal"
)

// ErrUnknownEmail is returned when no account matches the email.
var ErrUnknownEmail = errors.New("auth: unknown email")

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Credentials, error)
	TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db db.Querier
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(q db.Querier) *PGRepository {
	return &PGRepository{db: q}
}

const findCredentialsSQL = `SELECT id, email, name, role, password_hash, is_active
FROM users
WHERE lower(email) = lower($1) AND deleted_at IS NULL`

// FindByEmail fetches login credentials by email, case-insensitively.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Credentials, error) {
	var (
		c    Credentials
		role string
	)
	err := r.db.QueryRow(ctx, findCredentialsSQL, email).Scan(&c.ID, &c.Email, &c.Name, &role, &c.PasswordHash, &c.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnknownEmail
		}
		return nil, fmt.Errorf("auth: find by email: %w", err)
	}
	parsed, err := principal.ParseRole(role)
	if err != nil {
		return nil, err
	}
	c.Role = parsed
	return &c, nil
}

// TouchLogin records the last successful login time.
func (r *PGRepository) TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("auth: touch login: %w", err)
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
