package principal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/civic-access/civic-access/internal/platform/db"
)

// ErrNotFound indicates that no active principal exists for the id.
var ErrNotFound = errors.New("principal: not found")

// Store resolves principals by id. Implementations must reflect deletions and
// role changes immediately.
type Store interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Principal, error)
}

// PGStore reads principals from the users table.
type PGStore struct {
	db db.Querier
}

// NewPGStore constructs a PostgreSQL backed Store.
func NewPGStore(q db.Querier) *PGStore {
	return &PGStore{db: q}
}

const findPrincipalSQL = `SELECT id, email, name, role, is_active, created_at, updated_at
FROM users
WHERE id = $1 AND deleted_at IS NULL`

// FindByID loads the principal. Inactive accounts are reported as ErrNotFound.
func (s *PGStore) FindByID(ctx context.Context, id uuid.UUID) (*Principal, error) {
	var (
		p    Principal
		role string
	)
	err := s.db.QueryRow(ctx, findPrincipalSQL, id).Scan(&p.ID, &p.Email, &p.Name, &role, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("principal: find by id: %w", err)
	}
	if !p.Active {
		return nil, ErrNotFound
	}
	parsed, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	p.Role = parsed
	return &p, nil
}

var _ Store = (*PGStore)(nil)
