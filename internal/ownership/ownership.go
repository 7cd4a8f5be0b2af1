// Package ownership provides the ownership predicates behind guard.OwnershipGuard.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/civic-access/civic-access/internal/guard"
	"github.com/civic-access/civic-access/internal/platform/db"
)

// Table names the owner column of a resource table.
type Table struct {
	Name        string
	OwnerColumn string
}

// Tables maps ownable resource types to their storage.
var Tables = map[guard.ResourceType]Table{
	guard.ResourceComment:        {Name: "comments", OwnerColumn: "user_id"},
	guard.ResourceLike:           {Name: "likes", OwnerColumn: "user_id"},
	guard.ResourceMobilityReport: {Name: "mobility_reports", OwnerColumn: "user_id"},
	guard.ResourceVehicle:        {Name: "vehicles", OwnerColumn: "owner_id"},
	guard.ResourceProfessional:   {Name: "professionals", OwnerColumn: "user_id"},
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ColumnPredicate compares the owner column of one row with the principal.
type ColumnPredicate struct {
	db  db.Querier
	sql string
}

// NewColumnPredicate builds a predicate over t. Identifiers are validated and
// quoted; only the resource id is bound at query time.
func NewColumnPredicate(q db.Querier, t Table) (*ColumnPredicate, error) {
	if !identifierPattern.MatchString(t.Name) || !identifierPattern.MatchString(t.OwnerColumn) {
		return nil, fmt.Errorf("ownership: invalid identifier %q.%q", t.Name, t.OwnerColumn)
	}
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1",
		pgx.Identifier{t.OwnerColumn}.Sanitize(),
		pgx.Identifier{t.Name}.Sanitize(),
	)
	return &ColumnPredicate{db: q, sql: sql}, nil
}

// IsOwner implements guard.Predicate. Rows without an owner belong to nobody.
func (p *ColumnPredicate) IsOwner(ctx context.Context, resourceID, principalID uuid.UUID) (bool, error) {
	var owner pgtype.UUID
	if err := p.db.QueryRow(ctx, p.sql, resourceID).Scan(&owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, guard.ErrResourceNotFound
		}
		return false, fmt.Errorf("ownership: lookup: %w", err)
	}
	if !owner.Valid {
		return false, nil
	}
	return uuid.UUID(owner.Bytes) == principalID, nil
}

// Self is the predicate for user profiles: a principal owns only itself.
var Self = guard.PredicateFunc(func(ctx context.Context, resourceID, principalID uuid.UUID) (bool, error) {
	return resourceID == principalID, nil
})

// RegisterDefaults registers the table predicates and the user self
// predicate in reg.
func RegisterDefaults(reg *guard.Registry, q db.Querier) error {
	for rt, t := range Tables {
		p, err := NewColumnPredicate(q, t)
		if err != nil {
			return err
		}
		if err := reg.Register(rt, p); err != nil {
			return err
		}
	}
	return reg.Register(guard.ResourceUser, Self)
}

var _ guard.Predicate = (*ColumnPredicate)(nil)
