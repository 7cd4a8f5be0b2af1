package comments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/civic-access/civic-access/internal/platform/db"
)

// Repository persists comments. Update and Delete return the prior state so
// the caller can audit the change.
type Repository interface {
	Create(ctx context.Context, c *Comment) error
	Get(ctx context.Context, id uuid.UUID) (*Comment, error)
	Update(ctx context.Context, id uuid.UUID, mutate func(*Comment)) (before, after *Comment, err error)
	Delete(ctx context.Context, id uuid.UUID) (*Comment, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool db.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool db.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const commentColumns = `id, place_id, user_id, content, visible, created_at, updated_at`

// Create inserts c and fills its timestamps.
func (r *PGRepository) Create(ctx context.Context, c *Comment) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO comments (id, place_id, user_id, content, visible)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		c.ID, c.PlaceID, c.AuthorID, c.Content, c.Visible,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("comments: create: %w", err)
	}
	return nil
}

// Get loads one comment.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (*Comment, error) {
	return getComment(ctx, r.pool, id, false)
}

// Update locks the row, applies mutate and stores the result.
func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, mutate func(*Comment)) (*Comment, *Comment, error) {
	var before, after *Comment
	err := db.WithTx(ctx, r.pool, func(q db.Querier) error {
		current, err := getComment(ctx, q, id, true)
		if err != nil {
			return err
		}
		before = current.Clone()
		mutate(current)
		err = q.QueryRow(ctx,
			`UPDATE comments SET content = $2, visible = $3, updated_at = now()
			 WHERE id = $1
			 RETURNING updated_at`,
			id, current.Content, current.Visible,
		).Scan(&current.UpdatedAt)
		if err != nil {
			return fmt.Errorf("comments: update: %w", err)
		}
		after = current
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

// Delete removes the comment and returns what was deleted.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) (*Comment, error) {
	var deleted *Comment
	err := db.WithTx(ctx, r.pool, func(q db.Querier) error {
		current, err := getComment(ctx, q, id, true)
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `DELETE FROM comments WHERE id = $1`, id); err != nil {
			return fmt.Errorf("comments: delete: %w", err)
		}
		deleted = current
		return nil
	})
	return deleted, err
}

func getComment(ctx context.Context, q db.Querier, id uuid.UUID, forUpdate bool) (*Comment, error) {
	sql := `SELECT ` + commentColumns + ` FROM comments WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var c Comment
	err := q.QueryRow(ctx, sql, id).Scan(&c.ID, &c.PlaceID, &c.AuthorID, &c.Content, &c.Visible, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("comments: get: %w", err)
	}
	return &c, nil
}

var _ Repository = (*PGRepository)(nil)
