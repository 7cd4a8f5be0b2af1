// Package comments serves user comments on accessibility places. It is the
// reference resource for ownership-guarded mutations.
package comments

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/civic-access/civic-access/internal/platform/httpx"
)

// ErrNotFound is returned when a comment does not exist.
var ErrNotFound = fmt.Errorf("comment: %w", httpx.ErrNotFound)

// Comment is a user comment on a place.
type Comment struct {
	ID        uuid.UUID `json:"id"`
	PlaceID   uuid.UUID `json:"placeId"`
	AuthorID  uuid.UUID `json:"authorId"`
	Content   string    `json:"content"`
	Visible   bool      `json:"visible"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a copy safe to mutate.
func (c *Comment) Clone() *Comment {
	cp := *c
	return &cp
}

type createRequest struct {
	PlaceID string `json:"placeId" validate:"required,uuid"`
	Content string `json:"content" validate:"required,min=1,max=2000"`
}

type updateRequest struct {
	Content string `json:"content" validate:"required,min=1,max=2000"`
}

type visibilityRequest struct {
	Visible *bool  `json:"visible" validate:"required"`
	Reason  string `json:"reason" validate:"max=500"`
}
