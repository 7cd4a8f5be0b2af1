// Package users serves user profiles. Profiles are readable by their owner
// and admins; only the owner may edit one.
package users

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/civic-access/civic-access/internal/platform/httpx"
	"github.com/civic-access/civic-access/internal/principal"
)

// ErrNotFound is returned when no live user matches.
var ErrNotFound = fmt.Errorf("user: %w", httpx.ErrNotFound)

// User represents a user profile.
type User struct {
	ID        uuid.UUID      `json:"id"`
	Email     string         `json:"email"`
	Name      string         `json:"name"`
	Role      principal.Role `json:"role"`
	IsActive  bool           `json:"isActive"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// ProfileUpdate carries the self-editable fields.
type ProfileUpdate struct {
	Name string `json:"name" validate:"required,min=2,max=120"`
}
