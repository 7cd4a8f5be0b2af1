package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidFilters reports an unusable query.
var ErrInvalidFilters = errors.New("audit: invalid filters")

// Query limits.
const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 500
)

// Filters narrows an audit query. Zero values are ignored.
type Filters struct {
	ActorID      *uuid.UUID
	ResourceID   string
	ResourceType string
	Action       string
	From         time.Time
	To           time.Time
	Limit        int
}

// Normalize applies the default and maximum limit and checks the time range.
func (f Filters) Normalize() (Filters, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return f, ErrInvalidFilters
	}
	return f, nil
}

// Match reports whether e satisfies every set filter.
func (f Filters) Match(e Entry) bool {
	if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.From.IsZero() && e.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.OccurredAt.After(f.To) {
		return false
	}
	return true
}

// Sink is the durable append-only store behind the trail. Query returns
// entries newest first, at most f.Limit of them.
type Sink interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, f Filters) ([]Entry, error)
}

// MemorySink keeps entries in process memory. It backs AUDIT_SINK=memory in
// development and the handler tests.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemorySink constructs an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append stores e.
func (s *MemorySink) Append(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// Query returns matching entries newest first.
func (s *MemorySink) Query(ctx context.Context, f Filters) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0)
	for _, e := range s.entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Entries returns a copy of everything stored, oldest first.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Count returns the number of stored entries with the given action.
func (s *MemorySink) Count(action string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

var _ Sink = (*MemorySink)(nil)
