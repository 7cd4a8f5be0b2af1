package guard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrResourceNotFound is returned by predicates when the resource does not
// exist. It is reported separately from an ownership mismatch.
var ErrResourceNotFound = errors.New("guard: resource not found")

// Predicate decides whether principalID owns resourceID.
type Predicate interface {
	IsOwner(ctx context.Context, resourceID, principalID uuid.UUID) (bool, error)
}

// PredicateFunc adapts a function into a Predicate.
type PredicateFunc func(ctx context.Context, resourceID, principalID uuid.UUID) (bool, error)

// IsOwner implements Predicate.
func (f PredicateFunc) IsOwner(ctx context.Context, resourceID, principalID uuid.UUID) (bool, error) {
	return f(ctx, resourceID, principalID)
}

// Registry maps resource types to ownership predicates. It is filled at
// startup and frozen before serving.
type Registry struct {
	mu         sync.RWMutex
	predicates map[ResourceType]Predicate
	frozen     bool
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{predicates: make(map[ResourceType]Predicate)}
}

// Register binds p to rt. Each resource type may be registered once.
func (r *Registry) Register(rt ResourceType, p Predicate) error {
	if p == nil {
		return fmt.Errorf("guard: nil predicate for %s", rt)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("guard: registry frozen, cannot register %s", rt)
	}
	if _, exists := r.predicates[rt]; exists {
		return fmt.Errorf("guard: predicate for %s already registered", rt)
	}
	r.predicates[rt] = p
	return nil
}

// Lookup returns the predicate for rt.
func (r *Registry) Lookup(rt ResourceType) (Predicate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.predicates[rt]
	return p, ok
}

// Freeze rejects further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Types lists registered resource types in name order.
func (r *Registry) Types() []ResourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]ResourceType, 0, len(r.predicates))
	for rt := range r.predicates {
		types = append(types, rt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Access selects whether admins bypass the ownership check.
type Access int

const (
	// AccessBroad lets ADMIN act on any resource; others must own it.
	AccessBroad Access = iota
	// AccessStrict requires ownership from everyone, ADMIN included.
	AccessStrict
)

func (a Access) String() string {
	if a == AccessStrict {
		return "strict"
	}
	return "broad"
}

// Ownership outcomes recorded on denial.
const (
	OutcomeNotOwner = "not_owner"
	OutcomeNotFound = "not_found"
)

// OwnershipGuard checks that the principal owns the resource named by a route
// parameter.
type OwnershipGuard struct {
	resource  ResourceType
	access    Access
	param     string
	predicate Predicate
}

// NewOwnershipGuard builds an OwnershipGuard for rt. It fails when no
// predicate is registered for rt.
func NewOwnershipGuard(reg *Registry, rt ResourceType, access Access, param string) (*OwnershipGuard, error) {
	p, ok := reg.Lookup(rt)
	if !ok {
		return nil, fmt.Errorf("guard: no ownership predicate registered for %s", rt)
	}
	if param == "" {
		param = "id"
	}
	return &OwnershipGuard{resource: rt, access: access, param: param, predicate: p}, nil
}

// Name implements Guard.
func (g *OwnershipGuard) Name() string {
	return "ownership(" + string(g.resource) + "," + g.access.String() + ")"
}

// Check parses the target id, then applies the predicate. The id is parsed
// before the admin bypass so handlers always see it. Predicate errors other
// than ErrResourceNotFound deny with 500.
func (g *OwnershipGuard) Check(ctx context.Context, in *Input) Decision {
	p, denied, ok := requirePrincipal(in)
	if !ok {
		return denied
	}
	resourceID, err := uuid.Parse(in.Param(g.param))
	if err != nil {
		return Deny(http.StatusBadRequest, CodeInvalidID, "Invalid resource id").
			WithDetail("param", g.param).
			WithErr(err)
	}
	in.ResourceID = resourceID.String()
	if g.access == AccessBroad && p.IsAdmin() {
		return Allow()
	}

	owner, err := g.predicate.IsOwner(ctx, resourceID, p.ID)
	switch {
	case errors.Is(err, ErrResourceNotFound):
		return g.deny(in, OutcomeNotFound)
	case err != nil:
		return Deny(http.StatusInternalServerError, CodeInternal, "Ownership check failed").
			WithDetail("resourceId", in.ResourceID).
			WithErr(err)
	case !owner:
		return g.deny(in, OutcomeNotOwner)
	}
	return Allow()
}

func (g *OwnershipGuard) deny(in *Input, outcome string) Decision {
	return Deny(http.StatusForbidden, CodeOwnershipRequired, "Resource ownership required").
		WithDetail("outcome", outcome).
		WithDetail("resourceId", in.ResourceID).
		WithDetail("access", g.access.String())
}
