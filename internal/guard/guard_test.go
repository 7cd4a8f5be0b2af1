package guard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civic-access/civic-access/internal/audit"
	"github.com/civic-access/civic-access/internal/principal"
)

// stubResolver resolves "Bearer <uuid>" to a known principal.
type stubResolver struct {
	users map[uuid.UUID]*principal.Principal
	err   error
}

func newStubResolver(users ...*principal.Principal) *stubResolver {
	r := &stubResolver{users: make(map[uuid.UUID]*principal.Principal)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *stubResolver) Resolve(ctx context.Context, authorization string) (*principal.Principal, error) {
	if r.err != nil {
		return nil, r.err
	}
	raw, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok {
		return nil, principal.ErrMissingCredentials
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, principal.ErrMissingCredentials
	}
	p, ok := r.users[id]
	if !ok {
		return nil, principal.ErrNotFound
	}
	return p, nil
}

func (r *stubResolver) ResolveOptional(ctx context.Context, authorization string) principal.Identity {
	if authorization == "" {
		return principal.Anonymous(nil)
	}
	p, err := r.Resolve(ctx, authorization)
	if err != nil {
		return principal.Anonymous(err)
	}
	return principal.Authenticated(p)
}

type fixture struct {
	admin    *principal.Principal
	owner    *principal.Principal
	stranger *principal.Principal
	comment  uuid.UUID
	sink     *audit.MemorySink
	registry *Registry
	factory  *Factory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		admin:    &principal.Principal{ID: uuid.New(), Role: principal.RoleAdmin, Active: true},
		owner:    &principal.Principal{ID: uuid.New(), Role: principal.RoleUser, Active: true},
		stranger: &principal.Principal{ID: uuid.New(), Role: principal.RoleUser, Active: true},
		comment:  uuid.New(),
		sink:     audit.NewMemorySink(),
		registry: NewRegistry(),
	}
	require.NoError(t, f.registry.Register(ResourceComment, PredicateFunc(
		func(ctx context.Context, resourceID, principalID uuid.UUID) (bool, error) {
			if resourceID != f.comment {
				return false, ErrResourceNotFound
			}
			return principalID == f.owner.ID, nil
		})))
	f.registry.Freeze()
	f.factory = NewFactory(FactoryConfig{
		Resolver: newStubResolver(f.admin, f.owner, f.stranger),
		Registry: f.registry,
		Recorder: audit.NewTrail(f.sink, nil, audit.TrailConfig{}),
	})
	return f
}

func bearer(p *principal.Principal) string {
	return "Bearer " + p.ID.String()
}

// serve mounts p under pattern and returns the response and handler calls.
func serve(t *testing.T, p *Pipeline, method, pattern, path, auth, body string) (*httptest.ResponseRecorder, int) {
	t.Helper()
	var calls int
	r := chi.NewRouter()
	r.With(p.Middleware).MethodFunc(method, pattern, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec, calls
}

func TestRoleGuardDeniesUser(t *testing.T) {
	f := newFixture(t)
	p := f.factory.MustBuild(ResourceComment, OpModerate, Preset{Roles: []principal.Role{principal.RoleAdmin}})

	rec, calls := serve(t, p, http.MethodPatch, "/comments/{id}/visibility", "/comments/"+f.comment.String()+"/visibility", bearer(f.owner), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeInsufficientPermissions)
	assert.Zero(t, calls)

	entries := f.sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionAccessDenied, entries[0].Action)
	assert.Equal(t, "USER", entries[0].Details["attemptedRole"])
	assert.Equal(t, "PATCH /comments/"+f.comment.String()+"/visibility", entries[0].Details["endpoint"])
	require.NotNil(t, entries[0].ActorID)
	assert.Equal(t, f.owner.ID, *entries[0].ActorID)
}

func TestRoleGuardAllowsAdmin(t *testing.T) {
	f := newFixture(t)
	p := f.factory.MustBuild(ResourceComment, OpModerate, Preset{Roles: []principal.Role{principal.RoleAdmin}})

	rec, calls := serve(t, p, http.MethodPatch, "/comments/{id}/visibility", "/comments/"+f.comment.String()+"/visibility", bearer(f.admin), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, calls)
	assert.Zero(t, f.sink.Count(audit.ActionAccessDenied))
}

func TestRoleGuardWithoutPrincipal(t *testing.T) {
	d := Roles(principal.RoleAdmin).Check(context.Background(), NewInput(nil, nil))
	assert.False(t, d.Allowed)
	assert.Equal(t, http.StatusUnauthorized, d.Status)
}

func TestAuthenticationFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	p := f.factory.MustBuild(ResourceComment, OpCreate, Preset{})

	rec, calls := serve(t, p, http.MethodPost, "/comments", "/comments", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), principal.CodeAuthError)
	assert.Zero(t, calls)
	assert.Equal(t, 1, f.sink.Count(audit.ActionAccessDenied))

	rec, _ = serve(t, p, http.MethodPost, "/comments", "/comments", "Bearer "+uuid.NewString(), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), principal.CodeUserNotFound)
	assert.Equal(t, 2, f.sink.Count(audit.ActionAccessDenied))
}

func TestOwnershipBroad(t *testing.T) {
	f := newFixture(t)
	p := f.factory.MustBuild(ResourceComment, OpUpdate, Preset{IDParam: "id", Ownership: &Ownership{Access: AccessBroad}})
	path := "/comments/" + f.comment.String()

	cases := []struct {
		name   string
		caller *principal.Principal
		status int
	}{
		{"owner", f.owner, http.StatusOK},
		{"admin bypass", f.admin, http.StatusOK},
		{"stranger", f.stranger, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := serve(t, p, http.MethodPatch, "/comments/{id}", path, bearer(tc.caller), "")
			assert.Equal(t, tc.status, rec.Code)
		})
	}

	entries := f.sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, OutcomeNotOwner, entries[0].Details["outcome"])
	assert.Equal(t, "COMENTARIO", entries[0].ResourceType)
	assert.Equal(t, f.comment.String(), entries[0].ResourceID)
}

func TestOwnershipBroadAdminStillParsesID(t *testing.T) {
	f := newFixture(t)
	og, err := NewOwnershipGuard(f.registry, ResourceComment, AccessBroad, "id")
	require.NoError(t, err)

	params := map[string]string{"id": f.comment.String()}
	in := NewInput(httptest.NewRequest(http.MethodPatch, "/comments/"+f.comment.String(), nil),
		func(name string) string { return params[name] })
	in.Principal = f.admin
	d := og.Check(context.Background(), in)
	require.True(t, d.Allowed)
	assert.Equal(t, f.comment.String(), in.ResourceID)

	params["id"] = "not-a-uuid"
	in = NewInput(httptest.NewRequest(http.MethodPatch, "/comments/not-a-uuid", nil),
		func(name string) string { return params[name] })
	in.Principal = f.admin
	d = og.Check(context.Background(), in)
	assert.False(t, d.Allowed)
	assert.Equal(t, http.StatusBadRequest, d.Status)
	assert.Equal(t, CodeInvalidID, d.Code)
}

func TestOwnershipBroadAdminReachesHandlerWithID(t *testing.T) {
	f := newFixture(t)
	p := f.factory.MustBuild(ResourceComment, OpDelete, Preset{IDParam: "id", Ownership: &Ownership{Access: AccessBroad}})

	var seen uuid.UUID
	r := chi.NewRouter()
	r.With(p.Middleware).Delete("/comments/{id}", func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ResourceIDFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodDelete, "/comments/"+f.comment.String(), nil)
	req.Header.Set("Authorization", bearer(f.admin))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.comment, seen)

	req = httptest.NewRequest(http.MethodDelete, "/comments/not-a-uuid", nil)
	req.Header.Set("Authorization", bearer(f.admin))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeInvalidID)
	assert.Equal(t, 1, f.sink.Count(audit.ActionAccessDenied))
}

func TestOwnershipStrictAppliesToAdmin(t *testing.T) {
	f := newFixture(t)
	p := f.factory.MustBuild(ResourceComment, OpUpdate, Preset{IDParam: "id", Ownership: &Ownership{Access: AccessStrict}})

	rec, calls := serve(t, p, http.MethodPatch, "/comments/{id}", "/comments/"+f.comment.String(), bearer(f.admin), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeOwnershipRequired)
	assert.Zero(t, calls)

	rec, calls = serve(t, p, http.MethodPatch, "/comments/{id}", "/comments/"+f.comment.String(), bearer(f.owner), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, calls)
}

func TestOwnershipOutcomes(t *testing.T) {
	f := newFixture(t)
	p := f.factory.MustBuild(ResourceComment, OpDelete, Preset{IDParam: "id", Ownership: &Ownership{Access: AccessBroad}})

	rec, _ := serve(t, p, http.MethodDelete, "/comments/{id}", "/comments/"+uuid.NewString(), bearer(f.owner), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = serve(t, p, http.MethodDelete, "/comments/{id}", "/comments/not-a-uuid", bearer(f.owner), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeInvalidID)

	entries := f.sink.Entries()
	require.Len(t, entries, 2)
	outcomes := []any{entries[0].Details["outcome"], entries[1].Details["outcome"]}
	assert.Contains(t, outcomes, OutcomeNotFound)
}

func TestOwnershipPredicateErrorFailsClosed(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(ResourceVehicle, PredicateFunc(
		func(ctx context.Context, resourceID, principalID uuid.UUID) (bool, error) {
			return false, errors.New("connection reset")
		})))
	g, err := NewOwnershipGuard(reg, ResourceVehicle, AccessBroad, "id")
	require.NoError(t, err)

	in := NewInput(nil, func(string) string { return uuid.NewString() })
	in.Principal = &principal.Principal{ID: uuid.New(), Role: principal.RoleUser}
	d := g.Check(context.Background(), in)
	assert.False(t, d.Allowed)
	assert.Equal(t, http.StatusInternalServerError, d.Status)
	assert.Equal(t, CodeInternal, d.Code)
}

func TestRegistryRejectsDuplicatesAndLateRegistration(t *testing.T) {
	reg := NewRegistry()
	pred := PredicateFunc(func(context.Context, uuid.UUID, uuid.UUID) (bool, error) { return true, nil })
	require.NoError(t, reg.Register(ResourceLike, pred))
	require.Error(t, reg.Register(ResourceLike, pred))
	reg.Freeze()
	require.Error(t, reg.Register(ResourceVehicle, pred))
	assert.Equal(t, []ResourceType{ResourceLike}, reg.Types())

	_, err := NewOwnershipGuard(reg, ResourceProfessional, AccessBroad, "id")
	require.Error(t, err)
}

func TestPipelineShortCircuits(t *testing.T) {
	var first, second int32
	deny := Func{GuardName: "deny", Fn: func(ctx context.Context, in *Input) Decision {
		atomic.AddInt32(&first, 1)
		return Deny(http.StatusForbidden, CodeInsufficientPermissions, "no")
	}}
	never := Func{GuardName: "never", Fn: func(ctx context.Context, in *Input) Decision {
		atomic.AddInt32(&second, 1)
		return Allow()
	}}
	sink := audit.NewMemorySink()
	p := NewPipeline(ResourceComment, OpUpdate, []Guard{deny, never},
		WithRecorder(audit.NewTrail(sink, nil, audit.TrailConfig{})))

	rec, calls := serve(t, p, http.MethodGet, "/x", "/x", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, calls)
	assert.Equal(t, int32(1), atomic.LoadInt32(&first))
	assert.Zero(t, atomic.LoadInt32(&second))

	entries := sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "deny", entries[0].Details["guard"])
}

func TestPipelineGuardsAreCopied(t *testing.T) {
	guards := []Guard{Roles(principal.RoleAdmin)}
	p := NewPipeline(ResourceAudit, OpList, guards)
	guards[0] = Roles(principal.RoleUser)
	assert.Equal(t, []string{"role(ADMIN)"}, p.Names())
}

type countingObserver struct {
	allowed, denied int
	lastCode        string
}

func (o *countingObserver) ObserveDecision(resource, operation, guard, code string, allowed bool) {
	if allowed {
		o.allowed++
		return
	}
	o.denied++
	o.lastCode = code
}

func TestFactoryOrderAndObserver(t *testing.T) {
	f := newFixture(t)
	obs := &countingObserver{}
	f.factory.observer = obs
	p := f.factory.MustBuild(ResourceComment, OpUpdate, Preset{
		Roles:     []principal.Role{principal.RoleUser, principal.RoleAdmin},
		IDParam:   "id",
		Body:      Body[struct{}](nil),
		Ownership: &Ownership{Access: AccessBroad},
	})
	assert.Equal(t, []string{"authenticated", "role(USER,ADMIN)", "valid_uuid(id)", "body", "ownership(comment,broad)"}, p.Names())

	serve(t, p, http.MethodPatch, "/comments/{id}", "/comments/"+f.comment.String(), bearer(f.owner), `{}`)
	serve(t, p, http.MethodPatch, "/comments/{id}", "/comments/"+f.comment.String(), bearer(f.stranger), `{}`)
	assert.Equal(t, 1, obs.allowed)
	assert.Equal(t, 1, obs.denied)
	assert.Equal(t, CodeOwnershipRequired, obs.lastCode)
}

func TestFactoryRejectsRolesOnOptionalIdentity(t *testing.T) {
	f := newFixture(t)
	_, err := f.factory.Build(ResourceComment, OpRead, Preset{Optional: true, Roles: []principal.Role{principal.RoleAdmin}})
	require.Error(t, err)
}

func TestOptionalIdentityNeverDenies(t *testing.T) {
	f := newFixture(t)
	p := f.factory.MustBuild(ResourceComment, OpRead, Preset{Optional: true, IDParam: "id"})

	var seen principal.Identity
	r := chi.NewRouter()
	r.With(p.Middleware).Get("/comments/{id}", func(w http.ResponseWriter, r *http.Request) {
		seen = principal.IdentityFromContext(r.Context())
	})
	req := httptest.NewRequest(http.MethodGet, "/comments/"+f.comment.String(), nil)
	req.Header.Set("Authorization", "Bearer "+uuid.NewString())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, seen.IsAnonymous())
	assert.ErrorIs(t, seen.Cause(), principal.ErrNotFound)
}

func TestCatalogBindings(t *testing.T) {
	f := newFixture(t)
	c := NewCatalog()
	_, err := f.factory.Bind(c, ResourceComment, OpCreate, Preset{})
	require.NoError(t, err)
	_, err = f.factory.Bind(c, ResourceComment, OpCreate, Preset{})
	require.Error(t, err)
	c.Freeze()
	_, err = f.factory.Bind(c, ResourceComment, OpDelete, Preset{})
	require.Error(t, err)

	assert.NotNil(t, c.MustLookup(ResourceComment, OpCreate))
	assert.Panics(t, func() { c.MustLookup(ResourceUser, OpUpdate) })
	assert.Equal(t, []string{"comment:create"}, c.Keys())
}
