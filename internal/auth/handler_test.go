package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/civic-access/civic-access/internal/audit"
	"github.com/civic-access/civic-access/internal/auth"
	"github.com/civic-access/civic-access/internal/guard"
	"github.com/civic-access/civic-access/internal/principal"
	"github.com/civic-access/civic-access/internal/token"
	_ "github.com/civic-access/civic-access/testing"
)

const password = "correct horse battery"

type stubRepo struct {
	users   map[string]*auth.Credentials
	touched []uuid.UUID
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.Credentials, error) {
	c, ok := s.users[strings.ToLower(email)]
	if !ok {
		return nil, auth.ErrUnknownEmail
	}
	return c, nil
}

func (s *stubRepo) TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.touched = append(s.touched, id)
	return nil
}

// FindByID lets the same fixture back the principal resolver.
func (s *stubRepo) FindByID(ctx context.Context, id uuid.UUID) (*principal.Principal, error) {
	for _, c := range s.users {
		if c.ID == id && c.IsActive {
			return c.Principal(), nil
		}
	}
	return nil, principal.ErrNotFound
}

type harness struct {
	router http.Handler
	repo   *stubRepo
	sink   *audit.MemorySink
	tokens *token.Service
}

func newHarness(t *testing.T, users ...*auth.Credentials) *harness {
	t.Helper()
	repo := &stubRepo{users: make(map[string]*auth.Credentials)}
	for _, u := range users {
		repo.users[strings.ToLower(u.Email)] = u
	}
	tokens, err := token.NewService(token.Config{
		Secret: "auth-handler-test-secret-0123456789",
		TTL:    token.TTL(time.Hour),
		Issuer: "civic-access",
	})
	require.NoError(t, err)

	sink := audit.NewMemorySink()
	trail := audit.NewTrail(sink, nil, audit.TrailConfig{})
	factory := guard.NewFactory(guard.FactoryConfig{
		Resolver: principal.NewResolver(tokens, repo),
		Recorder: trail,
	})
	me := factory.MustBuild(guard.ResourceSession, guard.OpRead, guard.Preset{})

	handler := auth.NewHandler(nil, auth.NewService(repo, tokens, nil), trail, me, auth.HandlerConfig{LoginLimit: 100})
	r := chi.NewRouter()
	r.Route("/auth", handler.MountRoutes)
	return &harness{router: r, repo: repo, sink: sink, tokens: tokens}
}

func account(t *testing.T, email string, role principal.Role, active bool) *auth.Credentials {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &auth.Credentials{ID: uuid.New(), Email: email, Name: "Test", Role: role, PasswordHash: string(hash), IsActive: active}
}

func (h *harness) do(method, path, body, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestLoginThenResolveSamePrincipal(t *testing.T) {
	user := account(t, "ana@example.org", principal.RoleUser, true)
	h := newHarness(t, user)

	rec := h.do(http.MethodPost, "/auth/login", `{"email":"ana@example.org","password":"`+password+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var session auth.Session
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &session))
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, user.ID, session.User.ID)

	claims, err := h.tokens.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	rec = h.do(http.MethodGet, "/auth/me", "", "Bearer "+session.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	var me principal.Principal
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &me))
	assert.Equal(t, user.ID, me.ID)
	assert.Equal(t, principal.RoleUser, me.Role)

	assert.Equal(t, 1, h.sink.Count(audit.ActionLoginSuccess))
	assert.Equal(t, []uuid.UUID{user.ID}, h.repo.touched)
}

func TestLoginFailuresAreAudited(t *testing.T) {
	active := account(t, "ana@example.org", principal.RoleUser, true)
	inactive := account(t, "old@example.org", principal.RoleUser, false)
	h := newHarness(t, active, inactive)

	cases := []struct {
		name   string
		body   string
		reason string
	}{
		{"bad password", `{"email":"ana@example.org","password":"wrong-password"}`, auth.ReasonBadPassword},
		{"unknown email", `{"email":"nobody@example.org","password":"` + password + `"}`, auth.ReasonUnknownEmail},
		{"inactive", `{"email":"old@example.org","password":"` + password + `"}`, auth.ReasonInactive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/auth/login", tc.body, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			env := decode(t, rec)
			assert.False(t, env.Success)
			assert.Equal(t, auth.CodeInvalidCredentials, env.Code)

			entries := h.sink.Entries()
			require.NotEmpty(t, entries)
			last := entries[len(entries)-1]
			assert.Equal(t, audit.ActionLoginFailed, last.Action)
			assert.Equal(t, tc.reason, last.Details["reason"])
		})
	}
	assert.Equal(t, 3, h.sink.Count(audit.ActionLoginFailed))
	assert.Empty(t, h.repo.touched)
}

func TestLoginValidation(t *testing.T) {
	h := newHarness(t)
	for _, body := range []string{`{`, `{"email":"not-an-email","password":"longenough"}`, `{"email":"a@b.co","password":"short"}`} {
		rec := h.do(http.MethodPost, "/auth/login", body, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "VALIDATION_ERROR", decode(t, rec).Code)
	}
	assert.Empty(t, h.sink.Entries())
}

func TestMeRequiresToken(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/auth/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, principal.CodeAuthError, decode(t, rec).Code)
	assert.Equal(t, 1, h.sink.Count(audit.ActionAccessDenied))
}

func TestMeRejectsDeletedAccount(t *testing.T) {
	user := account(t, "ana@example.org", principal.RoleUser, true)
	h := newHarness(t, user)
	issued, err := h.tokens.Issue(token.Subject{UserID: user.ID, Email: user.Email, Role: string(user.Role)})
	require.NoError(t, err)

	user.IsActive = false
	rec := h.do(http.MethodGet, "/auth/me", "", "Bearer "+issued.Token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, principal.CodeUserNotFound, decode(t, rec).Code)
}
