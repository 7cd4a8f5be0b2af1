package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/civic-access/civic-access/internal/audit"
	"github.com/civic-access/civic-access/internal/guard"
	"github.com/civic-access/civic-access/internal/platform/httpx"
	"github.com/civic-access/civic-access/internal/principal"
)

// CodeInvalidCredentials is returned for every rejected login.
const CodeInvalidCredentials = "INVALID_CREDENTIALS"

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	recorder   audit.Recorder
	me         *guard.Pipeline
	validator  *validator.Validate
	loginLimit int
}

// HandlerConfig carries optional Handler settings.
type HandlerConfig struct {
	// LoginLimit caps login attempts per IP per minute. Zero disables it.
	LoginLimit int
	Validator  *validator.Validate
}

// NewHandler constructs a Handler. me guards GET /auth/me.
func NewHandler(logger *slog.Logger, service *Service, recorder audit.Recorder, me *guard.Pipeline, cfg HandlerConfig) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := cfg.Validator
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	return &Handler{
		logger:     logger,
		service:    service,
		recorder:   recorder,
		me:         me,
		validator:  v,
		loginLimit: cfg.LoginLimit,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	login := r
	if h.loginLimit > 0 {
		login = r.With(httprate.Limit(h.loginLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				httpx.Fail(w, http.StatusTooManyRequests, "Too many login attempts", httpx.CodeRateLimited)
			}),
		))
	}
	login.Post("/login", h.handleLogin)
	r.With(h.me.Middleware).Get("/me", h.handleMe)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Malformed JSON body", httpx.CodeValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Email and password are required", httpx.CodeValidation)
		return
	}

	meta := audit.MetaFromRequest(r)
	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		var loginErr *LoginError
		if errors.As(err, &loginErr) {
			actor := uuid.Nil
			if loginErr.Account != nil {
				actor = loginErr.Account.ID
			}
			h.recorder.Append(r.Context(), audit.LoginFailure(actor, req.Email, loginErr.Reason, meta))
			httpx.Fail(w, http.StatusUnauthorized, "Invalid email or password", CodeInvalidCredentials)
			return
		}
		h.logger.Error("login", slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, "", httpx.CodeInternal)
		return
	}

	h.recorder.Append(r.Context(), audit.LoginSuccess(session.User.ID, meta))
	httpx.OK(w, http.StatusOK, session)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, "Authentication required", principal.CodeAuthError)
		return
	}
	httpx.OK(w, http.StatusOK, p)
}
