package users

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/civic-access/civic-access/internal/audit"
	"github.com/civic-access/civic-access/internal/guard"
	"github.com/civic-access/civic-access/internal/platform/httpx"
	"github.com/civic-access/civic-access/internal/principal"
)

// Handler manages user profile endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	recorder audit.Recorder
	read     *guard.Pipeline
	update   *guard.Pipeline
}

// NewHandler builds Handler instance and binds its pipelines into c. Reading
// a profile is broad (admins may read any); editing is strict self-only.
func NewHandler(logger *slog.Logger, service *Service, recorder audit.Recorder, f *guard.Factory, c *guard.Catalog) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	read, err := f.Bind(c, guard.ResourceUser, guard.OpRead, guard.Preset{
		IDParam:   "id",
		Ownership: &guard.Ownership{Access: guard.AccessBroad},
	})
	if err != nil {
		return nil, err
	}
	update, err := f.Bind(c, guard.ResourceUser, guard.OpUpdate, guard.Preset{
		IDParam:   "id",
		Body:      guard.Body[ProfileUpdate](f.Validator()),
		Ownership: &guard.Ownership{Access: guard.AccessStrict},
	})
	if err != nil {
		return nil, err
	}
	return &Handler{logger: logger, service: service, recorder: recorder, read: read, update: update}, nil
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.read.Middleware).Get("/{id}", h.getUser)
	r.With(h.update.Middleware).Patch("/{id}", h.updateProfile)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, _ := guard.ResourceIDFrom(r.Context())
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	httpx.OK(w, http.StatusOK, user)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	p, _ := principal.FromContext(r.Context())
	id, _ := guard.ResourceIDFrom(r.Context())
	upd, _ := guard.BodyFrom[ProfileUpdate](r.Context())
	before, after, err := h.service.UpdateProfile(r.Context(), id, *upd)
	if err != nil {
		h.fail(w, "update profile", err)
		return
	}
	h.recorder.Append(r.Context(), audit.Mutation(audit.VerbUpdate, p.ID,
		audit.Resource{Type: guard.ResourceUser.AuditTag(), ID: id.String()}, before, after, audit.MetaFromRequest(r)))
	httpx.OK(w, http.StatusOK, after)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !errors.Is(err, ErrNotFound) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
