package comments

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/civic-access/civic-access/internal/audit"
	"github.com/civic-access/civic-access/internal/guard"
	"github.com/civic-access/civic-access/internal/platform/httpx"
	"github.com/civic-access/civic-access/internal/principal"
)

var resourceTag = guard.ResourceComment.AuditTag()

// Handler serves the comment routes.
type Handler struct {
	logger    *slog.Logger
	repo      Repository
	recorder  audit.Recorder
	pipelines Pipelines
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, repo Repository, recorder audit.Recorder, pipelines Pipelines) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, repo: repo, recorder: recorder, pipelines: pipelines}
}

// MountRoutes registers comment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.pipelines.Create.Middleware).Post("/", h.create)
	r.With(h.pipelines.Read.Middleware).Get("/{id}", h.get)
	r.With(h.pipelines.Update.Middleware).Patch("/{id}", h.update)
	r.With(h.pipelines.Delete.Middleware).Delete("/{id}", h.delete)
	r.With(h.pipelines.Moderate.Middleware).Patch("/{id}/visibility", h.moderate)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	p, _ := principal.FromContext(r.Context())
	req, _ := guard.BodyFrom[createRequest](r.Context())
	c := &Comment{
		ID:       uuid.New(),
		PlaceID:  uuid.MustParse(req.PlaceID),
		AuthorID: p.ID,
		Content:  req.Content,
		Visible:  true,
	}
	if err := h.repo.Create(r.Context(), c); err != nil {
		h.fail(w, "create comment", err)
		return
	}
	h.recorder.Append(r.Context(), audit.Mutation(audit.VerbCreate, p.ID,
		audit.Resource{Type: resourceTag, ID: c.ID.String()}, nil, c, audit.MetaFromRequest(r)))
	httpx.OK(w, http.StatusCreated, c)
}

// get hides moderated comments from everyone but their author and admins.
func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, _ := guard.ResourceIDFrom(r.Context())
	c, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get comment", err)
		return
	}
	if !c.Visible {
		p, ok := principal.IdentityFromContext(r.Context()).Principal()
		if !ok || (p.ID != c.AuthorID && !p.IsAdmin()) {
			httpx.RespondError(w, ErrNotFound)
			return
		}
	}
	httpx.OK(w, http.StatusOK, c)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	p, _ := principal.FromContext(r.Context())
	id, _ := guard.ResourceIDFrom(r.Context())
	req, _ := guard.BodyFrom[updateRequest](r.Context())
	before, after, err := h.repo.Update(r.Context(), id, func(c *Comment) {
		c.Content = req.Content
	})
	if err != nil {
		h.fail(w, "update comment", err)
		return
	}
	h.recorder.Append(r.Context(), audit.Mutation(audit.VerbUpdate, p.ID,
		audit.Resource{Type: resourceTag, ID: id.String()}, before, after, audit.MetaFromRequest(r)))
	httpx.OK(w, http.StatusOK, after)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	p, _ := principal.FromContext(r.Context())
	id, _ := guard.ResourceIDFrom(r.Context())
	before, err := h.repo.Delete(r.Context(), id)
	if err != nil {
		h.fail(w, "delete comment", err)
		return
	}
	h.recorder.Append(r.Context(), audit.Mutation(audit.VerbDelete, p.ID,
		audit.Resource{Type: resourceTag, ID: id.String()}, before, nil, audit.MetaFromRequest(r)))
	httpx.OK(w, http.StatusOK, map[string]string{"id": id.String()})
}

func (h *Handler) moderate(w http.ResponseWriter, r *http.Request) {
	p, _ := principal.FromContext(r.Context())
	id, _ := guard.ResourceIDFrom(r.Context())
	req, _ := guard.BodyFrom[visibilityRequest](r.Context())
	before, after, err := h.repo.Update(r.Context(), id, func(c *Comment) {
		c.Visible = *req.Visible
	})
	if err != nil {
		h.fail(w, "moderate comment", err)
		return
	}
	entry := audit.Mutation(audit.VerbUpdate, p.ID,
		audit.Resource{Type: resourceTag, ID: id.String()}, before, after, audit.MetaFromRequest(r))
	if req.Reason != "" {
		entry.Details = map[string]any{"reason": req.Reason}
	}
	h.recorder.Append(r.Context(), entry)
	httpx.OK(w, http.StatusOK, after)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !errors.Is(err, ErrNotFound) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
