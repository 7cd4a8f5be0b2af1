package audithttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/civic-access/civic-access/internal/audit"
	"github.com/civic-access/civic-access/internal/guard"
	"github.com/civic-access/civic-access/internal/platform/httpx"
	"github.com/civic-access/civic-access/internal/principal"
)

const dateLayout = "2006-01-02"

// QueryService reads audit entries.
type QueryService interface {
	Query(ctx context.Context, f audit.Filters) ([]audit.Entry, error)
}

// Handler serves the audit query endpoint.
type Handler struct {
	logger   *slog.Logger
	service  QueryService
	pipeline *guard.Pipeline
}

// NewHandler builds the handler and binds its ADMIN-only pipeline into c.
func NewHandler(logger *slog.Logger, service QueryService, f *guard.Factory, c *guard.Catalog) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p, err := f.Bind(c, guard.ResourceAudit, guard.OpList, guard.Preset{
		Roles: []principal.Role{principal.RoleAdmin},
	})
	if err != nil {
		return nil, err
	}
	return &Handler{logger: logger, service: service, pipeline: p}, nil
}

type queryResponse struct {
	Entries []audit.Entry `json:"entries"`
	Count   int           `json:"count"`
	Limit   int           `json:"limit"`
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error(), httpx.CodeValidation)
		return
	}
	filters, err = filters.Normalize()
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "from must not be after to", httpx.CodeValidation)
		return
	}
	entries, err := h.service.Query(r.Context(), filters)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidFilters) {
			httpx.Fail(w, http.StatusBadRequest, err.Error(), httpx.CodeValidation)
			return
		}
		h.logger.Error("query audit entries", slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, "", httpx.CodeInternal)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httpx.OK(w, http.StatusOK, queryResponse{Entries: entries, Count: len(entries), Limit: filters.Limit})
}

type validationError struct {
	field string
}

func (e validationError) Error() string {
	return fmt.Sprintf("invalid %s filter", e.field)
}

func parseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	f := audit.Filters{
		ResourceID:   strings.TrimSpace(q.Get("resource_id")),
		ResourceType: strings.ToUpper(strings.TrimSpace(q.Get("resource_type"))),
		Action:       strings.ToUpper(strings.TrimSpace(q.Get("action"))),
	}
	if v := strings.TrimSpace(q.Get("actor")); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, validationError{field: "actor"}
		}
		f.ActorID = &id
	}
	var err error
	if f.From, err = parseTime(q.Get("from"), false); err != nil {
		return f, validationError{field: "from"}
	}
	if f.To, err = parseTime(q.Get("to"), true); err != nil {
		return f, validationError{field: "to"}
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return f, validationError{field: "limit"}
		}
		f.Limit = parsed
	}
	return f, nil
}

// parseTime accepts RFC 3339 or a bare date. A bare "to" date covers the
// whole day.
func parseTime(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
