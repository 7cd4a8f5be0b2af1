package audithttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/civic-access/civic-access/internal/platform/httpx"
	"github.com/civic-access/civic-access/internal/principal"
)

const rateLimit = 30
const rateWindow = time.Minute

// MountRoutes registers the audit query endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Fail(w, http.StatusTooManyRequests, "", httpx.CodeRateLimited)
		}),
	)
	r.With(h.pipeline.Middleware, limiter).Get("/", h.handleQuery)
}

func rateLimitKey(r *http.Request) (string, error) {
	if p, ok := principal.FromContext(r.Context()); ok {
		return "user:" + p.ID.String(), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
