package guard

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/civic-access/civic-access/internal/audit"
	"github.com/civic-access/civic-access/internal/platform/httpx"
	"github.com/civic-access/civic-access/internal/principal"
)

// DecisionObserver receives the final decision of each pipeline run.
type DecisionObserver interface {
	ObserveDecision(resource, operation, guard, code string, allowed bool)
}

// Pipeline is an immutable ordered list of guards for one resource operation.
type Pipeline struct {
	resource  ResourceType
	operation Operation
	guards    []Guard
	recorder  audit.Recorder
	observer  DecisionObserver
	logger    *slog.Logger
}

// PipelineOption customises a Pipeline.
type PipelineOption func(*Pipeline)

// WithRecorder sets where denial entries are written.
func WithRecorder(r audit.Recorder) PipelineOption {
	return func(p *Pipeline) { p.recorder = r }
}

// WithDecisionObserver reports outcomes, typically to metrics.
func WithDecisionObserver(o DecisionObserver) PipelineOption {
	return func(p *Pipeline) { p.observer = o }
}

// WithLogger sets the logger used for internal denials.
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline builds a pipeline. The guard slice is copied.
func NewPipeline(rt ResourceType, op Operation, guards []Guard, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		resource:  rt,
		operation: op,
		guards:    append([]Guard(nil), guards...),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resource returns the protected resource type.
func (p *Pipeline) Resource() ResourceType { return p.resource }

// Operation returns the protected operation.
func (p *Pipeline) Operation() Operation { return p.operation }

// Names lists guard names in execution order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.guards))
	for i, g := range p.guards {
		names[i] = g.Name()
	}
	return names
}

// Run evaluates guards in order and stops at the first denial. Each denial
// produces exactly one ACCESS_DENIED entry.
func (p *Pipeline) Run(ctx context.Context, in *Input) Decision {
	in.Resource = p.resource
	in.Operation = p.operation
	for _, g := range p.guards {
		d := g.Check(ctx, in)
		if d.Allowed {
			continue
		}
		d.Guard = g.Name()
		p.deny(ctx, in, d)
		return d
	}
	if p.observer != nil {
		p.observer.ObserveDecision(string(p.resource), string(p.operation), "", "", true)
	}
	return Allow()
}

func (p *Pipeline) deny(ctx context.Context, in *Input, d Decision) {
	if d.Status >= http.StatusInternalServerError {
		p.logger.Error("guard failed",
			slog.String("guard", d.Guard),
			slog.String("resource", string(p.resource)),
			slog.Any("error", d.Err),
		)
	}
	if p.observer != nil {
		p.observer.ObserveDecision(string(p.resource), string(p.operation), d.Guard, d.Code, false)
	}
	if p.recorder == nil {
		return
	}
	denial := audit.Denial{
		Resource:  audit.Resource{Type: p.resource.AuditTag(), ID: in.ResourceID},
		Operation: string(p.operation),
		Guard:     d.Guard,
		Status:    d.Status,
		Code:      d.Code,
		Reason:    d.Message,
		Endpoint:  in.Endpoint(),
		Details:   d.Details,
		Meta:      audit.MetaFromRequest(in.Request),
	}
	if in.Principal != nil {
		denial.ActorID = in.Principal.ID
		denial.Details = withRole(d.Details, in.Principal.Role)
	}
	p.recorder.Append(ctx, audit.AccessDenied(denial))
}

func withRole(details map[string]any, role principal.Role) map[string]any {
	out := make(map[string]any, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	if _, ok := out["attemptedRole"]; !ok {
		out["attemptedRole"] = string(role)
	}
	return out
}

// Middleware runs the pipeline before next. Denials are answered with the
// standard failure envelope; on success the principal, identity and decoded
// body are available from the request context.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		in := NewInput(r, func(name string) string { return chi.URLParam(r, name) })
		d := p.Run(r.Context(), in)
		if !d.Allowed {
			httpx.Fail(w, d.Status, d.Message, d.Code)
			return
		}
		ctx := principal.WithIdentity(r.Context(), in.Identity)
		if in.Principal != nil {
			ctx = principal.WithPrincipal(ctx, in.Principal)
		}
		if in.Body != nil {
			ctx = context.WithValue(ctx, bodyContextKey{}, in.Body)
		}
		if in.ResourceID != "" {
			ctx = context.WithValue(ctx, resourceIDContextKey{}, in.ResourceID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Handler wraps a handler function with the pipeline.
func (p *Pipeline) Handler(fn http.HandlerFunc) http.Handler {
	return p.Middleware(fn)
}
