// Package guard composes per-route authorization pipelines. A pipeline is an
// ordered, immutable list of guards bound to one resource operation; guards
// run strictly in sequence and the first denial ends the request.
package guard

import (
	"context"
	"net/http"

	"github.com/civic-access/civic-access/internal/principal"
)

// Denial codes owned by this package.
const (
	CodeInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	CodeOwnershipRequired       = "RESOURCE_OWNERSHIP_REQUIRED"
	CodeInvalidID               = "INVALID_ID"
	CodeValidation              = "VALIDATION_ERROR"
	CodeInternal                = "INTERNAL_ERROR"
)

// ResourceType tags a protected resource kind.
type ResourceType string

// Protected resource types.
const (
	ResourceComment        ResourceType = "comment"
	ResourceLike           ResourceType = "like"
	ResourceUser           ResourceType = "user"
	ResourceMobilityReport ResourceType = "mobility_report"
	ResourceVehicle        ResourceType = "vehicle"
	ResourceProfessional   ResourceType = "professional"
	ResourceAudit          ResourceType = "audit"
	ResourceSession        ResourceType = "session"
	ResourceJobs           ResourceType = "jobs"
)

var auditTags = map[ResourceType]string{
	ResourceComment:        "COMENTARIO",
	ResourceLike:           "LIKE",
	ResourceUser:           "USUARIO",
	ResourceMobilityReport: "REPORTE_MOVILIDAD",
	ResourceVehicle:        "VEHICULO",
	ResourceProfessional:   "PROFESIONAL",
	ResourceAudit:          "AUDITORIA",
	ResourceSession:        "SESION",
	ResourceJobs:           "TRABAJOS",
}

// AuditTag is the name used for the resource in audit actions.
func (r ResourceType) AuditTag() string {
	if tag, ok := auditTags[r]; ok {
		return tag
	}
	return string(r)
}

// Operation is the route operation a pipeline protects.
type Operation string

// Operations.
const (
	OpCreate   Operation = "create"
	OpRead     Operation = "read"
	OpList     Operation = "list"
	OpUpdate   Operation = "update"
	OpDelete   Operation = "delete"
	OpModerate Operation = "moderate"
)

// Decision is the outcome of one guard.
type Decision struct {
	Allowed bool
	Status  int
	Code    string
	Message string
	// Details are copied into the denial audit entry.
	Details map[string]any
	// Err is the underlying failure for denials caused by an error.
	Err error
	// Guard names the guard that denied; set by the pipeline.
	Guard string
}

// Allow lets the pipeline continue.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny stops the pipeline with the given HTTP status and code.
func Deny(status int, code, message string) Decision {
	return Decision{Status: status, Code: code, Message: message}
}

// WithDetail returns a copy of d carrying key=value in its details.
func (d Decision) WithDetail(key string, value any) Decision {
	details := make(map[string]any, len(d.Details)+1)
	for k, v := range d.Details {
		details[k] = v
	}
	details[key] = value
	d.Details = details
	return d
}

// WithErr attaches the underlying error.
func (d Decision) WithErr(err error) Decision {
	d.Err = err
	return d
}

// Guard is a single pass/fail policy check.
type Guard interface {
	Name() string
	Check(ctx context.Context, in *Input) Decision
}

// Func adapts a function into a Guard.
type Func struct {
	GuardName string
	Fn        func(ctx context.Context, in *Input) Decision
}

// Name implements Guard.
func (f Func) Name() string { return f.GuardName }

// Check implements Guard.
func (f Func) Check(ctx context.Context, in *Input) Decision { return f.Fn(ctx, in) }

// Input is the mutable state threaded through one pipeline run. Guards run
// sequentially, so later guards may read what earlier ones established.
type Input struct {
	Request   *http.Request
	Resource  ResourceType
	Operation Operation
	Principal *principal.Principal
	Identity  principal.Identity
	Body      any
	// ResourceID is the target id once a guard has parsed it.
	ResourceID string

	params func(string) string
}

// NewInput builds an Input for r. params resolves route parameters.
func NewInput(r *http.Request, params func(string) string) *Input {
	if params == nil {
		params = func(string) string { return "" }
	}
	return &Input{Request: r, params: params, Identity: principal.Anonymous(nil)}
}

// Param returns a route parameter.
func (in *Input) Param(name string) string {
	return in.params(name)
}

// Endpoint describes the request as "METHOD /path" for audit details.
func (in *Input) Endpoint() string {
	if in.Request == nil || in.Request.URL == nil {
		return ""
	}
	return in.Request.Method + " " + in.Request.URL.Path
}
