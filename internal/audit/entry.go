// Package audit keeps the append-only trail of security decisions and
// mutations. Writes are best effort: a failing sink is logged and counted but
// never surfaces to the request that produced the entry.
package audit

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Authentication and authorization actions.
const (
	ActionLoginSuccess = "LOGIN_SUCCESS"
	ActionLoginFailed  = "LOGIN_FAILED"
	ActionAccessDenied = "ACCESS_DENIED"
)

// Verb is the mutation kind prefixed onto a resource tag.
type Verb string

// Mutation verbs.
const (
	VerbCreate Verb = "CREATE"
	VerbUpdate Verb = "UPDATE"
	VerbDelete Verb = "DELETE"
)

// MutationAction builds the action name for a mutation, e.g. UPDATE_COMENTARIO.
func MutationAction(verb Verb, resourceTag string) string {
	return string(verb) + "_" + strings.ToUpper(resourceTag)
}

// Entry is one append-only audit record.
type Entry struct {
	ID           uuid.UUID       `json:"id"`
	Action       string          `json:"action"`
	ActorID      *uuid.UUID      `json:"actorId,omitempty"`
	ResourceType string          `json:"resourceType,omitempty"`
	ResourceID   string          `json:"resourceId,omitempty"`
	BeforeState  json.RawMessage `json:"beforeState,omitempty"`
	AfterState   json.RawMessage `json:"afterState,omitempty"`
	Details      map[string]any  `json:"details,omitempty"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"userAgent,omitempty"`
	OccurredAt   time.Time       `json:"occurredAt"`
}

// Resource identifies the target of an audited action.
type Resource struct {
	Type string
	ID   string
}

// RequestMeta carries the client attributes stored with each entry.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// MetaFromRequest extracts client IP and user agent. RemoteAddr is expected to
// be rewritten by the RealIP middleware already.
func MetaFromRequest(r *http.Request) RequestMeta {
	if r == nil {
		return RequestMeta{}
	}
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return RequestMeta{IP: ip, UserAgent: r.UserAgent()}
}

// Actor returns a pointer suitable for Entry.ActorID, nil for uuid.Nil.
func Actor(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

// State encodes a before/after snapshot. Values that cannot be encoded are
// replaced by an error marker instead of dropping the entry.
func State(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{"error":"unencodable state"}`)
	}
	return data
}

// LoginSuccess builds the entry for a successful login.
func LoginSuccess(actorID uuid.UUID, meta RequestMeta) Entry {
	return Entry{
		Action:       ActionLoginSuccess,
		ActorID:      Actor(actorID),
		ResourceType: "USUARIO",
		ResourceID:   actorID.String(),
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	}
}

// LoginFailure builds the entry for a rejected login. actorID is uuid.Nil when
// the email matched no account.
func LoginFailure(actorID uuid.UUID, email, reason string, meta RequestMeta) Entry {
	return Entry{
		Action:       ActionLoginFailed,
		ActorID:      Actor(actorID),
		ResourceType: "USUARIO",
		Details:      map[string]any{"email": email, "reason": reason},
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	}
}

// Mutation builds the entry for a create, update or delete of a resource.
func Mutation(verb Verb, actorID uuid.UUID, res Resource, before, after any, meta RequestMeta) Entry {
	return Entry{
		Action:       MutationAction(verb, res.Type),
		ActorID:      Actor(actorID),
		ResourceType: res.Type,
		ResourceID:   res.ID,
		BeforeState:  State(before),
		AfterState:   State(after),
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	}
}

// Denial describes a rejected request.
type Denial struct {
	ActorID   uuid.UUID
	Resource  Resource
	Operation string
	Guard     string
	Status    int
	Code      string
	Reason    string
	Endpoint  string
	Details   map[string]any
	Meta      RequestMeta
}

// AccessDenied builds the entry for a denied request.
func AccessDenied(d Denial) Entry {
	details := make(map[string]any, len(d.Details)+6)
	for k, v := range d.Details {
		details[k] = v
	}
	details["code"] = d.Code
	details["status"] = d.Status
	if d.Reason != "" {
		details["reason"] = d.Reason
	}
	if d.Endpoint != "" {
		details["endpoint"] = d.Endpoint
	}
	if d.Guard != "" {
		details["guard"] = d.Guard
	}
	if d.Operation != "" {
		details["operation"] = d.Operation
	}
	return Entry{
		Action:       ActionAccessDenied,
		ActorID:      Actor(d.ActorID),
		ResourceType: d.Resource.Type,
		ResourceID:   d.Resource.ID,
		Details:      details,
		IP:           d.Meta.IP,
		UserAgent:    d.Meta.UserAgent,
	}
}
