package guard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// UUIDGuard rejects route parameters that are not UUIDs.
type UUIDGuard struct {
	param string
}

// ValidUUID returns a guard checking the named route parameter.
func ValidUUID(param string) *UUIDGuard {
	return &UUIDGuard{param: param}
}

// Name implements Guard.
func (g *UUIDGuard) Name() string { return "valid_uuid(" + g.param + ")" }

// Check parses the parameter.
func (g *UUIDGuard) Check(ctx context.Context, in *Input) Decision {
	id, err := uuid.Parse(in.Param(g.param))
	if err != nil {
		return Deny(http.StatusBadRequest, CodeInvalidID, "Invalid resource id").
			WithDetail("param", g.param).
			WithErr(err)
	}
	in.ResourceID = id.String()
	return Allow()
}

// BodyGuard decodes and validates a JSON body into T.
type BodyGuard[T any] struct {
	validate *validator.Validate
}

// Body returns a guard decoding the request body into T and validating it
// with struct tags.
func Body[T any](v *validator.Validate) *BodyGuard[T] {
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	return &BodyGuard[T]{validate: v}
}

// Name implements Guard.
func (g *BodyGuard[T]) Name() string { return "body" }

// Check decodes the body and stores a *T in the input.
func (g *BodyGuard[T]) Check(ctx context.Context, in *Input) Decision {
	if in.Request == nil || in.Request.Body == nil {
		return Deny(http.StatusBadRequest, CodeValidation, "Request body required")
	}
	dec := json.NewDecoder(io.LimitReader(in.Request.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	var payload T
	if err := dec.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return Deny(http.StatusBadRequest, CodeValidation, "Request body required").WithErr(err)
		}
		return Deny(http.StatusBadRequest, CodeValidation, "Malformed JSON body").WithErr(err)
	}
	if err := g.validate.Struct(payload); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make(map[string]string, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields[fe.Field()] = fe.Tag()
			}
			return Deny(http.StatusBadRequest, CodeValidation, "Validation failed").
				WithDetail("fields", fields).
				WithErr(err)
		}
		return Deny(http.StatusBadRequest, CodeValidation, "Validation failed").WithErr(err)
	}
	in.Body = &payload
	return Allow()
}

type bodyContextKey struct{}

// BodyFrom returns the body decoded by a BodyGuard[T].
func BodyFrom[T any](ctx context.Context) (*T, bool) {
	v, ok := ctx.Value(bodyContextKey{}).(*T)
	return v, ok && v != nil
}

type resourceIDContextKey struct{}

// ResourceIDFrom returns the resource id validated by the pipeline.
func ResourceIDFrom(ctx context.Context) (uuid.UUID, bool) {
	raw, _ := ctx.Value(resourceIDContextKey{}).(string)
	id, err := uuid.Parse(raw)
	return id, err == nil
}
