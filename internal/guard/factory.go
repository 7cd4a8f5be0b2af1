package guard

import (
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/civic-access/civic-access/internal/audit"
	"github.com/civic-access/civic-access/internal/principal"
)

// Ownership configures the ownership step of a preset.
type Ownership struct {
	Access Access
	// Param is the route parameter holding the resource id. Defaults to "id".
	Param string
}

// Preset declares a pipeline. Guards are always assembled in the order
// identity, roles, id, body, ownership, whatever fields are set.
type Preset struct {
	// Public skips identity resolution entirely.
	Public bool
	// Optional resolves identity without requiring it.
	Optional bool
	Roles    []principal.Role
	// IDParam validates a UUID route parameter when no ownership step does.
	IDParam   string
	Body      Guard
	Ownership *Ownership
}

// Factory assembles pipelines sharing a resolver, registry and recorder.
type Factory struct {
	resolver IdentityResolver
	registry *Registry
	recorder audit.Recorder
	observer DecisionObserver
	logger   *slog.Logger
	validate *validator.Validate
}

// FactoryConfig carries the Factory dependencies.
type FactoryConfig struct {
	Resolver IdentityResolver
	Registry *Registry
	Recorder audit.Recorder
	Observer DecisionObserver
	Logger   *slog.Logger
	Validate *validator.Validate
}

// NewFactory constructs a Factory.
func NewFactory(cfg FactoryConfig) *Factory {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Validate == nil {
		cfg.Validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return &Factory{
		resolver: cfg.Resolver,
		registry: cfg.Registry,
		recorder: cfg.Recorder,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		validate: cfg.Validate,
	}
}

// Validator returns the shared validator for body guards.
func (f *Factory) Validator() *validator.Validate { return f.validate }

// Build assembles the pipeline described by preset.
func (f *Factory) Build(rt ResourceType, op Operation, preset Preset) (*Pipeline, error) {
	guards := make([]Guard, 0, 5)
	switch {
	case preset.Public:
	case preset.Optional:
		guards = append(guards, OptionalIdentity(f.resolver))
	default:
		guards = append(guards, Authenticated(f.resolver))
	}
	if (preset.Public || preset.Optional) && (len(preset.Roles) > 0 || preset.Ownership != nil) {
		return nil, fmt.Errorf("guard: %s:%s requires authentication for roles or ownership", rt, op)
	}
	if len(preset.Roles) > 0 {
		guards = append(guards, Roles(preset.Roles...))
	}
	if preset.IDParam != "" {
		guards = append(guards, ValidUUID(preset.IDParam))
	}
	if preset.Body != nil {
		guards = append(guards, preset.Body)
	}
	if preset.Ownership != nil {
		param := preset.Ownership.Param
		if param == "" {
			param = preset.IDParam
		}
		og, err := NewOwnershipGuard(f.registry, rt, preset.Ownership.Access, param)
		if err != nil {
			return nil, err
		}
		guards = append(guards, og)
	}
	return NewPipeline(rt, op, guards,
		WithRecorder(f.recorder),
		WithDecisionObserver(f.observer),
		WithLogger(f.logger),
	), nil
}

// MustBuild is Build for startup wiring.
func (f *Factory) MustBuild(rt ResourceType, op Operation, preset Preset) *Pipeline {
	p, err := f.Build(rt, op, preset)
	if err != nil {
		panic(err)
	}
	return p
}

// Bind builds a pipeline and binds it into c.
func (f *Factory) Bind(c *Catalog, rt ResourceType, op Operation, preset Preset) (*Pipeline, error) {
	p, err := f.Build(rt, op, preset)
	if err != nil {
		return nil, err
	}
	if err := c.Bind(p); err != nil {
		return nil, err
	}
	return p, nil
}
