package comments

import (
	"github.com/civic-access/civic-access/internal/guard"
	"github.com/civic-access/civic-access/internal/principal"
)

// Pipelines are the guard chains protecting comment routes.
type Pipelines struct {
	Create   *guard.Pipeline
	Read     *guard.Pipeline
	Update   *guard.Pipeline
	Delete   *guard.Pipeline
	Moderate *guard.Pipeline
}

// BuildPipelines assembles the comment pipelines and binds them into c. With
// strict set, admins must own a comment to edit or delete it.
func BuildPipelines(f *guard.Factory, c *guard.Catalog, strict bool) (Pipelines, error) {
	access := guard.AccessBroad
	if strict {
		access = guard.AccessStrict
	}
	v := f.Validator()

	var (
		out Pipelines
		err error
	)
	bind := func(op guard.Operation, preset guard.Preset) *guard.Pipeline {
		if err != nil {
			return nil
		}
		var p *guard.Pipeline
		p, err = f.Bind(c, guard.ResourceComment, op, preset)
		return p
	}
	out.Create = bind(guard.OpCreate, guard.Preset{
		Body: guard.Body[createRequest](v),
	})
	out.Read = bind(guard.OpRead, guard.Preset{
		Optional: true,
		IDParam:  "id",
	})
	out.Update = bind(guard.OpUpdate, guard.Preset{
		IDParam:   "id",
		Body:      guard.Body[updateRequest](v),
		Ownership: &guard.Ownership{Access: access},
	})
	out.Delete = bind(guard.OpDelete, guard.Preset{
		IDParam:   "id",
		Ownership: &guard.Ownership{Access: access},
	})
	out.Moderate = bind(guard.OpModerate, guard.Preset{
		Roles:   []principal.Role{principal.RoleAdmin},
		IDParam: "id",
		Body:    guard.Body[visibilityRequest](v),
	})
	if err != nil {
		return Pipelines{}, err
	}
	return out, nil
}
