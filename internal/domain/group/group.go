// Package group holds the Group entity: a named group of patients attached
// to one program activity.
package group

import (
	"github.com/csaude/comvida/internal/domain/base"
	"github.com/csaude/comvida/internal/domain/program"
	"github.com/csaude/comvida/internal/platform/remote"
	"github.com/csaude/comvida/internal/store"
)

const Resource = "groups"

// Group carries ActivityName and ProgramName for list views. They are
// derived from Activity on decode and are never sent.
type Group struct {
	base.Audit
	Name        string
	Description string
	Activity    *program.Activity

	ActivityName string
	ProgramName  string
}

type DTO struct {
	base.AuditDTO
	Name            string               `json:"name"`
	Description     *string              `json:"description"`
	ProgramActivity *program.ActivityDTO `json:"programActivity"`
}

func FromDTO(d DTO) *Group {
	g := &Group{
		Audit:       base.DecodeAudit(d.AuditDTO),
		Name:        d.Name,
		Description: base.Str(d.Description),
	}
	if d.ProgramActivity != nil {
		g.Activity = program.ActivityFromDTO(*d.ProgramActivity)
	}
	g.derive()
	return g
}

func ToDTO(g *Group) DTO {
	d := DTO{
		AuditDTO:    base.EncodeAudit(g.Audit),
		Name:        g.Name,
		Description: base.StrPtr(g.Description),
	}
	if g.Activity != nil {
		a := program.ActivityToDTO(g.Activity)
		d.ProgramActivity = &a
	}
	return d
}

func (g *Group) derive() {
	g.ActivityName, g.ProgramName = "", ""
	if g.Activity == nil {
		return
	}
	g.ActivityName = g.Activity.Name
	if g.Activity.Program != nil {
		g.ProgramName = g.Activity.Program.Name
	}
}

func Key(g *Group) store.Identity {
	return store.Identity{ID: g.ID, UUID: g.UUID, NaturalKey: g.Name}
}

var Codec = store.Codec[*Group, DTO]{Decode: FromDTO, Encode: ToDTO, Identity: Key}

func NewStore(c *remote.Client, opts store.Options) *store.Store[*Group, DTO] {
	if opts.Resource == "" {
		opts.Resource = Resource
	}
	return store.New(remote.NewCollection[DTO](c, Resource), Codec, opts)
}
