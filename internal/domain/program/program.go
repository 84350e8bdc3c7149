// Package program holds the Program and Activity entities, their wire
// forms and the stores that cache them.
package program

import (
	"strings"

	"github.com/csaude/comvida/internal/domain/base"
	"github.com/csaude/comvida/internal/platform/remote"
	"github.com/csaude/comvida/internal/store"
)

// Remote resource names.
const (
	Resource         = "programs"
	ActivityResource = "program-activities"
)

type Program struct {
	base.Audit
	Name        string
	Description string
}

type DTO struct {
	base.AuditDTO
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

// FromDTO decodes a program. Description is trimmed.
func FromDTO(d DTO) *Program {
	return &Program{
		Audit:       base.DecodeAudit(d.AuditDTO),
		Name:        d.Name,
		Description: strings.TrimSpace(base.Str(d.Description)),
	}
}

// ToDTO encodes p; a blank description goes out as null.
func ToDTO(p *Program) DTO {
	return DTO{
		AuditDTO:    base.EncodeAudit(p.Audit),
		Name:        p.Name,
		Description: base.StrPtr(strings.TrimSpace(p.Description)),
	}
}

func Key(p *Program) store.Identity {
	return store.Identity{ID: p.ID, UUID: p.UUID, NaturalKey: p.Name}
}

// Codec binds the program codec to the generic store.
var Codec = store.Codec[*Program, DTO]{Decode: FromDTO, Encode: ToDTO, Identity: Key}

// NewStore builds the program page cache on top of the remote collection.
func NewStore(c *remote.Client, opts store.Options) *store.Store[*Program, DTO] {
	if opts.Resource == "" {
		opts.Resource = Resource
	}
	return store.New(remote.NewCollection[DTO](c, Resource), Codec, opts)
}

// ----
// Activity
// ----

// Activity is a program activity. Program is the nested program as the
// backend embeds it; it is never fetched separately.
type Activity struct {
	base.Audit
	Name    string
	Program *Program
}

type ActivityDTO struct {
	base.AuditDTO
	Name    string `json:"name"`
	Program *DTO   `json:"program"`
}

func ActivityFromDTO(d ActivityDTO) *Activity {
	a := &Activity{
		Audit: base.DecodeAudit(d.AuditDTO),
		Name:  d.Name,
	}
	if d.Program != nil {
		a.Program = FromDTO(*d.Program)
	}
	return a
}

func ActivityToDTO(a *Activity) ActivityDTO {
	d := ActivityDTO{
		AuditDTO: base.EncodeAudit(a.Audit),
		Name:     a.Name,
	}
	if a.Program != nil {
		p := ToDTO(a.Program)
		d.Program = &p
	}
	return d
}

func ActivityKey(a *Activity) store.Identity {
	return store.Identity{ID: a.ID, UUID: a.UUID, NaturalKey: a.Name}
}

var ActivityCodec = store.Codec[*Activity, ActivityDTO]{
	Decode:   ActivityFromDTO,
	Encode:   ActivityToDTO,
	Identity: ActivityKey,
}

// NewActivityStore builds the activity page cache. Pass
// opts.Scope = {"programId": ...} to keep one program's activities.
func NewActivityStore(c *remote.Client, opts store.Options) *store.Store[*Activity, ActivityDTO] {
	if opts.Resource == "" {
		opts.Resource = ActivityResource
	}
	return store.New(remote.NewCollection[ActivityDTO](c, ActivityResource), ActivityCodec, opts)
}
