// Package cohort holds cohorts, their members and the cohort-with-members
// view the backend offers for allocation screens.
package cohort

import (
	"context"

	"github.com/csaude/comvida/internal/domain/base"
	"github.com/csaude/comvida/internal/domain/program"
	"github.com/csaude/comvida/internal/platform/remote"
	"github.com/csaude/comvida/internal/store"
)

// Remote resource names.
const (
	Resource            = "cohorts"
	MemberResource      = "cohort-members"
	WithMembersResource = "cohort-members/cohorts-with-members"
)

type Cohort struct {
	base.Audit
	Name        string
	Description string
	Program     *program.Program
}

type DTO struct {
	base.AuditDTO
	Name        string       `json:"name"`
	Description *string      `json:"description"`
	Program     *program.DTO `json:"program,omitempty"`
}

func FromDTO(d DTO) *Cohort {
	c := &Cohort{
		Audit:       base.DecodeAudit(d.AuditDTO),
		Name:        d.Name,
		Description: base.Str(d.Description),
	}
	if d.Program != nil {
		c.Program = program.FromDTO(*d.Program)
	}
	return c
}

func ToDTO(c *Cohort) DTO {
	d := DTO{
		AuditDTO:    base.EncodeAudit(c.Audit),
		Name:        c.Name,
		Description: base.StrPtr(c.Description),
	}
	if c.Program != nil {
		p := program.ToDTO(c.Program)
		d.Program = &p
	}
	return d
}

func Key(c *Cohort) store.Identity {
	return store.Identity{ID: c.ID, UUID: c.UUID, NaturalKey: c.Name}
}

var Codec = store.Codec[*Cohort, DTO]{Decode: FromDTO, Encode: ToDTO, Identity: Key}

// NewStore builds the cohort page cache.
func NewStore(c *remote.Client, opts store.Options) *store.Store[*Cohort, DTO] {
	if opts.Resource == "" {
		opts.Resource = Resource
	}
	return store.New(remote.NewCollection[DTO](c, Resource), Codec, opts)
}

// ----
// Cohorts with members
// ----

type WithMembers struct {
	Cohort  *Cohort
	Members []*Member
}

type WithMembersDTO struct {
	Cohort  DTO         `json:"cohort"`
	Members []MemberDTO `json:"members"`
}

func WithMembersFromDTO(d WithMembersDTO) WithMembers {
	w := WithMembers{Cohort: FromDTO(d.Cohort)}
	for _, m := range d.Members {
		w.Members = append(w.Members, MemberFromDTO(m))
	}
	return w
}

// ListWithMembers reads one page of cohorts together with their members.
// The view is read-only and bypasses the page cache.
func ListWithMembers(ctx context.Context, c *remote.Client, q remote.ListQuery) ([]WithMembers, *remote.PageResult[WithMembersDTO], error) {
	res, err := remote.NewCollection[WithMembersDTO](c, WithMembersResource).List(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	out := make([]WithMembers, 0, len(res.Content))
	for _, d := range res.Content {
		out = append(out, WithMembersFromDTO(d))
	}
	return out, res, nil
}
