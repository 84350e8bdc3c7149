package cohort

import (
	"time"

	"github.com/csaude/comvida/internal/domain/base"
	"github.com/csaude/comvida/internal/domain/person"
	"github.com/csaude/comvida/internal/platform/remote"
	"github.com/csaude/comvida/internal/store"
)

// Source is the system a member was imported from.
type Source struct {
	base.Audit
	Name string
}

type SourceDTO struct {
	base.AuditDTO
	Name string `json:"name"`
}

// Member places one patient in one cohort from StartDate until EndDate.
// Both dates are calendar days (YYYY-MM-DD on the wire): any time of day is
// dropped on encode and decoded dates are midnight UTC. Cohort and Patient
// are the stubs the backend nests; they are decoded as partial entities and
// never fetched.
type Member struct {
	base.Audit
	Cohort    *Cohort
	Patient   *person.Patient
	StartDate *time.Time
	EndDate   *time.Time
	Source    *Source
}

type MemberDTO struct {
	base.AuditDTO
	Cohort    *DTO               `json:"cohort"`
	Patient   *person.PatientDTO `json:"patient"`
	StartDate *string            `json:"startDate"`
	EndDate   *string            `json:"endDate"`
	Source    *SourceDTO         `json:"source,omitempty"`
}

func MemberFromDTO(d MemberDTO) *Member {
	m := &Member{
		Audit:     base.DecodeAudit(d.AuditDTO),
		StartDate: base.ParseDate(d.StartDate),
		EndDate:   base.ParseDate(d.EndDate),
	}
	if d.Cohort != nil {
		m.Cohort = FromDTO(*d.Cohort)
	}
	if d.Patient != nil {
		m.Patient = person.PatientFromDTO(*d.Patient)
	}
	if d.Source != nil {
		m.Source = &Source{Audit: base.DecodeAudit(d.Source.AuditDTO), Name: d.Source.Name}
	}
	return m
}

func MemberToDTO(m *Member) MemberDTO {
	d := MemberDTO{
		AuditDTO:  base.EncodeAudit(m.Audit),
		StartDate: base.FormatDate(m.StartDate),
		EndDate:   base.FormatDate(m.EndDate),
	}
	if m.Cohort != nil {
		c := ToDTO(m.Cohort)
		d.Cohort = &c
	}
	if m.Patient != nil {
		p := person.PatientToDTO(m.Patient)
		d.Patient = &p
	}
	if m.Source != nil {
		d.Source = &SourceDTO{AuditDTO: base.EncodeAudit(m.Source.Audit), Name: m.Source.Name}
	}
	return d
}

// MemberKey falls back to the cohort/patient pair for members that have
// not been saved yet.
func MemberKey(m *Member) store.Identity {
	id := store.Identity{ID: m.ID, UUID: m.UUID}
	if m.Cohort != nil && m.Patient != nil && m.Cohort.UUID != "" && m.Patient.UUID != "" {
		id.NaturalKey = m.Cohort.UUID + "/" + m.Patient.UUID
	}
	return id
}

var MemberCodec = store.Codec[*Member, MemberDTO]{
	Decode:   MemberFromDTO,
	Encode:   MemberToDTO,
	Identity: MemberKey,
}

// NewMemberStore builds the page cache of one cohort's members. The cohort
// id is a scope filter, so pages stay cacheable.
func NewMemberStore(c *remote.Client, cohortID string, opts store.Options) *store.Store[*Member, MemberDTO] {
	if opts.Resource == "" {
		opts.Resource = MemberResource
	}
	if cohortID != "" {
		scope := map[string]string{"cohortId": cohortID}
		for k, v := range opts.Scope {
			scope[k] = v
		}
		opts.Scope = scope
	}
	coll := remote.NewCollection[MemberDTO](c, MemberResource, remote.WithSearchParam("fullName"))
	return store.New(coll, MemberCodec, opts)
}
