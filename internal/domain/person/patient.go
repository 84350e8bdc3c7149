package person

import (
	"encoding/json"

	"github.com/csaude/comvida/internal/domain/base"
	"github.com/csaude/comvida/internal/platform/remote"
	"github.com/csaude/comvida/internal/store"
)

const PatientResource = "patients"

// Patient is a person enrolled in care. Identifier is kept as the raw JSON
// the backend sends.
type Patient struct {
	Person
	Identifier json.RawMessage
	Status     string
}

type PatientDTO struct {
	DTO
	PatientIdentifier json.RawMessage `json:"patientIdentifier"`
	Status            *string         `json:"status"`
}

func PatientFromDTO(d PatientDTO) *Patient {
	return &Patient{
		Person:     Decode(d.DTO),
		Identifier: rawOrNil(d.PatientIdentifier),
		Status:     base.Str(d.Status),
	}
}

func PatientToDTO(p *Patient) PatientDTO {
	return PatientDTO{
		DTO:               Encode(p.Person),
		PatientIdentifier: p.Identifier,
		Status:            base.StrPtr(p.Status),
	}
}

// PatientKey identifies patients by uuid; the full name is not unique and
// only serves records not yet saved.
func PatientKey(p *Patient) store.Identity {
	return store.Identity{ID: p.ID, UUID: p.UUID, NaturalKey: p.FullName}
}

var PatientCodec = store.Codec[*Patient, PatientDTO]{
	Decode:   PatientFromDTO,
	Encode:   PatientToDTO,
	Identity: PatientKey,
}

func NewPatientStore(c *remote.Client, opts store.Options) *store.Store[*Patient, PatientDTO] {
	if opts.Resource == "" {
		opts.Resource = PatientResource
	}
	coll := remote.NewCollection[PatientDTO](c, PatientResource, remote.WithSearchParam("fullName"))
	return store.New(coll, PatientCodec, opts)
}
