// Package person holds Person and the two kinds built on it, Patient and
// User. The backend sends the name and address lists as arrays (older
// builds sent a single object) and duplicates the preferred entries as flat
// convenience fields.
package person

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/csaude/comvida/internal/domain/base"
)

// Name is one entry of a person's name list. The wire flag is spelled
// "prefered".
type Name struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Preferred bool   `json:"prefered"`
}

type Address struct {
	AddressLine1 string `json:"addressLine1"`
	City         string `json:"city"`
	District     string `json:"district"`
	Province     string `json:"province"`
	Preferred    bool   `json:"prefered"`
}

// Person is the shared part of patients and users. FirstName, LastName,
// FullName and FullAddress are derived on every decode.
type Person struct {
	base.Audit
	Names      []Name
	Addresses  []Address
	Sex        string
	BirthDate  *time.Time
	Attributes []json.RawMessage

	FirstName   string
	LastName    string
	FullName    string
	FullAddress string
}

type DTO struct {
	base.AuditDTO
	Names            base.Many[Name]            `json:"names"`
	Address          base.Many[Address]         `json:"address"`
	PersonAttributes base.Many[json.RawMessage] `json:"personAttributes"`
	Sex              *string                    `json:"sex"`
	Birthdate        *string                    `json:"birthdate"`

	// Flat copies of the preferred entries. Output only.
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	FullName     string `json:"fullName"`
	AddressLine1 string `json:"addressLine1"`
	City         string `json:"city"`
	District     string `json:"district"`
	Province     string `json:"province"`
	FullAddress  string `json:"fullAddress"`
}

// Decode fills p from d and recomputes the derived fields.
func Decode(d DTO) Person {
	p := Person{
		Audit:     base.DecodeAudit(d.AuditDTO),
		Sex:       base.Str(d.Sex),
		BirthDate: base.ParseDate(d.Birthdate),
	}
	if len(d.Names) > 0 {
		p.Names = []Name(d.Names)
	}
	if len(d.Address) > 0 {
		p.Addresses = []Address(d.Address)
	}
	for _, raw := range d.PersonAttributes {
		if raw = rawOrNil(raw); raw != nil {
			p.Attributes = append(p.Attributes, raw)
		}
	}
	p.derive(d.FullName)
	return p
}

// Encode writes p in wire form. The lists always go out as arrays.
func Encode(p Person) DTO {
	d := DTO{
		AuditDTO:         base.EncodeAudit(p.Audit),
		Names:            base.Many[Name](nonNil(p.Names)),
		Address:          base.Many[Address](nonNil(p.Addresses)),
		PersonAttributes: base.Many[json.RawMessage](nonNil(p.Attributes)),
		Sex:              base.StrPtr(p.Sex),
		Birthdate:        base.FormatDate(p.BirthDate),
		FirstName:        p.FirstName,
		LastName:         p.LastName,
		FullName:         p.FullName,
		FullAddress:      p.FullAddress,
	}
	if a := preferredAddress(p.Addresses); a != nil {
		d.AddressLine1 = a.AddressLine1
		d.City = a.City
		d.District = a.District
		d.Province = a.Province
	}
	return d
}

// derive recomputes the flat fields. The name list is authoritative; the
// wire full name is only used for records that carry no names.
func (p *Person) derive(wireFullName string) {
	p.FirstName, p.LastName = "", ""
	if n := preferredName(p.Names); n != nil {
		p.FirstName = strings.TrimSpace(n.FirstName)
		p.LastName = strings.TrimSpace(n.LastName)
	}
	p.FullName = joinNonEmpty(" ", p.FirstName, p.LastName)
	if len(p.Names) == 0 {
		p.FullName = strings.TrimSpace(wireFullName)
	}

	p.FullAddress = ""
	if a := preferredAddress(p.Addresses); a != nil {
		p.FullAddress = joinNonEmpty(", ",
			strings.TrimSpace(a.AddressLine1),
			strings.TrimSpace(a.City),
			strings.TrimSpace(a.District),
			strings.TrimSpace(a.Province),
		)
	}
}

// Rederive recomputes the derived fields after the lists were edited.
func (p *Person) Rederive() { p.derive(p.FullName) }

func preferredName(names []Name) *Name {
	for i := range names {
		if names[i].Preferred {
			return &names[i]
		}
	}
	if len(names) > 0 {
		return &names[0]
	}
	return nil
}

func preferredAddress(addrs []Address) *Address {
	for i := range addrs {
		if addrs[i].Preferred {
			return &addrs[i]
		}
	}
	if len(addrs) > 0 {
		return &addrs[0]
	}
	return nil
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// rawOrNil maps an absent or JSON null raw value to nil.
func rawOrNil(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return raw
}
