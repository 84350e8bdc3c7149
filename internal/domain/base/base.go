// Package base holds what every entity shares: the audit/identity value,
// the wire form of it, nested references and the date codecs.
package base

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Lifecycle statuses.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// Audit is embedded by value in every entity. ID and UUID are assigned by
// the backend; UUID never changes once assigned.
type Audit struct {
	ID              int64
	UUID            string
	CreatedBy       string
	CreatedAt       *time.Time
	UpdatedBy       string
	UpdatedAt       *time.Time
	LifeCycleStatus string
}

// IsNew reports whether the backend has not assigned an identity yet.
func (a Audit) IsNew() bool { return a.ID == 0 && a.UUID == "" }

// AuditDTO is the wire form of Audit; it is embedded so its fields are
// flattened into each entity's JSON object.
type AuditDTO struct {
	ID              int64   `json:"id,omitempty"`
	UUID            string  `json:"uuid,omitempty"`
	CreatedBy       *string `json:"createdBy"`
	CreatedAt       *string `json:"createdAt"`
	UpdatedBy       *string `json:"updatedBy"`
	UpdatedAt       *string `json:"updatedAt"`
	LifeCycleStatus *string `json:"lifeCycleStatus,omitempty"`
}

func DecodeAudit(d AuditDTO) Audit {
	return Audit{
		ID:              d.ID,
		UUID:            d.UUID,
		CreatedBy:       Str(d.CreatedBy),
		CreatedAt:       ParseTime(d.CreatedAt),
		UpdatedBy:       Str(d.UpdatedBy),
		UpdatedAt:       ParseTime(d.UpdatedAt),
		LifeCycleStatus: Str(d.LifeCycleStatus),
	}
}

func EncodeAudit(a Audit) AuditDTO {
	return AuditDTO{
		ID:              a.ID,
		UUID:            a.UUID,
		CreatedBy:       StrPtr(a.CreatedBy),
		CreatedAt:       FormatTime(a.CreatedAt),
		UpdatedBy:       StrPtr(a.UpdatedBy),
		UpdatedAt:       FormatTime(a.UpdatedAt),
		LifeCycleStatus: StrPtr(a.LifeCycleStatus),
	}
}

// Ref is the {id, uuid} stub used for relations the backend does not embed.
type Ref struct {
	ID   int64  `json:"id,omitempty"`
	UUID string `json:"uuid,omitempty"`
}

func (r Ref) IsZero() bool { return r.ID == 0 && r.UUID == "" }

// -- Strings --

// Str dereferences s, mapping nil to "".
func Str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StrPtr maps "" to nil so empty values go out as JSON null.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// -- Dates --

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// ParseTime decodes an ISO-8601 wire date. Missing, blank or unparsable
// values yield nil; decoding never fails on a bad date.
func ParseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// FormatTime encodes t as RFC 3339 in UTC, nil for a nil t.
func FormatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

// ParseDate decodes a calendar date, keeping only the day.
func ParseDate(s *string) *time.Time {
	t := ParseTime(s)
	if t == nil {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

// FormatDate encodes t as YYYY-MM-DD.
func FormatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.DateOnly)
	return &s
}

// -- Lenient collections --

// Many decodes either a JSON array or a single object into a slice, the
// two shapes the backend has used for the person arrays. null decodes to
// an empty slice.
type Many[T any] []T

func (m *Many[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = nil
		return nil
	}
	if data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*m = items
		return nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*m = Many[T]{one}
	return nil
}
