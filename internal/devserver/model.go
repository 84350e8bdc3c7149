// Package devserver is a small reference backend speaking the paginated
// REST contract the client consumes. Every resource is a JSON document;
// the server adds identity and audit fields and enforces natural-key
// uniqueness and required fields.
package devserver

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrConflict        = errors.New("record already exists")
	ErrUnknownResource = errors.New("unknown resource")
	ErrBadCredentials  = errors.New("invalid username or password")
)

// FieldError is one rejected field, serialized as the client expects.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Resource string
	Fields   []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Resource, strings.Join(parts, "; "))
}

// Document is a record body as decoded from JSON.
type Document map[string]any

// Record is one stored document. Key is the natural key, compared without
// case. Secret holds a password hash and is never rendered.
type Record struct {
	ID        int64
	UUID      string
	Resource  string
	Key       string
	Secret    string
	Doc       Document
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *Record) clone() *Record {
	cp := *r
	cp.Doc = cloneDoc(r.Doc)
	return &cp
}

// Fields the server owns; they are stripped from stored bodies and
// rendered from the record.
var reservedFields = []string{"id", "uuid", "createdAt", "updatedAt"}

// -- Resources --

// ResourceConfig describes one collection.
type ResourceConfig struct {
	Name string
	// NaturalKey is the dotted document path that must be unique within
	// the resource. Empty disables the check unless KeyFunc is set.
	NaturalKey string
	KeyFunc    func(Document) string
	Required   []string
	// SearchParam is the query parameter of the free-text filter and
	// SearchField the document path it matches.
	SearchParam string
	SearchField string
	// SecretField is hashed on write and never returned.
	SecretField string
}

func (rc ResourceConfig) searchParam() string {
	if rc.SearchParam == "" {
		return "name"
	}
	return rc.SearchParam
}

func (rc ResourceConfig) searchField() string {
	if rc.SearchField == "" {
		return rc.searchParam()
	}
	return rc.SearchField
}

func (rc ResourceConfig) keyOf(doc Document) string {
	if rc.KeyFunc != nil {
		return rc.KeyFunc(doc)
	}
	if rc.NaturalKey == "" {
		return ""
	}
	v, _ := Lookup(doc, splitPath(rc.NaturalKey))
	return strings.TrimSpace(v)
}

func (rc ResourceConfig) validate(doc Document) error {
	var fields []FieldError
	for _, f := range rc.Required {
		v, ok := doc[f]
		if !ok || v == nil {
			fields = append(fields, FieldError{Field: f, Message: "must not be null"})
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			fields = append(fields, FieldError{Field: f, Message: "must not be blank"})
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Resource: rc.Name, Fields: fields}
	}
	return nil
}

// memberKey makes a cohort membership unique per cohort and patient.
func memberKey(doc Document) string {
	c := refKey(doc, "cohort")
	p := refKey(doc, "patient")
	if c == "" || p == "" {
		return ""
	}
	return c + "/" + p
}

// refKey returns the uuid of a nested reference, falling back to its id.
func refKey(doc Document, field string) string {
	if v, ok := Lookup(doc, []string{field, "uuid"}); ok && v != "" {
		return v
	}
	v, _ := Lookup(doc, []string{field, "id"})
	return v
}

// DefaultResources are the collections of the cohort tracking API.
func DefaultResources() []ResourceConfig {
	return []ResourceConfig{
		{Name: "programs", NaturalKey: "name", Required: []string{"name"}},
		{Name: "program-activities", NaturalKey: "name", Required: []string{"name", "program"}},
		{Name: "groups", NaturalKey: "name", Required: []string{"name"}},
		{Name: "cohorts", NaturalKey: "name", Required: []string{"name"}},
		{
			Name:        "cohort-members",
			KeyFunc:     memberKey,
			Required:    []string{"cohort", "patient"},
			SearchParam: "fullName",
			SearchField: "patient.fullName",
		},
		{Name: "patients", Required: []string{"names"}, SearchParam: "fullName"},
		{
			Name:        "users",
			NaturalKey:  "username",
			Required:    []string{"username"},
			SearchParam: "username",
			SecretField: "password",
		},
	}
}

// -- Documents --

func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, ".")
}

// Lookup walks path through nested objects and renders the leaf as text,
// the way PostgreSQL's #>> operator does.
func Lookup(doc Document, path []string) (string, bool) {
	var cur any = map[string]any(doc)
	for _, p := range path {
		m, ok := asMap(cur)
		if !ok {
			return "", false
		}
		cur, ok = m[p]
		if !ok {
			return "", false
		}
	}
	switch v := cur.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int:
		return strconv.Itoa(v), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}

func cloneDoc(d Document) Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(cloneDoc(Document(t)))
	case Document:
		return cloneDoc(t)
	case []any:
		cp := make([]any, len(t))
		for i := range t {
			cp[i] = cloneValue(t[i])
		}
		return cp
	}
	return v
}

// stringList reads a JSON array of strings, ignoring other elements.
func stringList(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// -- Filters --

// FieldMatch matches when any of Paths renders to Value.
type FieldMatch struct {
	Paths [][]string
	Value string
}

// Filter is a list request after parameter parsing.
type Filter struct {
	Search     string
	SearchPath []string
	Fields     []FieldMatch
	// SortPath empty sorts by id.
	SortPath []string
	SortDesc bool
	Limit    int
	Offset   int
}

func (f Filter) matches(r *Record) bool {
	if s := strings.TrimSpace(f.Search); s != "" {
		v, _ := Lookup(r.Doc, f.SearchPath)
		if !strings.Contains(strings.ToLower(v), strings.ToLower(s)) {
			return false
		}
	}
	for _, fm := range f.Fields {
		if !fm.matches(r) {
			return false
		}
	}
	return true
}

func (fm FieldMatch) matches(r *Record) bool {
	for _, p := range fm.Paths {
		if len(p) == 1 && p[0] == "id" {
			if strconv.FormatInt(r.ID, 10) == fm.Value {
				return true
			}
			continue
		}
		if len(p) == 1 && p[0] == "uuid" {
			if r.UUID == fm.Value {
				return true
			}
			continue
		}
		if v, ok := Lookup(r.Doc, p); ok && v == fm.Value {
			return true
		}
	}
	return false
}

// sortRecords orders in place by the filter's sort path, then by id.
func sortRecords(recs []*Record, f Filter) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if len(f.SortPath) > 0 {
			av, _ := Lookup(a.Doc, f.SortPath)
			bv, _ := Lookup(b.Doc, f.SortPath)
			av, bv = strings.ToLower(av), strings.ToLower(bv)
			if av != bv {
				if f.SortDesc {
					return av > bv
				}
				return av < bv
			}
		} else if f.SortDesc {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
}

// page applies offset and limit; a non-positive limit returns the rest.
func page(recs []*Record, offset, limit int) []*Record {
	if offset >= len(recs) {
		return nil
	}
	if offset < 0 {
		offset = 0
	}
	end := len(recs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return recs[offset:end]
}
