package devserver

import (
	"errors"
	"reflect"
	"testing"
)

func TestLookup(t *testing.T) {
	doc := Document{
		"name":   "Outbreak",
		"count":  float64(7),
		"active": true,
		"cohort": map[string]any{"id": float64(3), "uuid": "c-3"},
		"empty":  nil,
	}
	tests := []struct {
		path []string
		want string
		ok   bool
	}{
		{[]string{"name"}, "Outbreak", true},
		{[]string{"count"}, "7", true},
		{[]string{"active"}, "true", true},
		{[]string{"cohort", "id"}, "3", true},
		{[]string{"cohort", "uuid"}, "c-3", true},
		{[]string{"cohort", "missing"}, "", false},
		{[]string{"name", "nested"}, "", false},
		{[]string{"empty"}, "", false},
		{[]string{"cohort"}, "", false},
	}
	for _, tt := range tests {
		got, ok := Lookup(doc, tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Lookup(%v) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestResourceConfig_Validate(t *testing.T) {
	rc := ResourceConfig{Name: "cohorts", Required: []string{"name", "program"}}

	if err := rc.validate(Document{"name": "A", "program": map[string]any{"id": 1}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := rc.validate(Document{"name": "   "})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := []FieldError{
		{Field: "name", Message: "must not be blank"},
		{Field: "program", Message: "must not be null"},
	}
	if !reflect.DeepEqual(ve.Fields, want) {
		t.Errorf("unexpected fields %+v", ve.Fields)
	}
	if ve.Error() != "invalid cohorts: name: must not be blank; program: must not be null" {
		t.Errorf("unexpected message %q", ve.Error())
	}
}

func TestResourceConfig_KeyOf(t *testing.T) {
	byName := ResourceConfig{NaturalKey: "name"}
	if got := byName.keyOf(Document{"name": "  Outbreak "}); got != "Outbreak" {
		t.Errorf("expected trimmed name, got %q", got)
	}
	if got := (ResourceConfig{}).keyOf(Document{"name": "x"}); got != "" {
		t.Errorf("expected no key, got %q", got)
	}

	members := ResourceConfig{KeyFunc: memberKey}
	doc := Document{
		"cohort":  map[string]any{"id": float64(1), "uuid": "c-1"},
		"patient": map[string]any{"id": float64(9)},
	}
	if got := members.keyOf(doc); got != "c-1/9" {
		t.Errorf("expected c-1/9, got %q", got)
	}
	if got := members.keyOf(Document{"cohort": map[string]any{"uuid": "c-1"}}); got != "" {
		t.Errorf("expected no key without patient, got %q", got)
	}
}

func TestDefaultResources(t *testing.T) {
	names := map[string]bool{}
	for _, rc := range DefaultResources() {
		names[rc.Name] = true
	}
	for _, want := range []string{"programs", "program-activities", "groups", "cohorts", "cohort-members", "patients", "users"} {
		if !names[want] {
			t.Errorf("missing resource %s", want)
		}
	}
}

func TestFilter_Matches(t *testing.T) {
	rec := &Record{
		ID:   4,
		UUID: "m-4",
		Doc: Document{
			"cohort":  map[string]any{"id": float64(2), "uuid": "c-2"},
			"patient": map[string]any{"fullName": "Ana Silva"},
			"status":  "ACTIVE",
		},
	}
	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{"empty", Filter{}, true},
		{"search hit", Filter{Search: "silva", SearchPath: []string{"patient", "fullName"}}, true},
		{"search miss", Filter{Search: "joao", SearchPath: []string{"patient", "fullName"}}, false},
		{"ref by id", Filter{Fields: []FieldMatch{fieldMatch("cohortId", "2")}}, true},
		{"ref by uuid", Filter{Fields: []FieldMatch{fieldMatch("cohortId", "c-2")}}, true},
		{"ref miss", Filter{Fields: []FieldMatch{fieldMatch("cohortId", "3")}}, false},
		{"plain field", Filter{Fields: []FieldMatch{fieldMatch("status", "ACTIVE")}}, true},
		{"record uuid", Filter{Fields: []FieldMatch{{Paths: [][]string{{"uuid"}}, Value: "m-4"}}}, true},
		{"record id", Filter{Fields: []FieldMatch{{Paths: [][]string{{"id"}}, Value: "4"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.matches(rec); got != tt.want {
				t.Errorf("matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseSort(t *testing.T) {
	tests := []struct {
		in   string
		path []string
		desc bool
	}{
		{"", nil, false},
		{"id,desc", nil, true},
		{"name", []string{"name"}, false},
		{"name,asc", []string{"name"}, false},
		{"name,DESC", []string{"name"}, true},
		{"program.name,desc", []string{"program", "name"}, true},
	}
	for _, tt := range tests {
		path, desc := parseSort(tt.in)
		if !reflect.DeepEqual(path, tt.path) || desc != tt.desc {
			t.Errorf("parseSort(%q) = %v, %v; want %v, %v", tt.in, path, desc, tt.path, tt.desc)
		}
	}
}

func TestSortAndPage(t *testing.T) {
	recs := []*Record{
		{ID: 1, Doc: Document{"name": "beta"}},
		{ID: 2, Doc: Document{"name": "Alpha"}},
		{ID: 3, Doc: Document{"name": "gamma"}},
		{ID: 4, Doc: Document{"name": "alpha"}},
	}
	sortRecords(recs, Filter{SortPath: []string{"name"}})
	var ids []int64
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	if !reflect.DeepEqual(ids, []int64{2, 4, 1, 3}) {
		t.Errorf("unexpected order %v", ids)
	}

	sortRecords(recs, Filter{SortDesc: true})
	if recs[0].ID != 4 || recs[3].ID != 1 {
		t.Errorf("expected id desc, got first %d last %d", recs[0].ID, recs[3].ID)
	}

	if got := page(recs, 2, 10); len(got) != 2 {
		t.Errorf("expected 2 items, got %d", len(got))
	}
	if got := page(recs, 4, 2); got != nil {
		t.Errorf("expected nil past the end, got %v", got)
	}
	if got := page(recs, 0, 0); len(got) != 4 {
		t.Errorf("expected everything without limit, got %d", len(got))
	}
}

func TestCloneDoc_IsDeep(t *testing.T) {
	orig := Document{"program": map[string]any{"name": "TB"}, "tags": []any{"a"}}
	cp := cloneDoc(orig)
	cp["program"].(map[string]any)["name"] = "HIV"
	cp["tags"].([]any)[0] = "b"
	if orig["program"].(map[string]any)["name"] != "TB" || orig["tags"].([]any)[0] != "a" {
		t.Error("clone shares nested values with the original")
	}
}
