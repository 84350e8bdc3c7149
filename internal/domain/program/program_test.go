package program

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/csaude/comvida/internal/domain/base"
)

func TestProgramRoundTrip(t *testing.T) {
	created := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	programs := []*Program{
		{
			Audit:       base.Audit{ID: 3, UUID: "p-3", CreatedBy: "admin", CreatedAt: &created, LifeCycleStatus: base.StatusActive},
			Name:        "TARV",
			Description: "Tratamento antirretroviral",
		},
		{Name: "Sem descricao"},
	}
	for _, p := range programs {
		if got := FromDTO(ToDTO(p)); !reflect.DeepEqual(got, p) {
			t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, p)
		}
	}
}

func TestProgramDescription(t *testing.T) {
	d := ToDTO(&Program{Name: "x", Description: "   "})
	if d.Description != nil {
		t.Errorf("expected blank description to encode as null, got %q", *d.Description)
	}

	var dto DTO
	if err := json.Unmarshal([]byte(`{"id":1,"uuid":"u","name":"TARV","description":"  padded  "}`), &dto); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := FromDTO(dto).Description; got != "padded" {
		t.Errorf("expected trimmed description, got %q", got)
	}
}

func TestProgramDecode_RejectsWrongTypes(t *testing.T) {
	var dto DTO
	if err := json.Unmarshal([]byte(`{"id":"seven","name":"x"}`), &dto); err == nil {
		t.Fatal("expected a type error for a string id")
	}
}

func TestActivityNestedProgram(t *testing.T) {
	raw := `{"id":9,"uuid":"a-9","name":"Visita domiciliaria","program":{"id":3,"uuid":"p-3","name":"TARV"}}`
	var dto ActivityDTO
	if err := json.Unmarshal([]byte(raw), &dto); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	a := ActivityFromDTO(dto)
	if a.Program == nil || a.Program.UUID != "p-3" || a.Program.Name != "TARV" {
		t.Fatalf("unexpected nested program %+v", a.Program)
	}
	if got := ActivityFromDTO(ActivityToDTO(a)); !reflect.DeepEqual(got, a) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, a)
	}
}

func TestActivityWithoutProgramEncodesNull(t *testing.T) {
	b, err := json.Marshal(ActivityToDTO(&Activity{Name: "x"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := m["program"]; !ok || v != nil {
		t.Errorf("expected program:null, got %v", m["program"])
	}
}

func TestKey(t *testing.T) {
	k := Key(&Program{Audit: base.Audit{ID: 1, UUID: "u"}, Name: "TARV"})
	if k.ID != 1 || k.UUID != "u" || k.NaturalKey != "TARV" {
		t.Errorf("unexpected key %+v", k)
	}
	if !Key(&Program{Name: "new"}).IsNew() {
		t.Error("program without id or uuid should be new")
	}
}
