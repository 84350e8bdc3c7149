package devserver

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestMemoryRepo_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()

	rec := &Record{UUID: "u-1", Resource: "cohorts", Key: "Outbreak", Doc: Document{"name": "Outbreak"}}
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID != 1 || rec.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamps, got %+v", rec)
	}

	// Callers must not be able to mutate stored state.
	rec.Doc["name"] = "mutated"
	got, err := repo.Get(ctx, "cohorts", 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Doc["name"] != "Outbreak" {
		t.Errorf("stored doc was mutated: %v", got.Doc)
	}

	if _, err := repo.Get(ctx, "programs", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found across resources, got %v", err)
	}
	if _, err := repo.GetByUUID(ctx, "cohorts", "u-1"); err != nil {
		t.Errorf("get by uuid: %v", err)
	}

	got.Doc["name"] = "Renamed"
	got.Key = "Renamed"
	got.UUID = "attempted-change"
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.UUID != "u-1" {
		t.Errorf("uuid must not change on update, got %s", got.UUID)
	}

	if err := repo.Update(ctx, &Record{ID: 42, Resource: "cohorts"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	if err := repo.Delete(ctx, "cohorts", "u-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, "cohorts", "u-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}

func TestMemoryRepo_NaturalKeyConflict(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()

	repo.Create(ctx, &Record{UUID: "a", Resource: "cohorts", Key: "Outbreak"})
	repo.Create(ctx, &Record{UUID: "b", Resource: "cohorts", Key: "Other"})

	err := repo.Create(ctx, &Record{UUID: "c", Resource: "cohorts", Key: "OUTBREAK"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected case-insensitive conflict, got %v", err)
	}
	if err := repo.Create(ctx, &Record{UUID: "d", Resource: "programs", Key: "Outbreak"}); err != nil {
		t.Errorf("keys are per resource: %v", err)
	}
	if err := repo.Create(ctx, &Record{UUID: "e", Resource: "patients"}); err != nil {
		t.Errorf("empty keys never conflict: %v", err)
	}
	if err := repo.Create(ctx, &Record{UUID: "f", Resource: "patients"}); err != nil {
		t.Errorf("empty keys never conflict: %v", err)
	}

	other, _ := repo.GetByUUID(ctx, "cohorts", "b")
	other.Key = "outbreak"
	if err := repo.Update(ctx, other); !errors.Is(err, ErrConflict) {
		t.Errorf("expected conflict on rename, got %v", err)
	}
}

func TestMemoryRepo_List(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	for i := 1; i <= 25; i++ {
		repo.Create(ctx, &Record{
			UUID:     fmt.Sprintf("u-%d", i),
			Resource: "cohorts",
			Doc:      Document{"name": fmt.Sprintf("Cohort-%02d", i)},
		})
	}
	repo.Create(ctx, &Record{UUID: "p-1", Resource: "programs", Doc: Document{"name": "Cohort-99"}})

	items, total, err := repo.List(ctx, "cohorts", Filter{Limit: 10, Offset: 20})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 25 || len(items) != 5 {
		t.Fatalf("expected 5 of 25, got %d of %d", len(items), total)
	}
	if items[0].ID != 21 {
		t.Errorf("expected id order, got first id %d", items[0].ID)
	}

	items, total, _ = repo.List(ctx, "cohorts", Filter{Search: "cohort-2", SearchPath: []string{"name"}})
	if total != 6 || len(items) != 6 {
		t.Errorf("expected 6 matches for cohort-2, got %d", total)
	}

	items, _, _ = repo.List(ctx, "cohorts", Filter{SortPath: []string{"name"}, SortDesc: true, Limit: 1})
	if items[0].Doc["name"] != "Cohort-25" {
		t.Errorf("expected Cohort-25 first, got %v", items[0].Doc["name"])
	}
}

func TestBuildListQuery(t *testing.T) {
	q := buildListQuery("cohort-members", Filter{
		Search:     "Ana_",
		SearchPath: []string{"patient", "fullName"},
		Fields:     []FieldMatch{fieldMatch("cohortId", "c-1")},
	})

	wantWhere := `resource = $1 AND lower(COALESCE(doc #>> $2, '')) LIKE $3 AND (doc #>> $4 = $5 OR doc #>> $6 = $7)`
	if q.whereSQL() != wantWhere {
		t.Errorf("where:\n got %s\nwant %s", q.whereSQL(), wantWhere)
	}
	if q.countSQL() != "SELECT COUNT(*) FROM records WHERE "+wantWhere {
		t.Errorf("unexpected count sql %s", q.countSQL())
	}
	wantArgs := []interface{}{
		"cohort-members",
		[]string{"patient", "fullName"},
		`%ana\_%`,
		[]string{"cohort", "id"}, "c-1",
		[]string{"cohort", "uuid"}, "c-1",
	}
	if !reflect.DeepEqual(q.args, wantArgs) {
		t.Errorf("args:\n got %#v\nwant %#v", q.args, wantArgs)
	}

	sql, args := q.dataSQL(10, 20)
	if !strings.HasSuffix(sql, "ORDER BY id ASC LIMIT $8 OFFSET $9") {
		t.Errorf("unexpected data sql %s", sql)
	}
	if len(args) != 9 || args[7] != 10 || args[8] != 20 {
		t.Errorf("unexpected data args %#v", args)
	}
	if len(q.args) != 7 {
		t.Error("dataSQL must not grow the shared filter arguments")
	}
}

func TestBuildListQuery_SortAndRecordFields(t *testing.T) {
	q := buildListQuery("cohorts", Filter{
		Fields:   []FieldMatch{{Paths: [][]string{{"id"}, {"uuid"}}, Value: "7"}},
		SortPath: []string{"name"},
		SortDesc: true,
	})
	if q.whereSQL() != "resource = $1 AND (id::text = $2 OR uuid::text = $3)" {
		t.Errorf("unexpected where %s", q.whereSQL())
	}
	sql, args := q.dataSQL(0, 0)
	if !strings.HasSuffix(sql, "ORDER BY lower(doc #>> $4) DESC NULLS LAST, id ASC") {
		t.Errorf("unexpected data sql %s", sql)
	}
	if len(args) != 4 {
		t.Errorf("expected sort path as the only extra arg, got %#v", args)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Errorf("unexpected escape %q", got)
	}
}
