package devserver_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/csaude/comvida/internal/devserver"
	"github.com/csaude/comvida/internal/domain/cohort"
	"github.com/csaude/comvida/internal/domain/person"
	"github.com/csaude/comvida/internal/platform/auth"
	"github.com/csaude/comvida/internal/platform/metrics"
	"github.com/csaude/comvida/internal/platform/remote"
	"github.com/csaude/comvida/internal/store"
)

type fixture struct {
	svc *devserver.Service
	srv *httptest.Server
}

func startServer(t *testing.T, cfg devserver.Config) *fixture {
	t.Helper()
	svc := devserver.NewService(devserver.NewMemoryRepo())
	if cfg.Backend == "" {
		cfg.Backend = "memory"
	}
	srv := httptest.NewServer(devserver.NewServer(svc, cfg, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return &fixture{svc: svc, srv: srv}
}

func (f *fixture) client(t *testing.T, opts ...remote.Option) *remote.Client {
	t.Helper()
	c, err := remote.NewClient(f.srv.URL+"/api", opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func (f *fixture) seedCohorts(t *testing.T, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := f.svc.Create(context.Background(), "cohorts", devserver.Document{
			"name": fmt.Sprintf("Cohort-%02d", i),
		}, "seed")
		if err != nil {
			t.Fatalf("seed cohort %d: %v", i, err)
		}
	}
}

func TestCohortLifecycleAgainstServer(t *testing.T) {
	f := startServer(t, devserver.Config{})
	f.seedCohorts(t, 25)

	m := metrics.New(prometheus.NewRegistry())
	st := cohort.NewStore(f.client(t, remote.WithMetrics(m)), store.Options{PageSize: 10, Metrics: m})
	ctx := context.Background()

	items := st.Fetch(ctx, store.Query{Page: 0})
	if len(items) != 10 {
		t.Fatalf("expected 10 cohorts, got %d (err %q)", len(items), st.Err())
	}
	pg := st.Pagination()
	if pg.TotalSize != 25 || pg.TotalPages != 3 || pg.CurrentPage != 0 {
		t.Fatalf("unexpected pagination %+v", pg)
	}

	again := st.Fetch(ctx, store.Query{Page: 0})
	if again[0] != items[0] {
		t.Error("second fetch should hand back the cached entities")
	}
	if hits := testutil.ToFloat64(m.Lookups().WithLabelValues("cohorts", metrics.CacheHit)); hits != 1 {
		t.Errorf("expected one cache hit, got %v", hits)
	}

	// Create, then delete.
	saved, err := st.Save(ctx, &cohort.Cohort{Name: "Outbreak-2024", Description: "district response"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID == 0 || saved.UUID == "" || saved.CreatedBy != "anonymous" {
		t.Errorf("server identity and audit missing: %+v", saved.Audit)
	}
	if got := st.Pagination().TotalSize; got != 26 {
		t.Errorf("expected total 26 after create, got %d", got)
	}
	if cur, ok := st.Current(); !ok || cur.UUID != saved.UUID {
		t.Error("saved cohort should be current")
	}

	saved.Name = "Outbreak-2024-B"
	updated, err := st.Save(ctx, saved)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.UUID != saved.UUID || updated.UpdatedBy != "anonymous" {
		t.Errorf("unexpected update result %+v", updated.Audit)
	}

	if err := st.Delete(ctx, saved.UUID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := st.Pagination().TotalSize; got != 25 {
		t.Errorf("expected total 25 after delete, got %d", got)
	}

	// Error taxonomy.
	_, err = st.Save(ctx, &cohort.Cohort{Name: "cohort-01"})
	if !errors.Is(err, remote.ErrConflict) {
		t.Errorf("expected conflict for a duplicate name, got %v", err)
	}
	if st.Err() != "error saving cohorts" {
		t.Errorf("unexpected recorded message %q", st.Err())
	}

	_, err = st.Save(ctx, &cohort.Cohort{Name: "  "})
	var apiErr *remote.APIError
	if !errors.Is(err, remote.ErrValidation) || !errors.As(err, &apiErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(apiErr.FieldErrors) != 1 || apiErr.FieldErrors[0].Field != "name" {
		t.Errorf("expected a name field error, got %+v", apiErr.FieldErrors)
	}

	if _, ok := st.Get(ctx, 9999); ok {
		t.Error("expected Get of a missing id to fail")
	}
	if !errors.Is(st.LastError(), remote.ErrNotFound) {
		t.Errorf("expected not found, got %v", st.LastError())
	}

	// Status change keeps the entity in place.
	first := st.Fetch(ctx, store.Query{Page: 0})[0]
	inactive, err := st.UpdateStatus(ctx, first.UUID, "INACTIVE")
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if inactive.LifeCycleStatus != "INACTIVE" || inactive.Name != first.Name {
		t.Errorf("unexpected status result %+v", inactive)
	}

	// Searches bypass the cache.
	found := st.Fetch(ctx, store.Query{Search: "Cohort-2"})
	if len(found) != 6 {
		t.Errorf("expected 6 matches for Cohort-2, got %d", len(found))
	}
	if bypass := testutil.ToFloat64(m.Lookups().WithLabelValues("cohorts", metrics.CacheBypass)); bypass != 1 {
		t.Errorf("expected one bypass, got %v", bypass)
	}
}

func TestLegacyEnvelopeAgainstServer(t *testing.T) {
	f := startServer(t, devserver.Config{Envelope: devserver.EnvelopeLegacy})
	f.seedCohorts(t, 7)

	st := cohort.NewStore(f.client(t, remote.WithEnvelope(remote.EnvelopeLegacy)), store.Options{PageSize: 5})
	items := st.Fetch(context.Background(), store.Query{Page: 1})
	if len(items) != 2 {
		t.Fatalf("expected 2 items on page 1, got %d (err %q)", len(items), st.Err())
	}
	if pg := st.Pagination(); pg.TotalSize != 7 || pg.TotalPages != 2 || pg.CurrentPage != 1 {
		t.Errorf("unexpected pagination %+v", pg)
	}
}

func TestMembersAgainstServer(t *testing.T) {
	f := startServer(t, devserver.Config{})
	f.seedCohorts(t, 3)
	ctx := context.Background()
	c := f.client(t)

	cohorts := cohort.NewStore(c, store.Options{PageSize: 10}).Fetch(ctx, store.Query{Page: 0})
	if len(cohorts) != 3 {
		t.Fatalf("expected 3 cohorts, got %d", len(cohorts))
	}
	target := cohorts[0]

	patients := person.NewPatientStore(c, store.Options{})
	members := cohort.NewMemberStore(c, target.UUID, store.Options{PageSize: 10})
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	for _, n := range []person.Name{
		{FirstName: "Ana", LastName: "Silva", Preferred: true},
		{FirstName: "Joao", LastName: "Mabunda", Preferred: true},
	} {
		p := &person.Patient{Person: person.Person{Names: []person.Name{n}}}
		p.Rederive()
		saved, err := patients.Save(ctx, p)
		if err != nil {
			t.Fatalf("save patient: %v", err)
		}
		if _, err := members.Save(ctx, &cohort.Member{Cohort: target, Patient: saved, StartDate: &start}); err != nil {
			t.Fatalf("save member: %v", err)
		}
	}

	// A member of another cohort stays out of the scoped pages.
	other := &person.Patient{Person: person.Person{Names: []person.Name{{FirstName: "Rosa", LastName: "Silva"}}}}
	other.Rederive()
	otherSaved, _ := patients.Save(ctx, other)
	if _, err := cohort.NewMemberStore(c, cohorts[1].UUID, store.Options{}).Save(ctx, &cohort.Member{Cohort: cohorts[1], Patient: otherSaved}); err != nil {
		t.Fatalf("save other member: %v", err)
	}

	page := members.Fetch(ctx, store.Query{Page: 0, IgnoreCache: true})
	if len(page) != 2 {
		t.Fatalf("expected 2 members in scope, got %d (err %q)", len(page), members.Err())
	}
	if page[0].Patient == nil || page[0].Patient.FullName != "Ana Silva" {
		t.Errorf("unexpected nested patient %+v", page[0].Patient)
	}
	if page[0].StartDate == nil || !page[0].StartDate.Equal(start) {
		t.Errorf("unexpected start date %v", page[0].StartDate)
	}

	silvas := members.Fetch(ctx, store.Query{Search: "silva"})
	if len(silvas) != 1 {
		t.Errorf("expected one Silva in scope, got %d", len(silvas))
	}

	_, err := members.Save(ctx, &cohort.Member{Cohort: target, Patient: page[0].Patient})
	if !errors.Is(err, remote.ErrConflict) {
		t.Errorf("expected duplicate membership conflict, got %v", err)
	}

	withMembers, res, err := cohort.ListWithMembers(ctx, c, remote.ListQuery{Page: 0, Size: 10})
	if err != nil {
		t.Fatalf("list with members: %v", err)
	}
	if res.TotalSize != 3 || len(withMembers) != 3 {
		t.Fatalf("expected 3 cohorts, got %d of %d", len(withMembers), res.TotalSize)
	}
	counts := map[string]int{}
	for _, w := range withMembers {
		counts[w.Cohort.UUID] = len(w.Members)
	}
	if counts[target.UUID] != 2 || counts[cohorts[1].UUID] != 1 || counts[cohorts[2].UUID] != 0 {
		t.Errorf("unexpected member counts %v", counts)
	}
}

func TestAuthAgainstServer(t *testing.T) {
	jwtCfg := auth.JWTConfig{Issuer: "comvida-e2e", SigningKey: []byte("e2e-key"), TTL: time.Hour}
	f := startServer(t, devserver.Config{RequireAuth: true, JWT: jwtCfg})
	ctx := context.Background()
	if err := f.svc.EnsureUser(ctx, "admin", "admin-pw", []string{auth.RoleAdmin}); err != nil {
		t.Fatal(err)
	}
	f.svc.EnsureUser(ctx, "viewer", "viewer-pw", []string{auth.RoleViewer})
	f.seedCohorts(t, 2)

	anon := cohort.NewStore(f.client(t), store.Options{})
	anon.Fetch(ctx, store.Query{})
	if !errors.Is(anon.LastError(), remote.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", anon.LastError())
	}

	base := f.client(t)
	if _, err := base.Login(ctx, "admin", "wrong"); !errors.Is(err, remote.ErrUnauthorized) {
		t.Errorf("expected bad login to be unauthorized, got %v", err)
	}

	token, err := base.Login(ctx, "viewer", "viewer-pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	viewer := cohort.NewStore(f.client(t, remote.WithSession(remote.NewSession(token))), store.Options{})
	if items := viewer.Fetch(ctx, store.Query{}); len(items) != 2 {
		t.Fatalf("viewer should read, got %d items (err %v)", len(items), viewer.LastError())
	}
	_, err = viewer.Save(ctx, &cohort.Cohort{Name: "Blocked"})
	var apiErr *remote.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Errorf("expected 403 for a viewer write, got %v", err)
	}

	token, err = base.Login(ctx, "admin", "admin-pw")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	admin := cohort.NewStore(f.client(t, remote.WithSession(remote.NewSession(token))), store.Options{})
	saved, err := admin.Save(ctx, &cohort.Cohort{Name: "Allowed"})
	if err != nil {
		t.Fatalf("admin save: %v", err)
	}
	if saved.CreatedBy != "admin" {
		t.Errorf("expected createdBy admin, got %q", saved.CreatedBy)
	}

	users := person.NewUserStore(f.client(t, remote.WithSession(remote.NewSession(token))), store.Options{})
	found := users.Fetch(ctx, store.Query{Search: "view"})
	if len(found) != 1 || found[0].Username != "viewer" || found[0].Password != "" {
		t.Errorf("unexpected user search result %+v", found)
	}
}

func TestHealthAgainstServer(t *testing.T) {
	f := startServer(t, devserver.Config{})
	resp, err := http.Get(f.srv.URL + "/health/db")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a request id on every response")
	}
}
