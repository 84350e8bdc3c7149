package devserver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/csaude/comvida/internal/platform/auth"
	"github.com/csaude/comvida/internal/platform/db"
)

const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"

	timeLayout = time.RFC3339
)

// ListParams is a parsed list request.
type ListParams struct {
	Page    int
	Size    int
	Sort    string
	Search  string
	Filters map[string]string
}

type Service struct {
	repo      Repository
	resources map[string]ResourceConfig
	now       func() time.Time
	newUUID   func() string
}

func NewService(repo Repository, resources ...ResourceConfig) *Service {
	if len(resources) == 0 {
		resources = DefaultResources()
	}
	s := &Service{
		repo:      repo,
		resources: make(map[string]ResourceConfig, len(resources)),
		now:       time.Now,
		newUUID:   uuid.NewString,
	}
	for _, rc := range resources {
		s.resources[rc.Name] = rc
	}
	return s
}

func (s *Service) Resource(name string) (ResourceConfig, error) {
	rc, ok := s.resources[name]
	if !ok {
		return ResourceConfig{}, fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}
	return rc, nil
}

func (s *Service) Ping(ctx context.Context) error { return s.repo.Ping(ctx) }

// Pool returns the pgx pool behind the repository, nil for the memory
// backend.
func (s *Service) Pool() *pgxpool.Pool {
	if ps, ok := s.repo.(db.PoolSource); ok {
		return ps.Pool()
	}
	return nil
}

// -- Writes --

// Create validates doc, assigns id, uuid and audit fields, and returns the
// stored document.
func (s *Service) Create(ctx context.Context, resource string, doc Document, actor string) (Document, error) {
	rc, err := s.Resource(resource)
	if err != nil {
		return nil, err
	}
	if err := rc.validate(doc); err != nil {
		return nil, err
	}

	body := stripReserved(doc)
	secret, err := takeSecret(rc, body)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC().Format(timeLayout)
	body["createdBy"] = actor
	body["createdAt"] = now
	body["updatedBy"] = nil
	if st, _ := body["lifeCycleStatus"].(string); st == "" {
		body["lifeCycleStatus"] = StatusActive
	}

	rec := &Record{
		UUID:     s.newUUID(),
		Resource: resource,
		Key:      rc.keyOf(body),
		Secret:   secret,
		Doc:      body,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	return render(rec), nil
}

// Update replaces the stored document of id. id 0 takes the id from the
// body, which is how body-style PUTs address records.
func (s *Service) Update(ctx context.Context, resource string, id int64, doc Document, actor string) (Document, error) {
	rc, err := s.Resource(resource)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		id = docID(doc)
	}
	if id == 0 {
		return nil, &ValidationError{Resource: resource, Fields: []FieldError{{Field: "id", Message: "must not be null"}}}
	}
	if err := rc.validate(doc); err != nil {
		return nil, err
	}

	old, err := s.repo.Get(ctx, resource, id)
	if err != nil {
		return nil, err
	}

	body := stripReserved(doc)
	secret, err := takeSecret(rc, body)
	if err != nil {
		return nil, err
	}
	if secret == "" {
		secret = old.Secret
	}
	body["createdBy"] = old.Doc["createdBy"]
	body["createdAt"] = old.Doc["createdAt"]
	body["updatedBy"] = actor
	body["updatedAt"] = s.now().UTC().Format(timeLayout)
	if st, _ := body["lifeCycleStatus"].(string); st == "" {
		body["lifeCycleStatus"] = old.Doc["lifeCycleStatus"]
	}

	rec := &Record{
		ID:       id,
		UUID:     old.UUID,
		Resource: resource,
		Key:      rc.keyOf(body),
		Secret:   secret,
		Doc:      body,
	}
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return render(rec), nil
}

// UpdateStatus changes only lifeCycleStatus.
func (s *Service) UpdateStatus(ctx context.Context, resource, uuid, status, actor string) (Document, error) {
	if _, err := s.Resource(resource); err != nil {
		return nil, err
	}
	status = strings.ToUpper(strings.TrimSpace(status))
	if status == "" {
		return nil, &ValidationError{Resource: resource, Fields: []FieldError{{Field: "lifeCycleStatus", Message: "must not be blank"}}}
	}
	rec, err := s.repo.GetByUUID(ctx, resource, uuid)
	if err != nil {
		return nil, err
	}
	rec.Doc["lifeCycleStatus"] = status
	rec.Doc["updatedBy"] = actor
	rec.Doc["updatedAt"] = s.now().UTC().Format(timeLayout)
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return render(rec), nil
}

func (s *Service) Delete(ctx context.Context, resource, uuid string) error {
	if _, err := s.Resource(resource); err != nil {
		return err
	}
	return s.repo.Delete(ctx, resource, uuid)
}

// -- Reads --

// Get resolves key as a numeric id, or as a uuid otherwise.
func (s *Service) Get(ctx context.Context, resource, key string) (Document, error) {
	if _, err := s.Resource(resource); err != nil {
		return nil, err
	}
	var rec *Record
	var err error
	if id, perr := strconv.ParseInt(key, 10, 64); perr == nil {
		rec, err = s.repo.Get(ctx, resource, id)
	} else {
		rec, err = s.repo.GetByUUID(ctx, resource, key)
	}
	if err != nil {
		return nil, err
	}
	return render(rec), nil
}

func (s *Service) List(ctx context.Context, resource string, p ListParams) ([]Document, int, error) {
	rc, err := s.Resource(resource)
	if err != nil {
		return nil, 0, err
	}
	recs, total, err := s.repo.List(ctx, resource, s.filter(rc, p))
	if err != nil {
		return nil, 0, err
	}
	docs := make([]Document, len(recs))
	for i, r := range recs {
		docs[i] = render(r)
	}
	return docs, total, nil
}

func (s *Service) filter(rc ResourceConfig, p ListParams) Filter {
	f := Filter{
		Search:     p.Search,
		SearchPath: splitPath(rc.searchField()),
		Limit:      p.Size,
		Offset:     p.Page * p.Size,
	}
	for k, v := range p.Filters {
		if strings.TrimSpace(v) == "" {
			continue
		}
		f.Fields = append(f.Fields, fieldMatch(k, v))
	}
	f.SortPath, f.SortDesc = parseSort(p.Sort)
	return f
}

// fieldMatch turns a query filter into a document match. "xId" matches the
// id or uuid of the nested reference x, so ?cohortId=7 and ?cohortId=<uuid>
// both select the members of one cohort.
func fieldMatch(key, value string) FieldMatch {
	if ref, ok := strings.CutSuffix(key, "Id"); ok && ref != "" {
		return FieldMatch{Paths: [][]string{{ref, "id"}, {ref, "uuid"}}, Value: value}
	}
	return FieldMatch{Paths: [][]string{splitPath(key)}, Value: value}
}

// parseSort reads "field,asc|desc". An empty field or "id" sorts by id.
func parseSort(sort string) ([]string, bool) {
	field, dir, _ := strings.Cut(strings.TrimSpace(sort), ",")
	desc := strings.EqualFold(strings.TrimSpace(dir), "desc")
	field = strings.TrimSpace(field)
	if field == "" || field == "id" {
		return nil, desc
	}
	return splitPath(field), desc
}

// CohortWithMembers pairs a cohort with its members.
type CohortWithMembers struct {
	Cohort  Document   `json:"cohort"`
	Members []Document `json:"members"`
}

// CohortsWithMembers pages through cohorts and attaches every member of
// each one.
func (s *Service) CohortsWithMembers(ctx context.Context, p ListParams) ([]CohortWithMembers, int, error) {
	cohorts, total, err := s.List(ctx, "cohorts", p)
	if err != nil {
		return nil, 0, err
	}
	out := make([]CohortWithMembers, 0, len(cohorts))
	for _, c := range cohorts {
		uuid, _ := c["uuid"].(string)
		members, _, err := s.List(ctx, "cohort-members", ListParams{Filters: map[string]string{"cohortId": uuid}})
		if err != nil {
			return nil, 0, err
		}
		out = append(out, CohortWithMembers{Cohort: c, Members: members})
	}
	return out, total, nil
}

// -- Users --

// Authenticate checks username and password against the users resource and
// returns the user document. Inactive users are refused.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Document, []string, error) {
	recs, _, err := s.repo.List(ctx, "users", Filter{
		Fields: []FieldMatch{{Paths: [][]string{{"username"}}, Value: username}},
		Limit:  1,
	})
	if err != nil {
		return nil, nil, err
	}
	if len(recs) == 0 || recs[0].Secret == "" {
		return nil, nil, ErrBadCredentials
	}
	rec := recs[0]
	if err := auth.VerifyPassword(rec.Secret, password); err != nil {
		return nil, nil, ErrBadCredentials
	}
	if st, _ := rec.Doc["lifeCycleStatus"].(string); st == StatusInactive {
		return nil, nil, ErrBadCredentials
	}
	roles := stringList(rec.Doc["roles"])
	if len(roles) == 0 {
		roles = []string{auth.RoleViewer}
	}
	return render(rec), roles, nil
}

// EnsureUser creates username with the given password and roles unless it
// already exists.
func (s *Service) EnsureUser(ctx context.Context, username, password string, roles []string) error {
	_, err := s.Create(ctx, "users", Document{
		"username": username,
		"password": password,
		"roles":    toAny(roles),
	}, "system")
	if errors.Is(err, ErrConflict) {
		return nil
	}
	return err
}

// -- Helpers --

func render(r *Record) Document {
	out := cloneDoc(r.Doc)
	if out == nil {
		out = Document{}
	}
	out["id"] = r.ID
	out["uuid"] = r.UUID
	return out
}

func stripReserved(doc Document) Document {
	body := cloneDoc(doc)
	if body == nil {
		body = Document{}
	}
	for _, f := range reservedFields {
		delete(body, f)
	}
	return body
}

// takeSecret removes the secret field from body and returns its hash.
func takeSecret(rc ResourceConfig, body Document) (string, error) {
	if rc.SecretField == "" {
		return "", nil
	}
	raw, ok := body[rc.SecretField]
	delete(body, rc.SecretField)
	pw, _ := raw.(string)
	if !ok || pw == "" {
		return "", nil
	}
	hash, err := auth.HashPassword(pw)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", rc.SecretField, err)
	}
	return hash, nil
}

func docID(doc Document) int64 {
	switch v := doc["id"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		id, _ := strconv.ParseInt(v, 10, 64)
		return id
	}
	return 0
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
