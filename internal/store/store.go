// Package store keeps a page-indexed cache of one entity kind in front of a
// remote collection, reconciles saved entities into the cached pages and
// records failures on the store instead of handing them to read callers.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/csaude/comvida/internal/platform/metrics"
	"github.com/csaude/comvida/internal/platform/remote"
)

// DefaultPageSize is used when neither the query nor the options set one.
const DefaultPageSize = 20

// Backend is the remote side of one entity kind. *remote.Collection
// satisfies it.
type Backend[D any] interface {
	List(ctx context.Context, q remote.ListQuery) (*remote.PageResult[D], error)
	Get(ctx context.Context, id int64) (D, error)
	Create(ctx context.Context, dto D) (D, error)
	Update(ctx context.Context, id int64, dto D) (D, error)
	Delete(ctx context.Context, uuid string) error
	UpdateStatus(ctx context.Context, uuid, status string) (D, error)
}

// Codec converts between the entity E and its wire form D. Decode and
// Encode must be pure.
type Codec[E any, D any] struct {
	Decode   func(D) E
	Encode   func(E) D
	Identity func(E) Identity
}

// Identity locates an entity across pages after a mutation.
type Identity struct {
	ID         int64
	UUID       string
	NaturalKey string
}

// IsNew reports whether the backend has not assigned an identity yet.
func (i Identity) IsNew() bool { return i.ID == 0 && i.UUID == "" }

// Matches compares by uuid when both sides carry one, otherwise by the
// natural key.
func (i Identity) Matches(o Identity) bool {
	if i.UUID != "" && o.UUID != "" {
		return i.UUID == o.UUID
	}
	return i.NaturalKey != "" && i.NaturalKey == o.NaturalKey
}

// Pagination mirrors the last list response. TotalPages is always
// recomputed as ceil(TotalSize/PageSize).
type Pagination struct {
	TotalSize   int
	TotalPages  int
	CurrentPage int
	PageSize    int
}

// Query is one fetch request.
type Query struct {
	Page        int
	Size        int
	Sort        string
	Search      string
	Filters     map[string]string
	IgnoreCache bool
}

// IsSearch reports whether the query filters the collection. Filtered
// results are never cached.
func (q Query) IsSearch() bool {
	if strings.TrimSpace(q.Search) != "" {
		return true
	}
	for _, v := range q.Filters {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// Messages are the human-readable errors recorded per operation.
type Messages struct {
	Fetch        string
	Get          string
	Save         string
	Delete       string
	UpdateStatus string
}

func defaultMessages(resource string) Messages {
	return Messages{
		Fetch:        fmt.Sprintf("error fetching %s", resource),
		Get:          fmt.Sprintf("error fetching %s details", resource),
		Save:         fmt.Sprintf("error saving %s", resource),
		Delete:       fmt.Sprintf("error deleting %s", resource),
		UpdateStatus: fmt.Sprintf("error updating %s status", resource),
	}
}

type Options struct {
	// Resource names the entity kind in logs, metrics and error messages.
	Resource string
	// PageSize defaults to DefaultPageSize; negative sizes are rejected.
	PageSize int
	// Scope filters are sent on every list request and identify the
	// collection itself (e.g. the members of one cohort). They do not make
	// a query a search.
	Scope map[string]string
	// KeepPageWhenEmptied disables stepping back one page when a delete
	// empties the current non-zero page.
	KeepPageWhenEmptied bool
	// InvalidateOnDelete drops every cached page after a delete.
	InvalidateOnDelete bool
	Messages           *Messages
	Logger             zerolog.Logger
	Metrics            *metrics.Metrics
}

// Store is the page cache for one entity kind. E is normally a pointer so
// cache hits hand back the very same entities.
type Store[E any, D any] struct {
	backend Backend[D]
	codec   Codec[E, D]
	opts    Options
	msgs    Messages
	log     zerolog.Logger

	mu         sync.Mutex
	pages      map[int][]E
	view       []E
	viewCached bool
	current    E
	hasCurrent bool
	pagination Pagination
	inFlight   int
	errMsg     string
	lastErr    error
}

// New builds a store. A zero PageSize means DefaultPageSize; a negative one
// is kept and makes every Fetch fail with remote.ErrInvalidPageSize.
func New[E any, D any](backend Backend[D], codec Codec[E, D], opts Options) *Store[E, D] {
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Resource == "" {
		opts.Resource = "entities"
	}
	msgs := defaultMessages(opts.Resource)
	if opts.Messages != nil {
		msgs = *opts.Messages
	}
	return &Store[E, D]{
		backend:    backend,
		codec:      codec,
		opts:       opts,
		msgs:       msgs,
		log:        opts.Logger.With().Str("resource", opts.Resource).Logger(),
		pages:      make(map[int][]E),
		pagination: Pagination{PageSize: opts.PageSize},
	}
}

// -- Accessors --

// CurrentPage returns the entities of the page being viewed.
func (s *Store[E, D]) CurrentPage() []E {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Current returns the entity last loaded, saved or status-updated.
func (s *Store[E, D]) Current() (E, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.hasCurrent
}

func (s *Store[E, D]) Pagination() Pagination {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pagination
}

// Err returns the message recorded by the last failed operation, "" after
// a successful one.
func (s *Store[E, D]) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// LastError returns the typed error behind Err.
func (s *Store[E, D]) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Loading reports whether a remote call is in flight.
func (s *Store[E, D]) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight > 0
}

// CachedPages returns the cached page indexes in ascending order.
func (s *Store[E, D]) CachedPages() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.pages))
	for p := range s.pages {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// Cached returns the cached entities of page, if any.
func (s *Store[E, D]) Cached(page int) ([]E, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, ok := s.pages[page]
	return items, ok
}

// InvalidateAll drops every cached page; the next Fetch goes to the
// network.
func (s *Store[E, D]) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateLocked()
}

func (s *Store[E, D]) invalidateLocked() {
	s.pages = make(map[int][]E)
	s.viewCached = false
}

// -- Bookkeeping --

func (s *Store[E, D]) begin() {
	s.mu.Lock()
	s.inFlight++
	s.errMsg = ""
	s.lastErr = nil
	s.mu.Unlock()
}

// end must be called with s.mu held.
func (s *Store[E, D]) end() {
	s.inFlight--
}

// fail must be called with s.mu held.
func (s *Store[E, D]) fail(msg string, err error) {
	s.errMsg = msg
	s.lastErr = err
	s.log.Error().Err(err).Msg(msg)
}

func (s *Store[E, D]) recount(delta int) {
	s.pagination.TotalSize += delta
	if s.pagination.TotalSize < 0 {
		s.pagination.TotalSize = 0
	}
	s.pagination.TotalPages = remote.PageCount(s.pagination.TotalSize, s.pagination.PageSize)
}
