package store

import (
	"context"
	"fmt"

	"github.com/csaude/comvida/internal/platform/metrics"
	"github.com/csaude/comvida/internal/platform/remote"
)

// Fetch makes page q.Page the current page and returns its entities. An
// unfiltered page already in the cache is served without a network call
// unless q.IgnoreCache is set, which discards the whole cache first. Search
// results always come from the network and are never cached.
//
// Failures are recorded on the store (see Err and LastError) and the
// previous page stays in place.
func (s *Store[E, D]) Fetch(ctx context.Context, q Query) []E {
	page := q.Page
	if page < 0 {
		page = 0
	}
	search := q.IsSearch()

	s.mu.Lock()
	size := q.Size
	if size == 0 {
		size = s.pagination.PageSize
	}
	if size < 0 {
		s.fail(s.msgs.Fetch, fmt.Errorf("fetch %s page %d size %d: %w", s.opts.Resource, page, size, remote.ErrInvalidPageSize))
		view := s.view
		s.mu.Unlock()
		return view
	}
	if q.IgnoreCache {
		s.invalidateLocked()
	}
	if !q.IgnoreCache && !search {
		if cached, ok := s.pages[page]; ok {
			s.view = cached
			s.viewCached = true
			s.pagination.CurrentPage = page
			s.mu.Unlock()
			s.opts.Metrics.CacheLookup(s.opts.Resource, metrics.CacheHit)
			return cached
		}
	}
	s.mu.Unlock()

	if search {
		s.opts.Metrics.CacheLookup(s.opts.Resource, metrics.CacheBypass)
	} else {
		s.opts.Metrics.CacheLookup(s.opts.Resource, metrics.CacheMiss)
	}

	s.begin()
	res, err := s.backend.List(ctx, s.listQuery(q, page, size))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.end()
	if err != nil {
		s.fail(s.msgs.Fetch, err)
		return s.view
	}

	items := make([]E, 0, len(res.Content))
	for _, dto := range res.Content {
		items = append(items, s.codec.Decode(dto))
	}
	if !search {
		s.pages[page] = items
	}
	s.view = items
	s.viewCached = !search

	pageSize := res.Size
	if pageSize <= 0 {
		pageSize = size
	}
	s.pagination = Pagination{
		TotalSize:   res.TotalSize,
		TotalPages:  remote.PageCount(res.TotalSize, pageSize),
		CurrentPage: page,
		PageSize:    pageSize,
	}
	s.log.Debug().
		Int("page", page).
		Int("items", len(items)).
		Bool("search", search).
		Int("total_size", res.TotalSize).
		Msg("page fetched")
	return items
}

func (s *Store[E, D]) listQuery(q Query, page, size int) remote.ListQuery {
	filters := make(map[string]string, len(s.opts.Scope)+len(q.Filters))
	for k, v := range s.opts.Scope {
		filters[k] = v
	}
	for k, v := range q.Filters {
		filters[k] = v
	}
	return remote.ListQuery{
		Page:    page,
		Size:    size,
		Sort:    q.Sort,
		Search:  q.Search,
		Filters: filters,
	}
}

// Get loads one entity into the current slot. Failures are recorded on the
// store and the previous current entity is kept.
func (s *Store[E, D]) Get(ctx context.Context, id int64) (E, bool) {
	s.begin()
	dto, err := s.backend.Get(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.end()
	if err != nil {
		s.fail(s.msgs.Get, err)
		return s.current, false
	}
	s.current = s.codec.Decode(dto)
	s.hasCurrent = true
	return s.current, true
}

// Save creates the entity when it has no id or uuid yet and updates it
// otherwise, then reconciles the result into the cached pages. The error is
// recorded and returned so the caller can keep the unsaved edit.
func (s *Store[E, D]) Save(ctx context.Context, e E) (E, error) {
	id := s.codec.Identity(e)
	dto := s.codec.Encode(e)

	s.begin()
	var (
		saved D
		err   error
	)
	if id.IsNew() {
		saved, err = s.backend.Create(ctx, dto)
	} else {
		saved, err = s.backend.Update(ctx, id.ID, dto)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.end()
	if err != nil {
		var zero E
		s.fail(s.msgs.Save, err)
		return zero, err
	}
	entity := s.codec.Decode(saved)
	s.reconcile(entity, id.IsNew())
	return entity, nil
}

// UpdateStatus changes the lifecycle status of the entity with uuid and
// reconciles the returned entity like an update.
func (s *Store[E, D]) UpdateStatus(ctx context.Context, uuid, status string) (E, error) {
	s.begin()
	saved, err := s.backend.UpdateStatus(ctx, uuid, status)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.end()
	if err != nil {
		var zero E
		s.fail(s.msgs.UpdateStatus, err)
		return zero, err
	}
	entity := s.codec.Decode(saved)
	s.reconcile(entity, false)
	return entity, nil
}

// Delete removes the entity with uuid remotely and from every cached page.
func (s *Store[E, D]) Delete(ctx context.Context, uuid string) error {
	s.begin()
	err := s.backend.Delete(ctx, uuid)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.end()
	if err != nil {
		s.fail(s.msgs.Delete, err)
		return err
	}
	s.remove(uuid)
	return nil
}

// -- Reconciliation (callers hold s.mu) --

func (s *Store[E, D]) reconcile(saved E, created bool) {
	key := s.codec.Identity(saved)

	found := false
	for _, items := range s.pages {
		for i, it := range items {
			if s.codec.Identity(it).Matches(key) {
				items[i] = saved
				found = true
			}
		}
	}
	inView := false
	for i, it := range s.view {
		if s.codec.Identity(it).Matches(key) {
			s.view[i] = saved
			inView = true
		}
	}

	if !found && !inView {
		cur := s.pagination.CurrentPage
		if cached, ok := s.pages[cur]; ok {
			s.pages[cur] = append(cached, saved)
			if s.viewCached {
				s.view = s.pages[cur]
			} else {
				s.view = append(s.view, saved)
			}
		} else {
			s.view = append(s.view, saved)
		}
	}

	s.current = saved
	s.hasCurrent = true
	if created {
		s.recount(1)
	}
}

func (s *Store[E, D]) remove(uuid string) {
	target := Identity{UUID: uuid}
	keep := func(items []E) ([]E, bool) {
		out := make([]E, 0, len(items))
		removed := false
		for _, it := range items {
			if s.codec.Identity(it).Matches(target) {
				removed = true
				continue
			}
			out = append(out, it)
		}
		return out, removed
	}

	for p, items := range s.pages {
		if rest, removed := keep(items); removed {
			s.pages[p] = rest
		}
	}

	hadItems := len(s.view) > 0
	cur := s.pagination.CurrentPage
	if s.viewCached {
		s.view = s.pages[cur]
	} else {
		s.view, _ = keep(s.view)
	}

	if s.hasCurrent && s.codec.Identity(s.current).Matches(target) {
		var zero E
		s.current = zero
		s.hasCurrent = false
	}

	s.recount(-1)

	if hadItems && len(s.view) == 0 && cur > 0 && !s.opts.KeepPageWhenEmptied {
		cur--
		s.pagination.CurrentPage = cur
		if prev, ok := s.pages[cur]; ok && s.viewCached {
			s.view = prev
		}
	}

	if s.opts.InvalidateOnDelete {
		s.invalidateLocked()
	}
}
