package devserver

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryRepo struct {
	mu     sync.RWMutex
	nextID int64
	recs   map[int64]*Record
	now    func() time.Time
}

// NewMemoryRepo keeps everything in process; records are copied on the way
// in and out so callers never share maps with the store.
func NewMemoryRepo() Repository {
	return &memoryRepo{recs: make(map[int64]*Record), now: time.Now}
}

func (m *memoryRepo) conflictLocked(r *Record) bool {
	if r.Key == "" {
		return false
	}
	for _, o := range m.recs {
		if o.ID != r.ID && o.Resource == r.Resource && strings.EqualFold(o.Key, r.Key) {
			return true
		}
	}
	return false
}

func (m *memoryRepo) Create(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.recs {
		if o.UUID == r.UUID {
			return ErrConflict
		}
	}
	if m.conflictLocked(r) {
		return ErrConflict
	}
	m.nextID++
	r.ID = m.nextID
	now := m.now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	m.recs[r.ID] = r.clone()
	return nil
}

func (m *memoryRepo) Get(_ context.Context, resource string, id int64) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recs[id]
	if !ok || r.Resource != resource {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

func (m *memoryRepo) GetByUUID(_ context.Context, resource, uuid string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.recs {
		if r.Resource == resource && r.UUID == uuid {
			return r.clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRepo) Update(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.recs[r.ID]
	if !ok || old.Resource != r.Resource {
		return ErrNotFound
	}
	if m.conflictLocked(r) {
		return ErrConflict
	}
	r.UUID = old.UUID
	r.CreatedAt = old.CreatedAt
	r.UpdatedAt = m.now().UTC()
	m.recs[r.ID] = r.clone()
	return nil
}

func (m *memoryRepo) Delete(_ context.Context, resource, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.recs {
		if r.Resource == resource && r.UUID == uuid {
			delete(m.recs, id)
			return nil
		}
	}
	return ErrNotFound
}

func (m *memoryRepo) List(_ context.Context, resource string, f Filter) ([]*Record, int, error) {
	m.mu.RLock()
	var matched []*Record
	for _, r := range m.recs {
		if r.Resource == resource && f.matches(r) {
			matched = append(matched, r)
		}
	}
	m.mu.RUnlock()

	sortRecords(matched, f)
	total := len(matched)
	out := page(matched, f.Offset, f.Limit)
	items := make([]*Record, len(out))
	for i, r := range out {
		items[i] = r.clone()
	}
	return items, total, nil
}

func (m *memoryRepo) Ping(context.Context) error { return nil }
