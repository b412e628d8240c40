package capability

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// ErrNotFound is returned when a grant does not exist (never issued or
// revoked).
var ErrNotFound = errors.New("capability: grant not found")

// Grant records which local file a capability refers to.
type Grant struct {
	ID       string
	Path     string
	IssuedAt time.Time
}

// Store persists grants. Put is an upsert that keeps the original IssuedAt
// when the grant already exists.
type Store interface {
	Put(ctx context.Context, g Grant) error
	Get(ctx context.Context, id string) (Grant, error)
	List(ctx context.Context) ([]Grant, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.Mutex
	grants map[string]Grant
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{grants: make(map[string]Grant)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, g Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.grants[g.ID]; ok {
		g.IssuedAt = prev.IssuedAt
	}

	s.grants[g.ID] = g

	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[id]
	if !ok {
		return Grant{}, ErrNotFound
	}

	return g, nil
}

// List implements Store. Grants are ordered by issue time, then ID.
func (s *MemoryStore) List(_ context.Context) ([]Grant, error) {
	s.mu.Lock()
	out := make([]Grant, 0, len(s.grants))

	for _, g := range s.grants {
		out = append(out, g)
	}
	s.mu.Unlock()

	sortGrants(out)

	return out, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.grants[id]; !ok {
		return ErrNotFound
	}

	delete(s.grants, id)

	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

func sortGrants(gs []Grant) {
	slices.SortFunc(gs, func(a, b Grant) int {
		if c := a.IssuedAt.Compare(b.IssuedAt); c != 0 {
			return c
		}

		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
}
