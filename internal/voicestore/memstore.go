package voicestore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is used when no database DSN is configured and in tests.
// The zero value is ready to use.
type MemStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	order    []string

	// now is overridable in tests.
	now func() time.Time
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		profiles: make(map[string]Profile),
	}
}

// Create implements [Store.Create].
func (s *MemStore) Create(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = NewID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.profiles == nil {
		s.profiles = make(map[string]Profile)
	}
	if _, exists := s.profiles[p.ID]; exists {
		return fmt.Errorf("voicestore: create %q: %w", p.ID, ErrDuplicateID)
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	p.CreatedAt = now().UTC()

	s.profiles[p.ID] = *p
	s.order = append(s.order, p.ID)
	return nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, notFound(id)
	}
	return &p, nil
}

// List implements [Store.List].
func (s *MemStore) List(ctx context.Context) ([]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Profile, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.profiles[id])
	}
	return result, nil
}

// Ping always succeeds.
func (s *MemStore) Ping(context.Context) error { return nil }

// Len returns the number of stored profiles.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}
