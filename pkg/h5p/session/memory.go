package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	values    map[string]string
	lists     map[string][]string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store. Sessions expire ttl after their last write.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memoryEntry
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore creates a MemoryStore. A zero ttl keeps sessions forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

// entry returns the live entry for sid, dropping it when expired.
func (s *MemoryStore) entry(sid string) *memoryEntry {
	e, ok := s.sessions[sid]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		delete(s.sessions, sid)
		return nil
	}
	return e
}

func (s *MemoryStore) Get(ctx context.Context, sid, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(sid)
	if e == nil {
		return "", false, nil
	}
	v, ok := e.values[key]
	return v, ok, nil
}

// touch returns the live entry for sid, creating it, and extends its expiry.
func (s *MemoryStore) touch(sid string) *memoryEntry {
	e := s.entry(sid)
	if e == nil {
		e = &memoryEntry{values: make(map[string]string), lists: make(map[string][]string)}
		s.sessions[sid] = e
	}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}
	return e
}

func (s *MemoryStore) Set(ctx context.Context, sid, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch(sid).values[key] = value
	return nil
}

func (s *MemoryStore) Pull(ctx context.Context, sid, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(sid)
	if e == nil {
		return "", false, nil
	}
	v, ok := e.values[key]
	delete(e.values, key)
	return v, ok, nil
}

func (s *MemoryStore) Append(ctx context.Context, sid, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.touch(sid)
	e.lists[key] = append(e.lists[key], value)
	return nil
}

func (s *MemoryStore) PullList(ctx context.Context, sid, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(sid)
	if e == nil {
		return nil, nil
	}
	values := e.lists[key]
	delete(e.lists, key)
	return values, nil
}

var _ Store = (*MemoryStore)(nil)
