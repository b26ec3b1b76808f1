package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps leases in process. It is used by single-process
// deployments and tests.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[string]map[string]time.Time
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leases: make(map[string]map[string]time.Time),
		now:    time.Now,
	}
}

func (s *MemoryStore) TryAcquire(_ context.Context, keys []string, limits []int64, member string, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	for _, key := range keys {
		s.expire(key, now)

		if _, held := s.leases[key][member]; held {
			return AlreadyHeld, nil
		}
	}

	for i, key := range keys {
		if limits[i] >= 0 && int64(len(s.leases[key])) >= limits[i] {
			return i, nil
		}
	}

	for _, key := range keys {
		if s.leases[key] == nil {
			s.leases[key] = make(map[string]time.Time)
		}

		s.leases[key][member] = now.Add(ttl)
	}

	return Acquired, nil
}

func (s *MemoryStore) Refresh(_ context.Context, keys []string, member string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if len(keys) == 0 {
		return false, nil
	}

	s.expire(keys[0], now)

	if _, held := s.leases[keys[0]][member]; !held {
		return false, nil
	}

	for _, key := range keys {
		if s.leases[key] == nil {
			s.leases[key] = make(map[string]time.Time)
		}

		s.leases[key][member] = now.Add(ttl)
	}

	return true, nil
}

func (s *MemoryStore) Remove(_ context.Context, keys []string, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.leases[key], member)

		if len(s.leases[key]) == 0 {
			delete(s.leases, key)
		}
	}

	return nil
}

func (s *MemoryStore) Count(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expire(key, s.now())

	return int64(len(s.leases[key])), nil
}

// Reap drops every expired lease and returns how many were removed.
func (s *MemoryStore) Reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0

	for key := range s.leases {
		removed += s.expire(key, now)
	}

	return removed
}

func (s *MemoryStore) expire(key string, now time.Time) int {
	removed := 0

	for member, expiry := range s.leases[key] {
		if !expiry.After(now) {
			delete(s.leases[key], member)
			removed++
		}
	}

	if len(s.leases[key]) == 0 {
		delete(s.leases, key)
	}

	return removed
}
