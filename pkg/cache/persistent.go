package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/caio-oliv/restatement/clock"
)

// PersistentStore is an unbounded Store: a plain key/value map with no
// eviction beyond TTL expiry enforced at read time. Unlike LRUStore it never
// drops a live entry to make room for a new one, trading a fixed memory
// ceiling for simplicity — the right choice for a process whose key space
// is small and known ahead of time (a handful of config/profile queries,
// say), where capacity-based eviction would only be dead code.
type PersistentStore struct {
	mu      sync.RWMutex
	entries map[Key]Entry
	clock   clock.Clock
}

// NewPersistentStore builds an empty PersistentStore using the real clock.
func NewPersistentStore() *PersistentStore {
	return NewPersistentStoreWithClock(clock.Default)
}

// NewPersistentStoreWithClock is NewPersistentStore with an injectable
// Clock, for tests that need deterministic expiry.
func NewPersistentStoreWithClock(c clock.Clock) *PersistentStore {
	return &PersistentStore{entries: make(map[Key]Entry), clock: c}
}

// Get implements Store.
func (s *PersistentStore) Get(key Key) (Entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if e.Expired(s.clock.Now()) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return Entry{}, false
	}
	return e, true
}

// Set implements Store.
func (s *PersistentStore) Set(key Key, value any, ttl time.Duration) {
	now := s.clock.Now()
	s.mu.Lock()
	s.entries[key] = Entry{Value: value, CachedAt: now, ExpiresAt: now.Add(ttl)}
	s.mu.Unlock()
}

// Delete implements Store.
func (s *PersistentStore) Delete(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok
}

// DeletePrefix implements Store.
func (s *PersistentStore) DeletePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			count++
		}
	}
	return count
}

// Clear implements Store.
func (s *PersistentStore) Clear() {
	s.mu.Lock()
	s.entries = make(map[Key]Entry)
	s.mu.Unlock()
}

// Keys implements Store.
func (s *PersistentStore) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	keys := make([]Key, 0, len(s.entries))
	for key, e := range s.entries {
		if !e.Expired(now) {
			keys = append(keys, key)
		}
	}
	return keys
}
