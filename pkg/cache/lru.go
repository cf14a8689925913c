package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/caio-oliv/restatement/clock"
)

// defaultIdleThreshold is how long an entry may go untouched before the
// default eviction policy considers it droppable under capacity pressure.
const defaultIdleThreshold = 10 * time.Minute

type lruEntry struct {
	key     Key
	value   any
	cached  time.Time
	expires time.Time
	element *list.Element
}

// LRUStore is a thread-safe, bounded in-memory Store with least-recently-used
// eviction on top of TTL expiry. A global write lock is acceptable at the
// throughput a single browser/CLI client generates; it is not meant to be
// shared across processes.
//
// Eviction under capacity pressure is pluggable: a bounded scan asks the
// configured EvictionPolicy which entries (expired or idle) to drop first,
// and only when that scan comes up empty does the exact
// least-recently-used entry go instead.
type LRUStore struct {
	mu         sync.RWMutex
	entries    map[Key]*lruEntry
	order      *list.List
	maxEntries int
	policy     *PolicyEngine
	clock      clock.Clock
}

// NewLRUStore creates an LRUStore holding at most maxEntries live entries.
// maxEntries <= 0 means unbounded (eviction only ever happens via TTL).
// The eviction policy defaults to TTL expiry combined with a 10 minute
// idle timeout.
func NewLRUStore(maxEntries int) *LRUStore {
	return NewLRUStoreWithClock(maxEntries, clock.Default)
}

// NewLRUStoreWithClock is NewLRUStore with an injectable Clock, for tests
// that need to control expiry deterministically.
func NewLRUStoreWithClock(maxEntries int, c clock.Clock) *LRUStore {
	return NewLRUStoreWithPolicy(maxEntries, NewCombinedPolicy(defaultIdleThreshold), c)
}

// NewLRUStoreWithPolicy is NewLRUStore with an explicit EvictionPolicy
// consulted under capacity pressure. A nil policy disables the policy scan
// entirely, leaving pure LRU-tail eviction.
func NewLRUStoreWithPolicy(maxEntries int, policy EvictionPolicy, c clock.Clock) *LRUStore {
	s := &LRUStore{
		entries:    make(map[Key]*lruEntry),
		order:      list.New(),
		maxEntries: maxEntries,
		clock:      c,
	}
	if policy != nil {
		s.policy = NewPolicyEngine(policy, c)
	}
	return s
}

// Get implements Store.
func (s *LRUStore) Get(key Key) (Entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}

	now := s.clock.Now()
	if !now.Before(e.expires) {
		s.mu.Lock()
		s.deleteLocked(key)
		s.mu.Unlock()
		return Entry{}, false
	}

	s.mu.Lock()
	s.order.MoveToFront(e.element)
	s.mu.Unlock()

	if s.policy != nil {
		s.policy.RecordAccess(key)
	}

	return Entry{Value: e.value, CachedAt: e.cached, ExpiresAt: e.expires}, true
}

// Set implements Store.
func (s *LRUStore) Set(key Key, value any, ttl time.Duration) {
	s.mu.Lock()

	now := s.clock.Now()
	expires := now.Add(ttl)

	if e, ok := s.entries[key]; ok {
		e.value = value
		e.cached = now
		e.expires = expires
		s.order.MoveToFront(e.element)
		s.mu.Unlock()
		if s.policy != nil {
			s.policy.RecordSet(key)
		}
		return
	}

	if s.maxEntries > 0 && s.order.Len() >= s.maxEntries {
		s.evictForLocked(key)
	}

	e := &lruEntry{key: key, value: value, cached: now, expires: expires}
	e.element = s.order.PushFront(e)
	s.entries[key] = e
	s.mu.Unlock()

	if s.policy != nil {
		s.policy.RecordSet(key)
	}
}

// Delete implements Store.
func (s *LRUStore) Delete(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(key)
}

func (s *LRUStore) deleteLocked(key Key) bool {
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.order.Remove(e.element)
	delete(s.entries, key)
	return true
}

// evictForLocked frees room for incoming. The policy scan runs first: walk
// the map, drop any entry the EvictionPolicy marks evictable (expired, or
// idle past its threshold), and stop after min(ceil(capacity*0.05), 64)
// deletions so a large store never stalls a Set on a full sweep. The key
// being inserted is never dropped. When the scan finds nothing evictable,
// the exact least-recently-used entry goes instead, so Set always frees at
// least one slot.
func (s *LRUStore) evictForLocked(incoming Key) {
	if s.policy != nil {
		budget := (s.maxEntries + 19) / 20
		if budget > 64 {
			budget = 64
		}
		if budget < 1 {
			budget = 1
		}

		dropped := 0
		for key, e := range s.entries {
			if key == incoming {
				continue
			}
			if !s.policy.ShouldEvict(key, Entry{Value: e.value, CachedAt: e.cached, ExpiresAt: e.expires}) {
				continue
			}
			s.deleteLocked(key)
			dropped++
			if dropped >= budget {
				break
			}
		}
		if dropped > 0 {
			return
		}
	}

	s.evictOldestLocked()
}

func (s *LRUStore) evictOldestLocked() {
	back := s.order.Back()
	if back == nil {
		return
	}
	e := back.Value.(*lruEntry)
	s.order.Remove(back)
	delete(s.entries, e.key)
}

// DeletePrefix implements Store.
func (s *LRUStore) DeletePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toDelete []Key
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			toDelete = append(toDelete, key)
		}
	}

	count := 0
	for _, key := range toDelete {
		if s.deleteLocked(key) {
			count++
		}
	}
	return count
}

// Clear implements Store.
func (s *LRUStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[Key]*lruEntry)
	s.order = list.New()
}

// Keys implements Store.
func (s *LRUStore) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	keys := make([]Key, 0, len(s.entries))
	for key, e := range s.entries {
		if now.Before(e.expires) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Size returns the current number of stored entries, expired or not.
func (s *LRUStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// CleanupExpired sweeps every expired entry and returns how many were
// removed. The LRU stores above lazily expire on Get, so nothing requires
// callers to run this, but a background engine can use it to keep memory
// bounded between accesses.
func (s *LRUStore) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var expired []Key
	for key, e := range s.entries {
		if !now.Before(e.expires) {
			expired = append(expired, key)
		}
	}
	count := 0
	for _, key := range expired {
		if s.deleteLocked(key) {
			count++
		}
	}
	return count
}
