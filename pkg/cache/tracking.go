package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/caio-oliv/restatement/clock"
)

// Mutation records the latest write to one key observed by a TrackingStore,
// so the overlay can later be replayed onto another Store. At is when that
// write was recorded; Apply uses it to compute how much of TTL
// is still left at replay time.
type Mutation struct {
	Key     Key
	Deleted bool
	Value   any
	TTL     time.Duration
	At      time.Time
}

// TrackingStore wraps an inner Store, applying writes to an isolated
// overlay instead of the inner store directly and recording every mutation
// so it can be replayed elsewhere. DetachedClient uses this to let
// speculative work run against a private view of the cache, then commit
// (or discard) it as a single Patch.
type TrackingStore struct {
	inner Store
	clock clock.Clock

	mu        sync.Mutex
	overlay   *LRUStore
	tombstone map[Key]struct{}
	log       []Mutation
	logIndex  map[Key]int
}

// NewTrackingStore wraps inner with a fresh, unbounded overlay.
func NewTrackingStore(inner Store) *TrackingStore {
	return NewTrackingStoreWithClock(inner, clock.Default)
}

// NewTrackingStoreWithClock is NewTrackingStore with an injectable Clock,
// for tests that need deterministic mutation timestamps.
func NewTrackingStoreWithClock(inner Store, c clock.Clock) *TrackingStore {
	return &TrackingStore{
		inner:     inner,
		clock:     c,
		overlay:   NewLRUStoreWithClock(0, c),
		tombstone: make(map[Key]struct{}),
		logIndex:  make(map[Key]int),
	}
}

// record keeps at most one Mutation per key: a repeat write overwrites the
// key's existing record in place, so the Patch reflects only the latest
// value per key while keeping the order keys were first touched in.
func (t *TrackingStore) record(m Mutation) {
	if i, ok := t.logIndex[m.Key]; ok {
		t.log[i] = m
		return
	}
	t.logIndex[m.Key] = len(t.log)
	t.log = append(t.log, m)
}

// Get checks the overlay first, falling back to the inner store so reads
// see prior speculative writes layered over the committed state. A key
// deleted through this store stays hidden even while the inner store still
// holds it.
func (t *TrackingStore) Get(key Key) (Entry, bool) {
	t.mu.Lock()
	if _, dead := t.tombstone[key]; dead {
		t.mu.Unlock()
		return Entry{}, false
	}
	e, ok := t.overlay.Get(key)
	t.mu.Unlock()
	if ok {
		return e, true
	}
	return t.inner.Get(key)
}

// Set implements Store, writing only to the overlay.
func (t *TrackingStore) Set(key Key, value any, ttl time.Duration) {
	t.mu.Lock()
	delete(t.tombstone, key)
	t.overlay.Set(key, value, ttl)
	t.record(Mutation{Key: key, Value: value, TTL: ttl, At: t.clock.Now()})
	t.mu.Unlock()
}

// Delete implements Store, recording a tombstone so a subsequent Get does
// not fall through to the inner store's value.
func (t *TrackingStore) Delete(key Key) bool {
	t.mu.Lock()
	_, existed := t.overlay.Get(key)
	t.overlay.Delete(key)
	t.tombstone[key] = struct{}{}
	t.record(Mutation{Key: key, Deleted: true, At: t.clock.Now()})
	t.mu.Unlock()
	if existed {
		return true
	}
	_, innerOK := t.inner.Get(key)
	return innerOK
}

// DeletePrefix implements Store over the union of overlay and inner keys,
// matching by literal string prefix.
func (t *TrackingStore) DeletePrefix(prefix string) int {
	count := 0
	for _, key := range t.Keys() {
		if strings.HasPrefix(key, prefix) {
			if t.Delete(key) {
				count++
			}
		}
	}
	return count
}

// Clear implements Store, clearing only the overlay; the committed inner
// store is untouched until Commit.
func (t *TrackingStore) Clear() {
	t.mu.Lock()
	t.overlay.Clear()
	t.tombstone = make(map[Key]struct{})
	t.log = nil
	t.logIndex = make(map[Key]int)
	t.mu.Unlock()
}

// Keys returns the union of overlay and inner keys, minus keys deleted
// through this store.
func (t *TrackingStore) Keys() []Key {
	t.mu.Lock()
	overlayKeys := t.overlay.Keys()
	dead := make(map[Key]struct{}, len(t.tombstone))
	for k := range t.tombstone {
		dead[k] = struct{}{}
	}
	t.mu.Unlock()

	seen := make(map[Key]struct{}, len(overlayKeys))
	keys := make([]Key, 0, len(overlayKeys))
	for _, k := range overlayKeys {
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for _, k := range t.inner.Keys() {
		if _, ok := seen[k]; ok {
			continue
		}
		if _, ok := dead[k]; ok {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// Patch is the ordered set of mutations recorded by a TrackingStore since
// it was created (or last reset), ready to be replayed onto another Store.
type Patch struct {
	Mutations []Mutation
}

// Commit snapshots the recorded mutations as a Patch and resets the log,
// leaving the overlay itself intact.
func (t *TrackingStore) Commit() Patch {
	t.mu.Lock()
	defer t.mu.Unlock()
	mutations := make([]Mutation, len(t.log))
	copy(mutations, t.log)
	t.log = nil
	t.logIndex = make(map[Key]int)
	return Patch{Mutations: mutations}
}

// Apply replays a Patch's mutations onto dst in order. A Set whose TTL has
// fully elapsed since it was recorded is skipped; one with time left is
// written with only the remaining TTL, so replay never resurrects an entry
// past the lifetime it was originally given.
func Apply(dst Store, patch Patch) {
	ApplyAt(dst, patch, clock.Default.Now())
}

// ApplyAt is Apply with an explicit replay time.
func ApplyAt(dst Store, patch Patch, now time.Time) {
	for _, m := range patch.Mutations {
		if m.Deleted {
			dst.Delete(m.Key)
			continue
		}
		remaining := m.TTL - now.Sub(m.At)
		if remaining <= 0 {
			continue
		}
		dst.Set(m.Key, m.Value, remaining)
	}
}
