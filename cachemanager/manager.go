// Package cachemanager is the shared cache facade every query and mutation
// engine reads and writes through: a Store for values, a Bus for
// transition/invalidation notification, and an audit trail of what was
// invalidated and why.
package cachemanager

import (
	"encoding/json"
	"time"

	"github.com/caio-oliv/restatement/pkg/cache"
	"github.com/caio-oliv/restatement/pkg/hash"
	"github.com/caio-oliv/restatement/pkg/pubsub"
	"github.com/caio-oliv/restatement/telemetry"
)

// KeyString renders a hash.Key to the string a Store indexes by. String
// keys pass through unchanged so literal prefix invalidation ("user:")
// works the way callers expect; any other shape is JSON-encoded.
func KeyString(key hash.Key) (string, error) {
	if s, ok := key.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Config configures a Manager. Zero-value fields fall back to sensible
// in-memory defaults via New.
type Config struct {
	Store      cache.Store
	Bus        *pubsub.Bus
	Hash       hash.Func
	Audit      AuditRecorder
	DefaultTTL time.Duration
	// Logger receives a Warn for every key that fails to serialize into a
	// cache key/topic (a ProtocolError per the engine's error taxonomy —
	// the caller passed a key shape encoding/json cannot marshal). Nil
	// means telemetry.Noop.
	Logger telemetry.Logger
}

// Manager is the shared cache every Engine instance in a Client talks to.
type Manager struct {
	store      cache.Store
	bus        *pubsub.Bus
	flight     *pubsub.Coalescer[any]
	hashFn     hash.Func
	audit      AuditRecorder
	defaultTTL time.Duration
	logger     telemetry.Logger
}

// New builds a Manager from cfg, filling in an unbounded LRUStore, a fresh
// Bus, FNV key hashing and a capped in-memory audit log for any field left
// at its zero value.
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.Noop
	}
	if cfg.Store == nil {
		cfg.Store = cache.NewLRUStore(0)
	}
	if cfg.Bus == nil {
		cfg.Bus = pubsub.NewBusWithLogger(cfg.Logger)
	}
	if cfg.Hash == nil {
		cfg.Hash = hash.Default
	}
	if cfg.Audit == nil {
		cfg.Audit = NewInMemoryAuditLog(256)
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 180 * time.Second
	}

	return &Manager{
		store:      cfg.Store,
		bus:        cfg.Bus,
		flight:     pubsub.NewCoalescer[any](),
		hashFn:     cfg.Hash,
		audit:      cfg.Audit,
		defaultTTL: cfg.DefaultTTL,
		logger:     cfg.Logger,
	}
}

// Store returns the underlying cache.Store, for callers (the background
// revalidation loop, DetachedClient) that need direct access.
func (m *Manager) Store() cache.Store { return m.store }

// Bus returns the underlying pub/sub Bus.
func (m *Manager) Bus() *pubsub.Bus { return m.bus }

// Flight returns the shared in-flight coalescer. It lives on the Manager,
// not on any one engine, so two engines built against the same Manager
// that fetch the same key at the same time share a single underlying call.
func (m *Manager) Flight() *pubsub.Coalescer[any] { return m.flight }

// HashFunc returns the key-hashing function this Manager uses for topic
// names, so a derived Manager (DetachedClient, mainly) can stay consistent
// with it.
func (m *Manager) HashFunc() hash.Func { return m.hashFn }

// DefaultTTL returns the TTL applied when Set is called with ttl <= 0.
func (m *Manager) DefaultTTL() time.Duration { return m.defaultTTL }

// Topic returns the pub/sub topic a key's transitions and invalidations
// are published on.
func (m *Manager) Topic(key hash.Key) (string, error) {
	sum, err := m.hashFn(key)
	if err != nil {
		m.logger.Warn("cachemanager: key hashing failed", "error", err)
		return "", err
	}
	return string(sum), nil
}

// keyString is KeyString with a Warn on failure, so every Manager method
// below reports the same ProtocolError condition (a key encoding/json
// cannot marshal) through the injected Logger instead of silently handing
// the caller a bare error.
func (m *Manager) keyString(key hash.Key) (string, error) {
	ks, err := KeyString(key)
	if err != nil {
		m.logger.Warn("cachemanager: key serialization failed", "error", err)
	}
	return ks, err
}

// Get returns the cached value for key, if present and unexpired.
func (m *Manager) Get(key hash.Key) (any, bool, error) {
	ks, err := m.keyString(key)
	if err != nil {
		return nil, false, err
	}
	entry, ok := m.store.Get(ks)
	if !ok {
		return nil, false, nil
	}
	return entry.Value, true, nil
}

// GetEntry returns the full cache.Entry for key, including its expiry.
func (m *Manager) GetEntry(key hash.Key) (cache.Entry, bool, error) {
	ks, err := m.keyString(key)
	if err != nil {
		return cache.Entry{}, false, err
	}
	entry, ok := m.store.Get(ks)
	return entry, ok, nil
}

// Set writes value under key with ttl and publishes a KindMutation event
// on key's topic, so contexts observing the key learn about the write
// without polling. A ttl <= 0 uses the Manager's DefaultTTL.
func (m *Manager) Set(key hash.Key, value any, ttl time.Duration) error {
	ks, err := m.keyString(key)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.store.Set(ks, value, ttl)

	if topic, terr := m.Topic(key); terr == nil {
		m.bus.Publish(topic, pubsub.Event{
			Kind:    pubsub.KindMutation,
			Payload: pubsub.MutationPayload{Data: value},
		})
	}
	return nil
}

// Delete removes key from the store without publishing an invalidation
// event. Use Invalidate when other observers need to react.
func (m *Manager) Delete(key hash.Key) (bool, error) {
	ks, err := m.keyString(key)
	if err != nil {
		return false, err
	}
	return m.store.Delete(ks), nil
}

// Invalidate deletes key from the store and publishes a KindInvalidation
// event on key's own topic only. It does not scan the bus for other
// topics whose keys happen to share a prefix with key — a subscriber that
// cares about a prefix subscribes to that prefix's own topic (see
// InvalidatePrefix), it does not rely on individual-key fan-out.
func (m *Manager) Invalidate(key hash.Key, triggeredBy string) error {
	ks, err := m.keyString(key)
	if err != nil {
		return err
	}
	topic, err := m.Topic(key)
	if err != nil {
		return err
	}

	m.store.Delete(ks)

	m.bus.Publish(topic, pubsub.Event{
		Kind:    pubsub.KindInvalidation,
		Payload: pubsub.InvalidationPayload{Key: ks},
	})

	m.audit.Record(Record{
		Keys:        []string{ks},
		TriggeredBy: triggeredBy,
		Timestamp:   time.Now(),
	})

	return nil
}

// InvalidatePrefix deletes every stored key starting with prefix and
// publishes a single KindInvalidation event on the topic hashed from
// prefix itself, rather than one event per matched key.
func (m *Manager) InvalidatePrefix(prefix string, triggeredBy string) (int, error) {
	count := m.store.DeletePrefix(prefix)

	topic, err := m.Topic(prefix)
	if err != nil {
		return count, err
	}

	m.bus.Publish(topic, pubsub.Event{
		Kind:    pubsub.KindInvalidation,
		Payload: pubsub.InvalidationPayload{Key: prefix, Prefix: true},
	})

	m.audit.Record(Record{
		Pattern:     prefix,
		TriggeredBy: triggeredBy,
		Timestamp:   time.Now(),
	})

	return count, nil
}

// Clear empties the store without publishing per-key invalidations.
func (m *Manager) Clear() {
	m.store.Clear()
}

// Keys returns a snapshot of every live key currently stored.
func (m *Manager) Keys() []string {
	return m.store.Keys()
}
