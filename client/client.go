// Package client ties a cachemanager.Manager to the background bookkeeping
// a long-lived process needs around it: periodic expired-entry cleanup, an
// aggregate view over every registered query engine's in-flight work, and
// a way to wait on a batch of unrelated query/mutation calls together.
package client

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/caio-oliv/restatement/cachemanager"
	"github.com/caio-oliv/restatement/pkg/hash"
	"github.com/caio-oliv/restatement/query"
)

// sweeper is implemented by cache.Store backends (LRUStore, in particular)
// that can proactively evict expired entries instead of only doing so
// lazily on Get.
type sweeper interface {
	CleanupExpired() int
}

// Source is the non-generic face of a query.Engine[T] a Client can
// aggregate over without knowing T: which keys it tracks, how many fetches
// it has in flight, and a way to wait for them. Every query.Engine
// satisfies it regardless of its type parameter.
type Source interface {
	ActiveKeys() []query.ActiveKey
	Loading() int
	WaitSettled(ctx context.Context) (int, error)
}

// Client is the facade application code is expected to hold onto: it owns
// the shared Manager, the background cleanup loop and a registry of the
// query engines built against it. Per-query and per-mutation behavior
// lives in query.Engine and mutation.Engine values constructed against
// Client.Manager(); engines the caller Registers additionally feed the
// ActiveKeys/ActiveData/Loading/WaitSettled aggregate views.
type Client struct {
	manager *cachemanager.Manager

	mu      sync.Mutex
	sources []Source

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Client around a freshly constructed Manager.
func New(cfg cachemanager.Config) *Client {
	return &Client{manager: cachemanager.New(cfg), stop: make(chan struct{})}
}

// Manager returns the shared cache manager backing every Engine the
// caller constructs.
func (c *Client) Manager() *cachemanager.Manager { return c.manager }

// Register adds a query engine to the Client's aggregate views. Engines
// never need to be registered for correctness, only for visibility.
func (c *Client) Register(s Source) {
	c.mu.Lock()
	c.sources = append(c.sources, s)
	c.mu.Unlock()
}

func (c *Client) snapshotSources() []Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	sources := make([]Source, len(c.sources))
	copy(sources, c.sources)
	return sources
}

// ActiveKeys returns every key tracked by a registered engine, one entry
// per distinct topic.
func (c *Client) ActiveKeys() []query.ActiveKey {
	seen := make(map[string]struct{})
	var keys []query.ActiveKey
	for _, s := range c.snapshotSources() {
		for _, ak := range s.ActiveKeys() {
			if _, dup := seen[ak.Topic]; dup {
				continue
			}
			seen[ak.Topic] = struct{}{}
			keys = append(keys, ak)
		}
	}
	return keys
}

// ActiveData reads the current cached value for every active key, keyed by
// topic. Keys with no live cache entry are omitted.
func (c *Client) ActiveData() map[string]any {
	data := make(map[string]any)
	for _, ak := range c.ActiveKeys() {
		value, ok, err := c.manager.Get(ak.Key)
		if err != nil || !ok {
			continue
		}
		data[ak.Topic] = value
	}
	return data
}

// Loading reports how many fetches are in flight across every registered
// engine.
func (c *Client) Loading() int {
	count := 0
	for _, s := range c.snapshotSources() {
		count += s.Loading()
	}
	return count
}

// WaitSettled blocks until every in-flight fetch on every registered
// engine has settled, or ctx is done, and returns how many it waited on.
func (c *Client) WaitSettled(ctx context.Context) (int, error) {
	total := 0
	for _, s := range c.snapshotSources() {
		n, err := s.WaitSettled(ctx)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Get returns the cached value for key, if present and unexpired.
func (c *Client) Get(key hash.Key) (any, bool, error) { return c.manager.Get(key) }

// Set writes value under key with ttl (ttl <= 0 uses the manager default).
func (c *Client) Set(key hash.Key, value any, ttl time.Duration) error {
	return c.manager.Set(key, value, ttl)
}

// Delete removes key without publishing an invalidation event.
func (c *Client) Delete(key hash.Key) (bool, error) { return c.manager.Delete(key) }

// Invalidate removes key and notifies anything subscribed to its topic.
func (c *Client) Invalidate(key hash.Key) error {
	return c.manager.Invalidate(key, "client")
}

// InvalidatePrefix removes every stored key starting with prefix and
// notifies subscribers of prefix's own topic.
func (c *Client) InvalidatePrefix(prefix string) (int, error) {
	return c.manager.InvalidatePrefix(prefix, "client")
}

// Clear empties the cache entirely.
func (c *Client) Clear() { c.manager.Clear() }

// Keys returns a snapshot of every live cached key.
func (c *Client) Keys() []string { return c.manager.Keys() }

// StartCleanup launches a background goroutine that sweeps expired cache
// entries every interval, for Store implementations that support it. It is
// optional: entries are always lazily dropped on Get regardless of whether
// this is running.
func (c *Client) StartCleanup(interval time.Duration) {
	s, ok := c.manager.Store().(sweeper)
	if !ok || interval <= 0 {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				s.CleanupExpired()
			}
		}
	}()
}

// Close stops the background cleanup loop, if running, and waits for it
// to exit.
func (c *Client) Close() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.wg.Wait()
}

// Task is a unit of work WaitAll runs concurrently.
type Task func(ctx context.Context) error

// WaitAll runs every task concurrently and waits for them all to finish,
// returning the first error encountered (if any) and cancelling the
// shared context for the rest.
func (c *Client) WaitAll(ctx context.Context, tasks ...Task) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		t := t
		g.Go(func() error { return t(gctx) })
	}
	return g.Wait()
}
