package client

import (
	"context"
	"sync"

	"github.com/caio-oliv/restatement/cachemanager"
	"github.com/caio-oliv/restatement/pkg/cache"
	"github.com/caio-oliv/restatement/pkg/pubsub"
)

// DetachedClient lets speculative work (optimistic UI updates, a draft
// form preview) run against a private overlay of the shared cache instead
// of mutating it directly. Reads fall through to the parent's committed
// state; writes land only in the overlay until Commit replays them back.
//
// Its Bus is intentionally its own, separate from the parent Client's: a
// component experimenting against a detached view should not broadcast
// transitions to every other subscriber of the real cache until it
// commits.
type DetachedClient struct {
	parent   *Client
	manager  *cachemanager.Manager
	tracking *cache.TrackingStore

	mu      sync.Mutex
	sources []Source
}

// Detach builds a DetachedClient layered over c's current cache state.
func (c *Client) Detach() *DetachedClient {
	tracking := cache.NewTrackingStore(c.manager.Store())

	manager := cachemanager.New(cachemanager.Config{
		Store:      tracking,
		Bus:        pubsub.NewBus(),
		Hash:       c.manager.HashFunc(),
		Audit:      cachemanager.NullAuditLog{},
		DefaultTTL: c.manager.DefaultTTL(),
	})

	return &DetachedClient{parent: c, manager: manager, tracking: tracking}
}

// Manager returns the detached manager: Engines built against it read
// through to the parent's cache but write only to the private overlay.
func (d *DetachedClient) Manager() *cachemanager.Manager { return d.manager }

// Register adds a query engine built against the detached manager, so
// Commit can wait out its in-flight fetches before snapshotting the patch.
func (d *DetachedClient) Register(s Source) {
	d.mu.Lock()
	d.sources = append(d.sources, s)
	d.mu.Unlock()
}

// Commit waits for every in-flight fetch on the registered engines, then
// replays the overlay's recorded mutations onto the parent's store (the
// latest mutation per key, in the order keys were first touched) and
// returns the replayed Patch so the
// caller can inspect or re-apply it elsewhere. A Set whose TTL has fully
// elapsed by commit time is not resurrected on the parent.
func (d *DetachedClient) Commit(ctx context.Context) cache.Patch {
	d.mu.Lock()
	sources := make([]Source, len(d.sources))
	copy(sources, d.sources)
	d.mu.Unlock()

	for _, s := range sources {
		_, _ = s.WaitSettled(ctx)
	}

	patch := d.tracking.Commit()
	cache.Apply(d.parent.manager.Store(), patch)
	return patch
}

// Discard drops every recorded mutation without touching the parent.
func (d *DetachedClient) Discard() {
	d.tracking.Clear()
}
