package cachemanager

import (
	"testing"
	"time"

	"github.com/caio-oliv/restatement/pkg/cache"
	"github.com/caio-oliv/restatement/pkg/pubsub"
)

func TestManagerGetSetRoundTrip(t *testing.T) {
	m := New(Config{})

	if err := m.Set("user:1", "alice", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	value, ok, err := m.Get("user:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || value != "alice" {
		t.Fatalf("expected alice, got %v (ok=%v)", value, ok)
	}
}

func TestManagerSetUsesDefaultTTLWhenUnset(t *testing.T) {
	m := New(Config{DefaultTTL: time.Minute})
	if err := m.Set("a", 1, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, ok, err := m.GetEntry("a")
	if err != nil || !ok {
		t.Fatalf("expected entry present, err=%v ok=%v", err, ok)
	}
	if entry.RemainingTTL(time.Now()) <= 0 {
		t.Fatal("expected a positive TTL from the Manager's default")
	}
}

func TestManagerInvalidatePublishesOnKeyTopic(t *testing.T) {
	m := New(Config{})
	_ = m.Set("user:1", "alice", time.Minute)

	topic, err := m.Topic("user:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub := m.Bus().Subscribe(topic, 1)
	defer sub.Close()

	if err := m.Invalidate("user:1", "test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok, _ := m.Get("user:1"); ok {
		t.Fatal("expected key to be deleted after Invalidate")
	}

	select {
	case ev := <-sub.Events():
		if ev.Kind != pubsub.KindInvalidation {
			t.Fatalf("expected KindInvalidation, got %v", ev.Kind)
		}
	default:
		t.Fatal("expected an invalidation event to be published")
	}
}

func TestManagerInvalidatePrefixDeletesMatchingKeysAndPublishesOnce(t *testing.T) {
	m := New(Config{})
	_ = m.Set("user:1", "a", time.Minute)
	_ = m.Set("user:2", "b", time.Minute)
	_ = m.Set("order:1", "c", time.Minute)

	prefixTopic, err := m.Topic("user:")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub := m.Bus().Subscribe(prefixTopic, 4)
	defer sub.Close()

	count, err := m.InvalidatePrefix("user:", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 deletions, got %d", count)
	}

	if _, ok, _ := m.Get("order:1"); !ok {
		t.Fatal("expected order:1 to survive the prefix invalidation")
	}

	events := 0
	draining := true
	for draining {
		select {
		case <-sub.Events():
			events++
		default:
			draining = false
		}
	}
	if events != 1 {
		t.Fatalf("expected exactly 1 invalidation event for the whole prefix, got %d", events)
	}
}

func TestManagerUsesSuppliedStoreAndBus(t *testing.T) {
	store := cache.NewLRUStore(0)
	bus := pubsub.NewBus()
	m := New(Config{Store: store, Bus: bus})

	if m.Store() != store {
		t.Fatal("expected Manager to use the supplied store")
	}
	if m.Bus() != bus {
		t.Fatal("expected Manager to use the supplied bus")
	}
}

func TestManagerKeys(t *testing.T) {
	m := New(Config{})
	_ = m.Set("a", 1, time.Minute)
	_ = m.Set("b", 2, time.Minute)

	keys := m.Keys()
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
}

func TestManagerSetPublishesMutationEventOnKeyTopic(t *testing.T) {
	m := New(Config{})

	topic, err := m.Topic("user:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub := m.Bus().Subscribe(topic, 1)
	defer sub.Close()

	if err := m.Set("user:1", "alice", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case ev := <-sub.Events():
		if ev.Kind != pubsub.KindMutation {
			t.Fatalf("expected KindMutation, got %v", ev.Kind)
		}
		payload, ok := ev.Payload.(pubsub.MutationPayload)
		if !ok || payload.Data != "alice" {
			t.Fatalf("expected the written value in the payload, got %+v", ev.Payload)
		}
	default:
		t.Fatal("expected a mutation event on the key's topic")
	}
}
