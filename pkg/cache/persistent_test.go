package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestPersistentStoreSetAndGet(t *testing.T) {
	s := NewPersistentStore()
	s.Set("a", 1, time.Minute)

	entry, ok := s.Get("a")
	if !ok {
		t.Fatal("expected entry to be present")
	}
	if entry.Value != 1 {
		t.Fatalf("expected value 1, got %v", entry.Value)
	}
}

func TestPersistentStoreExpiry(t *testing.T) {
	fc := newFakeClock()
	s := NewPersistentStoreWithClock(fc)
	s.Set("a", 1, time.Second)

	fc.Advance(2 * time.Second)

	if _, ok := s.Get("a"); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestPersistentStoreNeverEvictsForCapacity(t *testing.T) {
	s := NewPersistentStore()
	const n = 10_000
	for i := 0; i < n; i++ {
		s.Set(fmt.Sprintf("key-%d", i), i, time.Hour)
	}
	if got := len(s.Keys()); got != n {
		t.Fatalf("expected all %d entries to survive regardless of count, got %d", n, got)
	}
}

func TestPersistentStoreDeletePrefix(t *testing.T) {
	s := NewPersistentStore()
	s.Set("user:1", "a", time.Minute)
	s.Set("user:2", "b", time.Minute)
	s.Set("order:1", "c", time.Minute)

	count := s.DeletePrefix("user:")
	if count != 2 {
		t.Fatalf("expected 2 deletions, got %d", count)
	}
	if _, ok := s.Get("order:1"); !ok {
		t.Fatal("expected unrelated key to survive DeletePrefix")
	}
}

func TestPersistentStoreClear(t *testing.T) {
	s := NewPersistentStore()
	s.Set("a", 1, time.Minute)
	s.Clear()

	if _, ok := s.Get("a"); ok {
		t.Fatal("expected Clear to remove every entry")
	}
}
