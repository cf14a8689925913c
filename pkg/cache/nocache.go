package cache

import "time"

// NoCacheStore discards everything written to it. It satisfies Store for
// callers that want the query/mutation state machines (retry, dedup,
// pub/sub notification) without ever serving stale data back out.
type NoCacheStore struct{}

func (NoCacheStore) Get(Key) (Entry, bool) { return Entry{}, false }
func (NoCacheStore) Set(Key, any, time.Duration) {}
func (NoCacheStore) Delete(Key) bool { return false }
func (NoCacheStore) DeletePrefix(string) int { return 0 }
func (NoCacheStore) Clear() {}
func (NoCacheStore) Keys() []Key { return nil }
