// Package hash turns cache keys into the canonical digest used for pub/sub
// topic names, so two equivalent keys always collapse onto the same topic
// regardless of map key ordering.
package hash

import (
	"encoding/json"
	"hash/fnv"
)

// Key is anything a query or mutation can be addressed by. It is marshaled
// to JSON before hashing, so maps, slices and structs all work as long as
// they encode deterministically (Go's encoding/json sorts map keys).
type Key any

// Sum is the canonical digest of a Key, used as a pub/sub topic name. Cache
// stores index entries by cachemanager.KeyString, not by Sum.
type Sum string

// Func computes a Sum for a Key. Swappable so callers needing a faster or
// collision-resistant digest can supply one without touching call sites.
type Func func(key Key) (Sum, error)

// Default hashes a Key by JSON-encoding it and folding the bytes through
// FNV-1a 64-bit. Topic names need determinism, not collision resistance,
// so a cryptographic digest would only cost more per lookup.
func Default(key Key) (Sum, error) {
	data, err := json.Marshal(key)
	if err != nil {
		return "", err
	}

	h := fnv.New64a()
	h.Write(data)
	return Sum(hexUint64(h.Sum64())), nil
}

const hexDigits = "0123456789abcdef"

func hexUint64(v uint64) string {
	var buf [16]byte
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf[:])
}
