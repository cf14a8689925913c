package cache

import "strings"

// IsPrefixPattern reports whether pattern is of the "foo:*" shape this
// package treats as a prefix match, as opposed to an exact key.
func IsPrefixPattern(pattern string) bool {
	return strings.HasSuffix(pattern, "*")
}

// TrimWildcard strips the trailing "*" from a prefix pattern.
func TrimWildcard(pattern string) string {
	return strings.TrimSuffix(pattern, "*")
}

// MatchGlob reports whether key matches pattern, where pattern is either an
// exact key or a "*"-suffixed prefix.
func MatchGlob(pattern, key string) bool {
	if pattern == key {
		return true
	}
	if IsPrefixPattern(pattern) {
		return strings.HasPrefix(key, TrimWildcard(pattern))
	}
	return false
}
