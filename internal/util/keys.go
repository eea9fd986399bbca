package util

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// BulkKey returns a deterministic composite key of sorted members with a short hash.
func BulkKey(prefix string, keys []string) string {
	s := make([]string, len(keys))
	copy(s, keys)
	sort.Strings(s)
	return BulkKeySorted(prefix, s)
}

// BulkKeySorted is BulkKey for input that is already sorted ascending.
func BulkKeySorted(prefix string, sorted []string) string {
	return prefix + ":" + ShortHash(strings.Join(sorted, "\x00"))
}

// ShortHash is the first 16 hex chars of the SHA-256 of s.
func ShortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
