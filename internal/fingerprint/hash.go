package fingerprint

import (
	"fmt"
	"hash/fnv"
)

// Hash64 returns the 64-bit FNV-1a digest of b as 16 lowercase hex digits.
// It is a change detector, not an integrity check.
func Hash64(b []byte) string {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return fmt.Sprintf("%016x", h.Sum64())
}

// HashString hashes the UTF-8 bytes of s.
func HashString(s string) string {
	return Hash64([]byte(s))
}
