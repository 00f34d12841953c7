// Package util contains internal helpers (hashing, fan-out, padding).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

// Fnv64a hashes s with 64-bit FNV-1a without allocating.
// It is a fast non-crypto hash used to spread disk records across
// fan-out directories; it is not used to build cache keys.
func Fnv64a(s string) uint64 {
	h := uint64(fnvOffset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime64
	}
	return h
}
