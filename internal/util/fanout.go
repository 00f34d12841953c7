package util

// Bucket maps a 64-bit hash to one of n buckets.
// The mask path is used when n is a power of two; otherwise modulo.
func Bucket(hash uint64, n int) int {
	if n <= 1 {
		return 0
	}
	if IsPowerOfTwo(uint64(n)) {
		return int(hash & uint64(n-1))
	}
	return int(hash % uint64(n))
}

// FanoutCount normalizes a requested directory fan-out to a power of two
// in [1..256], so that bucket names always fit in two hex digits.
func FanoutCount(n int) int {
	if n < 1 {
		return 1
	}
	p := int(NextPow2(uint64(n)))
	if p > 256 {
		p = 256
	}
	return p
}
