// Package randutil centralizes the two distinct randomness needs of the
// core: a single shared PRNG for cryptographically
// indifferent picks, and a per-mobile reproducible PRNG seeded from a
// 32-bit hash of the mobile string for deterministic-but-varied dialog
// shuffles.
package randutil

import "math/rand"

// HashSeed computes the classic JS-style string hash
// (h = ((h<<5)-h) + ch) used to seed a per-mobile PRNG.
func HashSeed(s string) int64 {
	var h int32
	for _, c := range s {
		h = (h << 5) - h + int32(c)
	}
	return int64(h)
}

// NewMobileRand returns a PRNG seeded deterministically from mobile, so the
// same mobile always visits channels in the same (but distinct-per-mobile)
// order.
func NewMobileRand(mobile string) *rand.Rand {
	return rand.New(rand.NewSource(HashSeed(mobile)))
}

// Shuffle runs a Fisher-Yates shuffle of n elements in place using swap,
// driven by r. Shared by rotation selection, channel-list reshuffles, and
// dialog-order shuffles.
func Shuffle(r *rand.Rand, n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		swap(i, j)
	}
}
