package randutil

import (
	"math/rand"
	"testing"
)

func TestHashSeedIsDeterministic(t *testing.T) {
	a := HashSeed("79991234567")
	b := HashSeed("79991234567")
	if a != b {
		t.Fatalf("expected HashSeed to be deterministic, got %d and %d", a, b)
	}
}

func TestHashSeedVariesByInput(t *testing.T) {
	a := HashSeed("79991234567")
	b := HashSeed("79991234568")
	if a == b {
		t.Fatalf("expected different mobiles to (almost certainly) hash differently")
	}
}

func TestNewMobileRandIsReproducible(t *testing.T) {
	r1 := NewMobileRand("79991234567")
	r2 := NewMobileRand("79991234567")

	for i := 0; i < 10; i++ {
		if r1.Int63() != r2.Int63() {
			t.Fatalf("expected two PRNGs seeded from the same mobile to produce the same sequence")
		}
	}
}

func TestShufflePreservesElements(t *testing.T) {
	in := []int{1, 2, 3, 4, 5, 6, 7}
	out := append([]int(nil), in...)

	r := rand.New(rand.NewSource(42))
	Shuffle(r, len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })

	seen := make(map[int]bool, len(in))
	for _, v := range out {
		seen[v] = true
	}
	for _, v := range in {
		if !seen[v] {
			t.Fatalf("shuffle lost element %d: got %v", v, out)
		}
	}
	if len(out) != len(in) {
		t.Fatalf("shuffle changed slice length: got %d, want %d", len(out), len(in))
	}
}

func TestShuffleSingleElementIsNoop(t *testing.T) {
	out := []int{42}
	r := rand.New(rand.NewSource(1))
	Shuffle(r, len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if out[0] != 42 {
		t.Fatalf("expected single-element shuffle to be a no-op")
	}
}
