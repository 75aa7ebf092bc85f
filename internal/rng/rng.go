// Package rng provides the seeded randomness source used by planning
// and thread-resolution decisions, so runs are reproducible under a
// fixed seed.
package rng

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
)

// Source wraps a seeded *rand.Rand. It is not safe for concurrent use;
// the simulation loop is single-threaded.
type Source struct {
	r *rand.Rand
}

// New creates a source from an explicit seed.
func New(seed int64) *Source {
	return &Source{r: rand.New(rand.NewSource(seed))}
}

// NewSeed generates a high-entropy seed using crypto/rand, for runs that
// do not need reproducibility.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// Float64 returns a value in [0,1).
func (s *Source) Float64() float64 {
	return s.r.Float64()
}

// Intn returns a value in [0,n). n must be positive.
func (s *Source) Intn(n int) int {
	return s.r.Intn(n)
}

// Chance returns true with probability p.
func (s *Source) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return s.r.Float64() < p
}

// Pick returns a uniformly chosen element of items. Panics on an empty
// slice, matching rand.Intn semantics.
func Pick[T any](s *Source, items []T) T {
	return items[s.r.Intn(len(items))]
}
