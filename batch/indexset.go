// Package batch implements the batch builder and the fallback batch:
// greedy assignment of constraints into synchronized
// constraint batches whose referenced-body sets are pairwise disjoint per
// batch, plus the last-resort Jacobi-averaged fallback batch for bodies
// that overflow every synchronized batch.
package batch

import "math/bits"

const wordBits = 64

// IndexSet is a growable bitset over body indices, giving each non-fallback
// batch a constant-time "does this batch reference any of these bodies?"
// query. Indexed by body index rather than body handle:
// structural mutation (which is what invalidates indices) never runs
// concurrently with batch assignment, so indices are stable for the
// lifetime of one build pass.
type IndexSet struct {
	words []uint64
}

func wordIndex(i int) int { return i / wordBits }
func bitIndex(i int) uint { return uint(i % wordBits) }

func (s *IndexSet) ensure(i int) {
	need := wordIndex(i) + 1
	for len(s.words) < need {
		s.words = append(s.words, 0)
	}
}

// Set marks body index i as referenced.
func (s *IndexSet) Set(i int) {
	s.ensure(i)
	s.words[wordIndex(i)] |= 1 << bitIndex(i)
}

// Clear unmarks body index i.
func (s *IndexSet) Clear(i int) {
	if wordIndex(i) >= len(s.words) {
		return
	}
	s.words[wordIndex(i)] &^= 1 << bitIndex(i)
}

// Has reports whether body index i is marked.
func (s *IndexSet) Has(i int) bool {
	if wordIndex(i) >= len(s.words) {
		return false
	}
	return s.words[wordIndex(i)]&(1<<bitIndex(i)) != 0
}

// Intersects reports whether s shares any set bit with indices.
func (s *IndexSet) Intersects(indices []int32) bool {
	for _, i := range indices {
		if s.Has(int(i)) {
			return true
		}
	}
	return false
}

// AddAll marks every index in indices.
func (s *IndexSet) AddAll(indices []int32) {
	for _, i := range indices {
		s.Set(int(i))
	}
}

// RemoveAll unmarks every index in indices.
func (s *IndexSet) RemoveAll(indices []int32) {
	for _, i := range indices {
		s.Clear(int(i))
	}
}

// PopCount returns the number of set bits across the whole set.
func (s *IndexSet) PopCount() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Reset clears every bit without releasing the backing storage.
func (s *IndexSet) Reset() {
	for i := range s.words {
		s.words[i] = 0
	}
}
