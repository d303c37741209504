package batch

// Builder assigns constraints to synchronized constraint batches greedily:
// scan batches in order, place the constraint in the first
// one whose referenced-body set is disjoint from its bodies; if none
// accepts it and the batch count is still below fallbackBatchThreshold,
// open a new batch; otherwise the constraint overflows into the fallback
// batch, whose index is fixed at fallbackBatchThreshold.
type Builder struct {
	fallbackThreshold int
	referenced        []*IndexSet // referenced[b] is batch b's referencedHandles set
	refCount          []map[int32]int32
	fallbackRefCount  map[int32]int32
}

// NewBuilder creates a Builder whose non-fallback batch count never exceeds
// fallbackThreshold.
func NewBuilder(fallbackThreshold int) *Builder {
	if fallbackThreshold < 1 {
		fallbackThreshold = 1
	}
	return &Builder{
		fallbackThreshold: fallbackThreshold,
		fallbackRefCount:  make(map[int32]int32),
	}
}

// FallbackBatchIndex returns the fixed constraint-batch index reserved for
// the fallback batch: synchronized batches only ever occupy
// [0, fallbackThreshold), so fallbackThreshold itself is free.
func (b *Builder) FallbackBatchIndex() int { return b.fallbackThreshold }

// BatchCount returns how many synchronized batches currently exist.
func (b *Builder) BatchCount() int { return len(b.referenced) }

// Assign picks a batch for a new constraint referencing bodyIndices,
// records its bodies into that batch's referenced set (or the fallback
// refcount map), and returns the chosen batch index and whether it is the
// fallback batch.
func (b *Builder) Assign(bodyIndices []int32) (batchIndex int, isFallback bool) {
	for i, set := range b.referenced {
		if !set.Intersects(bodyIndices) {
			set.AddAll(bodyIndices)
			b.bump(i, bodyIndices, 1)
			return i, false
		}
	}
	if len(b.referenced) < b.fallbackThreshold {
		set := &IndexSet{}
		set.AddAll(bodyIndices)
		b.referenced = append(b.referenced, set)
		b.refCount = append(b.refCount, map[int32]int32{})
		b.bump(len(b.referenced)-1, bodyIndices, 1)
		return len(b.referenced) - 1, false
	}
	for _, bi := range bodyIndices {
		b.fallbackRefCount[bi]++
	}
	return b.fallbackThreshold, true
}

func (b *Builder) bump(batchIndex int, bodyIndices []int32, delta int32) {
	rc := b.refCount[batchIndex]
	for _, bi := range bodyIndices {
		rc[bi] += delta
	}
}

// Unassign removes a constraint's bodies from the batch it was assigned
// to, decrementing each body's reference count and clearing its bit at
// zero. For the
// fallback batch, pass isFallback=true; batchIndex is ignored in that case.
func (b *Builder) Unassign(batchIndex int, isFallback bool, bodyIndices []int32) {
	if isFallback {
		for _, bi := range bodyIndices {
			if b.fallbackRefCount[bi] > 0 {
				b.fallbackRefCount[bi]--
				if b.fallbackRefCount[bi] == 0 {
					delete(b.fallbackRefCount, bi)
				}
			}
		}
		return
	}
	if batchIndex < 0 || batchIndex >= len(b.referenced) {
		return
	}
	set := b.referenced[batchIndex]
	rc := b.refCount[batchIndex]
	for _, bi := range bodyIndices {
		if rc[bi] > 0 {
			rc[bi]--
			if rc[bi] == 0 {
				delete(rc, bi)
				set.Clear(int(bi))
			}
		}
	}
}

// ReferencedHandles returns the IndexSet for a synchronized batch (read-only
// use: membership queries, union computation for integration responsibility).
func (b *Builder) ReferencedHandles(batchIndex int) *IndexSet {
	if batchIndex < 0 || batchIndex >= len(b.referenced) {
		return &IndexSet{}
	}
	return b.referenced[batchIndex]
}

// FallbackReferenceCount returns how many fallback constraints currently
// reference body index bi: the k whose reciprocal scales that body's
// effective inverse mass in the Jacobi fallback solve.
func (b *Builder) FallbackReferenceCount(bi int32) int32 {
	return b.fallbackRefCount[bi]
}

// RewriteBodyIndex moves every reference-count and bitset entry for a body
// from oldIndex to newIndex, across every synchronized batch and the
// fallback reference counts. Called after an active-set swap-remove
// relocates a body, in lockstep with the constraint stores rewriting their
// own body-reference lanes.
func (b *Builder) RewriteBodyIndex(oldIndex, newIndex int32) {
	if oldIndex == newIndex {
		return
	}
	for i, set := range b.referenced {
		rc := b.refCount[i]
		if n, ok := rc[oldIndex]; ok {
			delete(rc, oldIndex)
			rc[newIndex] = n
			set.Clear(int(oldIndex))
			set.Set(int(newIndex))
		}
	}
	if n, ok := b.fallbackRefCount[oldIndex]; ok {
		delete(b.fallbackRefCount, oldIndex)
		b.fallbackRefCount[newIndex] = n
	}
}

// RebuildAfterSleepWake replaces the full referenced-handle bitmap for a
// batch in one bulk pass instead of incrementally add/removing every
// constraint.
func (b *Builder) RebuildAfterSleepWake(batchIndex int, liveBodyIndicesPerConstraint [][]int32) {
	for len(b.referenced) <= batchIndex {
		b.referenced = append(b.referenced, &IndexSet{})
		b.refCount = append(b.refCount, map[int32]int32{})
	}
	set := &IndexSet{}
	rc := map[int32]int32{}
	for _, bodies := range liveBodyIndicesPerConstraint {
		set.AddAll(bodies)
		for _, bi := range bodies {
			rc[bi]++
		}
	}
	b.referenced[batchIndex] = set
	b.refCount[batchIndex] = rc
}
