// Package handle provides the generation-checked stable handles that let
// external code refer to a body or a constraint across moves the solver
// makes internally (between type batches, constraint batches, or the
// active/sleeping boundary).
//
// A handle is never reused while the thing it names is alive, and a freed
// slot's generation is bumped before reuse so a stale handle from before a
// remove can never silently alias a newly allocated slot at the same index.
package handle

import "fmt"

// Handle packs a dense slot index and a generation counter. The index is
// the low 32 bits so a handle can be truncated to find its slot cheaply;
// the generation occupies the high 32 bits and is compared on every lookup.
type Handle uint64

// Invalid is the zero value; no real handle is ever issued with index 0 and
// generation 0 because generation starts at 1 on first allocation.
const Invalid Handle = 0

func makeHandle(index uint32, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

// Index returns the slot index encoded in h.
func (h Handle) Index() uint32 {
	return uint32(h)
}

func (h Handle) generation() uint32 {
	return uint32(h >> 32)
}

// IsValid reports whether h is anything other than the zero handle.
func (h Handle) IsValid() bool {
	return h != Invalid
}

func (h Handle) String() string {
	return fmt.Sprintf("handle(idx=%d,gen=%d)", h.Index(), h.generation())
}

// Location is where a handle currently lives. Its meaning is owned by the
// caller (body.Store uses it as set+index; constraint stores use it as
// batch+type+index); handle.Table stores it opaquely.
type Location struct {
	Set   int32
	A     int32
	B     int32
	Index int32
}

// Table maps handles to Locations and back, and is the single source of
// truth for the bidirectional handle<->location mapping.
//
// Table does not itself manage dense storage moves; callers tell it when a
// slot is allocated, freed, or moved and Table keeps the handle<->location
// map consistent.
type Table struct {
	generations []uint32 // generation currently valid for slot i
	locations   []Location
	free        []uint32 // free slot indices, LIFO
}

// NewTable creates an empty handle table with room for initialCapacity
// live handles before it needs to grow.
func NewTable(initialCapacity int) *Table {
	if initialCapacity < 0 {
		initialCapacity = 0
	}
	return &Table{
		generations: make([]uint32, 0, initialCapacity),
		locations:   make([]Location, 0, initialCapacity),
	}
}

// Allocate issues a new handle for loc, reusing a freed slot if one exists.
func (t *Table) Allocate(loc Location) Handle {
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		t.locations[idx] = loc
		return makeHandle(idx, t.generations[idx])
	}
	idx := uint32(len(t.generations))
	t.generations = append(t.generations, 1)
	t.locations = append(t.locations, loc)
	return makeHandle(idx, 1)
}

// Free invalidates h: its slot becomes available for reuse under a bumped
// generation, so any handle copy still held by a caller is detectably
// stale (Lookup returns false for it from now on).
func (t *Table) Free(h Handle) {
	idx := h.Index()
	if int(idx) >= len(t.generations) || t.generations[idx] != h.generation() {
		return // already stale; freeing twice is a no-op, not an error
	}
	t.generations[idx]++
	if t.generations[idx] == 0 {
		t.generations[idx] = 1 // skip the zero generation so Invalid stays unambiguous
	}
	t.locations[idx] = Location{}
	t.free = append(t.free, idx)
}

// Lookup returns the location currently associated with h, or false if h is
// stale (freed, or never issued by this table).
func (t *Table) Lookup(h Handle) (Location, bool) {
	idx := h.Index()
	if int(idx) >= len(t.generations) || t.generations[idx] != h.generation() {
		return Location{}, false
	}
	return t.locations[idx], true
}

// Update overwrites the location for a still-live handle. Used whenever a
// swap-remove or transfer relocates the thing a handle names.
func (t *Table) Update(h Handle, loc Location) bool {
	idx := h.Index()
	if int(idx) >= len(t.generations) || t.generations[idx] != h.generation() {
		return false
	}
	t.locations[idx] = loc
	return true
}

// IsLive reports whether h currently names a live slot.
func (t *Table) IsLive(h Handle) bool {
	_, ok := t.Lookup(h)
	return ok
}
