package constraint

import "github.com/constraintcore/solver/handle"

// Location identifies exactly where a constraint handle currently lives:
// which constraint batch, which type id's type batch within it, and which
// index within that type batch. Unlike bodies, constraints have no
// separate "set" axis; sleeping constraints live in snapshots outside this
// store, so only batch/type/index apply.
type Location struct {
	BatchIndex int
	TypeID     int
	Index      int
}

// Store is the registry of per-type Processors plus the central
// handle->location table every constraint handle resolves through,
// regardless of which type it is or which batch it lives in.
type Store struct {
	width      int
	processors []Processor
	handles    *handle.Table
}

// NewStore creates an empty constraint store. width is the bundle width
// every registered type's TypeBatch storage is allocated at.
func NewStore(width int, initialCapacity int) *Store {
	return &Store{
		width:   width,
		handles: handle.NewTable(initialCapacity),
	}
}

// Width returns the bundle width this store was created with.
func (s *Store) Width() int { return s.width }

// Register installs the Processor for a type id. Type ids must be dense in
// [0, N).
func (s *Store) Register(p Processor) {
	id := p.TypeID()
	for len(s.processors) <= id {
		s.processors = append(s.processors, nil)
	}
	s.processors[id] = p
}

// Processor returns the registered processor for typeID, or nil.
func (s *Store) Processor(typeID int) Processor {
	if typeID < 0 || typeID >= len(s.processors) {
		return nil
	}
	return s.processors[typeID]
}

// Processors returns every registered processor, indexed by type id (some
// entries may be nil if that id was never registered).
func (s *Store) Processors() []Processor { return s.processors }

// Add allocates a new constraint of typeID in batchIndex and returns its
// stable handle.
func (s *Store) Add(typeID, batchIndex int, bodyIndices []int32, desc any) handle.Handle {
	p := s.Processor(typeID)
	if p == nil {
		panic("constraint: Add called with unregistered type id")
	}
	p.EnsureBatch(batchIndex)
	h := s.handles.Allocate(handle.Location{}) // placeholder; filled in below
	idx := p.Allocate(batchIndex, h, bodyIndices, desc)
	s.handles.Update(h, toHandleLocation(Location{BatchIndex: batchIndex, TypeID: typeID, Index: idx}))
	return h
}

// Location returns where h currently lives.
func (s *Store) Location(h handle.Handle) (Location, bool) {
	loc, ok := s.handles.Lookup(h)
	if !ok {
		return Location{}, false
	}
	return fromHandleLocation(loc), true
}

// Remove deletes the constraint named by h, swap-removing it from its type
// batch and fixing up the handle of whatever constraint was moved.
func (s *Store) Remove(h handle.Handle) {
	loc, ok := s.Location(h)
	if !ok {
		return
	}
	p := s.Processor(loc.TypeID)
	moved := p.Remove(loc.BatchIndex, loc.Index)
	s.handles.Free(h)
	if moved.IsValid() {
		s.handles.Update(moved, toHandleLocation(loc))
	}
}

// TransferTo moves the constraint named by h into dstBatch (same type),
// copying prestep+accumulated-impulse lanes and swap-removing the old slot.
func (s *Store) TransferTo(h handle.Handle, dstBatch int) {
	loc, ok := s.Location(h)
	if !ok || loc.BatchIndex == dstBatch {
		return
	}
	p := s.Processor(loc.TypeID)
	p.EnsureBatch(dstBatch)
	newIndex, movedInSrc := p.Transfer(loc.BatchIndex, loc.Index, dstBatch, h)
	newLoc := Location{BatchIndex: dstBatch, TypeID: loc.TypeID, Index: newIndex}
	s.handles.Update(h, toHandleLocation(newLoc))
	if movedInSrc.IsValid() {
		// The source-side swap-remove relocated its last constraint into the
		// freed slot; its handle now resolves to loc.Index.
		s.handles.Update(movedInSrc, toHandleLocation(loc))
	}
}

// BodyIndices returns the current body indices/handles referenced by h.
func (s *Store) BodyIndices(h handle.Handle, out []int32) {
	loc, ok := s.Location(h)
	if !ok {
		return
	}
	s.Processor(loc.TypeID).BodyIndicesAt(loc.BatchIndex, loc.Index, out)
}

// RewriteBodyIndex updates every live constraint's body reference from
// oldIndex to newIndex across the given batch indices and every registered
// type. Called after an active-set swap-remove relocates a body. This is a
// brute-force scan: absent a maintained reverse body->constraint adjacency
// index, there is no cheaper way to find the affected constraints.
func (s *Store) RewriteBodyIndex(batchIndices []int, oldIndex, newIndex int32) {
	if oldIndex == newIndex {
		return
	}
	var bodyScratch []int32
	for _, p := range s.processors {
		if p == nil {
			continue
		}
		if cap(bodyScratch) < p.BodyCount() {
			bodyScratch = make([]int32, p.BodyCount())
		}
		bodyScratch = bodyScratch[:p.BodyCount()]

		for _, batchIndex := range batchIndices {
			count := p.ConstraintCount(batchIndex)
			for i := 0; i < count; i++ {
				p.BodyIndicesAt(batchIndex, i, bodyScratch)
				for slot, bi := range bodyScratch {
					if bi == oldIndex {
						p.RewriteBodyRef(batchIndex, i, slot, newIndex)
					}
				}
			}
		}
	}
}

func toHandleLocation(l Location) handle.Location {
	return handle.Location{A: int32(l.BatchIndex), B: int32(l.TypeID), Index: int32(l.Index)}
}

func fromHandleLocation(l handle.Location) Location {
	return Location{BatchIndex: int(l.A), TypeID: int(l.B), Index: int(l.Index)}
}
