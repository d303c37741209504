// Package body is the solver's body store: dense,
// index-addressed arrays of pose, velocity, and inertia for every body, a
// stable handle<->index map, and the active/sleeping set split.
//
// Unlike the constraint store, bodies are not themselves bundled into
// fixed-width AOSOA groups — they are plain struct-of-arrays indexed
// one-for-one by body index. Gather and Scatter are the bridge: they move
// between this dense per-body storage and the W-wide lane registers a
// constraint bundle works with: a bundle of W body indices gathers into
// W-wide registers of body state, and solved velocities scatter back the
// same way.
package body

import (
	"github.com/constraintcore/solver/bundle"
	"github.com/constraintcore/solver/handle"
	"github.com/constraintcore/solver/mathx"
)

// Filter selects which part of a gathered/scattered lane actually needs to
// move. It is purely an instruction-count optimization:
// correctness must never depend on which Filter a caller chose.
type Filter int

const (
	FilterAll Filter = iota
	FilterLinearOnly
	FilterAngularOnly
)

// set holds one dense, contiguously-packed collection of bodies: either the
// single active set, or one sleeping island.
type set struct {
	posX, posY, posZ          []float32
	oriX, oriY, oriZ, oriW    []float32
	linVelX, linVelY, linVelZ []float32
	angVelX, angVelY, angVelZ []float32
	invMass                   []float32
	localInertia              []mathx.Sym3x3
	worldInertia              []mathx.Sym3x3
	indexToHandle             []handle.Handle
}

func (s *set) count() int { return len(s.indexToHandle) }

func (s *set) append(h handle.Handle, pos mathx.Vec3, ori mathx.Quat, invMass float32, localInertia mathx.Sym3x3) int {
	s.posX = append(s.posX, pos.X)
	s.posY = append(s.posY, pos.Y)
	s.posZ = append(s.posZ, pos.Z)
	s.oriX = append(s.oriX, ori.X)
	s.oriY = append(s.oriY, ori.Y)
	s.oriZ = append(s.oriZ, ori.Z)
	s.oriW = append(s.oriW, ori.W)
	s.linVelX = append(s.linVelX, 0)
	s.linVelY = append(s.linVelY, 0)
	s.linVelZ = append(s.linVelZ, 0)
	s.angVelX = append(s.angVelX, 0)
	s.angVelY = append(s.angVelY, 0)
	s.angVelZ = append(s.angVelZ, 0)
	s.invMass = append(s.invMass, invMass)
	s.localInertia = append(s.localInertia, localInertia)
	s.worldInertia = append(s.worldInertia, localInertia.Rotate(ori))
	s.indexToHandle = append(s.indexToHandle, h)
	return len(s.indexToHandle) - 1
}

// swapRemove removes index i, moving the last body into its slot. It
// returns the handle of the body that was moved (so the caller can fix up
// the handle table), or handle.Invalid if i was already the last slot.
func (s *set) swapRemove(i int) handle.Handle {
	last := len(s.indexToHandle) - 1
	moved := handle.Invalid
	if i != last {
		s.posX[i], s.posY[i], s.posZ[i] = s.posX[last], s.posY[last], s.posZ[last]
		s.oriX[i], s.oriY[i], s.oriZ[i], s.oriW[i] = s.oriX[last], s.oriY[last], s.oriZ[last], s.oriW[last]
		s.linVelX[i], s.linVelY[i], s.linVelZ[i] = s.linVelX[last], s.linVelY[last], s.linVelZ[last]
		s.angVelX[i], s.angVelY[i], s.angVelZ[i] = s.angVelX[last], s.angVelY[last], s.angVelZ[last]
		s.invMass[i] = s.invMass[last]
		s.localInertia[i] = s.localInertia[last]
		s.worldInertia[i] = s.worldInertia[last]
		s.indexToHandle[i] = s.indexToHandle[last]
		moved = s.indexToHandle[i]
	}
	s.posX = s.posX[:last]
	s.posY = s.posY[:last]
	s.posZ = s.posZ[:last]
	s.oriX, s.oriY, s.oriZ, s.oriW = s.oriX[:last], s.oriY[:last], s.oriZ[:last], s.oriW[:last]
	s.linVelX, s.linVelY, s.linVelZ = s.linVelX[:last], s.linVelY[:last], s.linVelZ[:last]
	s.angVelX, s.angVelY, s.angVelZ = s.angVelX[:last], s.angVelY[:last], s.angVelZ[:last]
	s.invMass = s.invMass[:last]
	s.localInertia = s.localInertia[:last]
	s.worldInertia = s.worldInertia[:last]
	s.indexToHandle = s.indexToHandle[:last]
	return moved
}

// SetKind distinguishes the active set from a sleeping island in a Location.
type SetKind int32

const (
	SetActive SetKind = iota
	SetSleeping
)

// Store owns every body's state plus the handle<->location table.
type Store struct {
	active     set
	sleeping   map[int32]*set
	nextIsland int32
	handles    *handle.Table
}

// NewStore creates an empty body store sized for initialCapacity live bodies.
func NewStore(initialCapacity int) *Store {
	return &Store{
		sleeping: make(map[int32]*set),
		handles:  handle.NewTable(initialCapacity),
	}
}

// Description is the external, non-bundled view of one body used by AddBody
// and GetDescription/SetDescription.
type Description struct {
	Position            mathx.Vec3
	Orientation         mathx.Quat
	LinearVel           mathx.Vec3
	AngularVel          mathx.Vec3
	InverseMass         float32
	LocalInverseInertia mathx.Sym3x3
}

// AddBody inserts a new body into the active set and returns its handle.
func (st *Store) AddBody(d Description) handle.Handle {
	ori := d.Orientation
	if ori.LengthSquared() < 1e-12 {
		ori = mathx.Identity
	}
	idx := st.active.append(handle.Invalid, d.Position, ori, d.InverseMass, d.LocalInverseInertia)
	st.active.linVelX[idx], st.active.linVelY[idx], st.active.linVelZ[idx] = d.LinearVel.X, d.LinearVel.Y, d.LinearVel.Z
	st.active.angVelX[idx], st.active.angVelY[idx], st.active.angVelZ[idx] = d.AngularVel.X, d.AngularVel.Y, d.AngularVel.Z
	h := st.handles.Allocate(handle.Location{Set: int32(SetActive), Index: int32(idx)})
	st.active.indexToHandle[idx] = h
	return h
}

// RemoveBody deletes a body, swap-removing it from whichever set it lives
// in and fixing up the handle of whatever body was moved into its slot.
func (st *Store) RemoveBody(h handle.Handle) {
	loc, ok := st.handles.Lookup(h)
	if !ok {
		return
	}
	s := st.setFor(loc)
	moved := s.swapRemove(int(loc.Index))
	st.handles.Free(h)
	if moved.IsValid() {
		st.handles.Update(moved, loc)
	}
}

func (st *Store) setFor(loc handle.Location) *set {
	if SetKind(loc.Set) == SetActive {
		return &st.active
	}
	return st.sleeping[loc.A]
}

// IsActive reports whether h currently lives in the active set.
func (st *Store) IsActive(h handle.Handle) bool {
	loc, ok := st.handles.Lookup(h)
	return ok && SetKind(loc.Set) == SetActive
}

// NewIsland allocates a fresh, empty sleeping island id.
func (st *Store) NewIsland() int32 {
	id := st.nextIsland
	st.nextIsland++
	st.sleeping[id] = &set{}
	return id
}

// Sleep moves the active body named by h into sleeping island id, swap-
// removing it from the active set. Returns the handle moved into h's old
// active slot (if any) so the caller can fix up whatever referenced it.
func (st *Store) Sleep(h handle.Handle, island int32) handle.Handle {
	loc, ok := st.handles.Lookup(h)
	if !ok || SetKind(loc.Set) != SetActive {
		panic("body: Sleep called on a handle that is not active: " + h.String())
	}
	a := &st.active
	i := loc.Index
	pos := mathx.Vec3{X: a.posX[i], Y: a.posY[i], Z: a.posZ[i]}
	ori := mathx.Quat{X: a.oriX[i], Y: a.oriY[i], Z: a.oriZ[i], W: a.oriW[i]}
	linVel := mathx.Vec3{X: a.linVelX[i], Y: a.linVelY[i], Z: a.linVelZ[i]}
	angVel := mathx.Vec3{X: a.angVelX[i], Y: a.angVelY[i], Z: a.angVelZ[i]}
	invMass := a.invMass[i]
	localInertia := a.localInertia[i]

	dst := st.sleeping[island]
	newIdx := dst.append(h, pos, ori, invMass, localInertia)
	dst.linVelX[newIdx], dst.linVelY[newIdx], dst.linVelZ[newIdx] = linVel.X, linVel.Y, linVel.Z
	dst.angVelX[newIdx], dst.angVelY[newIdx], dst.angVelZ[newIdx] = angVel.X, angVel.Y, angVel.Z

	moved := a.swapRemove(int(i))
	st.handles.Update(h, handle.Location{Set: int32(SetSleeping), A: island, Index: int32(newIdx)})
	if moved.IsValid() {
		st.handles.Update(moved, loc)
	}
	return moved
}

// Wake moves the sleeping body named by h back into the active set,
// swap-removing it from its island. Returns the handle moved into h's old
// island slot (if any).
func (st *Store) Wake(h handle.Handle) handle.Handle {
	loc, ok := st.handles.Lookup(h)
	if !ok || SetKind(loc.Set) != SetSleeping {
		panic("body: Wake called on a handle that is not sleeping: " + h.String())
	}
	src := st.sleeping[loc.A]
	i := loc.Index
	pos := mathx.Vec3{X: src.posX[i], Y: src.posY[i], Z: src.posZ[i]}
	ori := mathx.Quat{X: src.oriX[i], Y: src.oriY[i], Z: src.oriZ[i], W: src.oriW[i]}
	linVel := mathx.Vec3{X: src.linVelX[i], Y: src.linVelY[i], Z: src.linVelZ[i]}
	angVel := mathx.Vec3{X: src.angVelX[i], Y: src.angVelY[i], Z: src.angVelZ[i]}
	invMass := src.invMass[i]
	localInertia := src.localInertia[i]

	newIdx := st.active.append(h, pos, ori, invMass, localInertia)
	st.active.linVelX[newIdx], st.active.linVelY[newIdx], st.active.linVelZ[newIdx] = linVel.X, linVel.Y, linVel.Z
	st.active.angVelX[newIdx], st.active.angVelY[newIdx], st.active.angVelZ[newIdx] = angVel.X, angVel.Y, angVel.Z

	moved := src.swapRemove(int(i))
	st.handles.Update(h, handle.Location{Set: int32(SetActive), Index: int32(newIdx)})
	if moved.IsValid() {
		st.handles.Update(moved, loc)
	}
	if src.count() == 0 {
		delete(st.sleeping, loc.A)
	}
	return moved
}

// IslandHandles returns the handles of every body in sleeping island id, in
// dense index order.
func (st *Store) IslandHandles(id int32) []handle.Handle {
	s, ok := st.sleeping[id]
	if !ok {
		return nil
	}
	out := make([]handle.Handle, len(s.indexToHandle))
	copy(out, s.indexToHandle)
	return out
}

// HandleToLocation returns the current (set, index) for h.
func (st *Store) HandleToLocation(h handle.Handle) (handle.Location, bool) {
	return st.handles.Lookup(h)
}

// IndexOf returns the active-set index of h, panicking if h does not
// currently live in the active set (callers must check sleeping state
// first; the solver never gathers sleeping bodies).
func (st *Store) IndexOf(h handle.Handle) int32 {
	loc, ok := st.handles.Lookup(h)
	if !ok || SetKind(loc.Set) != SetActive {
		panic("body: handle does not name an active body: " + h.String())
	}
	return loc.Index
}

// ActiveCount returns the number of bodies currently in the active set.
func (st *Store) ActiveCount() int { return st.active.count() }

// HandleAt returns the handle at active-set index i.
func (st *Store) HandleAt(i int32) handle.Handle { return st.active.indexToHandle[i] }

// GetDescription returns the current description of a body, wherever it lives.
func (st *Store) GetDescription(h handle.Handle) (Description, bool) {
	loc, ok := st.handles.Lookup(h)
	if !ok {
		return Description{}, false
	}
	s := st.setFor(loc)
	i := loc.Index
	return Description{
		Position:    mathx.Vec3{X: s.posX[i], Y: s.posY[i], Z: s.posZ[i]},
		Orientation: mathx.Quat{X: s.oriX[i], Y: s.oriY[i], Z: s.oriZ[i], W: s.oriW[i]},
		LinearVel:   mathx.Vec3{X: s.linVelX[i], Y: s.linVelY[i], Z: s.linVelZ[i]},
		AngularVel:  mathx.Vec3{X: s.angVelX[i], Y: s.angVelY[i], Z: s.angVelZ[i]},
		InverseMass: s.invMass[i],
		LocalInverseInertia: s.localInertia[i],
	}, true
}

// SetDescription overwrites a body's full state in place.
func (st *Store) SetDescription(h handle.Handle, d Description) bool {
	loc, ok := st.handles.Lookup(h)
	if !ok {
		return false
	}
	s := st.setFor(loc)
	i := loc.Index
	s.posX[i], s.posY[i], s.posZ[i] = d.Position.X, d.Position.Y, d.Position.Z
	ori := d.Orientation.Normalize()
	s.oriX[i], s.oriY[i], s.oriZ[i], s.oriW[i] = ori.X, ori.Y, ori.Z, ori.W
	s.linVelX[i], s.linVelY[i], s.linVelZ[i] = d.LinearVel.X, d.LinearVel.Y, d.LinearVel.Z
	s.angVelX[i], s.angVelY[i], s.angVelZ[i] = d.AngularVel.X, d.AngularVel.Y, d.AngularVel.Z
	s.invMass[i] = d.InverseMass
	s.localInertia[i] = d.LocalInverseInertia
	s.worldInertia[i] = d.LocalInverseInertia.Rotate(ori)
	return true
}

// Gathered is the W-wide lane register bundle produced by Gather: one
// Vec per scalar field, laid out exactly as bundle/types.go's doc comment
// describes a compound field (x0..xW-1, y0..yW-1, ...).
type Gathered struct {
	PosX, PosY, PosZ          bundle.Vec[float32]
	OriX, OriY, OriZ, OriW    bundle.Vec[float32]
	LinVelX, LinVelY, LinVelZ bundle.Vec[float32]
	AngVelX, AngVelY, AngVelZ bundle.Vec[float32]
	InvMass                   bundle.Vec[float32]
	WorldInertia              []mathx.Sym3x3 // one per lane; not SIMD-bundled (6-wide symmetric tensor)
}

// Gather loads the state of the W active bodies named by indices into a
// lane-register bundle. filter is an instruction-count hint only; all
// fields are always populated.
func (st *Store) Gather(indices []int32, filter Filter) Gathered {
	idxVec := bundle.Load(indices)
	a := &st.active
	g := Gathered{
		InvMass: bundle.GatherIndex(a.invMass, idxVec),
	}
	if filter != FilterAngularOnly {
		g.PosX = bundle.GatherIndex(a.posX, idxVec)
		g.PosY = bundle.GatherIndex(a.posY, idxVec)
		g.PosZ = bundle.GatherIndex(a.posZ, idxVec)
		g.LinVelX = bundle.GatherIndex(a.linVelX, idxVec)
		g.LinVelY = bundle.GatherIndex(a.linVelY, idxVec)
		g.LinVelZ = bundle.GatherIndex(a.linVelZ, idxVec)
	}
	if filter != FilterLinearOnly {
		g.OriX = bundle.GatherIndex(a.oriX, idxVec)
		g.OriY = bundle.GatherIndex(a.oriY, idxVec)
		g.OriZ = bundle.GatherIndex(a.oriZ, idxVec)
		g.OriW = bundle.GatherIndex(a.oriW, idxVec)
		g.AngVelX = bundle.GatherIndex(a.angVelX, idxVec)
		g.AngVelY = bundle.GatherIndex(a.angVelY, idxVec)
		g.AngVelZ = bundle.GatherIndex(a.angVelZ, idxVec)
	}
	g.WorldInertia = make([]mathx.Sym3x3, len(indices))
	for lane, idx := range indices {
		if idx >= 0 && int(idx) < len(a.worldInertia) {
			g.WorldInertia[lane] = a.worldInertia[idx]
		}
	}
	return g
}

// ScatterVelocities writes linear/angular velocity lanes back to the active
// bodies named by indices, honoring mask. Lanes outside the mask are left
// bit-identical.
func (st *Store) ScatterVelocities(indices []int32, linVelX, linVelY, linVelZ, angVelX, angVelY, angVelZ bundle.Vec[float32], mask bundle.Mask[float32]) {
	idxVec := bundle.Load(indices)
	a := &st.active
	bundle.ScatterIndexMasked(linVelX, a.linVelX, idxVec, mask)
	bundle.ScatterIndexMasked(linVelY, a.linVelY, idxVec, mask)
	bundle.ScatterIndexMasked(linVelZ, a.linVelZ, idxVec, mask)
	bundle.ScatterIndexMasked(angVelX, a.angVelX, idxVec, mask)
	bundle.ScatterIndexMasked(angVelY, a.angVelY, idxVec, mask)
	bundle.ScatterIndexMasked(angVelZ, a.angVelZ, idxVec, mask)
}

// ScatterPose writes position/orientation lanes back, honoring mask.
func (st *Store) ScatterPose(indices []int32, posX, posY, posZ, oriX, oriY, oriZ, oriW bundle.Vec[float32], mask bundle.Mask[float32]) {
	idxVec := bundle.Load(indices)
	a := &st.active
	bundle.ScatterIndexMasked(posX, a.posX, idxVec, mask)
	bundle.ScatterIndexMasked(posY, a.posY, idxVec, mask)
	bundle.ScatterIndexMasked(posZ, a.posZ, idxVec, mask)
	bundle.ScatterIndexMasked(oriX, a.oriX, idxVec, mask)
	bundle.ScatterIndexMasked(oriY, a.oriY, idxVec, mask)
	bundle.ScatterIndexMasked(oriZ, a.oriZ, idxVec, mask)
	bundle.ScatterIndexMasked(oriW, a.oriW, idxVec, mask)
}

// AddVelocityDeltas adds whole delta arrays, indexed densely by active body
// index, onto the active velocity planes bundle-wide. Used by the fallback
// batch's averaged Jacobi result, whose accumulator shares this dense
// indexing, so no gather/scatter indirection is needed.
func (st *Store) AddVelocityDeltas(linX, linY, linZ, angX, angY, angZ []float32) {
	a := &st.active
	add := func(dst, delta []float32) {
		n := min(len(dst), len(delta))
		bundle.ProcessWithTail[float32](n,
			func(offset int) {
				sum := bundle.Add(bundle.Load(dst[offset:]), bundle.Load(delta[offset:]))
				bundle.Store(sum, dst[offset:])
			},
			func(offset, count int) {
				tail := bundle.TailMask[float32](count)
				sum := bundle.Add(bundle.MaskLoad(tail, dst[offset:]), bundle.MaskLoad(tail, delta[offset:]))
				bundle.MaskStore(tail, sum, dst[offset:])
			})
	}
	add(a.linVelX, linX)
	add(a.linVelY, linY)
	add(a.linVelZ, linZ)
	add(a.angVelX, angX)
	add(a.angVelY, angY)
	add(a.angVelZ, angZ)
}

// ScatterInertia writes the recomputed world inverse-inertia tensor lanes
// back, honoring mask.
func (st *Store) ScatterInertia(indices []int32, tensors []mathx.Sym3x3, mask bundle.Mask[float32]) {
	a := &st.active
	for lane, idx := range indices {
		if lane >= mask.NumLanes() || !mask.GetBit(lane) {
			continue
		}
		if idx >= 0 && int(idx) < len(a.worldInertia) {
			a.worldInertia[idx] = tensors[lane]
		}
	}
}
