// Package joints is the constraint catalogue: concrete constraint types
// (weld, ball socket, angular gear motor, angular differential, point
// contact) implemented against the constraint store's Processor contract.
//
// Every type follows the same shape: a description struct for external
// callers, a prestep struct and an accumulated-impulse struct stored as
// bundle-width lane-planes ([]float32 per scalar slot), and warm-start and
// solve kernels that gather body state a bundle at a time, run the
// constraint math per lane, and scatter velocities back under a lane mask.
// The structural half of the Processor contract (slot allocation,
// swap-remove, cross-batch transfer, description I/O) is shared by the
// generic core in this file; only the kernels and field layouts are
// per-type.
package joints

import (
	"github.com/constraintcore/solver/body"
	"github.com/constraintcore/solver/bundle"
	"github.com/constraintcore/solver/constraint"
	"github.com/constraintcore/solver/handle"
	"github.com/constraintcore/solver/integrate"
	"github.com/constraintcore/solver/mathx"
)

// planer exposes a prestep or impulse struct's lane-plane fields so the
// structural core can size, clear, and copy them without knowing the type.
type planer interface {
	planes() []*[]float32
}

func planesOf(v any) []*[]float32 {
	return v.(planer).planes()
}

func ensurePlanes(planes []*[]float32, w int) {
	for _, f := range planes {
		if *f == nil {
			*f = make([]float32, w)
		}
	}
}

func clearPlaneLane(planes []*[]float32, lane int) {
	for _, f := range planes {
		(*f)[lane] = 0
	}
}

func copyPlaneLane(dst, src []*[]float32, dstLane, srcLane int) {
	for i := range dst {
		(*dst[i])[dstLane] = (*src[i])[srcLane]
	}
}

// core carries the structural half of the constraint.Processor contract for
// one joint type: the per-batch TypeBatch instances plus allocation,
// removal, transfer, and description plumbing. Each concrete joint embeds a
// core and adds only its WarmStart/Solve kernels and description codecs.
type core[P any, A any] struct {
	typeID    int
	bodyCount int
	w         int
	minCount  int // pre-reserved constraint capacity per new type batch
	batches   []*constraint.TypeBatch[P, A]

	readDesc  func(p *P, lane int) any
	writeDesc func(p *P, lane int, desc any)
}

func newCore[P any, A any](typeID, bodyCount, w int, readDesc func(p *P, lane int) any, writeDesc func(p *P, lane int, desc any)) core[P, A] {
	if w < 1 {
		panic("joints: bundle width must be at least 1")
	}
	return core[P, A]{
		typeID:    typeID,
		bodyCount: bodyCount,
		w:         w,
		readDesc:  readDesc,
		writeDesc: writeDesc,
	}
}

func (c *core[P, A]) TypeID() int    { return c.typeID }
func (c *core[P, A]) BodyCount() int { return c.bodyCount }
func (c *core[P, A]) Width() int     { return c.w }

func (c *core[P, A]) EnsureBatch(batchIndex int) {
	for len(c.batches) <= batchIndex {
		c.batches = append(c.batches, nil)
	}
	if c.batches[batchIndex] == nil {
		tb := constraint.NewTypeBatch[P, A](c.bodyCount, c.w)
		if c.minCount > 0 {
			tb.Reserve(c.minCount)
		}
		c.batches[batchIndex] = tb
	}
}

// SetMinimumBatchCapacity records the pool-sizing hint applied to every
// type batch this processor creates from now on.
func (c *core[P, A]) SetMinimumBatchCapacity(count int) {
	c.minCount = count
}

func (c *core[P, A]) HandleAt(batchIndex, index int) handle.Handle {
	return c.batch(batchIndex).HandleAt(index)
}

func (c *core[P, A]) batch(batchIndex int) *constraint.TypeBatch[P, A] {
	if batchIndex < 0 || batchIndex >= len(c.batches) {
		return nil
	}
	return c.batches[batchIndex]
}

func (c *core[P, A]) ConstraintCount(batchIndex int) int {
	tb := c.batch(batchIndex)
	if tb == nil {
		return 0
	}
	return tb.Count()
}

func (c *core[P, A]) BundleCapacity(batchIndex int) int {
	tb := c.batch(batchIndex)
	if tb == nil {
		return 0
	}
	return tb.BundleCapacity()
}

func (c *core[P, A]) ActiveLanes(batchIndex, bundleIdx int) int {
	tb := c.batch(batchIndex)
	if tb == nil {
		return 0
	}
	return tb.ActiveLanes(bundleIdx)
}

func (c *core[P, A]) Allocate(batchIndex int, h handle.Handle, bodyIndices []int32, desc any) int {
	tb := c.batch(batchIndex)
	idx := tb.Allocate(h, bodyIndices, func(a *A, lane int) {
		pl := planesOf(a)
		ensurePlanes(pl, c.w)
		clearPlaneLane(pl, lane)
	})
	b := bundle.BundleIndex(idx, c.w)
	lane := bundle.InnerIndex(idx, c.w)
	p := tb.Prestep(b)
	ensurePlanes(planesOf(p), c.w)
	c.writeDesc(p, lane, desc)
	return idx
}

func (c *core[P, A]) Remove(batchIndex, index int) handle.Handle {
	tb := c.batch(batchIndex)
	return tb.Remove(index, func(dstP, srcP *P, dstLane, srcLane int, dstA, srcA *A) {
		copyPlaneLane(planesOf(dstP), planesOf(srcP), dstLane, srcLane)
		copyPlaneLane(planesOf(dstA), planesOf(srcA), dstLane, srcLane)
	})
}

func (c *core[P, A]) Transfer(srcBatch, srcIndex, dstBatch int, h handle.Handle) (int, handle.Handle) {
	src := c.batch(srcBatch)
	dst := c.batch(dstBatch)
	sb := bundle.BundleIndex(srcIndex, c.w)
	sl := bundle.InnerIndex(srcIndex, c.w)

	bodyIndices := make([]int32, c.bodyCount)
	src.BodyIndicesAt(srcIndex, bodyIndices)

	newIdx := dst.Allocate(h, bodyIndices, func(a *A, lane int) {
		pl := planesOf(a)
		ensurePlanes(pl, c.w)
		clearPlaneLane(pl, lane)
	})
	db := bundle.BundleIndex(newIdx, c.w)
	dl := bundle.InnerIndex(newIdx, c.w)
	ensurePlanes(planesOf(dst.Prestep(db)), c.w)
	copyPlaneLane(planesOf(dst.Prestep(db)), planesOf(src.Prestep(sb)), dl, sl)
	copyPlaneLane(planesOf(dst.Impulse(db)), planesOf(src.Impulse(sb)), dl, sl)

	moved := src.Remove(srcIndex, func(dstP, srcP *P, dstLane, srcLane int, dstA, srcA *A) {
		copyPlaneLane(planesOf(dstP), planesOf(srcP), dstLane, srcLane)
		copyPlaneLane(planesOf(dstA), planesOf(srcA), dstLane, srcLane)
	})
	return newIdx, moved
}

func (c *core[P, A]) BodyIndicesAt(batchIndex, index int, out []int32) {
	c.batch(batchIndex).BodyIndicesAt(index, out)
}

func (c *core[P, A]) RewriteBodyRef(batchIndex, index, bodySlot int, value int32) {
	c.batch(batchIndex).RewriteBodyRef(index, bodySlot, value)
}

func (c *core[P, A]) GetDescription(batchIndex, index int) any {
	tb := c.batch(batchIndex)
	b := bundle.BundleIndex(index, c.w)
	lane := bundle.InnerIndex(index, c.w)
	return c.readDesc(tb.Prestep(b), lane)
}

func (c *core[P, A]) SetDescription(batchIndex, index int, desc any) {
	tb := c.batch(batchIndex)
	b := bundle.BundleIndex(index, c.w)
	lane := bundle.InnerIndex(index, c.w)
	c.writeDesc(tb.Prestep(b), lane, desc)
}

func (c *core[P, A]) AccumulatedImpulse(batchIndex, index int) []float32 {
	tb := c.batch(batchIndex)
	b := bundle.BundleIndex(index, c.w)
	lane := bundle.InnerIndex(index, c.w)
	pl := planesOf(tb.Impulse(b))
	out := make([]float32, len(pl))
	for i, f := range pl {
		out[i] = (*f)[lane]
	}
	return out
}

func (c *core[P, A]) SetAccumulatedImpulse(batchIndex, index int, dofs []float32) {
	tb := c.batch(batchIndex)
	b := bundle.BundleIndex(index, c.w)
	lane := bundle.InnerIndex(index, c.w)
	pl := planesOf(tb.Impulse(b))
	for i, f := range pl {
		if i < len(dofs) {
			(*f)[lane] = dofs[i]
		}
	}
}

// slotState is one body slot's gathered bundle state viewed lane-wise.
// Mutations go into the gathered register copies; nothing reaches the body
// store until a scatter call, which is how inactive lanes stay bit-identical.
type slotState struct {
	indices []int32
	g       body.Gathered
}

func gatherSlot(bodies *body.Store, indices []int32, filter body.Filter) *slotState {
	return &slotState{indices: indices, g: bodies.Gather(indices, filter)}
}

func (s *slotState) pos(lane int) mathx.Vec3 {
	return mathx.Vec3{X: s.g.PosX.Data()[lane], Y: s.g.PosY.Data()[lane], Z: s.g.PosZ.Data()[lane]}
}

func (s *slotState) ori(lane int) mathx.Quat {
	return mathx.Quat{X: s.g.OriX.Data()[lane], Y: s.g.OriY.Data()[lane], Z: s.g.OriZ.Data()[lane], W: s.g.OriW.Data()[lane]}
}

func (s *slotState) linVel(lane int) mathx.Vec3 {
	return mathx.Vec3{X: s.g.LinVelX.Data()[lane], Y: s.g.LinVelY.Data()[lane], Z: s.g.LinVelZ.Data()[lane]}
}

func (s *slotState) angVel(lane int) mathx.Vec3 {
	return mathx.Vec3{X: s.g.AngVelX.Data()[lane], Y: s.g.AngVelY.Data()[lane], Z: s.g.AngVelZ.Data()[lane]}
}

func (s *slotState) invMass(lane int) float32 { return s.g.InvMass.Data()[lane] }

func (s *slotState) inertia(lane int) mathx.Sym3x3 { return s.g.WorldInertia[lane] }

func (s *slotState) setLinVel(lane int, v mathx.Vec3) {
	s.g.LinVelX.Data()[lane], s.g.LinVelY.Data()[lane], s.g.LinVelZ.Data()[lane] = v.X, v.Y, v.Z
}

func (s *slotState) setAngVel(lane int, v mathx.Vec3) {
	s.g.AngVelX.Data()[lane], s.g.AngVelY.Data()[lane], s.g.AngVelZ.Data()[lane] = v.X, v.Y, v.Z
}

func (s *slotState) addLinVel(lane int, dv mathx.Vec3) { s.setLinVel(lane, s.linVel(lane).Add(dv)) }
func (s *slotState) addAngVel(lane int, dv mathx.Vec3) { s.setAngVel(lane, s.angVel(lane).Add(dv)) }

// scatterVelocities writes the slot's (possibly mutated) velocity lanes back
// for every lane in mask.
func (s *slotState) scatterVelocities(bodies *body.Store, mask bundle.Mask[float32]) {
	bodies.ScatterVelocities(s.indices, s.g.LinVelX, s.g.LinVelY, s.g.LinVelZ, s.g.AngVelX, s.g.AngVelY, s.g.AngVelZ, mask)
}

// integrateSlot runs the fused pose integration for every lane in mask:
// advance pose, apply the angular mode, invoke the user velocity callback,
// recompute world inertia, and scatter pose+inertia back immediately. The
// callback-mutated velocities stay in the gathered registers so the
// warm-start impulse lands on top of them before the velocity scatter.
func integrateSlot(bodies *body.Store, s *slotState, mask bundle.Mask[float32], angularMode integrate.AngularMode, cb integrate.Callback, workerIndex int, dt float32) {
	if !mask.AnyTrue() {
		return
	}
	local := make([]mathx.Sym3x3, len(s.indices))
	for lane := range s.indices {
		if !mask.GetBit(lane) {
			continue
		}
		if desc, ok := bodies.GetDescription(bodies.HandleAt(s.indices[lane])); ok {
			local[lane] = desc.LocalInverseInertia
		}
		newPos, newOri, newLin, newAng, newInertia := constraint.FusedIntegrate(
			s.indices[lane], s.pos(lane), s.ori(lane), s.linVel(lane), s.angVel(lane),
			s.invMass(lane), local[lane], angularMode, cb, workerIndex, dt)
		s.g.PosX.Data()[lane], s.g.PosY.Data()[lane], s.g.PosZ.Data()[lane] = newPos.X, newPos.Y, newPos.Z
		s.g.OriX.Data()[lane], s.g.OriY.Data()[lane], s.g.OriZ.Data()[lane], s.g.OriW.Data()[lane] = newOri.X, newOri.Y, newOri.Z, newOri.W
		s.setLinVel(lane, newLin)
		s.setAngVel(lane, newAng)
		s.g.WorldInertia[lane] = newInertia
	}
	bodies.ScatterPose(s.indices, s.g.PosX, s.g.PosY, s.g.PosZ, s.g.OriX, s.g.OriY, s.g.OriZ, s.g.OriW, mask)
	bodies.ScatterInertia(s.indices, s.g.WorldInertia, mask)
}

// applyLinearImpulseWide applies a bundle's linear impulse lanes to both
// gathered slots with wide-register arithmetic: body A receives
// -invMass*imp per lane, body B +invMass*imp. Only the linear DOFs are
// lane-planar; angular terms go through the per-lane world inertia tensors
// at the call site. Inactive tail lanes compute garbage harmlessly, since
// the velocity scatter that follows is masked to the active lanes.
func applyLinearImpulseWide(a, b *slotState, ix, iy, iz bundle.Vec[float32]) {
	a.g.LinVelX = bundle.Sub(a.g.LinVelX, bundle.Mul(a.g.InvMass, ix))
	a.g.LinVelY = bundle.Sub(a.g.LinVelY, bundle.Mul(a.g.InvMass, iy))
	a.g.LinVelZ = bundle.Sub(a.g.LinVelZ, bundle.Mul(a.g.InvMass, iz))
	b.g.LinVelX = bundle.Add(b.g.LinVelX, bundle.Mul(b.g.InvMass, ix))
	b.g.LinVelY = bundle.Add(b.g.LinVelY, bundle.Mul(b.g.InvMass, iy))
	b.g.LinVelZ = bundle.Add(b.g.LinVelZ, bundle.Mul(b.g.InvMass, iz))
}

// slotMask resolves which lanes of a bundle's body slot integrate this
// sub-step, for the three warm-start codepaths: batch 0 integrates every
// active lane, a batch with no responsibility integrates none, and the
// conditional path asks the pre-computed responsibility mask.
func slotMask(mode constraint.IntegrationMode, mask constraint.LaneMask, bundleIdx, bodySlot, active, w int) bundle.Mask[float32] {
	switch mode {
	case constraint.IntegrateAlways:
		return bundle.TailMask[float32](active)
	case constraint.IntegrateConditional:
		if mask != nil {
			return mask(bundleIdx, bodySlot)
		}
	}
	return bundle.TailMask[float32](0)
}

// stabilization returns the position-feedback gain, substituting the default
// when the description left it zero.
func stabilization(stab float32) float32 {
	if stab == 0 {
		return 0.2
	}
	if stab < 0 {
		return 0
	}
	return stab
}

// clampAccumulate1 folds delta into one accumulated-impulse lane, clamping
// the running total to [lo, hi], and returns the delta that was actually
// applied after clamping.
func clampAccumulate1(accum *float32, delta, lo, hi float32) float32 {
	old := *accum
	next := old + delta
	if next < lo {
		next = lo
	}
	if next > hi {
		next = hi
	}
	*accum = next
	return next - old
}

// clampAccumulate3 is the three-DOF form: each component of the accumulated
// impulse is clamped to +-maxImp (maxImp == 0 means unbounded).
func clampAccumulate3(ax, ay, az *float32, delta mathx.Vec3, maxImp float32) mathx.Vec3 {
	if maxImp <= 0 {
		*ax += delta.X
		*ay += delta.Y
		*az += delta.Z
		return delta
	}
	return mathx.Vec3{
		X: clampAccumulate1(ax, delta.X, -maxImp, maxImp),
		Y: clampAccumulate1(ay, delta.Y, -maxImp, maxImp),
		Z: clampAccumulate1(az, delta.Z, -maxImp, maxImp),
	}
}

const unitTolerance = 1e-3

func requireUnit(v mathx.Vec3, what string) {
	ls := v.LengthSquared()
	if ls < 1-unitTolerance || ls > 1+unitTolerance {
		panic("joints: " + what + " must be unit length")
	}
}
