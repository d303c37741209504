package constraint

import (
	"github.com/constraintcore/solver/body"
	"github.com/constraintcore/solver/bundle"
	"github.com/constraintcore/solver/handle"
	"github.com/constraintcore/solver/integrate"
	"github.com/constraintcore/solver/mathx"
)

// IntegrationMode selects which of the three warm-start codepaths a bundle
// dispatches through.
type IntegrationMode int

const (
	// IntegrateNever: the type batch's coarse flag is false; no body it
	// references is responsible for integrating this sub-step.
	IntegrateNever IntegrationMode = iota
	// IntegrateAlways: batch 0 — every referenced body is unintegrated so far.
	IntegrateAlways
	// IntegrateConditional: a per-lane mask distinguishes responsible lanes.
	IntegrateConditional
)

// LaneMask supplies, for IntegrateConditional dispatch, the per-bundle mask
// of lanes responsible for integrating this sub-step. bodySlot selects
// which of a constraint's referenced bodies the mask applies to (a 2-body
// constraint has slots 0 and 1, each potentially gaining integration
// responsibility in a different batch, since the same constraint can be the
// first reference for one of its bodies and not the other).
type LaneMask func(bundleIdx, bodySlot int) bundle.Mask[float32]

// Processor is the per-constraint-type vtable. The store holds
// a Processor per registered type id; each concrete implementation owns its
// own generic TypeBatch[P, A] instances internally (one per constraint
// batch index) and is specialized at compile time over its own prestep (P)
// and accumulated-impulse (A) structs — no runtime reflection is involved,
// only this interface boundary is type-erased.
type Processor interface {
	TypeID() int
	BodyCount() int
	Width() int

	// EnsureBatch lazily creates the underlying TypeBatch for batchIndex
	// the first time a constraint is assigned there.
	EnsureBatch(batchIndex int)

	ConstraintCount(batchIndex int) int
	BundleCapacity(batchIndex int) int
	ActiveLanes(batchIndex, bundleIdx int) int

	// Allocate appends one constraint to batchIndex's type batch, growing
	// storage as needed. desc is the
	// type's own description struct (type-asserted internally).
	Allocate(batchIndex int, h handle.Handle, bodyIndices []int32, desc any) int
	Remove(batchIndex, index int) (moved handle.Handle)
	// Transfer copies prestep+accumulated-impulse lanes from
	// (srcBatch, srcIndex) into a newly allocated slot in dstBatch of the
	// same type, then swap-removes the old slot. Returns the new index in
	// dstBatch plus the handle of whatever constraint the source-side
	// swap-remove relocated into srcIndex, so the caller can fix up its
	// location entry.
	Transfer(srcBatch, srcIndex, dstBatch int, h handle.Handle) (newIndex int, movedInSrc handle.Handle)

	BodyIndicesAt(batchIndex, index int, out []int32)
	RewriteBodyRef(batchIndex, index, bodySlot int, value int32)
	HandleAt(batchIndex, index int) handle.Handle

	GetDescription(batchIndex, index int) any
	SetDescription(batchIndex, index int, desc any)

	// AccumulatedImpulse copies the constraint's per-DOF accumulated
	// impulse out; SetAccumulatedImpulse writes it back. Sleep snapshots
	// carry this alongside the description so a slept-and-woken constraint
	// warm-starts exactly like one that never slept.
	AccumulatedImpulse(batchIndex, index int) []float32
	SetAccumulatedImpulse(batchIndex, index int, dofs []float32)

	// WarmStart applies the accumulated impulse as a velocity change over
	// [startBundle, endBundle), optionally fusing pose integration per
	// mode/mask.
	WarmStart(batchIndex int, bodies *body.Store, mode IntegrationMode, mask LaneMask, integrator integrate.Callback, angularMode integrate.AngularMode, workerIndex int, dt float32, startBundle, endBundle int)

	// Solve runs one solver iteration over [startBundle, endBundle). When
	// fallback is non-nil this is the fallback batch's Jacobi path: the
	// constraint's effective inverse masses are scaled by fallback.InvK and
	// its velocity deltas accumulate into fallback instead of being
	// scattered directly. warmStart is set only on the fallback path's
	// first iteration of a sub-step: the fallback batch never runs a
	// standalone warm-start pass (its bundles may alias a body across
	// lanes), so the accumulated impulse is folded into that first solve.
	Solve(batchIndex int, bodies *body.Store, invDt float32, fallback *FallbackAccum, warmStart bool, startBundle, endBundle int)
}

// FallbackAccum collects per-body velocity-delta contributions from every
// fallback-batch constraint touching that body this iteration, so they can
// be averaged and applied once instead of racing on a shared write. Its
// planes are indexed densely by active body index, which lets Reset and
// ApplyTo run bundle-wide over whole arrays.
type FallbackAccum struct {
	bodyCount        int
	linX, linY, linZ []float32
	angX, angY, angZ []float32
	count            []float32 // contributions per body; float so the averaging divide stays wide
	// InvK is 1/k per body index, k being the number of fallback
	// constraints referencing that body; precomputed by the batch builder.
	InvK []float32
}

// NewFallbackAccum allocates an accumulator sized for bodyCount active bodies.
func NewFallbackAccum(bodyCount int, invK []float32) *FallbackAccum {
	return &FallbackAccum{
		bodyCount: bodyCount,
		linX:      make([]float32, bodyCount),
		linY:      make([]float32, bodyCount),
		linZ:      make([]float32, bodyCount),
		angX:      make([]float32, bodyCount),
		angY:      make([]float32, bodyCount),
		angZ:      make([]float32, bodyCount),
		count:     make([]float32, bodyCount),
		InvK:      invK,
	}
}

func (f *FallbackAccum) planes() [][]float32 {
	return [][]float32{f.linX, f.linY, f.linZ, f.angX, f.angY, f.angZ}
}

// Reset clears all accumulated contributions, keeping the allocation.
func (f *FallbackAccum) Reset() {
	for _, p := range append(f.planes(), f.count) {
		zero := bundle.Zero[float32]()
		bundle.ProcessWithTail[float32](len(p),
			func(offset int) {
				bundle.Store(zero, p[offset:])
			},
			func(offset, count int) {
				bundle.MaskStore(bundle.TailMask[float32](count), zero, p[offset:])
			})
	}
}

// Scale returns the inverse-mass scale 1/k for bodyIndex, or 1 when the
// body has no recorded fallback constraints.
func (f *FallbackAccum) Scale(bodyIndex int32) float32 {
	if int(bodyIndex) >= 0 && int(bodyIndex) < len(f.InvK) && f.InvK[bodyIndex] > 0 {
		return f.InvK[bodyIndex]
	}
	return 1
}

// Add records one constraint's proposed velocity delta for bodyIndex.
func (f *FallbackAccum) Add(bodyIndex int32, linDelta, angDelta mathx.Vec3) {
	if int(bodyIndex) < 0 || int(bodyIndex) >= f.bodyCount {
		return
	}
	i := bodyIndex
	f.linX[i] += linDelta.X
	f.linY[i] += linDelta.Y
	f.linZ[i] += linDelta.Z
	f.angX[i] += angDelta.X
	f.angY[i] += angDelta.Y
	f.angZ[i] += angDelta.Z
	f.count[i]++
}

// ApplyTo averages every body's accumulated contributions and applies them
// to the body store once. The averaging divide runs over full bundles —
// bodies with zero contributions divide to Inf/NaN in their lanes — and
// the count>0 mask blends those lanes back to zero before anything is
// stored, the same compute-then-blend gating the partial-bundle kernels
// use.
func (f *FallbackAccum) ApplyTo(bodies *body.Store) {
	for _, p := range f.planes() {
		bundle.ProcessWithTail[float32](len(p),
			func(offset int) {
				n := bundle.Load(f.count[offset:])
				touched := bundle.GreaterThan(n, bundle.Zero[float32]())
				avg := bundle.IfThenElseZero(touched, bundle.Div(bundle.Load(p[offset:]), n))
				bundle.Store(avg, p[offset:])
			},
			func(offset, count int) {
				tail := bundle.TailMask[float32](count)
				n := bundle.MaskLoad(tail, f.count[offset:])
				touched := bundle.GreaterThan(n, bundle.Zero[float32]())
				avg := bundle.IfThenElseZero(touched, bundle.Div(bundle.MaskLoad(tail, p[offset:]), n))
				bundle.MaskStore(tail, avg, p[offset:])
			})
	}
	bodies.AddVelocityDeltas(f.linX, f.linY, f.linZ, f.angX, f.angY, f.angZ)
}

// FusedIntegrate runs the pose-integration contract for one
// lane that is responsible for integrating this sub-step: advance pose,
// apply angular-momentum handling for mode, invoke the user callback, and
// recompute the world inverse-inertia tensor. It does not touch the
// accumulated-impulse warm-start application, which is type-specific and
// left to the caller.
func FusedIntegrate(bodyIndex int32, pos mathx.Vec3, ori mathx.Quat, linVel, angVel mathx.Vec3, invMass float32, localInertia mathx.Sym3x3, mode integrate.AngularMode, cb integrate.Callback, workerIndex int, dt float32) (newPos mathx.Vec3, newOri mathx.Quat, newLinVel, newAngVel mathx.Vec3, newWorldInertia mathx.Sym3x3) {
	newPos = pos.Add(linVel.Scale(dt))

	effectiveAngVel := angVel
	worldInertiaBefore := localInertia.Rotate(ori)
	if mode == integrate.ConserveMomentumWithGyroscopicTorque {
		// Torque-free Euler precession: dw = dt * I^-1 * (L x w), L = I*w.
		// worldInertiaBefore holds the *inverse* tensor, so the forward one
		// comes from inverting it, same as the momentum remap below.
		momentum := worldInertiaBefore.Inverse().Apply(angVel)
		effectiveAngVel = angVel.Add(worldInertiaBefore.Apply(momentum.Cross(angVel)).Scale(dt))
	}

	newOri = mathx.IntegrateOrientation(ori, effectiveAngVel, dt)
	newWorldInertia = localInertia.Rotate(newOri)

	if mode == integrate.ConserveMomentum || mode == integrate.ConserveMomentumWithGyroscopicTorque {
		// Hold world angular momentum fixed across the reorientation:
		// L = I*w with the pre-rotation tensor, then w' = I'^-1 * L with
		// the post-rotation one.
		momentum := worldInertiaBefore.Inverse().Apply(effectiveAngVel)
		effectiveAngVel = newWorldInertia.Apply(momentum)
	}

	lane := &integrate.Lane{
		BodyIndex:       bodyIndex,
		Position:        newPos,
		Orientation:     newOri,
		InverseMass:     invMass,
		LocalInertia:    localInertia,
		WorkerIndex:     workerIndex,
		Dt:              dt,
		LinearVelocity:  linVel,
		AngularVelocity: effectiveAngVel,
	}
	if cb != nil {
		cb(lane)
	}
	return newPos, newOri, lane.LinearVelocity, lane.AngularVelocity, newWorldInertia
}
