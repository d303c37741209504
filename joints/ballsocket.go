package joints

import (
	"github.com/constraintcore/solver/body"
	"github.com/constraintcore/solver/bundle"
	"github.com/constraintcore/solver/constraint"
	"github.com/constraintcore/solver/integrate"
	"github.com/constraintcore/solver/mathx"
)

// BallSocketDescription pins two anchor points together while leaving all
// rotation free: A's anchor LocalOffsetA (in A's frame) is held coincident
// with B's anchor LocalOffsetB.
type BallSocketDescription struct {
	LocalOffsetA        mathx.Vec3
	LocalOffsetB        mathx.Vec3
	StabilizationFactor float32
	Softness            float32
	MaxImpulse          float32
}

type ballSocketPrestep struct {
	aX, aY, aZ         []float32
	bX, bY, bZ         []float32
	stab, soft, maxImp []float32
}

func (p *ballSocketPrestep) planes() []*[]float32 {
	return []*[]float32{&p.aX, &p.aY, &p.aZ, &p.bX, &p.bY, &p.bZ, &p.stab, &p.soft, &p.maxImp}
}

type ballSocketImpulse struct {
	x, y, z []float32
}

func (a *ballSocketImpulse) planes() []*[]float32 {
	return []*[]float32{&a.x, &a.y, &a.z}
}

// BallSocket is the 3-DOF point-to-point joint.
type BallSocket struct {
	core[ballSocketPrestep, ballSocketImpulse]
}

func NewBallSocket(typeID, width int) *BallSocket {
	j := &BallSocket{}
	j.core = newCore[ballSocketPrestep, ballSocketImpulse](typeID, 2, width, readBallSocketDesc, writeBallSocketDesc)
	return j
}

func writeBallSocketDesc(p *ballSocketPrestep, lane int, desc any) {
	d, ok := desc.(BallSocketDescription)
	if !ok {
		panic("joints: ball socket description has wrong type")
	}
	p.aX[lane], p.aY[lane], p.aZ[lane] = d.LocalOffsetA.X, d.LocalOffsetA.Y, d.LocalOffsetA.Z
	p.bX[lane], p.bY[lane], p.bZ[lane] = d.LocalOffsetB.X, d.LocalOffsetB.Y, d.LocalOffsetB.Z
	p.stab[lane] = d.StabilizationFactor
	p.soft[lane] = d.Softness
	p.maxImp[lane] = d.MaxImpulse
}

func readBallSocketDesc(p *ballSocketPrestep, lane int) any {
	return BallSocketDescription{
		LocalOffsetA:        mathx.Vec3{X: p.aX[lane], Y: p.aY[lane], Z: p.aZ[lane]},
		LocalOffsetB:        mathx.Vec3{X: p.bX[lane], Y: p.bY[lane], Z: p.bZ[lane]},
		StabilizationFactor: p.stab[lane],
		Softness:            p.soft[lane],
		MaxImpulse:          p.maxImp[lane],
	}
}

func applyBallSocketImpulse(a, b *slotState, lane int, ra, rb, lin mathx.Vec3, imA, imB float32, inA, inB mathx.Sym3x3) {
	a.addLinVel(lane, lin.Scale(-imA))
	a.addAngVel(lane, inA.Apply(ra.Cross(lin)).Neg())
	b.addLinVel(lane, lin.Scale(imB))
	b.addAngVel(lane, inB.Apply(rb.Cross(lin)))
}

func (j *BallSocket) anchors(p *ballSocketPrestep, a, b *slotState, lane int) (ra, rb mathx.Vec3) {
	ra = a.ori(lane).RotateVec(mathx.Vec3{X: p.aX[lane], Y: p.aY[lane], Z: p.aZ[lane]})
	rb = b.ori(lane).RotateVec(mathx.Vec3{X: p.bX[lane], Y: p.bY[lane], Z: p.bZ[lane]})
	return ra, rb
}

func (j *BallSocket) WarmStart(batchIndex int, bodies *body.Store, mode constraint.IntegrationMode, mask constraint.LaneMask, integrator integrate.Callback, angularMode integrate.AngularMode, workerIndex int, dt float32, startBundle, endBundle int) {
	tb := j.batch(batchIndex)
	if tb == nil {
		return
	}
	endBundle = min(endBundle, tb.BundleCapacity())
	for bi := startBundle; bi < endBundle; bi++ {
		active := tb.ActiveLanes(bi)
		a := gatherSlot(bodies, tb.BundleBodyIndices(bi, 0), body.FilterAll)
		b := gatherSlot(bodies, tb.BundleBodyIndices(bi, 1), body.FilterAll)
		integrateSlot(bodies, a, slotMask(mode, mask, bi, 0, active, j.w), angularMode, integrator, workerIndex, dt)
		integrateSlot(bodies, b, slotMask(mode, mask, bi, 1, active, j.w), angularMode, integrator, workerIndex, dt)

		p := tb.Prestep(bi)
		imp := tb.Impulse(bi)
		// Linear DOFs apply bundle-wide from the impulse lane-planes; the
		// angular terms need the per-lane inertia tensors and anchors.
		applyLinearImpulseWide(a, b, bundle.Load(imp.x), bundle.Load(imp.y), bundle.Load(imp.z))
		for lane := 0; lane < active; lane++ {
			lin := mathx.Vec3{X: imp.x[lane], Y: imp.y[lane], Z: imp.z[lane]}
			ra, rb := j.anchors(p, a, b, lane)
			a.addAngVel(lane, a.inertia(lane).Apply(ra.Cross(lin)).Neg())
			b.addAngVel(lane, b.inertia(lane).Apply(rb.Cross(lin)))
		}
		am := bundle.TailMask[float32](active)
		a.scatterVelocities(bodies, am)
		b.scatterVelocities(bodies, am)
	}
}

func (j *BallSocket) Solve(batchIndex int, bodies *body.Store, invDt float32, fallback *constraint.FallbackAccum, warmStart bool, startBundle, endBundle int) {
	tb := j.batch(batchIndex)
	if tb == nil {
		return
	}
	endBundle = min(endBundle, tb.BundleCapacity())
	for bi := startBundle; bi < endBundle; bi++ {
		active := tb.ActiveLanes(bi)
		a := gatherSlot(bodies, tb.BundleBodyIndices(bi, 0), body.FilterAll)
		b := gatherSlot(bodies, tb.BundleBodyIndices(bi, 1), body.FilterAll)
		p := tb.Prestep(bi)
		imp := tb.Impulse(bi)

		for lane := 0; lane < active; lane++ {
			imA, imB := a.invMass(lane), b.invMass(lane)
			inA, inB := a.inertia(lane), b.inertia(lane)
			var vA0, wA0, vB0, wB0 mathx.Vec3
			if fallback != nil {
				kA := fallback.Scale(a.indices[lane])
				kB := fallback.Scale(b.indices[lane])
				imA *= kA
				imB *= kB
				inA = inA.Scale(kA)
				inB = inB.Scale(kB)
				vA0, wA0 = a.linVel(lane), a.angVel(lane)
				vB0, wB0 = b.linVel(lane), b.angVel(lane)
			}

			ra, rb := j.anchors(p, a, b, lane)

			if fallback != nil && warmStart {
				lin := mathx.Vec3{X: imp.x[lane], Y: imp.y[lane], Z: imp.z[lane]}
				applyBallSocketImpulse(a, b, lane, ra, rb, lin, imA, imB, inA, inB)
			}

			// C = (pB + rb) - (pA + ra); drive it and its velocity to zero.
			posErr := b.pos(lane).Add(rb).Sub(a.pos(lane)).Sub(ra)
			relVel := b.linVel(lane).Add(b.angVel(lane).Cross(rb)).Sub(a.linVel(lane)).Sub(a.angVel(lane).Cross(ra))
			k := mathx.OffsetInertia(inA, ra).Add(mathx.OffsetInertia(inB, rb)).AddDiag(imA + imB + p.soft[lane])
			stab := stabilization(p.stab[lane]) * invDt
			delta := k.Inverse().Apply(relVel.Add(posErr.Scale(stab))).Neg()
			delta = clampAccumulate3(&imp.x[lane], &imp.y[lane], &imp.z[lane], delta, p.maxImp[lane])
			applyBallSocketImpulse(a, b, lane, ra, rb, delta, imA, imB, inA, inB)

			if fallback != nil {
				fallback.Add(a.indices[lane], a.linVel(lane).Sub(vA0), a.angVel(lane).Sub(wA0))
				fallback.Add(b.indices[lane], b.linVel(lane).Sub(vB0), b.angVel(lane).Sub(wB0))
			}
		}

		if fallback == nil {
			am := bundle.TailMask[float32](active)
			a.scatterVelocities(bodies, am)
			b.scatterVelocities(bodies, am)
		}
	}
}
