package joints

import (
	"github.com/constraintcore/solver/body"
	"github.com/constraintcore/solver/bundle"
	"github.com/constraintcore/solver/constraint"
	"github.com/constraintcore/solver/integrate"
	"github.com/constraintcore/solver/mathx"
)

// ContactDescription is a single frictionless contact point between two
// bodies, as produced by an external narrow phase: the contact point in each
// body's frame plus the world-space contact normal, pointing from B toward
// A. The constraint keeps the points from approaching along the normal and
// its impulse is one-sided (contacts push, never pull).
type ContactDescription struct {
	LocalOffsetA        mathx.Vec3
	LocalOffsetB        mathx.Vec3
	Normal              mathx.Vec3
	StabilizationFactor float32
	MaxImpulse          float32
}

type contactPrestep struct {
	aX, aY, aZ   []float32
	bX, bY, bZ   []float32
	nX, nY, nZ   []float32
	stab, maxImp []float32
}

func (p *contactPrestep) planes() []*[]float32 {
	return []*[]float32{&p.aX, &p.aY, &p.aZ, &p.bX, &p.bY, &p.bZ, &p.nX, &p.nY, &p.nZ, &p.stab, &p.maxImp}
}

type contactImpulse struct {
	normal []float32
}

func (a *contactImpulse) planes() []*[]float32 {
	return []*[]float32{&a.normal}
}

// Contact is the 1-DOF non-penetration constraint.
type Contact struct {
	core[contactPrestep, contactImpulse]
}

func NewContact(typeID, width int) *Contact {
	j := &Contact{}
	j.core = newCore[contactPrestep, contactImpulse](typeID, 2, width, readContactDesc, writeContactDesc)
	return j
}

func writeContactDesc(p *contactPrestep, lane int, desc any) {
	d, ok := desc.(ContactDescription)
	if !ok {
		panic("joints: contact description has wrong type")
	}
	requireUnit(d.Normal, "contact normal")
	p.aX[lane], p.aY[lane], p.aZ[lane] = d.LocalOffsetA.X, d.LocalOffsetA.Y, d.LocalOffsetA.Z
	p.bX[lane], p.bY[lane], p.bZ[lane] = d.LocalOffsetB.X, d.LocalOffsetB.Y, d.LocalOffsetB.Z
	p.nX[lane], p.nY[lane], p.nZ[lane] = d.Normal.X, d.Normal.Y, d.Normal.Z
	p.stab[lane] = d.StabilizationFactor
	p.maxImp[lane] = d.MaxImpulse
}

func readContactDesc(p *contactPrestep, lane int) any {
	return ContactDescription{
		LocalOffsetA:        mathx.Vec3{X: p.aX[lane], Y: p.aY[lane], Z: p.aZ[lane]},
		LocalOffsetB:        mathx.Vec3{X: p.bX[lane], Y: p.bY[lane], Z: p.bZ[lane]},
		Normal:              mathx.Vec3{X: p.nX[lane], Y: p.nY[lane], Z: p.nZ[lane]},
		StabilizationFactor: p.stab[lane],
		MaxImpulse:          p.maxImp[lane],
	}
}

func applyContactImpulse(a, b *slotState, lane int, n, ra, rb mathx.Vec3, lambda float32, imA, imB float32, inA, inB mathx.Sym3x3) {
	a.addLinVel(lane, n.Scale(imA*lambda))
	a.addAngVel(lane, inA.Apply(ra.Cross(n)).Scale(lambda))
	b.addLinVel(lane, n.Scale(-imB*lambda))
	b.addAngVel(lane, inB.Apply(rb.Cross(n)).Scale(-lambda))
}

func (j *Contact) WarmStart(batchIndex int, bodies *body.Store, mode constraint.IntegrationMode, mask constraint.LaneMask, integrator integrate.Callback, angularMode integrate.AngularMode, workerIndex int, dt float32, startBundle, endBundle int) {
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
		// The linear impulse is lambda*normal per lane, all of it
		// lane-planar: scale the normal planes by the impulse plane and
		// apply bundle-wide. The contact pushes A along +normal, so the
		// slots are passed swapped relative to the joint convention.
		lambda := bundle.Load(imp.normal)
		applyLinearImpulseWide(b, a,
			bundle.Mul(bundle.Load(p.nX), lambda),
			bundle.Mul(bundle.Load(p.nY), lambda),
			bundle.Mul(bundle.Load(p.nZ), lambda))
		for lane := 0; lane < active; lane++ {
			n := mathx.Vec3{X: p.nX[lane], Y: p.nY[lane], Z: p.nZ[lane]}
			ra := a.ori(lane).RotateVec(mathx.Vec3{X: p.aX[lane], Y: p.aY[lane], Z: p.aZ[lane]})
			rb := b.ori(lane).RotateVec(mathx.Vec3{X: p.bX[lane], Y: p.bY[lane], Z: p.bZ[lane]})
			a.addAngVel(lane, a.inertia(lane).Apply(ra.Cross(n)).Scale(imp.normal[lane]))
			b.addAngVel(lane, b.inertia(lane).Apply(rb.Cross(n)).Scale(-imp.normal[lane]))
		}
		am := bundle.TailMask[float32](active)
		a.scatterVelocities(bodies, am)
		b.scatterVelocities(bodies, am)
	}
}

func (j *Contact) Solve(batchIndex int, bodies *body.Store, invDt float32, fallback *constraint.FallbackAccum, warmStart bool, startBundle, endBundle int) {
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

			n := mathx.Vec3{X: p.nX[lane], Y: p.nY[lane], Z: p.nZ[lane]}
			ra := a.ori(lane).RotateVec(mathx.Vec3{X: p.aX[lane], Y: p.aY[lane], Z: p.aZ[lane]})
			rb := b.ori(lane).RotateVec(mathx.Vec3{X: p.bX[lane], Y: p.bY[lane], Z: p.bZ[lane]})

			if fallback != nil && warmStart {
				applyContactImpulse(a, b, lane, n, ra, rb, imp.normal[lane], imA, imB, inA, inB)
			}

			raCrossN := ra.Cross(n)
			rbCrossN := rb.Cross(n)
			k := imA + imB + raCrossN.Dot(inA.Apply(raCrossN)) + rbCrossN.Dot(inB.Apply(rbCrossN))
			if k < 1e-12 {
				continue
			}

			// Separation along the normal; negative means penetrating.
			sep := a.pos(lane).Add(ra).Sub(b.pos(lane)).Sub(rb).Dot(n)
			bias := float32(0)
			if sep < 0 {
				bias = sep * stabilization(p.stab[lane]) * invDt
			}
			vn := a.linVel(lane).Add(a.angVel(lane).Cross(ra)).Sub(b.linVel(lane)).Sub(b.angVel(lane).Cross(rb)).Dot(n)
			maxImp := p.maxImp[lane]
			if maxImp == 0 {
				maxImp = mathx.MaxFloat
			}
			// One-sided: the accumulated impulse can only push.
			lambda := clampAccumulate1(&imp.normal[lane], -(vn+bias)/k, 0, maxImp)
			applyContactImpulse(a, b, lane, n, ra, rb, lambda, imA, imB, inA, inB)

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
