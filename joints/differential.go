package joints

import (
	"github.com/constraintcore/solver/body"
	"github.com/constraintcore/solver/bundle"
	"github.com/constraintcore/solver/constraint"
	"github.com/constraintcore/solver/integrate"
	"github.com/constraintcore/solver/mathx"
)

// AngularDifferentialDescription couples three bodies about an axis the way
// an open differential couples a carrier to two half shafts: body B (the
// carrier, slot 1) is driven to Ratio times the mean of A's and C's angular
// velocity about the axis: wB.axis = Ratio * (wA.axis + wC.axis) / 2.
// LocalAxis is expressed in A's frame and must be unit length.
//
// This is the catalogue's three-body type: it runs through exactly the same
// warm-start and solve entry points as the two-body types, including fused
// pose integration per body slot.
type AngularDifferentialDescription struct {
	LocalAxis  mathx.Vec3
	Ratio      float32
	MaxImpulse float32
}

type differentialPrestep struct {
	axX, axY, axZ []float32
	ratio, maxImp []float32
}

func (p *differentialPrestep) planes() []*[]float32 {
	return []*[]float32{&p.axX, &p.axY, &p.axZ, &p.ratio, &p.maxImp}
}

type differentialImpulse struct {
	total []float32
}

func (a *differentialImpulse) planes() []*[]float32 {
	return []*[]float32{&a.total}
}

// AngularDifferential is the 1-DOF, three-body angular coupling.
type AngularDifferential struct {
	core[differentialPrestep, differentialImpulse]
}

func NewAngularDifferential(typeID, width int) *AngularDifferential {
	j := &AngularDifferential{}
	j.core = newCore[differentialPrestep, differentialImpulse](typeID, 3, width, readDifferentialDesc, writeDifferentialDesc)
	return j
}

func writeDifferentialDesc(p *differentialPrestep, lane int, desc any) {
	d, ok := desc.(AngularDifferentialDescription)
	if !ok {
		panic("joints: differential description has wrong type")
	}
	requireUnit(d.LocalAxis, "differential axis")
	p.axX[lane], p.axY[lane], p.axZ[lane] = d.LocalAxis.X, d.LocalAxis.Y, d.LocalAxis.Z
	p.ratio[lane] = d.Ratio
	p.maxImp[lane] = d.MaxImpulse
}

func readDifferentialDesc(p *differentialPrestep, lane int) any {
	return AngularDifferentialDescription{
		LocalAxis:  mathx.Vec3{X: p.axX[lane], Y: p.axY[lane], Z: p.axZ[lane]},
		Ratio:      p.ratio[lane],
		MaxImpulse: p.maxImp[lane],
	}
}

func applyDifferentialImpulse(a, b, c *slotState, lane int, axis mathx.Vec3, ratio, lambda float32, inA, inB, inC mathx.Sym3x3) {
	half := -0.5 * ratio * lambda
	a.addAngVel(lane, inA.Apply(axis.Scale(half)))
	c.addAngVel(lane, inC.Apply(axis.Scale(half)))
	b.addAngVel(lane, inB.Apply(axis.Scale(lambda)))
}

func (j *AngularDifferential) WarmStart(batchIndex int, bodies *body.Store, mode constraint.IntegrationMode, mask constraint.LaneMask, integrator integrate.Callback, angularMode integrate.AngularMode, workerIndex int, dt float32, startBundle, endBundle int) {
	tb := j.batch(batchIndex)
	if tb == nil {
		return
	}
	endBundle = min(endBundle, tb.BundleCapacity())
	for bi := startBundle; bi < endBundle; bi++ {
		active := tb.ActiveLanes(bi)
		a := gatherSlot(bodies, tb.BundleBodyIndices(bi, 0), body.FilterAll)
		b := gatherSlot(bodies, tb.BundleBodyIndices(bi, 1), body.FilterAll)
		c := gatherSlot(bodies, tb.BundleBodyIndices(bi, 2), body.FilterAll)
		integrateSlot(bodies, a, slotMask(mode, mask, bi, 0, active, j.w), angularMode, integrator, workerIndex, dt)
		integrateSlot(bodies, b, slotMask(mode, mask, bi, 1, active, j.w), angularMode, integrator, workerIndex, dt)
		integrateSlot(bodies, c, slotMask(mode, mask, bi, 2, active, j.w), angularMode, integrator, workerIndex, dt)

		p := tb.Prestep(bi)
		imp := tb.Impulse(bi)
		for lane := 0; lane < active; lane++ {
			axis := a.ori(lane).RotateVec(mathx.Vec3{X: p.axX[lane], Y: p.axY[lane], Z: p.axZ[lane]})
			applyDifferentialImpulse(a, b, c, lane, axis, p.ratio[lane], imp.total[lane], a.inertia(lane), b.inertia(lane), c.inertia(lane))
		}
		am := bundle.TailMask[float32](active)
		a.scatterVelocities(bodies, am)
		b.scatterVelocities(bodies, am)
		c.scatterVelocities(bodies, am)
	}
}

func (j *AngularDifferential) Solve(batchIndex int, bodies *body.Store, invDt float32, fallback *constraint.FallbackAccum, warmStart bool, startBundle, endBundle int) {
	tb := j.batch(batchIndex)
	if tb == nil {
		return
	}
	endBundle = min(endBundle, tb.BundleCapacity())
	for bi := startBundle; bi < endBundle; bi++ {
		active := tb.ActiveLanes(bi)
		// Angular-only constraint: skip the linear gathers entirely.
		a := gatherSlot(bodies, tb.BundleBodyIndices(bi, 0), body.FilterAngularOnly)
		b := gatherSlot(bodies, tb.BundleBodyIndices(bi, 1), body.FilterAngularOnly)
		c := gatherSlot(bodies, tb.BundleBodyIndices(bi, 2), body.FilterAngularOnly)
		p := tb.Prestep(bi)
		imp := tb.Impulse(bi)

		for lane := 0; lane < active; lane++ {
			inA, inB, inC := a.inertia(lane), b.inertia(lane), c.inertia(lane)
			var wA0, wB0, wC0 mathx.Vec3
			if fallback != nil {
				inA = inA.Scale(fallback.Scale(a.indices[lane]))
				inB = inB.Scale(fallback.Scale(b.indices[lane]))
				inC = inC.Scale(fallback.Scale(c.indices[lane]))
				wA0, wB0, wC0 = a.angVel(lane), b.angVel(lane), c.angVel(lane)
			}

			ratio := p.ratio[lane]
			axis := a.ori(lane).RotateVec(mathx.Vec3{X: p.axX[lane], Y: p.axY[lane], Z: p.axZ[lane]})

			if fallback != nil && warmStart {
				applyDifferentialImpulse(a, b, c, lane, axis, ratio, imp.total[lane], inA, inB, inC)
			}

			k := 0.25*ratio*ratio*(axis.Dot(inA.Apply(axis))+axis.Dot(inC.Apply(axis))) + axis.Dot(inB.Apply(axis))
			if k < 1e-12 {
				continue
			}
			maxImp := p.maxImp[lane]
			if maxImp == 0 {
				maxImp = mathx.MaxFloat
			}
			cv := b.angVel(lane).Dot(axis) - 0.5*ratio*(a.angVel(lane).Dot(axis)+c.angVel(lane).Dot(axis))
			lambda := clampAccumulate1(&imp.total[lane], -cv/k, -maxImp, maxImp)
			applyDifferentialImpulse(a, b, c, lane, axis, ratio, lambda, inA, inB, inC)

			if fallback != nil {
				fallback.Add(a.indices[lane], mathx.Vec3{}, a.angVel(lane).Sub(wA0))
				fallback.Add(b.indices[lane], mathx.Vec3{}, b.angVel(lane).Sub(wB0))
				fallback.Add(c.indices[lane], mathx.Vec3{}, c.angVel(lane).Sub(wC0))
			}
		}

		if fallback == nil {
			am := bundle.TailMask[float32](active)
			a.scatterVelocities(bodies, am)
			b.scatterVelocities(bodies, am)
			c.scatterVelocities(bodies, am)
		}
	}
}
