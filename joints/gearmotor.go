package joints

import (
	"github.com/constraintcore/solver/body"
	"github.com/constraintcore/solver/bundle"
	"github.com/constraintcore/solver/constraint"
	"github.com/constraintcore/solver/integrate"
	"github.com/constraintcore/solver/mathx"
)

// AngularAxisGearMotorDescription drives body B's angular velocity about an
// axis to VelocityScale times body A's: wB.axis = VelocityScale * (wA.axis).
// LocalAxis is expressed in A's frame and must be unit length. The
// accumulated impulse is clamped to +-MaxImpulse.
type AngularAxisGearMotorDescription struct {
	LocalAxis     mathx.Vec3
	VelocityScale float32
	MaxImpulse    float32
}

type gearMotorPrestep struct {
	axX, axY, axZ []float32
	scale, maxImp []float32
}

func (p *gearMotorPrestep) planes() []*[]float32 {
	return []*[]float32{&p.axX, &p.axY, &p.axZ, &p.scale, &p.maxImp}
}

type gearMotorImpulse struct {
	total []float32
}

func (a *gearMotorImpulse) planes() []*[]float32 {
	return []*[]float32{&a.total}
}

// AngularAxisGearMotor is the 1-DOF angular velocity-ratio motor.
type AngularAxisGearMotor struct {
	core[gearMotorPrestep, gearMotorImpulse]
}

func NewAngularAxisGearMotor(typeID, width int) *AngularAxisGearMotor {
	j := &AngularAxisGearMotor{}
	j.core = newCore[gearMotorPrestep, gearMotorImpulse](typeID, 2, width, readGearMotorDesc, writeGearMotorDesc)
	return j
}

func writeGearMotorDesc(p *gearMotorPrestep, lane int, desc any) {
	d, ok := desc.(AngularAxisGearMotorDescription)
	if !ok {
		panic("joints: gear motor description has wrong type")
	}
	requireUnit(d.LocalAxis, "gear motor axis")
	if d.MaxImpulse < 0 {
		panic("joints: gear motor max impulse must be non-negative")
	}
	p.axX[lane], p.axY[lane], p.axZ[lane] = d.LocalAxis.X, d.LocalAxis.Y, d.LocalAxis.Z
	p.scale[lane] = d.VelocityScale
	p.maxImp[lane] = d.MaxImpulse
}

func readGearMotorDesc(p *gearMotorPrestep, lane int) any {
	return AngularAxisGearMotorDescription{
		LocalAxis:     mathx.Vec3{X: p.axX[lane], Y: p.axY[lane], Z: p.axZ[lane]},
		VelocityScale: p.scale[lane],
		MaxImpulse:    p.maxImp[lane],
	}
}

func applyGearImpulse(a, b *slotState, lane int, axis mathx.Vec3, scale, lambda float32, inA, inB mathx.Sym3x3) {
	a.addAngVel(lane, inA.Apply(axis.Scale(-scale*lambda)))
	b.addAngVel(lane, inB.Apply(axis.Scale(lambda)))
}

func (j *AngularAxisGearMotor) WarmStart(batchIndex int, bodies *body.Store, mode constraint.IntegrationMode, mask constraint.LaneMask, integrator integrate.Callback, angularMode integrate.AngularMode, workerIndex int, dt float32, startBundle, endBundle int) {
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
		for lane := 0; lane < active; lane++ {
			axis := a.ori(lane).RotateVec(mathx.Vec3{X: p.axX[lane], Y: p.axY[lane], Z: p.axZ[lane]})
			applyGearImpulse(a, b, lane, axis, p.scale[lane], imp.total[lane], a.inertia(lane), b.inertia(lane))
		}
		am := bundle.TailMask[float32](active)
		a.scatterVelocities(bodies, am)
		b.scatterVelocities(bodies, am)
	}
}

func (j *AngularAxisGearMotor) Solve(batchIndex int, bodies *body.Store, invDt float32, fallback *constraint.FallbackAccum, warmStart bool, startBundle, endBundle int) {
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
		p := tb.Prestep(bi)
		imp := tb.Impulse(bi)

		for lane := 0; lane < active; lane++ {
			inA, inB := a.inertia(lane), b.inertia(lane)
			var wA0, wB0 mathx.Vec3
			if fallback != nil {
				inA = inA.Scale(fallback.Scale(a.indices[lane]))
				inB = inB.Scale(fallback.Scale(b.indices[lane]))
				wA0, wB0 = a.angVel(lane), b.angVel(lane)
			}

			scale := p.scale[lane]
			axis := a.ori(lane).RotateVec(mathx.Vec3{X: p.axX[lane], Y: p.axY[lane], Z: p.axZ[lane]})

			if fallback != nil && warmStart {
				applyGearImpulse(a, b, lane, axis, scale, imp.total[lane], inA, inB)
			}

			k := scale*scale*axis.Dot(inA.Apply(axis)) + axis.Dot(inB.Apply(axis))
			if k < 1e-12 {
				continue
			}
			maxImp := p.maxImp[lane]
			if maxImp == 0 {
				maxImp = mathx.MaxFloat
			}
			c := b.angVel(lane).Dot(axis) - scale*a.angVel(lane).Dot(axis)
			lambda := clampAccumulate1(&imp.total[lane], -c/k, -maxImp, maxImp)
			applyGearImpulse(a, b, lane, axis, scale, lambda, inA, inB)

			if fallback != nil {
				fallback.Add(a.indices[lane], mathx.Vec3{}, a.angVel(lane).Sub(wA0))
				fallback.Add(b.indices[lane], mathx.Vec3{}, b.angVel(lane).Sub(wB0))
			}
		}

		if fallback == nil {
			am := bundle.TailMask[float32](active)
			a.scatterVelocities(bodies, am)
			b.scatterVelocities(bodies, am)
		}
	}
}
