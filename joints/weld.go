package joints

import (
	"github.com/constraintcore/solver/body"
	"github.com/constraintcore/solver/bundle"
	"github.com/constraintcore/solver/constraint"
	"github.com/constraintcore/solver/integrate"
	"github.com/constraintcore/solver/mathx"
)

// WeldDescription locks body B's pose rigidly to body A: B's center is held
// at A's frame offset LocalOffset, and B's orientation at A's orientation
// composed with LocalOrientation.
type WeldDescription struct {
	LocalOffset         mathx.Vec3
	LocalOrientation    mathx.Quat
	StabilizationFactor float32 // position feedback gain per sub-step; 0 means the default
	Softness            float32 // added to the effective-mass diagonal
	MaxImpulse          float32 // per-DOF accumulated-impulse clamp; 0 means unbounded
}

type weldPrestep struct {
	offX, offY, offZ       []float32
	oriX, oriY, oriZ, oriW []float32
	stab, soft, maxImp     []float32
}

func (p *weldPrestep) planes() []*[]float32 {
	return []*[]float32{&p.offX, &p.offY, &p.offZ, &p.oriX, &p.oriY, &p.oriZ, &p.oriW, &p.stab, &p.soft, &p.maxImp}
}

type weldImpulse struct {
	linX, linY, linZ []float32
	angX, angY, angZ []float32
}

func (a *weldImpulse) planes() []*[]float32 {
	return []*[]float32{&a.linX, &a.linY, &a.linZ, &a.angX, &a.angY, &a.angZ}
}

// Weld is the 6-DOF rigid lock between two bodies.
type Weld struct {
	core[weldPrestep, weldImpulse]
}

// NewWeld builds a weld processor for the given dense type id and bundle
// width, ready to Register with a constraint store.
func NewWeld(typeID, width int) *Weld {
	jw := &Weld{}
	jw.core = newCore[weldPrestep, weldImpulse](typeID, 2, width, readWeldDesc, writeWeldDesc)
	return jw
}

func writeWeldDesc(p *weldPrestep, lane int, desc any) {
	d, ok := desc.(WeldDescription)
	if !ok {
		panic("joints: weld description has wrong type")
	}
	ori := d.LocalOrientation
	if ori.LengthSquared() < 1e-12 {
		ori = mathx.Identity
	} else {
		ori = ori.Normalize()
	}
	p.offX[lane], p.offY[lane], p.offZ[lane] = d.LocalOffset.X, d.LocalOffset.Y, d.LocalOffset.Z
	p.oriX[lane], p.oriY[lane], p.oriZ[lane], p.oriW[lane] = ori.X, ori.Y, ori.Z, ori.W
	p.stab[lane] = d.StabilizationFactor
	p.soft[lane] = d.Softness
	p.maxImp[lane] = d.MaxImpulse
}

func readWeldDesc(p *weldPrestep, lane int) any {
	return WeldDescription{
		LocalOffset:         mathx.Vec3{X: p.offX[lane], Y: p.offY[lane], Z: p.offZ[lane]},
		LocalOrientation:    mathx.Quat{X: p.oriX[lane], Y: p.oriY[lane], Z: p.oriZ[lane], W: p.oriW[lane]},
		StabilizationFactor: p.stab[lane],
		Softness:            p.soft[lane],
		MaxImpulse:          p.maxImp[lane],
	}
}

// applyWeldImpulse pushes the six DOFs (linear lin, angular ang) through the
// transposed jacobian with explicit masses: the linear impulse acts at A's
// anchor lever arm ra and directly on B's center. Masses are passed in so
// the fallback path can feed 1/k-scaled ones.
func applyWeldImpulse(a, b *slotState, lane int, ra, lin, ang mathx.Vec3, imA, imB float32, inA, inB mathx.Sym3x3) {
	a.addLinVel(lane, lin.Scale(-imA))
	a.addAngVel(lane, inA.Apply(lin.Cross(ra).Sub(ang)))
	b.addLinVel(lane, lin.Scale(imB))
	b.addAngVel(lane, inB.Apply(ang))
}

func (jw *Weld) WarmStart(batchIndex int, bodies *body.Store, mode constraint.IntegrationMode, mask constraint.LaneMask, integrator integrate.Callback, angularMode integrate.AngularMode, workerIndex int, dt float32, startBundle, endBundle int) {
	tb := jw.batch(batchIndex)
	if tb == nil {
		return
	}
	endBundle = min(endBundle, tb.BundleCapacity())
	for bi := startBundle; bi < endBundle; bi++ {
		active := tb.ActiveLanes(bi)
		a := gatherSlot(bodies, tb.BundleBodyIndices(bi, 0), body.FilterAll)
		b := gatherSlot(bodies, tb.BundleBodyIndices(bi, 1), body.FilterAll)
		integrateSlot(bodies, a, slotMask(mode, mask, bi, 0, active, jw.w), angularMode, integrator, workerIndex, dt)
		integrateSlot(bodies, b, slotMask(mode, mask, bi, 1, active, jw.w), angularMode, integrator, workerIndex, dt)

		p := tb.Prestep(bi)
		imp := tb.Impulse(bi)
		// Linear DOFs apply bundle-wide from the impulse lane-planes; the
		// angular terms need the per-lane inertia tensors.
		applyLinearImpulseWide(a, b, bundle.Load(imp.linX), bundle.Load(imp.linY), bundle.Load(imp.linZ))
		for lane := 0; lane < active; lane++ {
			lin := mathx.Vec3{X: imp.linX[lane], Y: imp.linY[lane], Z: imp.linZ[lane]}
			ang := mathx.Vec3{X: imp.angX[lane], Y: imp.angY[lane], Z: imp.angZ[lane]}
			ra := a.ori(lane).RotateVec(mathx.Vec3{X: p.offX[lane], Y: p.offY[lane], Z: p.offZ[lane]})
			a.addAngVel(lane, a.inertia(lane).Apply(lin.Cross(ra).Sub(ang)))
			b.addAngVel(lane, b.inertia(lane).Apply(ang))
		}
		am := bundle.TailMask[float32](active)
		a.scatterVelocities(bodies, am)
		b.scatterVelocities(bodies, am)
	}
}

func (jw *Weld) Solve(batchIndex int, bodies *body.Store, invDt float32, fallback *constraint.FallbackAccum, warmStart bool, startBundle, endBundle int) {
	tb := jw.batch(batchIndex)
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

			ra := a.ori(lane).RotateVec(mathx.Vec3{X: p.offX[lane], Y: p.offY[lane], Z: p.offZ[lane]})

			if fallback != nil && warmStart {
				lin := mathx.Vec3{X: imp.linX[lane], Y: imp.linY[lane], Z: imp.linZ[lane]}
				ang := mathx.Vec3{X: imp.angX[lane], Y: imp.angY[lane], Z: imp.angZ[lane]}
				applyWeldImpulse(a, b, lane, ra, lin, ang, imA, imB, inA, inB)
			}

			stab := stabilization(p.stab[lane]) * invDt
			soft := p.soft[lane]

			// Linear DOFs: hold B's center at A's world anchor.
			posErr := b.pos(lane).Sub(a.pos(lane)).Sub(ra)
			relVel := b.linVel(lane).Sub(a.linVel(lane)).Add(ra.Cross(a.angVel(lane)))
			k := mathx.OffsetInertia(inA, ra).AddDiag(imA + imB + soft)
			linDelta := k.Inverse().Apply(relVel.Add(posErr.Scale(stab))).Neg()
			linDelta = clampAccumulate3(&imp.linX[lane], &imp.linY[lane], &imp.linZ[lane], linDelta, p.maxImp[lane])
			applyWeldImpulse(a, b, lane, ra, linDelta, mathx.Vec3{}, imA, imB, inA, inB)

			// Angular DOFs: hold B's orientation at A's composed with the
			// local target.
			target := a.ori(lane).Mul(mathx.Quat{X: p.oriX[lane], Y: p.oriY[lane], Z: p.oriZ[lane], W: p.oriW[lane]})
			errQ := b.ori(lane).Mul(target.Conjugate())
			oriErr := mathx.Vec3{X: errQ.X, Y: errQ.Y, Z: errQ.Z}.Scale(2)
			if errQ.W < 0 {
				oriErr = oriErr.Neg()
			}
			relAng := b.angVel(lane).Sub(a.angVel(lane))
			kAng := inA.Add(inB).AddDiag(soft)
			angDelta := kAng.Inverse().Apply(relAng.Add(oriErr.Scale(stab))).Neg()
			angDelta = clampAccumulate3(&imp.angX[lane], &imp.angY[lane], &imp.angZ[lane], angDelta, p.maxImp[lane])
			applyWeldImpulse(a, b, lane, ra, mathx.Vec3{}, angDelta, imA, imB, inA, inB)

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
