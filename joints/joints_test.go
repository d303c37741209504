package joints

import (
	"math"
	"testing"

	"github.com/constraintcore/solver/body"
	"github.com/constraintcore/solver/constraint"
	"github.com/constraintcore/solver/handle"
	"github.com/constraintcore/solver/mathx"
)

const testWidth = 4

func identityInertia() mathx.Sym3x3 {
	return mathx.Sym3x3{XX: 1, YY: 1, ZZ: 1}
}

func addTestBody(t *testing.T, bodies *body.Store, d body.Description) (handle.Handle, int32) {
	t.Helper()
	h := bodies.AddBody(d)
	return h, bodies.IndexOf(h)
}

func TestGearMotorEnforcesVelocityRatioInOneSolve(t *testing.T) {
	bodies := body.NewStore(4)
	_, ia := addTestBody(t, bodies, body.Description{
		Orientation: mathx.Identity, InverseMass: 1, LocalInverseInertia: identityInertia(),
		AngularVel: mathx.Vec3{Y: 1},
	})
	_, ib := addTestBody(t, bodies, body.Description{
		Orientation: mathx.Identity, InverseMass: 1, LocalInverseInertia: identityInertia(),
	})

	p := NewAngularAxisGearMotor(0, testWidth)
	p.EnsureBatch(0)
	p.Allocate(0, handle.Handle(1), []int32{ia, ib}, AngularAxisGearMotorDescription{
		LocalAxis:     mathx.Vec3{Y: 1},
		VelocityScale: 2,
		MaxImpulse:    1e30,
	})

	p.Solve(0, bodies, 60, nil, false, 0, p.BundleCapacity(0))

	da, _ := bodies.GetDescription(bodies.HandleAt(ia))
	db, _ := bodies.GetDescription(bodies.HandleAt(ib))
	if diff := math.Abs(float64(db.AngularVel.Y - 2*da.AngularVel.Y)); diff > 1e-5 {
		t.Fatalf("after one solve, wB.y = %v, wA.y = %v: ratio error %v, want <1e-5", db.AngularVel.Y, da.AngularVel.Y, diff)
	}
	// With identity inertia the closed-form split is wA=0.2, wB=0.4.
	if math.Abs(float64(da.AngularVel.Y-0.2)) > 1e-6 || math.Abs(float64(db.AngularVel.Y-0.4)) > 1e-6 {
		t.Fatalf("expected wA.y ~0.2 and wB.y ~0.4, got %v and %v", da.AngularVel.Y, db.AngularVel.Y)
	}
}

func TestGearMotorRespectsImpulseClamp(t *testing.T) {
	bodies := body.NewStore(4)
	_, ia := addTestBody(t, bodies, body.Description{
		Orientation: mathx.Identity, InverseMass: 1, LocalInverseInertia: identityInertia(),
		AngularVel: mathx.Vec3{Y: 10},
	})
	_, ib := addTestBody(t, bodies, body.Description{
		Orientation: mathx.Identity, InverseMass: 1, LocalInverseInertia: identityInertia(),
	})

	p := NewAngularAxisGearMotor(0, testWidth)
	p.EnsureBatch(0)
	idx := p.Allocate(0, handle.Handle(1), []int32{ia, ib}, AngularAxisGearMotorDescription{
		LocalAxis:     mathx.Vec3{Y: 1},
		VelocityScale: 1,
		MaxImpulse:    0.5,
	})

	for i := 0; i < 10; i++ {
		p.Solve(0, bodies, 60, nil, false, 0, p.BundleCapacity(0))
	}
	imp := p.AccumulatedImpulse(0, idx)
	if math.Abs(float64(imp[0])) > 0.5+1e-6 {
		t.Fatalf("accumulated impulse %v exceeds the configured clamp 0.5", imp[0])
	}
	db, _ := bodies.GetDescription(bodies.HandleAt(ib))
	// Clamped at 0.5: B can only have received 0.5 of angular velocity.
	if math.Abs(float64(db.AngularVel.Y-0.5)) > 1e-5 {
		t.Fatalf("wB.y = %v, want 0.5 (clamp-limited)", db.AngularVel.Y)
	}
}

func TestDifferentialDrivesCarrierToMeanVelocity(t *testing.T) {
	bodies := body.NewStore(4)
	_, ia := addTestBody(t, bodies, body.Description{
		Orientation: mathx.Identity, InverseMass: 1, LocalInverseInertia: identityInertia(),
		AngularVel: mathx.Vec3{Y: 2},
	})
	_, ib := addTestBody(t, bodies, body.Description{
		Orientation: mathx.Identity, InverseMass: 1, LocalInverseInertia: identityInertia(),
	})
	_, ic := addTestBody(t, bodies, body.Description{
		Orientation: mathx.Identity, InverseMass: 1, LocalInverseInertia: identityInertia(),
		AngularVel: mathx.Vec3{Y: 4},
	})

	p := NewAngularDifferential(0, testWidth)
	p.EnsureBatch(0)
	p.Allocate(0, handle.Handle(1), []int32{ia, ib, ic}, AngularDifferentialDescription{
		LocalAxis: mathx.Vec3{Y: 1},
		Ratio:     1,
	})

	for i := 0; i < 20; i++ {
		p.Solve(0, bodies, 60, nil, false, 0, p.BundleCapacity(0))
	}

	da, _ := bodies.GetDescription(bodies.HandleAt(ia))
	db, _ := bodies.GetDescription(bodies.HandleAt(ib))
	dc, _ := bodies.GetDescription(bodies.HandleAt(ic))
	want := 0.5 * (da.AngularVel.Y + dc.AngularVel.Y)
	if math.Abs(float64(db.AngularVel.Y-want)) > 1e-4 {
		t.Fatalf("carrier wB.y = %v, want mean of shafts %v", db.AngularVel.Y, want)
	}
}

func TestContactImpulseIsOneSided(t *testing.T) {
	bodies := body.NewStore(4)
	// A above B, separating: the contact must not pull them back together.
	_, ia := addTestBody(t, bodies, body.Description{
		Position: mathx.Vec3{Y: 1.1}, Orientation: mathx.Identity,
		InverseMass: 1, LocalInverseInertia: identityInertia(),
		LinearVel: mathx.Vec3{Y: 1},
	})
	_, ib := addTestBody(t, bodies, body.Description{Orientation: mathx.Identity})

	p := NewContact(0, testWidth)
	p.EnsureBatch(0)
	idx := p.Allocate(0, handle.Handle(1), []int32{ia, ib}, ContactDescription{
		LocalOffsetA: mathx.Vec3{Y: -0.5},
		LocalOffsetB: mathx.Vec3{Y: 0.5},
		Normal:       mathx.Vec3{Y: 1},
	})

	p.Solve(0, bodies, 60, nil, false, 0, p.BundleCapacity(0))

	da, _ := bodies.GetDescription(bodies.HandleAt(ia))
	if da.LinearVel.Y != 1 {
		t.Fatalf("separating body's velocity changed to %v; a contact must never pull", da.LinearVel.Y)
	}
	if imp := p.AccumulatedImpulse(0, idx); imp[0] != 0 {
		t.Fatalf("accumulated impulse = %v, want 0 for a separating contact", imp[0])
	}
}

func TestContactStopsApproachingBodies(t *testing.T) {
	bodies := body.NewStore(4)
	_, ia := addTestBody(t, bodies, body.Description{
		Position: mathx.Vec3{Y: 1}, Orientation: mathx.Identity,
		InverseMass: 1, LocalInverseInertia: identityInertia(),
		LinearVel: mathx.Vec3{Y: -2},
	})
	_, ib := addTestBody(t, bodies, body.Description{Orientation: mathx.Identity}) // immovable

	p := NewContact(0, testWidth)
	p.EnsureBatch(0)
	p.Allocate(0, handle.Handle(1), []int32{ia, ib}, ContactDescription{
		LocalOffsetA: mathx.Vec3{Y: -0.5},
		LocalOffsetB: mathx.Vec3{Y: 0.5},
		Normal:       mathx.Vec3{Y: 1},
	})

	p.Solve(0, bodies, 240, nil, false, 0, p.BundleCapacity(0))

	da, _ := bodies.GetDescription(bodies.HandleAt(ia))
	if math.Abs(float64(da.LinearVel.Y)) > 1e-5 {
		t.Fatalf("approaching velocity after solve = %v, want ~0", da.LinearVel.Y)
	}
}

func TestWeldSwapRemoveRelocatesLastConstraintIntact(t *testing.T) {
	bodies := body.NewStore(256)
	p := NewWeld(0, testWidth)
	p.EnsureBatch(0)

	store := constraint.NewStore(testWidth, 256)
	store.Register(p)

	handles := make([]handle.Handle, 100)
	for i := 0; i < 100; i++ {
		_, ia := addTestBody(t, bodies, body.Description{Orientation: mathx.Identity, InverseMass: 1})
		_, ib := addTestBody(t, bodies, body.Description{Orientation: mathx.Identity, InverseMass: 1})
		handles[i] = store.Add(0, 0, []int32{ia, ib}, WeldDescription{
			LocalOffset: mathx.Vec3{X: float32(i)},
		})
	}
	// Give constraint 99 a recognizable accumulated impulse.
	loc99, _ := store.Location(handles[99])
	p.SetAccumulatedImpulse(loc99.BatchIndex, loc99.Index, []float32{9, 9, 9, 9, 9, 9})

	store.Remove(handles[50])

	loc, ok := store.Location(handles[99])
	if !ok {
		t.Fatal("constraint 99's handle must survive the removal of constraint 50")
	}
	if loc.Index != 50 {
		t.Fatalf("constraint 99 should have been swapped into index 50, found index %d", loc.Index)
	}
	got := p.GetDescription(loc.BatchIndex, loc.Index).(WeldDescription)
	if got.LocalOffset.X != 99 {
		t.Fatalf("moved constraint's prestep data = %v, want offset x=99", got.LocalOffset)
	}
	imp := p.AccumulatedImpulse(loc.BatchIndex, loc.Index)
	for _, v := range imp {
		if v != 9 {
			t.Fatalf("moved constraint's accumulated impulse = %v, want all 9s", imp)
		}
	}
	if _, ok := store.Location(handles[50]); ok {
		t.Fatal("the removed constraint's handle must be stale")
	}
}

func TestTransferPreservesPrestepAndImpulse(t *testing.T) {
	bodies := body.NewStore(16)
	p := NewWeld(0, testWidth)
	store := constraint.NewStore(testWidth, 16)
	store.Register(p)

	var hs []handle.Handle
	for i := 0; i < 6; i++ {
		_, ia := addTestBody(t, bodies, body.Description{Orientation: mathx.Identity, InverseMass: 1})
		_, ib := addTestBody(t, bodies, body.Description{Orientation: mathx.Identity, InverseMass: 1})
		p.EnsureBatch(0)
		hs = append(hs, store.Add(0, 0, []int32{ia, ib}, WeldDescription{LocalOffset: mathx.Vec3{X: float32(i)}}))
	}
	loc2, _ := store.Location(hs[2])
	p.SetAccumulatedImpulse(loc2.BatchIndex, loc2.Index, []float32{1, 2, 3, 4, 5, 6})

	store.TransferTo(hs[2], 1)

	loc, ok := store.Location(hs[2])
	if !ok || loc.BatchIndex != 1 {
		t.Fatalf("transferred constraint should resolve to batch 1, got %+v ok=%v", loc, ok)
	}
	got := p.GetDescription(loc.BatchIndex, loc.Index).(WeldDescription)
	if got.LocalOffset.X != 2 {
		t.Fatalf("transferred prestep data = %v, want offset x=2", got.LocalOffset)
	}
	imp := p.AccumulatedImpulse(loc.BatchIndex, loc.Index)
	want := []float32{1, 2, 3, 4, 5, 6}
	for i := range want {
		if imp[i] != want[i] {
			t.Fatalf("transferred accumulated impulse = %v, want %v", imp, want)
		}
	}

	// The source batch's swap-remove moved constraint 5 into slot 2; its
	// handle must have followed.
	loc5, ok := store.Location(hs[5])
	if !ok || loc5.BatchIndex != 0 || loc5.Index != 2 {
		t.Fatalf("constraint 5 should now live at batch 0 index 2, got %+v ok=%v", loc5, ok)
	}
	got5 := p.GetDescription(loc5.BatchIndex, loc5.Index).(WeldDescription)
	if got5.LocalOffset.X != 5 {
		t.Fatalf("swapped constraint's prestep data = %v, want offset x=5", got5.LocalOffset)
	}
}

func TestAccumulatedImpulseZeroOnAllocation(t *testing.T) {
	bodies := body.NewStore(8)
	_, ia := addTestBody(t, bodies, body.Description{Orientation: mathx.Identity, InverseMass: 1})
	_, ib := addTestBody(t, bodies, body.Description{Orientation: mathx.Identity, InverseMass: 1})

	p := NewWeld(0, testWidth)
	p.EnsureBatch(0)
	idx := p.Allocate(0, handle.Handle(1), []int32{ia, ib}, WeldDescription{})
	for _, v := range p.AccumulatedImpulse(0, idx) {
		if v != 0 {
			t.Fatalf("freshly allocated constraint has non-zero accumulated impulse %v", v)
		}
	}
}
