package body

import (
	"testing"

	"github.com/constraintcore/solver/bundle"
	"github.com/constraintcore/solver/handle"
	"github.com/constraintcore/solver/mathx"
)

func identityInertia() mathx.Sym3x3 {
	return mathx.Sym3x3{XX: 1, YY: 1, ZZ: 1}
}

func dynamicAt(pos mathx.Vec3) Description {
	return Description{
		Position:            pos,
		Orientation:         mathx.Identity,
		InverseMass:         1,
		LocalInverseInertia: identityInertia(),
	}
}

func TestAddBodyRoundTripsDescription(t *testing.T) {
	st := NewStore(4)
	want := Description{
		Position:            mathx.Vec3{X: 1, Y: 2, Z: 3},
		Orientation:         mathx.Identity,
		LinearVel:           mathx.Vec3{X: -1},
		AngularVel:          mathx.Vec3{Z: 4},
		InverseMass:         0.5,
		LocalInverseInertia: identityInertia(),
	}
	h := st.AddBody(want)
	got, ok := st.GetDescription(h)
	if !ok {
		t.Fatal("a just-added body's handle must resolve")
	}
	if got != want {
		t.Fatalf("GetDescription = %+v, want %+v", got, want)
	}
}

func TestRemoveBodySwapKeepsSurvivingHandlesValid(t *testing.T) {
	st := NewStore(4)
	a := st.AddBody(dynamicAt(mathx.Vec3{X: 0}))
	b := st.AddBody(dynamicAt(mathx.Vec3{X: 1}))
	c := st.AddBody(dynamicAt(mathx.Vec3{X: 2}))

	// Removing the first body swap-moves the last into its slot.
	st.RemoveBody(a)
	if st.ActiveCount() != 2 {
		t.Fatalf("ActiveCount after removal = %d, want 2", st.ActiveCount())
	}
	if _, ok := st.GetDescription(a); ok {
		t.Fatal("the removed body's handle must be stale")
	}
	dc, ok := st.GetDescription(c)
	if !ok || dc.Position.X != 2 {
		t.Fatalf("the moved body's state must follow it: got %+v ok=%v", dc, ok)
	}
	if idx := st.IndexOf(c); idx != 0 {
		t.Fatalf("the last body should have moved into slot 0, got %d", idx)
	}
	db, _ := st.GetDescription(b)
	if db.Position.X != 1 {
		t.Fatalf("the untouched body's state changed: %+v", db)
	}
}

// checkMapsAgree verifies HandleAt and HandleToLocation are inverses over the
// whole active set.
func checkMapsAgree(t *testing.T, st *Store) {
	t.Helper()
	for i := int32(0); i < int32(st.ActiveCount()); i++ {
		h := st.HandleAt(i)
		loc, ok := st.HandleToLocation(h)
		if !ok {
			t.Fatalf("HandleAt(%d) returned a handle that does not resolve", i)
		}
		if SetKind(loc.Set) != SetActive || loc.Index != i {
			t.Fatalf("handle at active index %d resolves to %+v", i, loc)
		}
	}
}

func TestHandleMapsAgreeAfterChurn(t *testing.T) {
	st := NewStore(8)
	var handles []handle.Handle
	for i := 0; i < 12; i++ {
		handles = append(handles, st.AddBody(dynamicAt(mathx.Vec3{X: float32(i)})))
	}
	checkMapsAgree(t, st)

	// Remove every third body; each removal swap-compacts the active set.
	for i := 0; i < 12; i += 3 {
		st.RemoveBody(handles[i])
		checkMapsAgree(t, st)
	}
	if st.ActiveCount() != 8 {
		t.Fatalf("ActiveCount = %d, want 8", st.ActiveCount())
	}
	// Every survivor still resolves and still carries its own state.
	for i, h := range handles {
		if i%3 == 0 {
			continue
		}
		d, ok := st.GetDescription(h)
		if !ok || d.Position.X != float32(i) {
			t.Fatalf("survivor %d: got %+v ok=%v", i, d, ok)
		}
	}
}

func TestSleepWakeKeepsMapsConsistent(t *testing.T) {
	st := NewStore(8)
	h0 := st.AddBody(dynamicAt(mathx.Vec3{X: 0}))
	h1 := st.AddBody(dynamicAt(mathx.Vec3{X: 1}))
	h2 := st.AddBody(dynamicAt(mathx.Vec3{X: 2}))

	island := st.NewIsland()
	st.Sleep(h0, island)
	st.Sleep(h2, island)
	checkMapsAgree(t, st)

	if st.IsActive(h0) || st.IsActive(h2) {
		t.Fatal("slept bodies must not report active")
	}
	if !st.IsActive(h1) {
		t.Fatal("the body left behind must stay active")
	}
	// Sleeping bodies still resolve through their handles.
	if d, ok := st.GetDescription(h2); !ok || d.Position.X != 2 {
		t.Fatalf("sleeping body's description = %+v ok=%v", d, ok)
	}
	got := st.IslandHandles(island)
	if len(got) != 2 {
		t.Fatalf("island holds %d bodies, want 2", len(got))
	}

	st.Wake(h0)
	st.Wake(h2)
	checkMapsAgree(t, st)
	if st.ActiveCount() != 3 {
		t.Fatalf("ActiveCount after wake = %d, want 3", st.ActiveCount())
	}
	if st.IslandHandles(island) != nil {
		t.Fatal("a fully woken island should be gone")
	}
	for i, h := range []handle.Handle{h0, h1, h2} {
		d, ok := st.GetDescription(h)
		if !ok || d.Position.X != float32(i) {
			t.Fatalf("body %d after round trip: %+v ok=%v", i, d, ok)
		}
	}
}

func TestGatherReadsBodyStatePerLane(t *testing.T) {
	st := NewStore(8)
	var indices []int32
	for i := 0; i < 4; i++ {
		d := dynamicAt(mathx.Vec3{X: float32(10 * i)})
		d.LinearVel = mathx.Vec3{Y: float32(i)}
		h := st.AddBody(d)
		indices = append(indices, st.IndexOf(h))
	}

	// Gather in reverse so lane order differs from index order.
	rev := []int32{indices[3], indices[2], indices[1], indices[0]}
	g := st.Gather(rev, FilterAll)
	for lane, idx := range rev {
		if got := g.PosX.Data()[lane]; got != float32(10*idx) {
			t.Fatalf("lane %d PosX = %v, want %v", lane, got, 10*idx)
		}
		if got := g.LinVelY.Data()[lane]; got != float32(idx) {
			t.Fatalf("lane %d LinVelY = %v, want %v", lane, got, idx)
		}
		if got := g.InvMass.Data()[lane]; got != 1 {
			t.Fatalf("lane %d InvMass = %v, want 1", lane, got)
		}
	}
}

func TestScatterVelocitiesHonorsMask(t *testing.T) {
	st := NewStore(8)
	var indices []int32
	for i := 0; i < 4; i++ {
		h := st.AddBody(dynamicAt(mathx.Vec3{}))
		indices = append(indices, st.IndexOf(h))
	}

	g := st.Gather(indices, FilterAll)
	for lane := range indices {
		g.LinVelX.Data()[lane] = float32(100 + lane)
		g.AngVelZ.Data()[lane] = float32(200 + lane)
	}
	// Only the first two lanes may touch memory.
	mask := bundle.TailMask[float32](2)
	st.ScatterVelocities(indices, g.LinVelX, g.LinVelY, g.LinVelZ, g.AngVelX, g.AngVelY, g.AngVelZ, mask)

	for lane, idx := range indices {
		d, _ := st.GetDescription(st.HandleAt(idx))
		if lane < 2 {
			if d.LinearVel.X != float32(100+lane) || d.AngularVel.Z != float32(200+lane) {
				t.Fatalf("masked-in lane %d did not scatter: %+v", lane, d)
			}
		} else if d.LinearVel.X != 0 || d.AngularVel.Z != 0 {
			t.Fatalf("masked-out lane %d must stay bit-identical: %+v", lane, d)
		}
	}
}

func TestSetDescriptionRecomputesWorldInertia(t *testing.T) {
	st := NewStore(4)
	d := dynamicAt(mathx.Vec3{})
	d.LocalInverseInertia = mathx.Sym3x3{XX: 1, YY: 2, ZZ: 3}
	h := st.AddBody(d)
	idx := st.IndexOf(h)

	// Rotate 90 degrees about Z: the local X axis maps onto world Y, so the
	// world tensor's YY entry must pick up the local XX value.
	halfAngle := float32(0.70710678)
	d.Orientation = mathx.Quat{Z: halfAngle, W: halfAngle}
	st.SetDescription(h, d)

	g := st.Gather([]int32{idx}, FilterAll)
	w := g.WorldInertia[0]
	if diff := w.YY - 1; diff > 1e-5 || diff < -1e-5 {
		t.Fatalf("world YY after rotation = %v, want ~1 (the local XX)", w.YY)
	}
	if diff := w.XX - 2; diff > 1e-5 || diff < -1e-5 {
		t.Fatalf("world XX after rotation = %v, want ~2 (the local YY)", w.XX)
	}
}
