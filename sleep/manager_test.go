package sleep

import (
	"testing"

	"github.com/constraintcore/solver/batch"
	"github.com/constraintcore/solver/body"
	"github.com/constraintcore/solver/constraint"
	"github.com/constraintcore/solver/handle"
	"github.com/constraintcore/solver/joints"
	"github.com/constraintcore/solver/mathx"
)

func TestSleepWakeRoundTripPreservesBodyCount(t *testing.T) {
	bodies := body.NewStore(8)
	h0 := bodies.AddBody(body.Description{Position: mathx.Vec3{X: 0}, Orientation: mathx.Identity, InverseMass: 1})
	h1 := bodies.AddBody(body.Description{Position: mathx.Vec3{X: 1}, Orientation: mathx.Identity, InverseMass: 1})
	h2 := bodies.AddBody(body.Description{Position: mathx.Vec3{X: 2}, Orientation: mathx.Identity, InverseMass: 1})

	constraints := constraint.NewStore(4, 8)
	builder := batch.NewBuilder(8)
	mgr := NewManager(bodies, constraints, builder, 4)

	if bodies.ActiveCount() != 3 {
		t.Fatalf("ActiveCount before sleep = %d, want 3", bodies.ActiveCount())
	}

	island := mgr.Sleep([]handle.Handle{h0, h1}, nil)
	if bodies.ActiveCount() != 1 {
		t.Fatalf("ActiveCount after sleeping 2 bodies = %d, want 1", bodies.ActiveCount())
	}
	if !bodies.IsActive(h2) {
		t.Fatal("the body not put to sleep should still be active")
	}
	if bodies.IsActive(h0) || bodies.IsActive(h1) {
		t.Fatal("the bodies put to sleep should no longer be active")
	}

	mgr.Wake(island)
	if bodies.ActiveCount() != 3 {
		t.Fatalf("ActiveCount after wake = %d, want 3", bodies.ActiveCount())
	}
	if !bodies.IsActive(h0) || !bodies.IsActive(h1) {
		t.Fatal("both woken bodies should be active again")
	}
}

func TestSleepWakeWithConstraintRoundTripsBodyIndices(t *testing.T) {
	bodies := body.NewStore(8)
	h0 := bodies.AddBody(body.Description{Orientation: mathx.Identity, InverseMass: 1})
	h1 := bodies.AddBody(body.Description{Orientation: mathx.Identity, InverseMass: 1})

	constraints := constraint.NewStore(4, 8)
	builder := batch.NewBuilder(8)
	p := joints.NewWeld(0, 4)
	constraints.Register(p)

	idx0, idx1 := bodies.IndexOf(h0), bodies.IndexOf(h1)
	batchIdx, _ := builder.Assign([]int32{idx0, idx1})
	desc := joints.WeldDescription{LocalOffset: mathx.Vec3{X: 1}}
	ch := constraints.Add(0, batchIdx, []int32{idx0, idx1}, desc)

	// Seed a non-zero accumulated impulse so the round trip has something
	// to preserve.
	loc, _ := constraints.Location(ch)
	p.SetAccumulatedImpulse(loc.BatchIndex, loc.Index, []float32{1, 2, 3, 4, 5, 6})

	mgr := NewManager(bodies, constraints, builder, 4)
	island := mgr.Sleep([]handle.Handle{h0, h1}, []handle.Handle{ch})

	if p.ConstraintCount(batchIdx) != 0 {
		t.Fatal("sleeping should remove the constraint from its active batch")
	}

	newHandles := mgr.Wake(island)
	if len(newHandles) != 1 {
		t.Fatalf("Wake should re-add 1 constraint, got %d", len(newHandles))
	}

	loc, ok := constraints.Location(newHandles[0])
	if !ok {
		t.Fatal("re-added constraint should resolve to a location")
	}
	bodyIndices := make([]int32, 2)
	p.BodyIndicesAt(loc.BatchIndex, loc.Index, bodyIndices)
	wantIdx0, wantIdx1 := bodies.IndexOf(h0), bodies.IndexOf(h1)
	if bodyIndices[0] != wantIdx0 || bodyIndices[1] != wantIdx1 {
		t.Fatalf("woken constraint body indices = %v, want [%d %d]", bodyIndices, wantIdx0, wantIdx1)
	}

	got := p.GetDescription(loc.BatchIndex, loc.Index).(joints.WeldDescription)
	if got.LocalOffset != desc.LocalOffset {
		t.Fatalf("woken constraint description = %+v, want %+v", got, desc)
	}
	imp := p.AccumulatedImpulse(loc.BatchIndex, loc.Index)
	want := []float32{1, 2, 3, 4, 5, 6}
	for i := range want {
		if imp[i] != want[i] {
			t.Fatalf("accumulated impulse after wake = %v, want %v", imp, want)
		}
	}
}
