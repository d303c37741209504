package constraint

import (
	"math"
	"testing"

	"github.com/constraintcore/solver/integrate"
	"github.com/constraintcore/solver/mathx"
)

// asymmetricInverseInertia is diag(1, 1/2, 1/4): the inverse of an inertia
// tensor with distinct principal moments 1, 2, 4, so torque-free rotation
// off a principal axis actually precesses.
func asymmetricInverseInertia() mathx.Sym3x3 {
	return mathx.Sym3x3{XX: 1, YY: 0.5, ZZ: 0.25}
}

// worldMomentum recovers L = I*w from the inverse world tensor.
func worldMomentum(invInertiaWorld mathx.Sym3x3, w mathx.Vec3) mathx.Vec3 {
	return invInertiaWorld.Inverse().Apply(w)
}

func TestFusedIntegrateNonConservingLeavesVelocityAlone(t *testing.T) {
	local := asymmetricInverseInertia()
	w0 := mathx.Vec3{X: 1, Y: 0.7, Z: 0.3}
	_, newOri, _, newAngVel, _ := FusedIntegrate(0, mathx.Vec3{}, mathx.Identity, mathx.Vec3{}, w0,
		1, local, integrate.NonConserving, nil, 0, 1.0/60.0)
	if newAngVel != w0 {
		t.Fatalf("non-conserving mode must not touch angular velocity: got %+v, want %+v", newAngVel, w0)
	}
	if newOri == mathx.Identity {
		t.Fatal("orientation should have advanced")
	}
}

func TestFusedIntegrateConserveMomentumHoldsWorldMomentum(t *testing.T) {
	local := asymmetricInverseInertia()
	ori := mathx.Identity
	w := mathx.Vec3{X: 1, Y: 0.7, Z: 0.3}
	var pos, lin mathx.Vec3
	want := worldMomentum(local.Rotate(ori), w)

	const steps = 200
	for i := 0; i < steps; i++ {
		pos, ori, lin, w, _ = FusedIntegrate(0, pos, ori, lin, w,
			1, local, integrate.ConserveMomentum, nil, 0, 1.0/240.0)
	}

	got := worldMomentum(local.Rotate(ori), w)
	if dev := got.Sub(want).Length(); dev > 1e-3 {
		t.Fatalf("world momentum moved by %v over %d sub-steps: got %+v, want %+v", dev, steps, got, want)
	}
	// The velocity itself must precess: with L fixed and the tensor
	// rotating, w = I^-1(t) * L cannot stay constant off a principal axis.
	if dev := w.Sub(mathx.Vec3{X: 1, Y: 0.7, Z: 0.3}).Length(); dev < 1e-2 {
		t.Fatalf("angular velocity deviation %v, want visible precession", dev)
	}
}

func TestFusedIntegrateGyroscopicTorquePreservesMomentumMagnitude(t *testing.T) {
	local := asymmetricInverseInertia()
	ori := mathx.Identity
	w0 := mathx.Vec3{X: 1, Y: 0.7, Z: 0.3}
	w := w0
	var pos, lin mathx.Vec3
	l0 := worldMomentum(local.Rotate(ori), w).Length()

	const steps = 1000
	const dt = 1.0 / 1000.0
	for i := 0; i < steps; i++ {
		pos, ori, lin, w, _ = FusedIntegrate(0, pos, ori, lin, w,
			1, local, integrate.ConserveMomentumWithGyroscopicTorque, nil, 0, dt)
	}

	// The explicit precession term dw = dt*I^-1*(L x w) moves L
	// perpendicular to itself, so |L| must survive a long run; a wrong
	// tensor direction in that term bleeds momentum magnitude instead.
	l1 := worldMomentum(local.Rotate(ori), w).Length()
	if drift := math.Abs(float64(l1-l0)) / float64(l0); drift > 1e-2 {
		t.Fatalf("momentum magnitude drifted %.3g%% over %d sub-steps", drift*100, steps)
	}
	if dev := w.Sub(w0).Length(); dev < 1e-2 {
		t.Fatalf("angular velocity deviation %v, want visible precession", dev)
	}
}
