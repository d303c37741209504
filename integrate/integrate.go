// Package integrate defines the external pose-integration hook the solver
// calls into and the per-lane data it
// operates on. It has no dependency on the solver's own packages beyond
// mathx, so both constraint (which fuses integration into warm-start) and
// substep (which computes integration responsibility) can depend on it
// without creating an import cycle back into either.
package integrate

import "github.com/constraintcore/solver/mathx"

// AngularMode selects how angular velocity is carried through integration:
// plain Euler, momentum-conserving, or momentum-conserving
// with gyroscopic (Dzhanibekov) torque.
type AngularMode int

const (
	NonConserving AngularMode = iota
	ConserveMomentum
	ConserveMomentumWithGyroscopicTorque
)

// Lane carries one body's worth of state into the user's integrator
// callback and back out. The solver fills Position/Orientation/LocalInertia
// read-only; LinearVelocity/AngularVelocity are mutated in place by the
// callback (gravity, damping, user forces).
type Lane struct {
	BodyIndex    int32
	Position     mathx.Vec3
	Orientation  mathx.Quat
	InverseMass  float32
	LocalInertia mathx.Sym3x3
	WorkerIndex  int
	Dt           float32

	LinearVelocity  mathx.Vec3
	AngularVelocity mathx.Vec3
}

// Callback is the user hook invoked once per body lane eligible for
// integration this sub-step. It must only mutate LinearVelocity and
// AngularVelocity on the Lane it is given.
type Callback func(lane *Lane)
