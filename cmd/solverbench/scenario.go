package main

import (
	"fmt"
	"math"
	"sort"

	"github.com/spf13/cobra"

	solver "github.com/constraintcore/solver"
	"github.com/constraintcore/solver/body"
	"github.com/constraintcore/solver/handle"
	"github.com/constraintcore/solver/integrate"
	"github.com/constraintcore/solver/joints"
	"github.com/constraintcore/solver/mathx"
	"github.com/constraintcore/solver/schedule"
)

// Dense type ids shared by every scene the harness builds.
const (
	typeWeld = iota
	typeBallSocket
	typeGearMotor
	typeContact
	typeDifferential
)

type stepParams struct {
	frames     int
	dt         float32
	substeps   int
	iterations int
	workers    int
}

func stepFlags(cmd *cobra.Command) {
	cmd.Flags().Int("frames", 60, "Number of frames to simulate")
	cmd.Flags().Float32("dt", 1.0/60.0, "Frame duration in seconds")
	cmd.Flags().Int("substeps", 4, "Sub-steps per frame")
	cmd.Flags().Int("iterations", 8, "Solver iterations per sub-step")
	cmd.Flags().Int("workers", 0, "Worker threads (0 = sequential)")
}

func readStepParams(cmd *cobra.Command) stepParams {
	frames, _ := cmd.Flags().GetInt("frames")
	dt, _ := cmd.Flags().GetFloat32("dt")
	substeps, _ := cmd.Flags().GetInt("substeps")
	iterations, _ := cmd.Flags().GetInt("iterations")
	workers, _ := cmd.Flags().GetInt("workers")
	return stepParams{frames: frames, dt: dt, substeps: substeps, iterations: iterations, workers: workers}
}

func newSolver(p stepParams, gravity mathx.Vec3) *solver.Solver {
	s := solver.New(solver.Config{
		IterationCount: p.iterations,
		SubstepCount:   p.substeps,
	}, gravityCallback(gravity))
	w := s.Width()
	s.Register(joints.NewWeld(typeWeld, w))
	s.Register(joints.NewBallSocket(typeBallSocket, w))
	s.Register(joints.NewAngularAxisGearMotor(typeGearMotor, w))
	s.Register(joints.NewContact(typeContact, w))
	s.Register(joints.NewAngularDifferential(typeDifferential, w))
	return s
}

func gravityCallback(g mathx.Vec3) integrate.Callback {
	if g == (mathx.Vec3{}) {
		return nil
	}
	return func(lane *integrate.Lane) {
		if lane.InverseMass > 0 {
			lane.LinearVelocity = lane.LinearVelocity.Add(g.Scale(lane.Dt))
		}
	}
}

func dispatcherFor(p stepParams) (schedule.Dispatcher, func()) {
	if p.workers <= 0 {
		return schedule.Sequential{}, func() {}
	}
	pool := schedule.New(p.workers)
	return pool, pool.Close
}

func run(s *solver.Solver, p stepParams) {
	disp, closeDisp := dispatcherFor(p)
	defer closeDisp()
	for f := 0; f < p.frames; f++ {
		s.Step(p.dt, p.substeps, disp)
	}
}

type scenarioResult struct {
	name    string
	metric  string
	value   float64
	comment string
}

type scenario struct {
	name  string
	brief string
	run   func(p stepParams) scenarioResult
}

func scenarios() []scenario {
	return []scenario{
		{"weld", "two bodies welded into one rigid assembly", runWeldScenario},
		{"pendulum", "ball-socket pendulum under gravity", runPendulumScenario},
		{"stack", "box stack settling on contact constraints", runStackScenario},
		{"gears", "angular gear motor holding a velocity ratio", runGearScenario},
	}
}

func runWeldScenario(p stepParams) scenarioResult {
	s := newSolver(p, mathx.Vec3{})
	a := s.AddBody(body.Description{Position: mathx.Vec3{}, Orientation: mathx.Identity, InverseMass: 1, LocalInverseInertia: identityInertia()})
	b := s.AddBody(body.Description{Position: mathx.Vec3{X: 1}, Orientation: mathx.Identity, InverseMass: 1, LocalInverseInertia: identityInertia()})
	s.AddConstraint(typeWeld, []handle.Handle{a, b}, joints.WeldDescription{})
	run(s, p)

	da, _ := s.GetBodyDescription(a)
	db, _ := s.GetBodyDescription(b)
	dist := db.Position.Sub(da.Position).Length()
	return scenarioResult{name: "weld", metric: "residual distance", value: float64(dist), comment: "want ~0"}
}

func runPendulumScenario(p stepParams) scenarioResult {
	s := newSolver(p, mathx.Vec3{Y: -10})
	anchor := s.AddBody(body.Description{Orientation: mathx.Identity}) // static pivot
	bob := s.AddBody(body.Description{Position: mathx.Vec3{Y: -1}, Orientation: mathx.Identity, InverseMass: 1, LocalInverseInertia: identityInertia()})
	s.AddConstraint(typeBallSocket, []handle.Handle{anchor, bob}, joints.BallSocketDescription{
		LocalOffsetB: mathx.Vec3{Y: 1},
	})
	run(s, p)

	da, _ := s.GetBodyDescription(anchor)
	db, _ := s.GetBodyDescription(bob)
	anchorWorld := db.Position.Add(db.Orientation.RotateVec(mathx.Vec3{Y: 1}))
	drift := anchorWorld.Sub(da.Position).Length()
	return scenarioResult{name: "pendulum", metric: "anchor drift", value: float64(drift), comment: "want <1e-3"}
}

func runStackScenario(p stepParams) scenarioResult {
	s := newSolver(p, mathx.Vec3{Y: -10})
	bodies := buildStack(s, 10)
	run(s, p)

	var ke float64
	for _, h := range bodies {
		d, _ := s.GetBodyDescription(h)
		if d.InverseMass == 0 {
			continue
		}
		m := 1 / float64(d.InverseMass)
		v2 := float64(d.LinearVel.LengthSquared() + d.AngularVel.LengthSquared())
		ke += 0.5 * m * v2
	}
	return scenarioResult{name: "stack", metric: "total kinetic energy", value: ke, comment: "want ~0 (at rest)"}
}

func runGearScenario(p stepParams) scenarioResult {
	s := newSolver(p, mathx.Vec3{})
	a := s.AddBody(body.Description{Orientation: mathx.Identity, InverseMass: 1, LocalInverseInertia: identityInertia(), AngularVel: mathx.Vec3{Y: 1}})
	b := s.AddBody(body.Description{Position: mathx.Vec3{X: 1}, Orientation: mathx.Identity, InverseMass: 1, LocalInverseInertia: identityInertia()})
	s.AddConstraint(typeGearMotor, []handle.Handle{a, b}, joints.AngularAxisGearMotorDescription{
		LocalAxis:     mathx.Vec3{Y: 1},
		VelocityScale: 2,
		MaxImpulse:    1e30,
	})
	run(s, p)

	da, _ := s.GetBodyDescription(a)
	db, _ := s.GetBodyDescription(b)
	ratioErr := math.Abs(float64(db.AngularVel.Y - 2*da.AngularVel.Y))
	return scenarioResult{name: "gears", metric: "velocity ratio error", value: ratioErr, comment: "want ~0"}
}

// buildStack creates a static ground body plus n boxes, each resting on the
// one below through four corner contacts, and returns every body handle.
func buildStack(s *solver.Solver, n int) []handle.Handle {
	const half = 0.5
	ground := s.AddBody(body.Description{Orientation: mathx.Identity}) // inverse mass 0: immovable
	bodies := []handle.Handle{ground}

	prev := ground
	prevTop := float32(0.0)
	for i := 0; i < n; i++ {
		center := prevTop + half
		box := s.AddBody(body.Description{
			Position:            mathx.Vec3{Y: center},
			Orientation:         mathx.Identity,
			InverseMass:         1,
			LocalInverseInertia: identityInertia(),
		})
		bodies = append(bodies, box)
		for _, corner := range [][2]float32{{half, half}, {half, -half}, {-half, half}, {-half, -half}} {
			// Contact points: this box's bottom face corner against the
			// supporting body's top face corner (the ground plane sits at
			// its own origin).
			prevOffset := mathx.Vec3{X: corner[0], Y: half, Z: corner[1]}
			if prev == ground {
				prevOffset = mathx.Vec3{X: corner[0], Y: 0, Z: corner[1]}
			}
			s.AddConstraint(typeContact, []handle.Handle{box, prev}, joints.ContactDescription{
				LocalOffsetA: mathx.Vec3{X: corner[0], Y: -half, Z: corner[1]},
				LocalOffsetB: prevOffset,
				Normal:       mathx.Vec3{Y: 1},
			})
		}
		prev = box
		prevTop = center + half
	}
	return bodies
}

func identityInertia() mathx.Sym3x3 {
	return mathx.Sym3x3{XX: 1, YY: 1, ZZ: 1}
}

func newScenarioCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario <name>",
		Short: "Run one named scenario and report its convergence metric",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenarioCmd,
	}
	stepFlags(cmd)
	return cmd
}

func runScenarioCmd(cmd *cobra.Command, args []string) error {
	p := readStepParams(cmd)
	for _, sc := range scenarios() {
		if sc.name == args[0] {
			res := sc.run(p)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s = %.6g (%s)\n", res.name, res.metric, res.value, res.comment)
			return nil
		}
	}
	names := make([]string, 0, len(scenarios()))
	for _, sc := range scenarios() {
		names = append(names, sc.name)
	}
	sort.Strings(names)
	return fmt.Errorf("unknown scenario %q, available: %v", args[0], names)
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every scenario and report all metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := readStepParams(cmd)
			for _, sc := range scenarios() {
				res := sc.run(p)
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-22s %.6g (%s)\n", res.name, res.metric, res.value, res.comment)
			}
			return nil
		},
	}
	stepFlags(cmd)
	return cmd
}
