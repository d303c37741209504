package substep

import (
	"github.com/constraintcore/solver/batch"
	"github.com/constraintcore/solver/body"
	"github.com/constraintcore/solver/constraint"
	"github.com/constraintcore/solver/integrate"
	"github.com/constraintcore/solver/schedule"
)

// Config holds the per-frame tunables the driver needs, scoped to just the
// sub-step loop.
type Config struct {
	IterationCount int
	AngularMode    integrate.AngularMode
}

// Driver runs the sub-stepping loop: for each sub-step,
// warm-start every batch in order (fusing pose integration into whichever
// batch is first responsible for each body), then run IterationCount
// Jacobi/Gauss-Seidel solver passes over every batch including the
// fallback batch.
type Driver struct {
	bodies      *body.Store
	constraints *constraint.Store
	builder     *batch.Builder
	fallback    *batch.FallbackSolver
	dispatcher  schedule.Dispatcher
	integrator  integrate.Callback
	cfg         Config

	responsibility *Responsibility
}

// NewDriver wires the driver to its collaborators. Call RebuildResponsibility
// once before the first Step and again whenever the batch topology changes.
func NewDriver(bodies *body.Store, constraints *constraint.Store, builder *batch.Builder, fallback *batch.FallbackSolver, dispatcher schedule.Dispatcher, integrator integrate.Callback, cfg Config) *Driver {
	return &Driver{
		bodies:      bodies,
		constraints: constraints,
		builder:     builder,
		fallback:    fallback,
		dispatcher:  dispatcher,
		integrator:  integrator,
		cfg:         cfg,
	}
}

// RebuildResponsibility recomputes which batch integrates which body. Must
// be called whenever a constraint is added, removed, or a body is put to
// sleep/woken, before the next Step call observes the new topology.
func (d *Driver) RebuildResponsibility() {
	d.responsibility = Build(d.builder, d.bodies.ActiveCount())
}

// Step advances the simulation by dt, split into substepCount sub-steps.
func (d *Driver) Step(dt float32, substepCount int) {
	if substepCount < 1 {
		substepCount = 1
	}
	if d.responsibility == nil {
		d.RebuildResponsibility()
	}
	subDt := dt / float32(substepCount)
	for i := 0; i < substepCount; i++ {
		d.subStep(subDt)
	}
}

func (d *Driver) subStep(dt float32) {
	d.warmStartPass(dt)
	d.integrateFreeBodies(dt)

	invDt := float32(0)
	if dt != 0 {
		invDt = 1 / dt
	}
	iterations := d.cfg.IterationCount
	if iterations < 1 {
		iterations = 1
	}
	for it := 0; it < iterations; it++ {
		d.solveIteration(invDt, it == 0)
	}
}

// warmStartPass runs every synchronized batch's warm-start in batch-index
// order with a barrier between batches (batches must run sequentially —
// only bundles within one batch are independent). The fallback batch has
// no warm-start stage here: solveIteration folds its warm start into the
// first solve iteration.
func (d *Driver) warmStartPass(dt float32) {
	for batchIdx := 0; batchIdx < d.builder.BatchCount(); batchIdx++ {
		mode := d.responsibility.ModeFor(batchIdx)
		for _, p := range d.constraints.Processors() {
			if p == nil || p.ConstraintCount(batchIdx) == 0 {
				continue
			}
			var mask constraint.LaneMask
			if mode == constraint.IntegrateConditional {
				mask = d.responsibility.LaneMaskFor(batchIdx, p)
			}
			bundleCount := p.BundleCapacity(batchIdx)
			proc := p
			d.dispatcher.ParallelForRange(bundleCount, func(workerIndex, start, end int) {
				proc.WarmStart(batchIdx, d.bodies, mode, mask, d.integrator, d.cfg.AngularMode, workerIndex, dt, start, end)
			})
		}
	}
}

// integrateFreeBodies advances the pose of every body that no synchronized
// batch claims integration responsibility for (unconstrained bodies, and
// bodies touched only by the fallback batch).
func (d *Driver) integrateFreeBodies(dt float32) {
	n := d.bodies.ActiveCount()
	d.dispatcher.ParallelForRange(n, func(workerIndex, start, end int) {
		for i := start; i < end; i++ {
			if !d.responsibility.FreeBody(int32(i)) {
				continue
			}
			h := d.bodies.HandleAt(int32(i))
			desc, ok := d.bodies.GetDescription(h)
			if !ok {
				continue
			}
			// SetDescription recomputes the world inertia tensor itself, so
			// the one FusedIntegrate returns is not needed here.
			newPos, newOri, newLinVel, newAngVel, _ := constraint.FusedIntegrate(
				int32(i), desc.Position, desc.Orientation, desc.LinearVel, desc.AngularVel,
				desc.InverseMass, desc.LocalInverseInertia, d.cfg.AngularMode, d.integrator, workerIndex, dt)
			desc.Position = newPos
			desc.Orientation = newOri
			desc.LinearVel = newLinVel
			desc.AngularVel = newAngVel
			d.bodies.SetDescription(h, desc)
		}
	})
}

// solveIteration runs one Gauss-Seidel-style pass over every synchronized
// batch (in order, barriered) followed by one Jacobi pass over the fallback
// batch. fallbackWarmStart is set on the first iteration of each sub-step:
// the fallback batch folds its warm start into that solve instead of
// running a standalone warm-start stage.
func (d *Driver) solveIteration(invDt float32, fallbackWarmStart bool) {
	for batchIdx := 0; batchIdx < d.builder.BatchCount(); batchIdx++ {
		for _, p := range d.constraints.Processors() {
			if p == nil || p.ConstraintCount(batchIdx) == 0 {
				continue
			}
			bundleCount := p.BundleCapacity(batchIdx)
			proc := p
			d.dispatcher.ParallelForRange(bundleCount, func(workerIndex, start, end int) {
				proc.Solve(batchIdx, d.bodies, invDt, nil, false, start, end)
			})
		}
	}
	d.fallback.Iterate(d.constraints, d.bodies, invDt, fallbackWarmStart)
}
