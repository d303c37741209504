// Package solver is the public face of the constraint solver core: it owns
// a body store, a constraint store with registered per-type processors, the
// batch builder, the fallback solver, and the sleep manager, and drives
// them through the sub-stepping loop on every Step call.
//
// External code refers to bodies and constraints exclusively through stable
// handles; dense indices are an internal affair that changes under
// swap-removes, sleeps, and wakes.
package solver

import (
	"github.com/constraintcore/solver/batch"
	"github.com/constraintcore/solver/body"
	"github.com/constraintcore/solver/bundle"
	"github.com/constraintcore/solver/constraint"
	"github.com/constraintcore/solver/handle"
	"github.com/constraintcore/solver/integrate"
	"github.com/constraintcore/solver/schedule"
	"github.com/constraintcore/solver/sleep"
	"github.com/constraintcore/solver/substep"
)

// Solver is one independent simulation instance. It holds no global state;
// two Solvers never share anything.
//
// Structural mutation (adding/removing bodies and constraints, sleep, wake)
// must not run concurrently with Step. Step itself may fan out across a
// dispatcher's workers.
type Solver struct {
	cfg   Config
	width int

	bodies      *body.Store
	constraints *constraint.Store
	builder     *batch.Builder
	fallback    *batch.FallbackSolver
	sleeper     *sleep.Manager
	integrator  integrate.Callback
}

// New creates a Solver. integrator is the per-body velocity hook invoked
// during pose integration (gravity, damping, user forces); nil means no
// external forces.
func New(cfg Config, integrator integrate.Callback) *Solver {
	cfg = cfg.withDefaults()
	width := bundle.NumLanes[float32]()
	bodies := body.NewStore(cfg.InitialCapacity)
	constraints := constraint.NewStore(width, cfg.InitialCapacity)
	builder := batch.NewBuilder(cfg.FallbackBatchThreshold)
	return &Solver{
		cfg:         cfg,
		width:       width,
		bodies:      bodies,
		constraints: constraints,
		builder:     builder,
		fallback:    batch.NewFallbackSolver(builder, 0),
		sleeper:     sleep.NewManager(bodies, constraints, builder, cfg.InitialIslandCapacity),
		integrator:  integrator,
	}
}

// Width returns the bundle width every registered processor must be built
// at.
func (s *Solver) Width() int { return s.width }

// Register installs a constraint type's processor. Type ids must be dense
// in [0, N) and registered before any constraint of that type is added.
func (s *Solver) Register(p constraint.Processor) {
	if p.Width() != s.width {
		panic("solver: processor bundle width does not match the solver's")
	}
	s.constraints.Register(p)
	if r, ok := p.(interface{ SetMinimumBatchCapacity(int) }); ok {
		r.SetMinimumBatchCapacity(s.cfg.MinimumCapacityPerTypeBatch)
	}
}

// AddBody inserts a body into the active set and returns its handle.
func (s *Solver) AddBody(d body.Description) handle.Handle {
	if d.InverseMass < 0 {
		panic("solver: inverse mass must be non-negative")
	}
	return s.bodies.AddBody(d)
}

// RemoveBody deletes a body. Every constraint referencing it must be
// removed first.
func (s *Solver) RemoveBody(h handle.Handle) {
	if !s.bodies.IsActive(h) {
		panic("solver: RemoveBody requires an active body: " + h.String())
	}
	idx := s.bodies.IndexOf(h)
	if s.bodyHasConstraints(idx) {
		panic("solver: remove the body's constraints before removing it: " + h.String())
	}
	last := int32(s.bodies.ActiveCount() - 1)
	s.bodies.RemoveBody(h)
	if idx != last {
		s.constraints.RewriteBodyIndex(s.allBatchIndices(), last, idx)
		s.builder.RewriteBodyIndex(last, idx)
	}
}

// GetBodyDescription reads a body's current state, wherever it lives.
func (s *Solver) GetBodyDescription(h handle.Handle) (body.Description, bool) {
	return s.bodies.GetDescription(h)
}

// SetBodyDescription overwrites a body's state in place.
func (s *Solver) SetBodyDescription(h handle.Handle, d body.Description) bool {
	return s.bodies.SetDescription(h, d)
}

// AddConstraint creates a constraint of the registered type typeID between
// the given active bodies and returns its stable handle. The batch builder
// places it in the first synchronized batch whose referenced bodies are
// disjoint from its own, or in the fallback batch once the batch count
// limit is reached.
func (s *Solver) AddConstraint(typeID int, bodyHandles []handle.Handle, desc any) handle.Handle {
	p := s.constraints.Processor(typeID)
	if p == nil {
		panic("solver: AddConstraint called with unregistered type id")
	}
	if len(bodyHandles) != p.BodyCount() {
		panic("solver: constraint body handle count does not match the registered type")
	}
	indices := make([]int32, len(bodyHandles))
	for i, bh := range bodyHandles {
		indices[i] = s.bodies.IndexOf(bh)
	}
	batchIdx, _ := s.builder.Assign(indices)
	return s.constraints.Add(typeID, batchIdx, indices, desc)
}

// RemoveConstraint deletes the constraint named by h. Unknown or stale
// handles are a no-op.
func (s *Solver) RemoveConstraint(h handle.Handle) {
	loc, ok := s.constraints.Location(h)
	if !ok {
		return
	}
	p := s.constraints.Processor(loc.TypeID)
	indices := make([]int32, p.BodyCount())
	p.BodyIndicesAt(loc.BatchIndex, loc.Index, indices)
	s.builder.Unassign(loc.BatchIndex, loc.BatchIndex == s.builder.FallbackBatchIndex(), indices)
	s.constraints.Remove(h)
}

// GetConstraintDescription returns the constraint's current description.
func (s *Solver) GetConstraintDescription(h handle.Handle) (any, bool) {
	loc, ok := s.constraints.Location(h)
	if !ok {
		return nil, false
	}
	return s.constraints.Processor(loc.TypeID).GetDescription(loc.BatchIndex, loc.Index), true
}

// SetConstraintDescription overwrites the constraint's prestep data in
// place, leaving its accumulated impulse untouched.
func (s *Solver) SetConstraintDescription(h handle.Handle, desc any) bool {
	loc, ok := s.constraints.Location(h)
	if !ok {
		return false
	}
	s.constraints.Processor(loc.TypeID).SetDescription(loc.BatchIndex, loc.Index, desc)
	return true
}

// ConstraintBatchIndex reports which constraint batch h currently lives in
// and whether that is the fallback batch.
func (s *Solver) ConstraintBatchIndex(h handle.Handle) (batchIndex int, isFallback, ok bool) {
	loc, found := s.constraints.Location(h)
	if !found {
		return 0, false, false
	}
	return loc.BatchIndex, loc.BatchIndex == s.builder.FallbackBatchIndex(), true
}

// Step advances the simulation by dt split into substepCount sub-steps
// (the configured default when non-positive), fanning work out through
// dispatcher (sequential when nil).
func (s *Solver) Step(dt float32, substepCount int, dispatcher schedule.Dispatcher) {
	if dispatcher == nil {
		dispatcher = schedule.Sequential{}
	}
	if substepCount <= 0 {
		substepCount = s.cfg.SubstepCount
	}
	s.fallback.Rebuild(s.bodies.ActiveCount())
	drv := substep.NewDriver(s.bodies, s.constraints, s.builder, s.fallback, dispatcher, s.integrator, substep.Config{
		IterationCount: s.cfg.IterationCount,
		AngularMode:    s.cfg.AngularMode,
	})
	drv.Step(dt, substepCount)
}

// SleepIsland puts the entire connected component reachable from seed
// (bodies linked by constraints) to sleep and returns the island id.
func (s *Solver) SleepIsland(seed handle.Handle) (int32, bool) {
	if !s.bodies.IsActive(seed) {
		return 0, false
	}

	visited := map[handle.Handle]bool{seed: true}
	bodyList := []handle.Handle{seed}
	seenConstraints := map[handle.Handle]bool{}
	var constraintList []handle.Handle

	for cursor := 0; cursor < len(bodyList); cursor++ {
		idx := s.bodies.IndexOf(bodyList[cursor])
		for _, ch := range s.constraintsReferencing(idx) {
			if seenConstraints[ch] {
				continue
			}
			seenConstraints[ch] = true
			constraintList = append(constraintList, ch)
			loc, _ := s.constraints.Location(ch)
			p := s.constraints.Processor(loc.TypeID)
			indices := make([]int32, p.BodyCount())
			p.BodyIndicesAt(loc.BatchIndex, loc.Index, indices)
			for _, bi := range indices {
				bh := s.bodies.HandleAt(bi)
				if !visited[bh] {
					visited[bh] = true
					bodyList = append(bodyList, bh)
				}
			}
		}
	}
	return s.sleeper.Sleep(bodyList, constraintList), true
}

// Wake moves a sleeping island back into the active set and returns the
// new handles of its re-added constraints.
func (s *Solver) Wake(island int32) []handle.Handle {
	return s.sleeper.Wake(island)
}

// ActiveBodyCount reports how many bodies are currently awake.
func (s *Solver) ActiveBodyCount() int { return s.bodies.ActiveCount() }

func (s *Solver) allBatchIndices() []int {
	out := make([]int, 0, s.builder.BatchCount()+1)
	for b := 0; b < s.builder.BatchCount(); b++ {
		out = append(out, b)
	}
	return append(out, s.builder.FallbackBatchIndex())
}

func (s *Solver) bodyHasConstraints(idx int32) bool {
	return len(s.constraintsReferencing(idx)) > 0
}

// constraintsReferencing scans every type batch for constraints whose body
// references include idx, in deterministic (type, batch, index) order.
func (s *Solver) constraintsReferencing(idx int32) []handle.Handle {
	var out []handle.Handle
	var scratch []int32
	for _, p := range s.constraints.Processors() {
		if p == nil {
			continue
		}
		if cap(scratch) < p.BodyCount() {
			scratch = make([]int32, p.BodyCount())
		}
		scratch = scratch[:p.BodyCount()]
		for _, batchIndex := range s.allBatchIndices() {
			count := p.ConstraintCount(batchIndex)
			for i := 0; i < count; i++ {
				p.BodyIndicesAt(batchIndex, i, scratch)
				for _, bi := range scratch {
					if bi == idx {
						out = append(out, p.HandleAt(batchIndex, i))
						break
					}
				}
			}
		}
	}
	return out
}
