// Package sleep implements sleep and wake: moving a connected
// island of bodies and their constraints out of the dense, index-addressed
// active store into a handle-addressed sleeping snapshot, and back again.
package sleep

import (
	"github.com/constraintcore/solver/batch"
	"github.com/constraintcore/solver/body"
	"github.com/constraintcore/solver/constraint"
	"github.com/constraintcore/solver/handle"
)

// sleepingConstraint is a constraint snapshot that survives its owning
// bodies leaving the active store: while asleep it is addressed purely by
// handle, since the body indices it used to reference are no longer valid
// once the active set is compacted around the hole it left behind.
type sleepingConstraint struct {
	typeID      int
	bodyHandles []handle.Handle
	desc        any
	impulse     []float32 // per-DOF accumulated impulse, preserved across the round trip
}

// Manager coordinates body.Store, constraint.Store, and batch.Builder
// across a sleep/wake transition.
type Manager struct {
	bodies      *body.Store
	constraints *constraint.Store
	builder     *batch.Builder

	islandConstraints map[int32][]sleepingConstraint
}

// NewManager creates a Manager over the given stores. islandCapacity is a
// sizing hint for how many islands are expected to sleep concurrently.
func NewManager(bodies *body.Store, constraints *constraint.Store, builder *batch.Builder, islandCapacity int) *Manager {
	if islandCapacity < 0 {
		islandCapacity = 0
	}
	return &Manager{
		bodies:            bodies,
		constraints:       constraints,
		builder:           builder,
		islandConstraints: make(map[int32][]sleepingConstraint, islandCapacity),
	}
}

// Sleep moves bodyHandles and every constraint in constraintHandles (which
// must reference only bodies in bodyHandles and each other) into a new
// sleeping island, and returns its island id.
//
// constraintHandles is supplied by the caller rather than discovered here:
// the solver package maintains the body->constraint adjacency used to find
// every constraint touching the connected component; island detection is a
// graph-connectivity problem that sits above the constraint store itself.
func (m *Manager) Sleep(bodyHandles []handle.Handle, constraintHandles []handle.Handle) int32 {
	island := m.bodies.NewIsland()

	snapshots := make([]sleepingConstraint, 0, len(constraintHandles))
	for _, ch := range constraintHandles {
		loc, ok := m.constraints.Location(ch)
		if !ok {
			continue
		}
		p := m.constraints.Processor(loc.TypeID)
		bodyIndices := make([]int32, p.BodyCount())
		p.BodyIndicesAt(loc.BatchIndex, loc.Index, bodyIndices)

		bodyHandlesForConstraint := make([]handle.Handle, len(bodyIndices))
		for i, bi := range bodyIndices {
			bodyHandlesForConstraint[i] = m.bodies.HandleAt(bi)
		}

		snapshots = append(snapshots, sleepingConstraint{
			typeID:      loc.TypeID,
			bodyHandles: bodyHandlesForConstraint,
			desc:        p.GetDescription(loc.BatchIndex, loc.Index),
			impulse:     p.AccumulatedImpulse(loc.BatchIndex, loc.Index),
		})

		isFallback := loc.BatchIndex == m.builder.FallbackBatchIndex()
		m.builder.Unassign(loc.BatchIndex, isFallback, bodyIndices)
		m.constraints.Remove(ch)
	}
	m.islandConstraints[island] = snapshots

	for _, h := range bodyHandles {
		idx := m.bodies.IndexOf(h)
		lastIndex := m.bodies.ActiveCount() - 1
		moved := m.bodies.Sleep(h, island)
		if moved.IsValid() && lastIndex != int(idx) {
			m.rewriteBodyIndexEverywhere(int32(lastIndex), idx)
			m.builder.RewriteBodyIndex(int32(lastIndex), idx)
		}
	}
	return island
}

// Wake moves every body and constraint in island back into the active
// store and synchronized/fallback constraint batches, and returns the
// handles of the constraints that were re-added (in snapshot order).
func (m *Manager) Wake(island int32) []handle.Handle {
	bodyHandles := append([]handle.Handle(nil), m.bodies.IslandHandles(island)...)
	for _, h := range bodyHandles {
		m.bodies.Wake(h)
	}

	snapshots := m.islandConstraints[island]
	delete(m.islandConstraints, island)

	newHandles := make([]handle.Handle, 0, len(snapshots))
	bodyIndices := make([]int32, 0, 4)
	for _, sc := range snapshots {
		bodyIndices = bodyIndices[:0]
		for _, bh := range sc.bodyHandles {
			bodyIndices = append(bodyIndices, m.bodies.IndexOf(bh))
		}
		batchIdx, _ := m.builder.Assign(bodyIndices)
		h := m.constraints.Add(sc.typeID, batchIdx, bodyIndices, sc.desc)
		if loc, ok := m.constraints.Location(h); ok {
			m.constraints.Processor(loc.TypeID).SetAccumulatedImpulse(loc.BatchIndex, loc.Index, sc.impulse)
		}
		newHandles = append(newHandles, h)
	}
	return newHandles
}

// rewriteBodyIndexEverywhere updates every live constraint's body reference
// from oldIndex to newIndex, across every batch index the builder currently
// knows about (synchronized batches plus the fallback batch). Used after any
// active-set swap-remove that relocates a body to a different index.
func (m *Manager) rewriteBodyIndexEverywhere(oldIndex, newIndex int32) {
	batchIndices := make([]int, 0, m.builder.BatchCount()+1)
	for b := 0; b < m.builder.BatchCount(); b++ {
		batchIndices = append(batchIndices, b)
	}
	batchIndices = append(batchIndices, m.builder.FallbackBatchIndex())
	m.constraints.RewriteBodyIndex(batchIndices, oldIndex, newIndex)
}
