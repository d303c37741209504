// Package substep is the sub-stepping driver: it owns the
// per-frame/per-sub-step orchestration that ties the body store, constraint
// store, batch builder, and work scheduler together, and decides which
// batch is responsible for integrating each body's pose exactly once per
// sub-step.
package substep

import (
	"github.com/constraintcore/solver/batch"
	"github.com/constraintcore/solver/bundle"
	"github.com/constraintcore/solver/constraint"
)

// Responsibility computes, for every synchronized constraint batch, which
// bodies that batch is the *first* to reference in batch-index order: the
// earliest batch that references a body integrates its pose for the
// sub-step. The fallback batch never carries integration
// responsibility: any body touched only by
// fallback constraints is integrated directly by the driver, outside the
// batch loop.
type Responsibility struct {
	// firstBatch[bodyIndex] is the lowest synchronized batch index that
	// references that body, or -1 if no synchronized batch references it.
	firstBatch []int32

	// responsibleCount[batchIndex] is how many bodies that batch is first
	// to reference: the coarse flag that lets a batch with none skip the
	// integration machinery entirely.
	responsibleCount []int32
}

// Build recomputes responsibility from the batch builder's current
// referenced-body sets. Call this whenever the batch structure changes
// (constraints added/removed, or after a sleep/wake bulk rebuild) — it does
// not need to run every sub-step, only every time topology changes.
func Build(b *batch.Builder, bodyCount int) *Responsibility {
	r := &Responsibility{
		firstBatch:       make([]int32, bodyCount),
		responsibleCount: make([]int32, b.BatchCount()),
	}
	for i := range r.firstBatch {
		r.firstBatch[i] = -1
	}
	for batchIdx := 0; batchIdx < b.BatchCount(); batchIdx++ {
		set := b.ReferencedHandles(batchIdx)
		for bi := 0; bi < bodyCount; bi++ {
			if r.firstBatch[bi] == -1 && set.Has(bi) {
				r.firstBatch[bi] = int32(batchIdx)
				r.responsibleCount[batchIdx]++
			}
		}
	}
	return r
}

// IsResponsible reports whether batchIndex is the first synchronized batch
// to reference bodyIndex.
func (r *Responsibility) IsResponsible(batchIndex int, bodyIndex int32) bool {
	if int(bodyIndex) < 0 || int(bodyIndex) >= len(r.firstBatch) {
		return false
	}
	return r.firstBatch[bodyIndex] == int32(batchIndex)
}

// FreeBody reports whether bodyIndex is referenced by no synchronized
// batch at all (either fully unconstrained, or constrained only through the
// fallback batch) and therefore must be integrated by the driver directly.
func (r *Responsibility) FreeBody(bodyIndex int32) bool {
	if int(bodyIndex) < 0 || int(bodyIndex) >= len(r.firstBatch) {
		return true
	}
	return r.firstBatch[bodyIndex] == -1
}

// ModeFor reports which warm-start codepath batchIndex dispatches through:
// batch 0 is always IntegrateAlways, since no earlier batch exists and
// every body it references is therefore first claimed there. A later batch
// that is first for no body at all takes the IntegrateNever path and skips
// the integration machinery entirely; otherwise it is
// IntegrateConditional, and LaneMaskFor resolves per-lane, per-body-slot
// whether that particular lane is newly responsible.
func (r *Responsibility) ModeFor(batchIndex int) constraint.IntegrationMode {
	if batchIndex == 0 {
		return constraint.IntegrateAlways
	}
	if batchIndex < len(r.responsibleCount) && r.responsibleCount[batchIndex] == 0 {
		return constraint.IntegrateNever
	}
	return constraint.IntegrateConditional
}

// LaneMaskFor returns a constraint.LaneMask closure bound to batchIndex: for
// bundle bundleIdx and body slot bodySlot, it asks the processor which body
// index occupies that lane and reports whether batchIndex is responsible
// for integrating it.
func (r *Responsibility) LaneMaskFor(batchIndex int, p constraint.Processor) constraint.LaneMask {
	w := p.Width()
	return func(bundleIdx, bodySlot int) bundle.Mask[float32] {
		// Scratch is per-call: the mask closure runs concurrently from
		// every worker touching this batch.
		bodyScratch := make([]int32, p.BodyCount())
		active := p.ActiveLanes(batchIndex, bundleIdx)
		flags := make([]float32, w)
		for lane := 0; lane < active && lane < w; lane++ {
			constraintIndex := bundleIdx*w + lane
			p.BodyIndicesAt(batchIndex, constraintIndex, bodyScratch)
			if bodySlot < len(bodyScratch) && r.IsResponsible(batchIndex, bodyScratch[bodySlot]) {
				flags[lane] = 1
			}
		}
		return bundle.NotEqual(bundle.Load(flags), bundle.Zero[float32]())
	}
}
