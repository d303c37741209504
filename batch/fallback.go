package batch

import (
	"github.com/constraintcore/solver/body"
	"github.com/constraintcore/solver/constraint"
)

// FallbackSolver drives the Jacobi-style fallback batch: it
// owns the per-body inverse-reference-count table fed into
// constraint.FallbackAccum and runs one solver iteration across every type
// batch that has constraints living in the fallback batch, averaging the
// proposed velocity deltas before they are applied to the body store.
type FallbackSolver struct {
	builder *Builder
	accum   *constraint.FallbackAccum
}

// NewFallbackSolver builds a FallbackSolver sized for bodyCount active
// bodies. Call Rebuild whenever the fallback reference counts change
// (constraints added to or removed from the fallback batch) before the next
// Iterate call.
func NewFallbackSolver(builder *Builder, bodyCount int) *FallbackSolver {
	fs := &FallbackSolver{builder: builder}
	fs.Rebuild(bodyCount)
	return fs
}

// Rebuild recomputes 1/k per body index from the builder's current fallback
// reference counts and resizes the accumulator if bodyCount changed.
func (fs *FallbackSolver) Rebuild(bodyCount int) {
	invK := make([]float32, bodyCount)
	for i := 0; i < bodyCount; i++ {
		if k := fs.builder.FallbackReferenceCount(int32(i)); k > 0 {
			invK[i] = 1 / float32(k)
		}
	}
	fs.accum = constraint.NewFallbackAccum(bodyCount, invK)
}

// Iterate runs one fallback-batch solver iteration: every registered
// processor with constraints in the fallback batch contributes its proposed
// velocity deltas into the shared accumulator, which is then averaged and
// applied to bodies exactly once. warmStart is passed through on the first
// iteration of each sub-step so kernels fold the accumulated-impulse
// application into the solve — the fallback batch never runs a standalone
// warm-start pass, since its bundles may alias a body across lanes, and it
// never carries pose-integration responsibility for any body that a
// synchronized batch also references.
func (fs *FallbackSolver) Iterate(store *constraint.Store, bodies *body.Store, invDt float32, warmStart bool) {
	fallbackIndex := fs.builder.FallbackBatchIndex()
	fs.accum.Reset()
	for _, p := range store.Processors() {
		if p == nil {
			continue
		}
		count := p.ConstraintCount(fallbackIndex)
		if count == 0 {
			continue
		}
		p.Solve(fallbackIndex, bodies, invDt, fs.accum, warmStart, 0, p.BundleCapacity(fallbackIndex))
	}
	fs.accum.ApplyTo(bodies)
}
