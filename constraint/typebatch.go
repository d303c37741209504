// Package constraint implements the constraint store and type processors:
// a type-sharded, AOSOA column store of
// constraint prestep data and accumulated impulses, plus the generic
// machinery every registered constraint type's kernels plug into.
//
// Only the sub-stepping solve path exists here: there is no persistent
// per-step projection array. Prestep
// linearization is fused into WarmStart/Solve every sub-step instead.
package constraint

import (
	"github.com/constraintcore/solver/bundle"
	"github.com/constraintcore/solver/handle"
)

// TypeBatch is the generic AOSOA column store for one constraint type
// within one constraint batch: body-reference bundles, prestep-data
// bundles, and accumulated-impulse bundles, all sized to the same bundle
// capacity.
//
// P is the prestep struct (local anchors, axes, spring/limit settings);
// A is the accumulated-impulse struct (one accumulator per constrained
// DOF). Both are plain structs of bundle-width scalar slices — "struct of
// arrays of lane-arrays" — built by the type's own field layout, the same
// shape bundle/types.go documents for a compound field: per-scalar-slot
// contiguous lane-planes.
//
// Body count is a runtime property (2, 3, or 4 in practice), not a
// compile-time one:
// bodyIndices has one []int32 per body slot, sized by NewTypeBatch's
// bodyCount argument, so the same generic TypeBatch[P, A] instantiation
// serves any body arity the registered type declares.
type TypeBatch[P any, A any] struct {
	w int // bundle width this type batch was allocated at

	count int // ConstraintCount: exact, independent of bundle padding

	bodyIndices [][]int32 // bodyIndices[k] is body-slot k's index/handle bundles, one []int32 per body slot
	prestep     []P       // one element per bundle; the processor reads/writes its own sub-slices
	impulse     []A

	indexToHandle []handle.Handle
}

// NewTypeBatch creates an empty type batch for an N-body constraint type at
// bundle width w.
func NewTypeBatch[P any, A any](bodyCount int, w int) *TypeBatch[P, A] {
	tb := &TypeBatch[P, A]{w: w}
	tb.bodyIndices = make([][]int32, bodyCount)
	return tb
}

// Count returns the exact number of live constraints, not rounded up to
// bundle capacity.
func (tb *TypeBatch[P, A]) Count() int { return tb.count }

// BundleCapacity returns ceil(Count/W): how many bundles are live,
// including a possibly-partial tail bundle.
func (tb *TypeBatch[P, A]) BundleCapacity() int {
	return bundle.BundleCapacity(tb.count, tb.w)
}

// Width returns the bundle width this type batch was built at.
func (tb *TypeBatch[P, A]) Width() int { return tb.w }

// BodyCount returns how many bodies each constraint in this type batch
// references.
func (tb *TypeBatch[P, A]) BodyCount() int { return len(tb.bodyIndices) }

func (tb *TypeBatch[P, A]) growTo(bundleCap int) {
	for len(tb.prestep) < bundleCap {
		var zeroP P
		tb.prestep = append(tb.prestep, zeroP)
	}
	for len(tb.impulse) < bundleCap {
		var zeroA A
		tb.impulse = append(tb.impulse, zeroA)
	}
	for k := range tb.bodyIndices {
		for len(tb.bodyIndices[k]) < bundleCap*tb.w {
			tb.bodyIndices[k] = append(tb.bodyIndices[k], make([]int32, tb.w)...)
		}
	}
}

// growthCapacity computes the next geometric bundle capacity (>=2x).
func growthCapacity(current int) int {
	if current == 0 {
		return 4
	}
	return current * 2
}

// Reserve grows the bundle arrays up front to hold at least count
// constraints, so the first count allocations never reallocate. Used to
// honor the minimum-capacity-per-type-batch sizing hint.
func (tb *TypeBatch[P, A]) Reserve(count int) {
	tb.growTo(bundle.BundleCapacity(count, tb.w))
}

// Allocate appends one constraint, growing storage geometrically if the
// current bundle capacity is exhausted, clearing its accumulated impulse
// lane, and writing its body indices. Returns the new constraint's index.
func (tb *TypeBatch[P, A]) Allocate(h handle.Handle, bodyIndices []int32, clearImpulse func(a *A, lane int)) int {
	index := tb.count
	neededBundles := bundle.BundleCapacity(index+1, tb.w)
	if neededBundles > len(tb.prestep) {
		tb.growTo(max(neededBundles, growthCapacity(len(tb.prestep))))
	}
	tb.count++
	b, lane := bundle.BundleIndex(index, tb.w), bundle.InnerIndex(index, tb.w)
	for k, bi := range bodyIndices {
		tb.bodyIndices[k][b*tb.w+lane] = bi
	}
	if clearImpulse != nil {
		clearImpulse(&tb.impulse[b], lane)
	}
	tb.indexToHandle = append(tb.indexToHandle, h)
	return index
}

// Remove swap-removes the constraint at index, moving the last live
// constraint's prestep/impulse/body-index lanes into the freed slot, and
// returns the handle of whatever constraint was moved there (invalid if
// index was already last).
func (tb *TypeBatch[P, A]) Remove(index int, copyLane func(dstP, srcP *P, dstLane, srcLane int, dstA, srcA *A)) handle.Handle {
	last := tb.count - 1
	moved := handle.Invalid
	sb, sl := bundle.BundleIndex(last, tb.w), bundle.InnerIndex(last, tb.w)
	if index != last {
		db, dl := bundle.BundleIndex(index, tb.w), bundle.InnerIndex(index, tb.w)
		for k := range tb.bodyIndices {
			bundle.LaneCopy(tb.bodyIndices[k], db, dl, tb.bodyIndices[k], sb, sl, tb.w)
		}
		if copyLane != nil {
			copyLane(&tb.prestep[db], &tb.prestep[sb], dl, sl, &tb.impulse[db], &tb.impulse[sb])
		}
		tb.indexToHandle[index] = tb.indexToHandle[last]
		moved = tb.indexToHandle[index]
	}
	// Neutralize the vacated last lane so a stale body index can never be
	// gathered as if it were live data.
	for k := range tb.bodyIndices {
		bundle.ClearLane(tb.bodyIndices[k], sb, sl, tb.w)
	}
	tb.indexToHandle = tb.indexToHandle[:last]
	tb.count--
	return moved
}

// HandleAt returns the handle of the constraint currently at index.
func (tb *TypeBatch[P, A]) HandleAt(index int) handle.Handle {
	return tb.indexToHandle[index]
}

// BodyIndicesAt copies the body indices/handles for the constraint at
// index into out, which must have length == BodyCount().
func (tb *TypeBatch[P, A]) BodyIndicesAt(index int, out []int32) {
	b, lane := bundle.BundleIndex(index, tb.w), bundle.InnerIndex(index, tb.w)
	for k := range tb.bodyIndices {
		out[k] = tb.bodyIndices[k][b*tb.w+lane]
	}
}

// RewriteBodyRef overwrites one body slot's reference at index: used to
// follow a body that a swap-remove relocated to a new active index, in
// place without disturbing prestep/impulse data.
func (tb *TypeBatch[P, A]) RewriteBodyRef(index, bodySlot int, value int32) {
	b, lane := bundle.BundleIndex(index, tb.w), bundle.InnerIndex(index, tb.w)
	tb.bodyIndices[bodySlot][b*tb.w+lane] = value
}

// BundleBodyIndices returns the raw W-wide index slice for body slot k in
// bundle b — the form the solve kernel gathers body state with.
func (tb *TypeBatch[P, A]) BundleBodyIndices(bundleIdx, bodySlot int) []int32 {
	return tb.bodyIndices[bodySlot][bundleIdx*tb.w : bundleIdx*tb.w+tb.w]
}

// Prestep returns a pointer to bundle b's prestep struct.
func (tb *TypeBatch[P, A]) Prestep(bundleIdx int) *P { return &tb.prestep[bundleIdx] }

// Impulse returns a pointer to bundle b's accumulated-impulse struct.
func (tb *TypeBatch[P, A]) Impulse(bundleIdx int) *A { return &tb.impulse[bundleIdx] }

// ActiveLanes returns how many of bundle b's W lanes are live constraints
// (W for every bundle but the last, which may be partial).
func (tb *TypeBatch[P, A]) ActiveLanes(bundleIdx int) int {
	if bundleIdx < tb.BundleCapacity()-1 {
		return tb.w
	}
	return bundle.TailLaneCount(tb.count, tb.w)
}
