package bundle

// This file provides the gather and scatter primitives the body store and
// constraint store use to move data between their packed column arrays and
// W-wide lane registers. A bundle of W body indices gathers into a W-wide
// register of body state; solved velocities scatter back the same way,
// masked so inactive or non-responsible lanes never touch memory.

// GatherIndex loads elements from non-contiguous memory locations specified by indices.
// For each lane i in the index vector, it loads src[indices[i]].
// If an index is out of bounds (negative or >= len(src)), the result for that lane is zero.
func GatherIndex[T Lanes, I ~int32 | ~int64](src []T, indices Vec[I]) Vec[T] {
	n := len(indices.data)
	result := make([]T, n)
	for i := range n {
		idx := int(indices.data[i])
		if idx >= 0 && idx < len(src) {
			result[i] = src[idx]
		}
		// else: leave as zero value
	}
	return Vec[T]{data: result}
}

// ScatterIndexMasked stores elements to non-contiguous memory locations specified by indices,
// but only for lanes where the mask is true.
// If an index is out of bounds or the mask is false, that store is skipped.
func ScatterIndexMasked[T Lanes, I ~int32 | ~int64](v Vec[T], dst []T, indices Vec[I], mask Mask[T]) {
	n := min(len(mask.bits), min(len(indices.data), len(v.data)))
	for i := range n {
		if mask.bits[i] {
			idx := int(indices.data[i])
			if idx >= 0 && idx < len(dst) {
				dst[idx] = v.data[i]
			}
		}
	}
}
