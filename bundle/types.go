// Package bundle provides the AOSOA (array-of-structures-of-arrays) memory
// layout and lane-level gather/scatter/copy primitives that the solver's
// column stores are built from.
//
// A "bundle" is a SIMD-width slice of W constraints or bodies within a type
// batch; an "inner index" addresses one lane within a bundle. Every field of
// a type batch is stored bundle-major: the stride between consecutive
// bundles of a scalar field is W*sizeof(T), and the stride between
// consecutive lanes is sizeof(T). A compound field such as a quaternion is
// stored as four consecutive lane-planes, [x0..xW-1, y0..yW-1, z0..zW-1,
// w0..wW-1], never interleaved per-lane.
//
// Basic usage:
//
//	import "github.com/constraintcore/solver/bundle"
//
//	a := bundle.Load(data1)
//	b := bundle.Load(data2)
//	result := bundle.Add(a, b)
//	bundle.Store(result, output)
//
// W, the lane count, is chosen once at process start from the detected CPU
// (see dispatch.go) and is fixed for the lifetime of the process; every type
// batch in the solver allocates its bundle arrays in multiples of W.
package bundle

// Floats is a constraint for floating-point lane types.
type Floats interface {
	~float32 | ~float64
}

// SignedInts is a constraint for signed integer types.
type SignedInts interface {
	~int8 | ~int16 | ~int32 | ~int64
}

// UnsignedInts is a constraint for unsigned integer types.
type UnsignedInts interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Integers is a constraint for all integer types.
type Integers interface {
	SignedInts | UnsignedInts
}

// Lanes is a constraint for all types that can be stored in SIMD lanes.
type Lanes interface {
	Floats | Integers
}

// Vec is a portable vector handle that wraps SIMD operations.
// In base (scalar) mode, it wraps a slice. In SIMD modes, it may wrap
// architecture-specific vector types.
//
// Vec instances should not be created directly; use Load, Set, or Zero instead.
type Vec[T Lanes] struct {
	// data holds the vector elements in base mode.
	// In SIMD modes, this may be empty and the actual data stored
	// in architecture-specific fields.
	data []T
}

// NumLanes returns the number of lanes (elements) in this vector.
func (v Vec[T]) NumLanes() int {
	return len(v.data)
}

// Data returns the underlying slice representation of the vector.
// This is primarily for testing and should not be used in performance-critical code.
func (v Vec[T]) Data() []T {
	return v.data
}

// Mask represents the result of a comparison operation.
// It can be used with IfThenElseZero, MaskLoad, and MaskStore to perform
// conditional operations.
//
// Mask instances should not be created directly; use comparison operations
// like NotEqual or GreaterThan, or TailMask, instead.
type Mask[T Lanes] struct {
	// bits stores which lanes are active (true).
	// bit i is set if lane i is active.
	bits []bool
}

// NumLanes returns the number of lanes in this mask.
func (m Mask[T]) NumLanes() int {
	return len(m.bits)
}

// AnyTrue returns true if at least one lane in the mask is active.
func (m Mask[T]) AnyTrue() bool {
	for _, bit := range m.bits {
		if bit {
			return true
		}
	}
	return false
}

// GetBit returns whether lane i is active.
func (m Mask[T]) GetBit(i int) bool {
	if i < 0 || i >= len(m.bits) {
		return false
	}
	return m.bits[i]
}
