package solver

import "github.com/constraintcore/solver/integrate"

// Config carries the solver's tunables and pool-sizing hints. The zero
// value is usable: every field falls back to the documented default.
type Config struct {
	// IterationCount is how many solver iterations run per sub-step.
	// Default 8.
	IterationCount int

	// SubstepCount is the default number of sub-steps per Step call, used
	// when Step is passed a non-positive count. Default 4.
	SubstepCount int

	// FallbackBatchThreshold caps the number of synchronized batches; a
	// constraint rejected by every one of them overflows into the Jacobi
	// fallback batch. Default 8.
	FallbackBatchThreshold int

	// InitialCapacity sizes the body and constraint handle tables.
	// Default 128.
	InitialCapacity int

	// InitialIslandCapacity hints how many sleeping islands to expect.
	// Default 16.
	InitialIslandCapacity int

	// MinimumCapacityPerTypeBatch pre-reserves constraint slots in every
	// newly created type batch. Default 0 (grow on demand).
	MinimumCapacityPerTypeBatch int

	// AngularMode selects how angular velocity is carried through pose
	// integration. Default NonConserving.
	AngularMode integrate.AngularMode
}

func (c Config) withDefaults() Config {
	if c.IterationCount <= 0 {
		c.IterationCount = 8
	}
	if c.SubstepCount <= 0 {
		c.SubstepCount = 4
	}
	if c.FallbackBatchThreshold <= 0 {
		c.FallbackBatchThreshold = 8
	}
	if c.InitialCapacity <= 0 {
		c.InitialCapacity = 128
	}
	if c.InitialIslandCapacity <= 0 {
		c.InitialIslandCapacity = 16
	}
	if c.MinimumCapacityPerTypeBatch < 0 {
		c.MinimumCapacityPerTypeBatch = 0
	}
	return c
}
