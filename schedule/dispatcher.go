package schedule

// Dispatcher is the interface the sub-stepping driver schedules work
// through. It is satisfied by *Pool for parallel execution
// and by Sequential for single-threaded, deterministic execution — the
// driver's control flow is identical either way, only the fan-out strategy
// changes.
type Dispatcher interface {
	NumWorkers() int
	ParallelForRange(n int, fn func(workerIndex, start, end int))
	ParallelForAtomic(n int, fn func(workerIndex, index int))
}

// Sequential is a single-worker Dispatcher that runs every block inline on
// the calling goroutine. Used for the solver's determinism tests and for
// callers that don't want pool goroutines at all.
type Sequential struct{}

func (Sequential) NumWorkers() int { return 1 }

func (Sequential) ParallelForRange(n int, fn func(workerIndex, start, end int)) {
	if n <= 0 {
		return
	}
	fn(0, 0, n)
}

func (Sequential) ParallelForAtomic(n int, fn func(workerIndex, index int)) {
	for i := 0; i < n; i++ {
		fn(0, i)
	}
}

var (
	_ Dispatcher = (*Pool)(nil)
	_ Dispatcher = Sequential{}
)
