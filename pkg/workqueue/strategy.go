package workqueue

import "sync"

// ConcurrencyStrategy controls how many tasks may run at once. The strategy
// tracks running tasks and decides whether a pending task can start.
type ConcurrencyStrategy interface {
	// CanStart returns true if another task may start given current state.
	CanStart() bool
	// OnStart is called when a task starts.
	OnStart()
	// OnComplete is called when a task finishes, in any terminal state.
	OnComplete()
}

// BoundedStrategy allows up to maxConcurrent tasks to run in parallel. This
// is the strategy used for ingestion: one slot per download/parse/insert
// worker.
type BoundedStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	running       int
}

// NewBoundedStrategy creates a strategy allowing up to maxConcurrent
// parallel tasks.
func NewBoundedStrategy(maxConcurrent int) *BoundedStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &BoundedStrategy{maxConcurrent: maxConcurrent}
}

func (s *BoundedStrategy) CanStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running < s.maxConcurrent
}

func (s *BoundedStrategy) OnStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running++
}

func (s *BoundedStrategy) OnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running > 0 {
		s.running--
	}
}

// SerializedStrategy runs one task at a time. Used where write ordering
// matters, such as maintenance tasks that rebuild indexes.
type SerializedStrategy struct {
	*BoundedStrategy
}

// NewSerializedStrategy creates a strategy that serializes all tasks.
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{BoundedStrategy: NewBoundedStrategy(1)}
}
