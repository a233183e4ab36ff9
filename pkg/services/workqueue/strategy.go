package workqueue

import "sync"

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// The strategy is responsible for tracking running tasks and determining
// if a new task can start based on the current state.
type ConcurrencyStrategy interface {
	// CanStartIO returns true if an IO task can start given current state
	CanStartIO() bool
	// CanStartCompute returns true if a compute task can start given current state
	CanStartCompute() bool
	// OnStartIO is called when an IO task starts
	OnStartIO()
	// OnStartCompute is called when a compute task starts
	OnStartCompute()
	// OnCompleteIO is called when an IO task completes
	OnCompleteIO()
	// OnCompleteCompute is called when a compute task completes
	OnCompleteCompute()
}

// SerializedStrategy serializes both classes. Only one IO task and one
// compute task can run at a time, but an IO task and a compute task can run
// in parallel.
type SerializedStrategy struct {
	mu             sync.Mutex
	ioRunning      bool
	computeRunning bool
}

// NewSerializedStrategy creates a strategy that serializes IO tasks
// (only one at a time) and serializes compute tasks (only one at a time).
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStartIO() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ioRunning
}

func (s *SerializedStrategy) CanStartCompute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.computeRunning
}

func (s *SerializedStrategy) OnStartIO() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ioRunning = true
}

func (s *SerializedStrategy) OnStartCompute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computeRunning = true
}

func (s *SerializedStrategy) OnCompleteIO() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ioRunning = false
}

func (s *SerializedStrategy) OnCompleteCompute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computeRunning = false
}

// ThrottledStrategy allows up to maxIO concurrent IO tasks and up to
// maxCompute concurrent compute tasks. Zero or negative limits mean
// unlimited for that class.
type ThrottledStrategy struct {
	mu             sync.Mutex
	maxIO          int
	maxCompute     int
	ioRunning      int
	computeRunning int
}

// NewThrottledStrategy creates a strategy with independent limits per class.
func NewThrottledStrategy(maxIO, maxCompute int) *ThrottledStrategy {
	return &ThrottledStrategy{
		maxIO:      maxIO,
		maxCompute: maxCompute,
	}
}

func (s *ThrottledStrategy) CanStartIO() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxIO <= 0 || s.ioRunning < s.maxIO
}

func (s *ThrottledStrategy) CanStartCompute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxCompute <= 0 || s.computeRunning < s.maxCompute
}

func (s *ThrottledStrategy) OnStartIO() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ioRunning++
}

func (s *ThrottledStrategy) OnStartCompute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computeRunning++
}

func (s *ThrottledStrategy) OnCompleteIO() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ioRunning > 0 {
		s.ioRunning--
	}
}

func (s *ThrottledStrategy) OnCompleteCompute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.computeRunning > 0 {
		s.computeRunning--
	}
}
