package sync

var (
	// currentWaiterFn returns the identity of the calling thread, to be
	// parked on a WaitQueue when a Semaphore.Acquire call must block.
	currentWaiterFn = func() Waiter { return nil }

	// blockCurrentFn suspends the calling thread and switches to
	// another runnable one. It must not return until the thread has
	// been unblocked again.
	blockCurrentFn = func() {}

	// unblockFn makes a previously blocked waiter runnable again.
	unblockFn = func(Waiter) {}
)

// SetSchedulerHooks wires a Semaphore's blocking behavior to the scheduler.
// Called once by kernel/sched during initialization; sync cannot import
// sched directly since sched depends on Spinlock.
func SetSchedulerHooks(currentWaiter func() Waiter, blockCurrent func(), unblock func(Waiter)) {
	currentWaiterFn = currentWaiter
	blockCurrentFn = blockCurrent
	unblockFn = unblock
}

// Semaphore is a counting synchronization primitive guarding a resource
// pool of a fixed size.
type Semaphore struct {
	lock  Spinlock
	count int
	queue WaitQueue
}

// NewSemaphore returns a Semaphore initialised with the given count.
func NewSemaphore(count int) *Semaphore {
	return &Semaphore{count: count}
}

// NewMutex returns a Semaphore initialised with count 1, usable as a
// sleeping mutual-exclusion lock.
func NewMutex() *Semaphore {
	return NewSemaphore(1)
}

// Acquire decrements the semaphore's count, blocking the caller if doing so
// would take it below zero.
func (s *Semaphore) Acquire() {
	s.lock.Acquire()

	if s.count > 0 {
		s.count--
		s.lock.Release()
		return
	}

	s.queue.Enqueue(currentWaiterFn())
	s.lock.Release()

	blockCurrentFn()
}

// Release increments the semaphore's count, or directly hands ownership to
// the first queued waiter if one is present (the count is left unchanged
// in that case, since the waiter already "holds" the slot being freed).
func (s *Semaphore) Release() {
	s.lock.Acquire()
	defer s.lock.Release()

	if w, ok := s.queue.Dequeue(); ok {
		unblockFn(w)
		return
	}

	s.count++
}
