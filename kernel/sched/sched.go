package sched

import (
	"github.com/d4ilyrun/kernel-sub002/kernel/cpu"
	"github.com/d4ilyrun/kernel-sub002/kernel/irq"
	"github.com/d4ilyrun/kernel-sub002/kernel/sync"
)

var (
	lock sync.Spinlock

	// current is the thread presently executing. It is nil only before
	// the very first call to Schedule.
	current *Thread

	// idle is chosen whenever the runqueue is empty. It never sits on
	// the runqueue itself.
	idle *Thread

	// switchContextFn is used by tests to observe/stub out the real
	// register-level context switch, which would corrupt a host test
	// process if actually executed.
	switchContextFn = cpu.SwitchContext

	// setKernelStackFn is used by tests to avoid poking a real TSS.
	setKernelStackFn = cpu.SetKernelStack

	// The following are used by tests to avoid executing privileged
	// instructions (CLI/STI/PUSHFL) outside of ring 0.
	interruptsEnabledFn = cpu.InterruptsEnabled
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
)

// Init installs the idle thread, using bootPDTAddr as its address space
// (the one the kernel is already running on), and wires the scheduler into
// kernel/sync's semaphore/yield hooks and kernel/irq's preemption check and
// timer line.
func Init(bootPDTAddr uintptr) {
	idle = &Thread{
		Name:    "idle",
		state:   StateRunning,
		pdtAddr: bootPDTAddr,
		quantum: defaultQuantum,
	}

	sync.SetSchedulerHooks(currentWaiter, BlockCurrent, Unblock)
	sync.SetYieldFn(Yield)

	irq.SetPreemptionCheck(maybePreempt)
	if err := irq.Register(irq.LineTimer, timerTick); err != nil {
		panic(err)
	}
}

// Current returns the thread currently executing.
func Current() *Thread {
	return current
}

func currentWaiter() sync.Waiter {
	return current
}

// schedLock disables interrupts and acquires the scheduler lock, returning
// whether interrupts were previously enabled so the caller can restore
// them via schedUnlock.
func schedLock() bool {
	wasEnabled := interruptsEnabledFn()
	disableInterruptsFn()
	lock.Acquire()
	return wasEnabled
}

// schedUnlock releases the scheduler lock and restores the interrupt flag
// captured by a matching schedLock call.
func schedUnlock(wasEnabled bool) {
	lock.Release()
	if wasEnabled {
		enableInterruptsFn()
	}
}

// Schedule is the core decision point: it reinserts the current thread
// into the runqueue if still runnable, picks the next thread to run and
// performs a context switch into it if it differs from the current one.
func Schedule() {
	flags := schedLock()
	scheduleLocked()
	schedUnlock(flags)
}

// scheduleLocked implements Schedule. The caller must already hold the
// scheduler lock with interrupts disabled.
func scheduleLocked() {
	prev := current

	if prev != nil && prev.state == StateRunning {
		enqueueLocked(prev)
	}

	next := dequeueLocked()
	if next == nil {
		next = idle
	}

	if next == prev {
		return
	}

	current = next
	setKernelStackFn(next.kstackTop)

	var newPDT uintptr
	if prev == nil || next.pdtAddr != prev.pdtAddr {
		newPDT = next.pdtAddr
	}

	var discardSP uintptr
	savedSP := &discardSP
	if prev != nil {
		savedSP = &prev.sp
	}

	switchContextFn(savedSP, next.sp, newPDT)
}

// BlockCurrent marks the running thread as WAITING and switches away from
// it. The caller must have already enqueued the thread on a wait queue.
func BlockCurrent() {
	flags := schedLock()
	if current != nil {
		current.state = StateWaiting
	}
	scheduleLocked()
	schedUnlock(flags)
}

// Unblock makes a previously blocked waiter runnable again and enqueues it
// at the tail of the runqueue. w must be a *Thread; anything else is
// ignored, since only sched itself ever produces sync.Waiter values.
func Unblock(w sync.Waiter) {
	t, ok := w.(*Thread)
	if !ok || t == nil {
		return
	}

	flags := schedLock()
	t.state = StateRunning
	enqueueLocked(t)
	schedUnlock(flags)
}

// Yield voluntarily gives up the remainder of the current thread's
// quantum. Installed as kernel/sync's spinlock yield hook.
func Yield() {
	Schedule()
}

// Exit moves the current thread to ZOMBIE and switches away from it
// without re-enqueuing it. kernel/proc is responsible for recording the
// exit status and waking up a waiting parent before calling this.
func Exit() {
	flags := schedLock()
	if current != nil {
		current.state = StateZombie
	}
	scheduleLocked()
	schedUnlock(flags)
}
