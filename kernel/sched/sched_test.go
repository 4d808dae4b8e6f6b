package sched

import (
	"testing"

	"github.com/d4ilyrun/kernel-sub002/kernel/gate"
)

func resetState(t *testing.T) {
	t.Helper()

	origSwitchContext := switchContextFn
	origSetKernelStack := setKernelStackFn
	origInterruptsEnabled := interruptsEnabledFn
	origDisableInterrupts := disableInterruptsFn
	origEnableInterrupts := enableInterruptsFn
	origCurrent := current
	origIdle := idle
	origRQHead, origRQTail := rqHead, rqTail
	origNeedResched := needResched

	t.Cleanup(func() {
		switchContextFn = origSwitchContext
		setKernelStackFn = origSetKernelStack
		interruptsEnabledFn = origInterruptsEnabled
		disableInterruptsFn = origDisableInterrupts
		enableInterruptsFn = origEnableInterrupts
		current = origCurrent
		idle = origIdle
		rqHead, rqTail = origRQHead, origRQTail
		needResched = origNeedResched
	})

	current = nil
	idle = &Thread{Name: "idle", state: StateRunning, quantum: defaultQuantum}
	rqHead, rqTail = nil, nil
	needResched = false
	setKernelStackFn = func(uintptr) {}

	interruptsEnabled := true
	interruptsEnabledFn = func() bool { return interruptsEnabled }
	disableInterruptsFn = func() { interruptsEnabled = false }
	enableInterruptsFn = func() { interruptsEnabled = true }
}

func TestScheduleLockedPicksIdleWhenRunqueueEmpty(t *testing.T) {
	resetState(t)

	var switchCount int
	switchContextFn = func(savedSP *uintptr, newSP uintptr, newPDT uintptr) {
		switchCount++
	}

	scheduleLocked()

	if current != idle {
		t.Fatalf("expected idle thread to be selected; got %v", current)
	}
	if switchCount != 1 {
		t.Errorf("expected exactly one context switch; got %d", switchCount)
	}
}

func TestScheduleLockedNoSwitchWhenSameThreadChosen(t *testing.T) {
	resetState(t)

	current = idle

	switchCalled := false
	switchContextFn = func(*uintptr, uintptr, uintptr) { switchCalled = true }

	scheduleLocked()

	if switchCalled {
		t.Error("expected no context switch when next == prev")
	}
}

func TestScheduleLockedRequeuesRunningThread(t *testing.T) {
	resetState(t)

	a := &Thread{Name: "a", state: StateRunning, quantum: defaultQuantum}
	b := &Thread{Name: "b", state: StateRunning, quantum: defaultQuantum}
	current = a
	enqueueLocked(b)

	switchContextFn = func(*uintptr, uintptr, uintptr) {}

	scheduleLocked()

	if current != b {
		t.Fatalf("expected b to become current; got %v", current)
	}

	// a should have been reinserted at the runqueue tail
	if got := dequeueLocked(); got != a {
		t.Fatalf("expected a to have been requeued; got %v", got)
	}
}

func TestScheduleLockedDoesNotRequeueWaitingThread(t *testing.T) {
	resetState(t)

	a := &Thread{Name: "a", state: StateWaiting, quantum: defaultQuantum}
	b := &Thread{Name: "b", state: StateRunning, quantum: defaultQuantum}
	current = a
	enqueueLocked(b)

	switchContextFn = func(*uintptr, uintptr, uintptr) {}

	scheduleLocked()

	if current != b {
		t.Fatalf("expected b to become current; got %v", current)
	}
	if dequeueLocked() != nil {
		t.Error("expected runqueue to be empty; waiting thread must not be requeued")
	}
}

func TestScheduleLockedReloadsCR3OnlyWhenAddressSpaceDiffers(t *testing.T) {
	resetState(t)

	a := &Thread{Name: "a", state: StateRunning, pdtAddr: 0x1000, quantum: defaultQuantum}
	b := &Thread{Name: "b", state: StateWaiting, pdtAddr: 0x1000, quantum: defaultQuantum}
	current = a
	enqueueLocked(b)

	var gotPDT uintptr
	switchContextFn = func(_ *uintptr, _ uintptr, newPDT uintptr) { gotPDT = newPDT }

	scheduleLocked()

	if gotPDT != 0 {
		t.Errorf("expected no CR3 reload when address spaces match; got %x", gotPDT)
	}

	// Now repeat with a different address space
	resetState(t)
	a = &Thread{Name: "a", state: StateRunning, pdtAddr: 0x1000, quantum: defaultQuantum}
	c := &Thread{Name: "c", state: StateWaiting, pdtAddr: 0x2000, quantum: defaultQuantum}
	current = a
	enqueueLocked(c)
	switchContextFn = func(_ *uintptr, _ uintptr, newPDT uintptr) { gotPDT = newPDT }

	scheduleLocked()

	if gotPDT != 0x2000 {
		t.Errorf("expected CR3 reload to 0x2000; got %x", gotPDT)
	}
}

func TestBlockCurrentMarksWaiting(t *testing.T) {
	resetState(t)

	a := &Thread{Name: "a", state: StateRunning, quantum: defaultQuantum}
	current = a
	switchContextFn = func(*uintptr, uintptr, uintptr) {}

	BlockCurrent()

	if a.state != StateWaiting {
		t.Errorf("expected thread to be marked WAITING; got %v", a.state)
	}
	if dequeueLocked() != nil {
		t.Error("blocked thread must not appear on the runqueue")
	}
}

func TestUnblockEnqueuesAndMarksRunning(t *testing.T) {
	resetState(t)

	a := &Thread{Name: "a", state: StateWaiting, quantum: defaultQuantum}

	Unblock(a)

	if a.state != StateRunning {
		t.Errorf("expected thread to be marked RUNNING; got %v", a.state)
	}
	if got := dequeueLocked(); got != a {
		t.Errorf("expected unblocked thread to be enqueued; got %v", got)
	}
}

func TestUnblockIgnoresNonThreadWaiter(t *testing.T) {
	resetState(t)

	Unblock("not-a-thread")

	if dequeueLocked() != nil {
		t.Error("expected runqueue to remain empty for a non-*Thread waiter")
	}
}

func TestTimerTickRequestsResched(t *testing.T) {
	resetState(t)

	a := &Thread{Name: "a", state: StateRunning, quantum: 1}
	current = a

	timerTick(nil)

	if !needResched {
		t.Error("expected needResched to be set once quantum is exhausted")
	}
	if a.quantum != defaultQuantum {
		t.Errorf("expected quantum to be reset to %d; got %d", defaultQuantum, a.quantum)
	}
}

func TestTimerTickDecrementsWithoutResched(t *testing.T) {
	resetState(t)

	a := &Thread{Name: "a", state: StateRunning, quantum: 2}
	current = a

	timerTick(nil)

	if needResched {
		t.Error("expected needResched to stay false before quantum is exhausted")
	}
	if a.quantum != 1 {
		t.Errorf("expected quantum to be decremented to 1; got %d", a.quantum)
	}
}

func TestMaybePreemptHonorsInterruptibleContext(t *testing.T) {
	resetState(t)
	needResched = true

	switchCalled := false
	switchContextFn = func(*uintptr, uintptr, uintptr) { switchCalled = true }

	maybePreempt(registersWithFlags(eflagsIF, 0))

	if !switchCalled {
		t.Error("expected Schedule to run when interrupts were enabled")
	}
	if needResched {
		t.Error("expected needResched to be cleared after honoring it")
	}
}

func TestMaybePreemptSkipsNonInterruptibleContext(t *testing.T) {
	resetState(t)
	needResched = true

	switchCalled := false
	switchContextFn = func(*uintptr, uintptr, uintptr) { switchCalled = true }

	maybePreempt(registersWithFlags(0, 0))

	if switchCalled {
		t.Error("expected no reschedule when interrupts were disabled and staying in ring 0")
	}
	if !needResched {
		t.Error("expected needResched to remain set for a later retry")
	}
}

func TestMaybePreemptHonorsRing3Return(t *testing.T) {
	resetState(t)
	needResched = true

	switchCalled := false
	switchContextFn = func(*uintptr, uintptr, uintptr) { switchCalled = true }

	maybePreempt(registersWithFlags(0, 3))

	if !switchCalled {
		t.Error("expected reschedule when returning to ring 3 even with interrupts disabled")
	}
}

// registersWithFlags builds the minimal gate.Registers needed by
// maybePreempt's interruptibility check.
func registersWithFlags(eflags, cs uint32) *gate.Registers {
	return &gate.Registers{EFlags: eflags, CS: cs}
}
