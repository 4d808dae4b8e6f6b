package sched

import "github.com/d4ilyrun/kernel-sub002/kernel/gate"

// eflagsIF is the interrupt-enable bit in EFLAGS.
const eflagsIF = 1 << 9

// ringMask extracts the requested privilege level from a segment selector.
const ringMask = 0x3

// needResched is set by timerTick once the current thread has exhausted
// its quantum and cleared once the pending reschedule has been honored.
var needResched bool

// timerTick is registered on the PIT/IRQ0 line. It decrements the current
// thread's remaining quantum and requests a reschedule once it runs out.
func timerTick(_ *gate.Registers) {
	if current == nil {
		return
	}

	current.quantum--
	if current.quantum <= 0 {
		current.quantum = defaultQuantum
		needResched = true
	}
}

// maybePreempt is called on every interrupt return. It honors a pending
// reschedule request only if the interrupted context can safely be
// re-entered: either interrupts were enabled when the interrupt fired (so
// no spinlock is held), or execution is returning to ring 3.
func maybePreempt(regs *gate.Registers) {
	if !needResched {
		return
	}

	interruptible := regs.EFlags&eflagsIF != 0 || regs.CS&ringMask == 3
	if !interruptible {
		return
	}

	needResched = false
	Schedule()
}
