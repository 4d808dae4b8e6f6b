// Package irq implements the interrupt plane: it remaps the legacy 8259 PIC
// to vectors 0x20..0x2F, programmes the PIT channel 0 as the scheduler's
// timer tick, and routes every asynchronous event (hardware IRQ, CPU
// exception or syscall gate) through a single dispatcher built on top of
// the gate package's IDT.
package irq

import (
	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/gate"
	"github.com/d4ilyrun/kernel-sub002/kernel/kfmt"
)

// Line identifies one of the 16 legacy IRQ lines (0..15), as opposed to the
// IDT vector it gets remapped to.
type Line uint8

const (
	// LineTimer is the PIT channel 0 output, used as the scheduler tick.
	LineTimer = Line(0)

	// LineKeyboard is the PS/2 keyboard controller output.
	LineKeyboard = Line(1)

	// LineCascade is wired to the slave PIC and never delivers a handler
	// call of its own.
	LineCascade = Line(2)

	// LineCOM1 is the first serial port (UART).
	LineCOM1 = Line(4)
)

// picVectorBase is the IDT vector the first (master PIC IRQ0) line is
// remapped to; legacy real-mode vectors 0x08-0x0F would otherwise collide
// with the CPU exception vectors.
const picVectorBase = 0x20

// Handler processes a hardware interrupt. regs is the register snapshot
// captured by the per-vector stub; modifications the handler makes to it
// are restored by the IRET that follows.
type Handler func(regs *gate.Registers)

var (
	errUnknownLine = &kernel.Error{Module: "irq", Message: "unknown IRQ line"}

	handlers [16]Handler

	// sendEOIFn is a test seam for the PIC end-of-interrupt write.
	sendEOIFn = sendEOI

	// reschedulePendingFn lets the scheduler register its preemption
	// check without irq importing the sched package (which would create
	// an import cycle: sched blocks on irq-driven wakeups too).
	reschedulePendingFn func(regs *gate.Registers)
)

// Init remaps the PIC, masks every line and installs the common dispatch
// trampoline for vectors 0x20-0x2F. It does not set the CPU's interrupt flag;
// Kmain enables interrupts once every init stage has run. Individual lines
// stay masked until a handler is registered with Register.
func Init() {
	remapPIC()
	maskAll()

	for v := picVectorBase; v < picVectorBase+16; v++ {
		vector := gate.InterruptNumber(v)
		gate.HandleInterrupt(vector, makeDispatch(Line(v-picVectorBase)))
	}
}

// SetPreemptionCheck installs the function the timer tick calls after
// invoking the registered handler, giving the scheduler a chance to request
// a context switch. Passing nil disables preemption checks (used by tests).
func SetPreemptionCheck(fn func(regs *gate.Registers)) {
	reschedulePendingFn = fn
}

// Register installs handler for line and unmasks it. A line can only have a
// single handler; registering a new one replaces the previous one.
func Register(line Line, handler Handler) *kernel.Error {
	if line > 15 {
		return errUnknownLine
	}

	handlers[line] = handler
	unmask(line)
	return nil
}

// Unregister removes the handler for line and masks it again.
func Unregister(line Line) {
	if line > 15 {
		return
	}

	mask(line)
	handlers[line] = nil
}

func makeDispatch(line Line) func(*gate.Registers) {
	return func(regs *gate.Registers) {
		if handler := handlers[line]; handler != nil {
			handler(regs)
		} else {
			kfmt.Printf("irq: unhandled interrupt on line %d\n", line)
		}

		sendEOIFn(line)

		if reschedulePendingFn != nil {
			reschedulePendingFn(regs)
		}
	}
}
