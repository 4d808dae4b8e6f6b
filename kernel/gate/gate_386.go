package gate

import (
	"io"

	"github.com/d4ilyrun/kernel-sub002/kernel/kfmt"
)

// Registers contains a snapshot of all register values when an exception,
// interrupt or syscall occurs.
type Registers struct {
	EAX uint32
	EBX uint32
	ECX uint32
	EDX uint32
	ESI uint32
	EDI uint32
	EBP uint32

	// Info contains the interrupt vector number.
	Info uint32

	// ErrorCode is the error code the CPU pushes for some exceptions
	// (e.g. PageFaultException, GPFException); it is normalised to 0 for
	// vectors that don't push one.
	ErrorCode uint32

	// The return frame used by IRET.
	EIP    uint32
	CS     uint32
	EFlags uint32
	ESP    uint32
	SS     uint32
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "EAX = %8x EBX = %8x\n", r.EAX, r.EBX)
	kfmt.Fprintf(w, "ECX = %8x EDX = %8x\n", r.ECX, r.EDX)
	kfmt.Fprintf(w, "ESI = %8x EDI = %8x\n", r.ESI, r.EDI)
	kfmt.Fprintf(w, "EBP = %8x\n", r.EBP)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "EIP = %8x CS  = %8x\n", r.EIP, r.CS)
	kfmt.Fprintf(w, "ESP = %8x SS  = %8x\n", r.ESP, r.SS)
	kfmt.Fprintf(w, "EFL = %8x\n", r.EFlags)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems. It may also be
	// raised by the CPU when a watchdog timer is enabled.
	NMI = InterruptNumber(2)

	// Overflow occurs when an overflow occurs (e.g result of division
	// cannot fit into the registers used).
	Overflow = InterruptNumber(4)

	// BoundRangeExceeded occurs when the BOUND instruction is invoked with
	// an index out of range.
	BoundRangeExceeded = InterruptNumber(5)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an
	// FPU/MMX/SSE instruction while no FPU is available or while
	// FPU/MMX/SSE support has been disabled by manipulating the CR0
	// register.
	DeviceNotAvailable = InterruptNumber(7)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// InvalidTSS occurs when the TSS points to an invalid task segment
	// selector.
	InvalidTSS = InterruptNumber(10)

	// SegmentNotPresent occurs when the CPU attempts to invoke a present
	// gate with an invalid stack segment selector.
	SegmentNotPresent = InterruptNumber(11)

	// StackSegmentFault occurs when attempting to push/pop past the
	// stack segment limit set in the GDT.
	StackSegmentFault = InterruptNumber(12)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)

	// FloatingPointException occurs while invoking an FP instruction while:
	//  - CR0.NE = 1 OR
	//  - an unmasked FP exception is pending
	FloatingPointException = InterruptNumber(16)

	// AlignmentCheck occurs when alignment checks are enabled and an
	// unaligned memory access is performed.
	AlignmentCheck = InterruptNumber(17)

	// MachineCheck occurs when the CPU detects internal errors such as
	// memory-, bus- or cache-related errors.
	MachineCheck = InterruptNumber(18)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs while CR4.OSXMMEXCPT is set to 1. If the OSXMMEXCPT bit is
	// not set, SIMD FP exceptions cause InvalidOpcode exceptions instead.
	SIMDFloatingPointException = InterruptNumber(19)

	// SyscallGate is the software interrupt vector used to enter the
	// kernel from ring 3 (INT 0x80).
	SyscallGate = InterruptNumber(0x80)
)

// vectorHandlers holds the currently registered handler for each of the 256
// IDT vectors; a nil entry means the vector is unhandled.
var vectorHandlers [256]func(*Registers)

// Init runs the appropriate CPU-specific initialization code for enabling
// support for interrupt handling.
func Init() {
	installIDT()
}

// HandleInterrupt ensures that the provided handler will be invoked when a
// particular interrupt number occurs. Unlike amd64, i386 gate descriptors
// carry no interrupt-stack-table offset; the handler always runs on the
// stack selected by the TSS (for a ring transition) or the interrupted
// task's own stack (for a same-ring interrupt).
func HandleInterrupt(intNumber InterruptNumber, handler func(*Registers)) {
	vectorHandlers[intNumber] = handler
}

// ResumeTrapFrame loads every field of regs into the CPU and performs the
// ring transition an IRETL normally would at the tail of gateCommon. It
// never returns. Used to start a brand new thread directly inside a
// previously captured trap frame instead of at an ordinary function entry
// point, e.g. to resume a forked child exactly where its parent's syscall
// handler found it.
func ResumeTrapFrame(regs *Registers)

// dispatchCommon is invoked by the generated gate entry stubs (gate_386.s)
// with a pointer to the just-built register snapshot. It locates the
// handler registered for regs.Info (the vector number) and runs it; an
// unregistered vector only logs a warning.
func dispatchCommon(regs *Registers) {
	handler := vectorHandlers[InterruptNumber(regs.Info)]
	if handler == nil {
		kfmt.Printf("gate: unhandled interrupt, vector=%d\n", regs.Info)
		return
	}
	handler(regs)
}

// installIDT populates the IDT with the generated per-vector entry stubs
// and loads it into the CPU via LIDT. All vectors are wired up from the
// start (pointing at dispatchCommon); HandleInterrupt only changes which Go
// function dispatchCommon calls for a given vector.
func installIDT()
