package sched

import (
	"unsafe"

	"github.com/d4ilyrun/kernel-sub002/kernel/gate"
)

// buildInitialStack lays out a brand new thread's kernel stack so that the
// first cpu.SwitchContext into it behaves as if it were returning from an
// earlier SwitchContext call make by that same thread: SwitchContext's
// epilogue pops SI, DI, BP (in that order) and then returns, so the stack,
// from low to high address, must hold: SI, DI, BP, return address. Using
// entry itself as the return address means RET jumps straight into it.
func buildInitialStack(stackTop uintptr, entry uintptr) uintptr {
	sp := stackTop

	sp -= 4
	*(*uint32)(unsafe.Pointer(sp)) = uint32(entry)

	sp -= 4
	*(*uint32)(unsafe.Pointer(sp)) = 0 // BP

	sp -= 4
	*(*uint32)(unsafe.Pointer(sp)) = 0 // DI

	sp -= 4
	*(*uint32)(unsafe.Pointer(sp)) = 0 // SI

	return sp
}

// FuncPC returns the entry address of a zero-argument, zero-return Go
// function, suitable for use as NewThread's entry. f must not be a closure:
// capturing free variables would turn it into a pointer to a funcval rather
// than code, which this one dereference does not account for.
func FuncPC(f func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&f))
}

// resumeTrampoline is the entry point for a thread built by
// buildResumeStack: it hands the current thread's captured trap frame to
// gate.ResumeTrapFrame, which never returns.
func resumeTrampoline() {
	gate.ResumeTrapFrame(Current().resumeRegs)
}

// buildResumeStack is buildInitialStack specialised for a thread whose
// first run resumes directly inside a previously captured trap frame
// (regs, stashed on t beforehand) instead of at a plain function entry.
func buildResumeStack(stackTop uintptr) uintptr {
	return buildInitialStack(stackTop, FuncPC(resumeTrampoline))
}
