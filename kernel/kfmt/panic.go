package kfmt

import (
	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/cpu"
	"github.com/d4ilyrun/kernel-sub002/kernel/symtab"
	"unsafe"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	// framePointerFn and stackPointerFn back the backtrace/stack dump and
	// are stubbed by the backtrace test. With no symtab loaded the
	// backtrace and stack dump print nothing, leaving the other
	// expectations on Panic's output unaffected.
	framePointerFn = cpu.FramePointer
	stackPointerFn = cpu.StackPointer

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// maxBacktraceFrames bounds the saved-EBP chain walk so a corrupt or
// non-frame-pointer-using call chain can't loop forever.
const maxBacktraceFrames = 16

// maxStackDumpWords is how many words of the faulting stack are dumped below
// the backtrace.
const maxStackDumpWords = 8

// Panic outputs the supplied error (if not nil) to the console and halts the
// CPU. Calls to Panic never return. Panic also works as a redirection target
// for calls to panic() (resolved via runtime.gopanic)
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	printBacktrace()
	printStackDump()

	cpuHaltFn()
}

// printBacktrace walks the saved-EBP chain starting at the caller of Panic,
// printing one line per frame whose return address resolves to a known
// symbol. Nothing is printed unless a symtab has been loaded, so a test
// that does not call symtab.Load leaves Panic's output unchanged.
func printBacktrace() {
	if !symtab.Loaded() {
		return
	}

	bp := framePointerFn()
	Printf("\nBacktrace:\n")

	for i := 0; i < maxBacktraceFrames && bp != 0; i++ {
		retAddr := *(*uintptr)(unsafe.Pointer(bp + 4))

		name, offset, ok := symtab.Lookup(retAddr)
		if !ok {
			break
		}
		Printf("  #%d 0x%x %s+0x%x\n", i, retAddr, name, offset)

		bp = *(*uintptr)(unsafe.Pointer(bp))
	}
}

// printStackDump prints a handful of words from the top of the stack at the
// point Panic was called, for manual inspection when the backtrace above
// runs out of resolvable frames.
func printStackDump() {
	if !symtab.Loaded() {
		return
	}

	sp := stackPointerFn()
	if sp == 0 {
		return
	}

	Printf("\nStack:\n")
	for i := 0; i < maxStackDumpWords; i++ {
		word := *(*uintptr)(unsafe.Pointer(sp + uintptr(i)*4))
		Printf("  0x%x: 0x%x\n", sp+uintptr(i)*4, word)
	}
}

// panicString serves as a redirect target for runtime.throw
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
