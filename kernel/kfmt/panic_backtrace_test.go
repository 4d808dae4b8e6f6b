package kfmt

import (
	"bytes"
	"github.com/d4ilyrun/kernel-sub002/kernel/cpu"
	"github.com/d4ilyrun/kernel-sub002/kernel/symtab"
	"strings"
	"testing"
	"unsafe"
)

// TestPanicBacktrace exercises printBacktrace/printStackDump against a
// fabricated two-frame call chain, rather than the real CPU registers: a
// hosted test has no control over its own EBP chain, so framePointerFn and
// stackPointerFn are stubbed to walk a small in-memory array we build by
// hand.
func TestPanicBacktrace(t *testing.T) {
	defer func() {
		cpuHaltFn = cpu.Halt
		framePointerFn = cpu.FramePointer
		stackPointerFn = cpu.StackPointer
		symtab.Load(nil)
	}()

	cpuHaltFn = func() {}

	// Two fabricated frames: frame[0] is "current", saved-BP points at
	// frame[1], and the return address slot (bp+4) holds a fake code
	// address for each.
	const callerAddr = 0x2010
	const callerEntry = 0x2000
	const calleeAddr = 0x1050
	const calleeEntry = 0x1000

	symtab.Load([]symtab.Symbol{
		{Addr: calleeEntry, Name: "calleeFn"},
		{Addr: callerEntry, Name: "callerFn"},
	})

	var frames [2][2]uintptr // [i][0]=saved BP, [i][1]=return address
	frameAddr := func(i int) uintptr { return uintptr(unsafe.Pointer(&frames[i][0])) }

	frames[0][0] = frameAddr(1)
	frames[0][1] = calleeAddr
	frames[1][0] = 0
	frames[1][1] = callerAddr

	framePointerFn = func() uintptr { return frameAddr(0) }
	stackPointerFn = func() uintptr { return frameAddr(0) }

	var buf bytes.Buffer
	SetOutputSink(&buf)
	defer SetOutputSink(nil)

	Panic("fabricated fault")

	out := buf.String()

	if !strings.Contains(out, "Backtrace:") {
		t.Fatalf("expected a Backtrace section, got:\n%s", out)
	}
	if !strings.Contains(out, "calleeFn+0x50") {
		t.Fatalf("expected calleeFn frame to be resolved, got:\n%s", out)
	}
	if !strings.Contains(out, "callerFn+0x10") {
		t.Fatalf("expected callerFn frame to be resolved, got:\n%s", out)
	}
	if !strings.Contains(out, "Stack:") {
		t.Fatalf("expected a Stack section, got:\n%s", out)
	}
}
