package syscall

import (
	"testing"

	"github.com/d4ilyrun/kernel-sub002/kernel/gate"
)

func TestDispatchUnknownSyscallReturnsNotImplemented(t *testing.T) {
	regs := &gate.Registers{EAX: 0xdead}
	dispatch(regs)

	if Errno(-int32(regs.EAX)) != NotImplemented {
		t.Errorf("expected NotImplemented, got errno %d", -int32(regs.EAX))
	}
}

func TestDispatchSuccessWritesReturnValue(t *testing.T) {
	orig := table[SysGetpid]
	t.Cleanup(func() { table[SysGetpid] = orig })
	table[SysGetpid] = func(regs *gate.Registers) (uintptr, Errno) {
		return 42, Success
	}

	regs := &gate.Registers{EAX: SysGetpid}
	dispatch(regs)

	if regs.EAX != 42 {
		t.Errorf("expected EAX == 42, got %d", regs.EAX)
	}
}

func TestDispatchErrorNegatesErrno(t *testing.T) {
	orig := table[SysGetpid]
	t.Cleanup(func() { table[SysGetpid] = orig })
	table[SysGetpid] = func(regs *gate.Registers) (uintptr, Errno) {
		return 0, Inval
	}

	regs := &gate.Registers{EAX: SysGetpid}
	dispatch(regs)

	if Errno(-int32(regs.EAX)) != Inval {
		t.Errorf("expected Inval, got errno %d", -int32(regs.EAX))
	}
}
