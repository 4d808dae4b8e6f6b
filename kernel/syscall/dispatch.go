// Package syscall implements the kernel's int 0x80 entry point: it reads
// the syscall number and arguments out of the trap frame gate.HandleInterrupt
// hands it, routes them to the matching handler, and writes back either a
// return value or a negated Errno, following the same convention a Linux
// i386 libc expects of its kernel.
package syscall

import "github.com/d4ilyrun/kernel-sub002/kernel/gate"

// handler implements one syscall number. Arguments are read directly out
// of regs (EBX, ECX, EDX, ESI, EDI, EBP, in that order, matching the
// Linux i386 int 0x80 ABI); the return value is either a non-negative
// result or an Errno.
type handler func(regs *gate.Registers) (uintptr, Errno)

var table = map[uint32]handler{
	SysExit:    sysExit,
	SysFork:    sysFork,
	SysRead:    sysRead,
	SysWrite:   sysWrite,
	SysOpen:    sysOpen,
	SysClose:   sysClose,
	SysWaitpid: sysWaitpid,
	SysExecve:  sysExecve,
	SysLseek:   sysLseek,
	SysGetpid:  sysGetpid,
	SysKill:    sysKill,
	SysBrk:     sysBrk,
	SysStat:    sysStat,
	SysLstat:   sysLstat,
	SysFstat:   sysFstat,
	SysSbrk:    sysSbrk,
}

// Init registers the syscall gate with the interrupt dispatcher.
func Init() {
	gate.HandleInterrupt(gate.SyscallGate, dispatch)
}

// dispatch is the registered gate.HandleInterrupt handler for vector
// 0x80. It never panics on an unknown syscall number: that is simply
// reported back to the caller as NotImplemented, matching how a real
// kernel responds to a libc built against a newer ABI.
func dispatch(regs *gate.Registers) {
	h, ok := table[regs.EAX]
	if !ok {
		regs.EAX = errnoToReturn(NotImplemented)
		return
	}

	ret, errno := h(regs)
	if errno != Success {
		regs.EAX = errnoToReturn(errno)
		return
	}
	regs.EAX = uint32(ret)
}

func errnoToReturn(e Errno) uint32 {
	return uint32(-int32(e))
}
