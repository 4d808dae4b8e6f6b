package syscall

import (
	"encoding/binary"
	"io"

	"github.com/d4ilyrun/kernel-sub002/kernel/elf"
	"github.com/d4ilyrun/kernel-sub002/kernel/gate"
	"github.com/d4ilyrun/kernel-sub002/kernel/proc"
	"github.com/d4ilyrun/kernel-sub002/kernel/vfs"
)

// FS and Loader are the collaborators the file- and exec-related syscalls
// need. Both are nil until whatever owns the concrete filesystem/ELF
// parser sets them during boot; every handler that needs one reports
// NotImplemented until then instead of dereferencing a nil interface.
var (
	FS     vfs.FileSystem
	Loader elf.Loader
)

// currentFn is a test seam: a hosted test has no running scheduler to ask
// proc.Current, so tests substitute a fixed *proc.Process instead.
var currentFn = proc.Current

func sysExit(regs *gate.Registers) (uintptr, Errno) {
	currentFn().Exit(int(int32(regs.EBX)))
	return 0, Success
}

func sysFork(regs *gate.Registers) (uintptr, Errno) {
	childRegs := *regs
	childRegs.EAX = 0

	child, err := currentFn().Fork(childRegs)
	if err != nil {
		return 0, fromKernelError(err)
	}
	return uintptr(child.PID), Success
}

func sysGetpid(regs *gate.Registers) (uintptr, Errno) {
	return uintptr(currentFn().PID), Success
}

func sysWaitpid(regs *gate.Registers) (uintptr, Errno) {
	pid, status, err := currentFn().Waitpid(regs.EBX)
	if err != nil {
		return 0, NoSuchProcess
	}

	if statusAddr := uintptr(regs.ECX); statusAddr != 0 {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(status))
		writeUserBytesFn(statusAddr, buf)
	}

	return uintptr(pid), Success
}

// sysKill only validates that the target process exists: actually
// interrupting another thread's execution needs signal delivery, which
// isn't implemented.
func sysKill(regs *gate.Registers) (uintptr, Errno) {
	if _, ok := proc.Lookup(regs.EBX); !ok {
		return 0, NoSuchProcess
	}
	return 0, NotImplemented
}

func sysBrk(regs *gate.Registers) (uintptr, Errno) {
	p := currentFn()
	requested := uintptr(regs.EBX)

	cur, err := p.Sbrk(0)
	if err != nil {
		return 0, fromKernelError(err)
	}
	if requested == 0 {
		return cur, Success
	}

	if _, err := p.Sbrk(int(requested) - int(cur)); err != nil {
		// brk(2) returns the unchanged break on failure rather than
		// an error.
		return cur, Success
	}
	return requested, Success
}

func sysSbrk(regs *gate.Registers) (uintptr, Errno) {
	old, err := currentFn().Sbrk(int(int32(regs.EBX)))
	if err != nil {
		return 0, fromKernelError(err)
	}
	return old, Success
}

func sysOpen(regs *gate.Registers) (uintptr, Errno) {
	if FS == nil {
		return 0, NotImplemented
	}

	path := readUserCStringFn(uintptr(regs.EBX))
	f, err := FS.Open(path, int(regs.ECX))
	if err != nil {
		return 0, NoEnt
	}

	return uintptr(currentFn().AddFile(f)), Success
}

func sysClose(regs *gate.Registers) (uintptr, Errno) {
	if err := currentFn().CloseFile(int(regs.EBX)); err != nil {
		return 0, BadFD
	}
	return 0, Success
}

func sysRead(regs *gate.Registers) (uintptr, Errno) {
	f, err := currentFn().File(int(regs.EBX))
	if err != nil {
		return 0, BadFD
	}

	buf := make([]byte, regs.EDX)
	n, rerr := f.Read(buf)
	if n > 0 {
		writeUserBytesFn(uintptr(regs.ECX), buf[:n])
	}
	if rerr != nil && rerr != io.EOF && n == 0 {
		return 0, IO
	}
	return uintptr(n), Success
}

func sysWrite(regs *gate.Registers) (uintptr, Errno) {
	f, err := currentFn().File(int(regs.EBX))
	if err != nil {
		return 0, BadFD
	}

	data := readUserBytesFn(uintptr(regs.ECX), int(regs.EDX))
	n, werr := f.Write(data)
	if werr != nil {
		return uintptr(n), IO
	}
	return uintptr(n), Success
}

func sysLseek(regs *gate.Registers) (uintptr, Errno) {
	f, err := currentFn().File(int(regs.EBX))
	if err != nil {
		return 0, BadFD
	}

	off, serr := f.Seek(int64(int32(regs.ECX)), int(regs.EDX))
	if serr != nil {
		return 0, Inval
	}
	return uintptr(off), Success
}

// statToUser packs the handful of fields the syscall ABI exposes. Nothing
// else in the kernel builds or parses a full stat struct yet, so this is
// deliberately not the real on-disk layout a libc would expect.
func statToUser(addr uintptr, st vfs.Stat) {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(st.Size))
	binary.LittleEndian.PutUint32(buf[8:12], st.Mode)
	if st.IsDir {
		buf[12] = 1
	}
	writeUserBytesFn(addr, buf)
}

func sysFstat(regs *gate.Registers) (uintptr, Errno) {
	f, err := currentFn().File(int(regs.EBX))
	if err != nil {
		return 0, BadFD
	}

	st, serr := f.Stat()
	if serr != nil {
		return 0, IO
	}
	statToUser(uintptr(regs.ECX), st)
	return 0, Success
}

func sysStat(regs *gate.Registers) (uintptr, Errno) {
	return statByPath(regs)
}

func sysLstat(regs *gate.Registers) (uintptr, Errno) {
	// Symlinks aren't a concept FS implements; lstat behaves like stat.
	return statByPath(regs)
}

func statByPath(regs *gate.Registers) (uintptr, Errno) {
	if FS == nil {
		return 0, NotImplemented
	}

	path := readUserCStringFn(uintptr(regs.EBX))
	f, err := FS.Open(path, 0)
	if err != nil {
		return 0, NoEnt
	}
	defer f.Close()

	st, serr := f.Stat()
	if serr != nil {
		return 0, IO
	}
	statToUser(uintptr(regs.ECX), st)
	return 0, Success
}

func sysExecve(regs *gate.Registers) (uintptr, Errno) {
	if FS == nil || Loader == nil {
		return 0, NotImplemented
	}

	path := readUserCStringFn(uintptr(regs.EBX))
	f, err := FS.Open(path, 0)
	if err != nil {
		return 0, NoEnt
	}
	defer f.Close()

	st, serr := f.Stat()
	if serr != nil {
		return 0, IO
	}

	image := make([]byte, st.Size)
	if _, rerr := io.ReadFull(f, image); rerr != nil {
		return 0, IO
	}

	p := currentFn()
	p.UnmapAllSegments()

	entry, lerr := Loader.Load(p, image)
	if lerr != nil {
		return 0, Inval
	}

	regs.EIP = uint32(entry)
	regs.ESP = uint32(execStackTop)

	return 0, Success
}

// execStackTop is the fixed virtual address a freshly loaded image's stack
// starts at. elf.Loader is responsible for mapping it as part of Load.
const execStackTop = 0x7ffff000
