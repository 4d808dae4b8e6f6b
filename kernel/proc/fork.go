package proc

import (
	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/gate"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm/vmm"
	"github.com/d4ilyrun/kernel-sub002/kernel/sched"
)

// newForkedThreadFn is a test seam: unit tests never want to drive the
// real trap-frame-resuming assembly.
var newForkedThreadFn = sched.NewForkedThread

// Fork creates a child process that shares p's segments via copy-on-write:
// every currently writable *and already faulted-in* page is downgraded to
// read-only with FlagCopyOnWrite set in both address spaces (kernel/mm/vmm's
// page fault handler already knows how to service the resulting fault by
// giving each side its own private copy on the first write), and the
// underlying frame's reference count is bumped to account for the new
// owner. A page that was never touched (segments are backed lazily; see
// MapSegment) has no frame to share yet, so it's simply recorded in the
// child's segment list as-is and each side independently faults its own
// copy in on first use.
//
// regs is the trap frame kernel/syscall is holding for the parent's int
// 0x80 fork call; the child's thread is built to resume inside an
// identical copy of it, except for EAX, which the caller is expected to
// have already set to 0 (the syscall's per-process return value) before
// calling Fork.
func (p *Process) Fork(regs gate.Registers) (*Process, *kernel.Error) {
	child, err := NewProcess(p.Name, p)
	if err != nil {
		return nil, err
	}

	for i, seg := range p.Segments {
		cowFlags := seg.Flags
		if cowFlags&vmm.FlagRW != 0 {
			cowFlags = (cowFlags &^ vmm.FlagRW) | vmm.FlagCopyOnWrite
		}

		pageCount := seg.Size / mm.PageSize
		for i := uintptr(0); i < pageCount; i++ {
			addr := seg.Start + i*mm.PageSize
			page := mm.PageFromAddress(addr)

			physAddr, err := pdtTranslateFn(p, addr)
			if err != nil {
				// Page was never faulted in; nothing to share yet.
				continue
			}
			frame := mm.Frame(physAddr >> mm.PageShift)

			getFrameFn(frame)

			if err := pdtMapFn(p, page, frame, cowFlags); err != nil {
				return nil, err
			}
			if err := pdtMapFn(child, page, frame, cowFlags); err != nil {
				return nil, err
			}
		}

		p.Segments[i].Flags = cowFlags

		childSeg := seg
		childSeg.Flags = cowFlags
		child.Segments = append(child.Segments, childSeg)
	}

	thread, err := newForkedThreadFn(child.Name, pdtFrameFn(child).Address(), regs)
	if err != nil {
		return nil, err
	}
	thread.Proc = child
	child.MainThread = thread

	return child, nil
}
