package proc

import (
	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/gate"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm/vmm"
)

func pteFlags(flags uintptr) vmm.PageTableEntryFlag {
	return vmm.PageTableEntryFlag(flags)
}

// ImageSegment describes one segment an ELF loader (or other collaborator)
// wants mapped as part of replacing a process's image.
type ImageSegment struct {
	Addr  uintptr
	Size  uintptr
	Flags uintptr
}

// Exec replaces p's user segments with newSegments, then rewrites regs (the
// trap frame the calling syscall handler is holding) so that the eventual
// IRET resumes execution at entry/stackTop instead of wherever the
// executing process was interrupted. It does not touch p's kernel thread:
// the same kernel stack and Thread object carry on running, only the
// user-mode state they return to changes.
func (p *Process) Exec(entry uintptr, stackTop uintptr, newSegments []ImageSegment, regs *gate.Registers) *kernel.Error {
	p.UnmapAllSegments()

	for _, seg := range newSegments {
		if _, err := p.MapSegment(seg.Addr, seg.Size, pteFlags(seg.Flags)); err != nil {
			return err
		}
	}

	regs.EIP = uint32(entry)
	regs.ESP = uint32(stackTop)

	return nil
}

// UnmapAllSegments tears down every one of p's current user segments,
// freeing their backing frames. Exec uses it before mapping a fresh
// image; an elf.Loader driving execve directly does the same before
// populating p's address space itself.
func (p *Process) UnmapAllSegments() {
	for _, seg := range p.Segments {
		_ = seg.driver.free(p, seg)
	}
	p.Segments = nil
}
