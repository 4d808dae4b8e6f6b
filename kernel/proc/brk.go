package proc

import (
	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm/vmm"
)

// heapBase is the fixed virtual address every process's heap segment
// starts at. Picking a single well-known address keeps the first Sbrk
// call simple: there's no need to consult the rest of the segment list
// to find room for it.
const heapBase = 0x40000000

// Sbrk grows (or, if increment is negative, shrinks) the process's heap
// segment by increment bytes and returns the address the heap used to
// end at, matching the traditional sbrk(2) return convention. A zero
// increment is the usual way to query the current break.
func (p *Process) Sbrk(increment int) (uintptr, *kernel.Error) {
	p.lock.Acquire()
	if p.brk == 0 {
		p.brk = heapBase
	}
	oldBrk := p.brk
	newBrk := uintptr(int(oldBrk) + increment)
	p.lock.Release()

	if increment == 0 {
		return oldBrk, nil
	}

	if increment > 0 {
		if _, err := p.growHeap(oldBrk, newBrk); err != nil {
			return 0, err
		}
	} else {
		if err := p.shrinkHeap(newBrk, oldBrk); err != nil {
			return 0, err
		}
	}

	p.lock.Acquire()
	p.brk = newBrk
	p.lock.Release()

	return oldBrk, nil
}

// growHeap extends the heap segment's size to cover up to newBrk, creating
// it on the first call. Like any other Normal segment, the new range isn't
// backed by frames here: each page is faulted in lazily by normalDriver
// the first time the process touches it.
func (p *Process) growHeap(oldBrk, newBrk uintptr) (Segment, *kernel.Error) {
	pageStart := oldBrk &^ (mm.PageSize - 1)
	size := newBrk - pageStart

	for i, seg := range p.Segments {
		if seg.Start == heapBase {
			if err := seg.driver.resize(p, &p.Segments[i], newBrk-heapBase); err != nil {
				return Segment{}, err
			}
			return p.Segments[i], nil
		}
	}

	return p.MapSegment(pageStart, size, vmm.FlagPresent|vmm.FlagRW)
}

// shrinkHeap releases every frame no longer covered once the heap segment
// shrinks down to newBrk.
func (p *Process) shrinkHeap(newBrk, oldBrk uintptr) *kernel.Error {
	for i, seg := range p.Segments {
		if seg.Start != heapBase {
			continue
		}
		return seg.driver.resize(p, &p.Segments[i], newBrk-heapBase)
	}

	return nil
}
