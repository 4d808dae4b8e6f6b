package proc

import (
	"unsafe"

	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm/vmm"
	"github.com/d4ilyrun/kernel-sub002/kernel/vfs"
)

// VMFlag carries allocation semantics for a segment that aren't page
// protection bits; those live in vmm.PageTableEntryFlag and are enforced
// by the MMU, while these only affect how a segment's driver behaves.
type VMFlag uint8

const (
	// VMClear zeroes a frame the first time a segment's driver backs it
	// in, rather than exposing whatever the frame previously held.
	VMClear VMFlag = 1 << iota
)

var (
	errSegmentOverlap     = &kernel.Error{Module: "proc", Message: "segment overlaps an existing mapping"}
	errNoSegmentForFault  = &kernel.Error{Module: "proc", Message: "fault address is outside of every mapped segment"}
	errFrameCountMismatch = &kernel.Error{Module: "proc", Message: "frame count does not match segment page count"}
)

// init wires vmm's page fault handler to handleAddressSpaceFault. vmm
// cannot import proc back (proc already imports vmm), so the dependency
// runs through this registration callback instead.
func init() {
	vmm.SetAddressSpaceFaultHandler(handleAddressSpaceFault)
}

// handleAddressSpaceFault services a page fault that wasn't a CoW write, by
// finding the segment covering faultAddress in the currently running
// process and asking its driver to fault a backing frame into it. Returns
// errNoSegmentForFault if faultAddress falls outside every segment, which
// vmm treats as a genuine access violation.
func handleAddressSpaceFault(faultAddress uintptr) *kernel.Error {
	p := Current()

	for _, seg := range p.Segments {
		if seg.Contains(faultAddress) {
			return seg.driver.fault(p, seg, faultAddress)
		}
	}

	return errNoSegmentForFault
}

// Segment describes one contiguous, page-aligned range of a process's
// address space (e.g. text, data, heap, stack), the protection flags every
// page in it is mapped with, and the driver responsible for backing its
// pages with physical memory.
type Segment struct {
	Start   uintptr
	Size    uintptr
	Flags   vmm.PageTableEntryFlag
	VMFlags VMFlag

	driver segmentDriver

	// file and fileOffset are only meaningful for segments backed by a
	// vnodeDriver: file is the open file a page's contents are read
	// from, and fileOffset is the file offset that corresponds to Start.
	file       vfs.File
	fileOffset int64
}

// End returns the address one past the last byte of the segment.
func (s Segment) End() uintptr { return s.Start + s.Size }

// Contains reports whether addr falls inside the segment.
func (s Segment) Contains(addr uintptr) bool {
	return addr >= s.Start && addr < s.End()
}

// Overlaps reports whether s and other share any address.
func (s Segment) Overlaps(other Segment) bool {
	return s.Start < other.End() && other.Start < s.End()
}

// pageCount returns the number of pages Size spans.
func (s Segment) pageCount() uintptr {
	return s.Size / mm.PageSize
}

// segmentDriver backs the pages of a segment with physical memory. alloc
// and allocAt install the bookkeeping returned by MapSegment/the ELF
// loader; fault services a page fault lazily; free and resize tear down or
// adjust an already-installed segment.
type segmentDriver interface {
	// alloc records a freshly described segment without backing any of
	// its pages; they are faulted in lazily, one at a time, via fault.
	alloc(p *Process, seg Segment) (Segment, *kernel.Error)

	// allocAt eagerly backs seg using the caller-supplied frames, one
	// per page in address order, pinning each with getFrameFn. If any
	// page fails to map, frames already mapped for this call are
	// released and unmapped before the error is returned.
	allocAt(p *Process, seg Segment, frames []mm.Frame) (Segment, *kernel.Error)

	// free releases every frame backing seg and removes its mappings.
	// Pages that were never faulted in are silently skipped.
	free(p *Process, seg Segment) *kernel.Error

	// fault lazily backs the page containing addr, which must fall
	// inside seg, in response to a page fault.
	fault(p *Process, seg Segment, addr uintptr) *kernel.Error

	// resize grows or shrinks seg to newSize, releasing the frames
	// backing any page dropped by a shrink.
	resize(p *Process, seg *Segment, newSize uintptr) *kernel.Error
}

// mapTemporaryFn and tempUnmapFn give segment drivers a scratch mapping to
// write into a frame that isn't yet mapped anywhere in the faulting
// process's own address space. They are only safe to call while the
// faulting process's page directory is the active one, which holds for
// every call site in this file (fault runs synchronously off a real page
// fault, allocAt only runs against a process that's being set up before
// it's ever scheduled away from).
var (
	mapTemporaryFn = vmm.MapTemporary
	tempUnmapFn    = vmm.Unmap
)

// zeroFrame clears frame's contents via a temporary mapping.
func zeroFrame(frame mm.Frame) *kernel.Error {
	page, err := mapTemporaryFn(frame)
	if err != nil {
		return err
	}
	kernel.Memset(page.Address(), 0, mm.PageSize)
	return tempUnmapFn(page)
}

// mapFrames pins and maps frames (one per page of seg, in address order)
// with flags, rolling back every page it mapped if one fails partway
// through.
func mapFrames(p *Process, seg Segment, frames []mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
	if uintptr(len(frames)) != seg.pageCount() {
		return errFrameCountMismatch
	}

	for i, frame := range frames {
		getFrameFn(frame)
		page := mm.PageFromAddress(seg.Start + uintptr(i)*mm.PageSize)
		if err := pdtMapFn(p, page, frame, flags); err != nil {
			for j := 0; j < i; j++ {
				rpage := mm.PageFromAddress(seg.Start + uintptr(j)*mm.PageSize)
				_ = pdtUnmapFn(p, rpage)
				_ = putFrameFn(frames[j])
			}
			_ = putFrameFn(frame)
			return err
		}
	}

	return nil
}

// unmapFrames releases and unmaps every page of seg that currently
// translates to a physical frame, tolerating pages that were never backed.
func unmapFrames(p *Process, seg Segment) *kernel.Error {
	pageCount := seg.pageCount()
	for i := uintptr(0); i < pageCount; i++ {
		addr := seg.Start + i*mm.PageSize
		if physAddr, err := pdtTranslateFn(p, addr); err == nil {
			_ = putFrameFn(mm.Frame(physAddr >> mm.PageShift))
		}
		_ = pdtUnmapFn(p, mm.PageFromAddress(addr))
	}
	return nil
}

// normalDriver backs a segment with anonymous memory, allocated lazily one
// frame at a time as each page is first faulted in.
type normalDriver struct{}

func (normalDriver) alloc(_ *Process, seg Segment) (Segment, *kernel.Error) {
	seg.driver = normalDriver{}
	return seg, nil
}

func (normalDriver) allocAt(p *Process, seg Segment, frames []mm.Frame) (Segment, *kernel.Error) {
	seg.driver = normalDriver{}
	if err := mapFrames(p, seg, frames, seg.Flags); err != nil {
		return Segment{}, err
	}
	return seg, nil
}

func (normalDriver) free(p *Process, seg Segment) *kernel.Error {
	return unmapFrames(p, seg)
}

func (normalDriver) fault(p *Process, seg Segment, addr uintptr) *kernel.Error {
	frame, err := allocFrameFn()
	if err != nil {
		return err
	}

	if seg.VMFlags&VMClear != 0 {
		if err := zeroFrame(frame); err != nil {
			_ = putFrameFn(frame)
			return err
		}
	}

	page := mm.PageFromAddress(addr)
	if err := pdtMapFn(p, page, frame, seg.Flags); err != nil {
		_ = putFrameFn(frame)
		return err
	}
	return nil
}

func (normalDriver) resize(p *Process, seg *Segment, newSize uintptr) *kernel.Error {
	return resizeReleasingTail(p, seg, newSize)
}

// vnodeDriver backs a segment with the contents of an open file, starting
// at fileOffset. Pages are faulted in lazily, each one populated by
// reading its slice of the file; resize releases frames for any page a
// shrink drops past the new end.
type vnodeDriver struct{}

func (vnodeDriver) alloc(_ *Process, seg Segment) (Segment, *kernel.Error) {
	seg.driver = vnodeDriver{}
	return seg, nil
}

func (vnodeDriver) allocAt(p *Process, seg Segment, frames []mm.Frame) (Segment, *kernel.Error) {
	seg.driver = vnodeDriver{}
	if err := mapFrames(p, seg, frames, seg.Flags); err != nil {
		return Segment{}, err
	}
	return seg, nil
}

func (vnodeDriver) free(p *Process, seg Segment) *kernel.Error {
	return unmapFrames(p, seg)
}

func (vnodeDriver) fault(p *Process, seg Segment, addr uintptr) *kernel.Error {
	frame, err := allocFrameFn()
	if err != nil {
		return err
	}

	pageAddr := mm.PageFromAddress(addr).Address()
	if err := populateVnodePage(seg, frame, pageAddr); err != nil {
		_ = putFrameFn(frame)
		return err
	}

	if err := pdtMapFn(p, mm.PageFromAddress(addr), frame, seg.Flags); err != nil {
		_ = putFrameFn(frame)
		return err
	}
	return nil
}

// populateVnodePage reads the file-backed contents of the page starting at
// pageAddr into frame via a temporary mapping, zero-filling whatever the
// file doesn't cover (a page straddling the file's end, or VMClear set).
func populateVnodePage(seg Segment, frame mm.Frame, pageAddr uintptr) *kernel.Error {
	page, err := mapTemporaryFn(frame)
	if err != nil {
		return err
	}
	defer func() { _ = tempUnmapFn(page) }()

	kernel.Memset(page.Address(), 0, mm.PageSize)

	if seg.file == nil {
		return nil
	}

	offset := seg.fileOffset + int64(pageAddr-seg.Start)
	if _, err := seg.file.Seek(offset, 0); err != nil {
		return &kernel.Error{Module: "proc", Message: "vnode segment seek: " + err.Error()}
	}

	buf := make([]byte, mm.PageSize)
	n, rerr := seg.file.Read(buf)
	if rerr != nil && n == 0 {
		return &kernel.Error{Module: "proc", Message: "vnode segment read: " + rerr.Error()}
	}
	kernel.Memcopy(uintptr(unsafe.Pointer(&buf[0])), page.Address(), uintptr(n))

	return nil
}

func (vnodeDriver) resize(p *Process, seg *Segment, newSize uintptr) *kernel.Error {
	return resizeReleasingTail(p, seg, newSize)
}

// resizeReleasingTail grows or shrinks seg to newSize in place. Growing only
// extends Size; pages in the new range are faulted in lazily like any other
// page. Shrinking releases the frame backing (if any) of every page past
// the new end and removes its mapping before updating Size.
func resizeReleasingTail(p *Process, seg *Segment, newSize uintptr) *kernel.Error {
	newSize = (newSize + mm.PageSize - 1) &^ (mm.PageSize - 1)

	if newSize >= seg.Size {
		seg.Size = newSize
		return nil
	}

	for addr := seg.Start + newSize; addr < seg.End(); addr += mm.PageSize {
		if physAddr, err := pdtTranslateFn(p, addr); err == nil {
			_ = putFrameFn(mm.Frame(physAddr >> mm.PageShift))
		}
		if err := pdtUnmapFn(p, mm.PageFromAddress(addr)); err != nil {
			return err
		}
	}

	seg.Size = newSize
	return nil
}
