package vmm

import (
	"unsafe"

	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/cpu"
	"github.com/d4ilyrun/kernel-sub002/kernel/mem"
	"github.com/d4ilyrun/kernel-sub002/kernel/mem/pmm"
)

// ReservedZeroedFrame is a single zero-filled frame set up by Init and
// shared by every lazily-allocated page until it is first written to. A
// page mapped to this frame with FlagCopyOnWrite reads as zero but faults
// on write, at which point the fault handler swaps in a private frame; see
// pageFaultHandler in vmm.go for the full sequence.
var ReservedZeroedFrame pmm.Frame

var (
	// protectReservedZeroedPage forbids RW mappings of ReservedZeroedFrame
	// once it has been carved out by Init; before that it is just frame 0.
	protectReservedZeroedPage bool

	// nextAddrFn overrides the address Map clears a newly allocated table
	// at. Tests substitute a buffer; the kernel build inlines the identity.
	nextAddrFn = func(entryAddr uintptr) uintptr { return entryAddr }

	// flushTLBEntryFn invalidates a single TLB entry; faults in user-mode
	// test binaries, so tests override it.
	flushTLBEntryFn = cpu.FlushTLBEntry

	earlyReserveRegionFn = EarlyReserveRegion

	errNoHugePageSupport           = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errAttemptToRWMapReservedFrame = &kernel.Error{Module: "vmm", Message: "reserved blank frame cannot be mapped with a RW flag"}
)

// Map installs a mapping from page to frame in the active page directory,
// allocating and zeroing any intermediate table that doesn't exist yet at
// a given level. Mapping ReservedZeroedFrame as writable is rejected once
// protectReservedZeroedPage is set.
func Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if protectReservedZeroedPage && frame == ReservedZeroedFrame && flags&FlagRW != 0 {
		return errAttemptToRWMapReservedFrame
	}

	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		if pte.HasFlags(FlagPresent) {
			return true
		}

		tableFrame, allocErr := frameAllocator()
		if allocErr != nil {
			err = allocErr
			return false
		}

		*pte = 0
		pte.SetFrame(tableFrame)
		pte.SetFlags(FlagPresent | FlagRW)

		tableAddr := uintptr(unsafe.Pointer(pte)) << pageLevelBits[pteLevel+1]
		mem.Memset(nextAddrFn(tableAddr), 0, mem.PageSize)
		return true
	})

	return err
}

// MapRegion reserves the next size bytes (rounded up to a page multiple) of
// unused kernel virtual address space and maps them to the contiguous run
// of physical frames starting at frame, returning the Page the region
// begins at.
func MapRegion(frame pmm.Frame, size mem.Size, flags PageTableEntryFlag) (Page, *kernel.Error) {
	size = (size + mem.PageSize - 1) &^ (mem.PageSize - 1)

	regionStart, err := earlyReserveRegionFn(size)
	if err != nil {
		return 0, err
	}

	startPage := PageFromAddress(regionStart)
	pageCount := size >> mem.PageShift
	for page := startPage; pageCount > 0; pageCount, page, frame = pageCount-1, page+1, frame+1 {
		if err := mapFn(page, frame, flags); err != nil {
			return 0, err
		}
	}

	return startPage, nil
}

// MapTemporary maps frame at a single fixed scratch virtual address,
// replacing whatever was mapped there before. Used to reach into a frame
// (a not-yet-active page table, a page being copied for CoW) without a
// permanent mapping. Mapping ReservedZeroedFrame this way is rejected.
func MapTemporary(frame pmm.Frame) (Page, *kernel.Error) {
	if protectReservedZeroedPage && frame == ReservedZeroedFrame {
		return 0, errAttemptToRWMapReservedFrame
	}

	if err := Map(PageFromAddress(tempMappingAddr), frame, FlagPresent|FlagRW); err != nil {
		return 0, err
	}

	return PageFromAddress(tempMappingAddr), nil
}

// Unmap clears the present bit of the entry mapping page, undoing a prior
// Map or MapTemporary call.
func Unmap(page Page) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			pte.ClearFlags(FlagPresent)
			flushTLBEntryFn(page.Address())
			return true
		}

		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}
		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		return true
	})

	return err
}

// earlyReserveLastUsed tracks the lowest address handed out by
// EarlyReserveRegion so far; it starts at tempMappingAddr, the top of the
// range early reservations are carved out of, and counts down.
var earlyReserveLastUsed = tempMappingAddr

var errEarlyReserveNoSpace = &kernel.Error{Module: "early_reserve", Message: "remaining virtual address space not large enough to satisfy reservation request"}

// EarlyReserveRegion hands out size bytes (rounded up to a page multiple)
// of never-before-used kernel virtual address space, without mapping
// anything into it. Meant for the bootstrap window before the kernel's own
// page directory exists, when there's nowhere else to carve scratch space
// from.
func EarlyReserveRegion(size mem.Size) (uintptr, *kernel.Error) {
	size = (size + mem.PageSize - 1) &^ (mem.PageSize - 1)

	if uintptr(size) > earlyReserveLastUsed {
		return 0, errEarlyReserveNoSpace
	}

	earlyReserveLastUsed -= uintptr(size)
	return earlyReserveLastUsed, nil
}
