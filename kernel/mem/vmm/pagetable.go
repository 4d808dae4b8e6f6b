package vmm

import (
	"unsafe"

	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/mem"
	"github.com/d4ilyrun/kernel-sub002/kernel/mem/pmm"
)

// ErrInvalidMapping is returned when trying to resolve a virtual address
// that has no corresponding physical mapping.
var ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

// pageTableEntry is one slot of a page table or page directory. The layout
// of the flag bits and the frame address field is architecture-specific;
// see vmm_constants_386.go.
type pageTableEntry uintptr

// HasFlags reports whether every bit in flags is set on pte.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return uintptr(pte)&uintptr(flags) == uintptr(flags)
}

// HasAnyFlag reports whether at least one bit in flags is set on pte.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return uintptr(pte)&uintptr(flags) != 0
}

// SetFlags ORs flags into pte.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uintptr(*pte) | uintptr(flags))
}

// ClearFlags clears every bit in flags from pte.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uintptr(*pte) &^ uintptr(flags))
}

// Frame returns the physical frame pte currently points at.
func (pte pageTableEntry) Frame() pmm.Frame {
	return pmm.Frame((uintptr(pte) & ptePhysPageMask) >> mem.PageShift)
}

// SetFrame repoints pte at frame, leaving its flag bits untouched.
func (pte *pageTableEntry) SetFrame(frame pmm.Frame) {
	*pte = pageTableEntry((uintptr(*pte) &^ ptePhysPageMask) | frame.Address())
}

// pageTableWalker is invoked by walk once per paging level with the entry
// that covers the target address at that level. Returning false aborts the
// walk before descending further.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// ptePtrFn resolves a recursively-mapped entry address to the pointer walk
// should dereference. Overridden by tests; the kernel build inlines it away.
var ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
	return unsafe.Pointer(entryAddr)
}

// walk descends the active page directory towards virtAddr one paging
// level at a time, calling walkFn with the entry found at each level. Table
// addresses are derived from the recursive self-mapping installed on the
// last PDT entry: indexing into the current level's table and then
// reinterpreting the result as a table address for the next level is what
// lets a single fixed virtual address (pdtVirtualAddr) stand in for every
// table in the hierarchy.
func walk(virtAddr uintptr, walkFn pageTableWalker) {
	tableAddr := pdtVirtualAddr

	for level := uint8(0); level < pageLevels; level++ {
		entryIndex := (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryAddr := tableAddr + (entryIndex << mem.PointerShift)

		if !walkFn(level, (*pageTableEntry)(ptePtrFn(entryAddr))) {
			return
		}

		tableAddr = entryAddr << pageLevelBits[level]
	}
}

// pteForAddress walks to the final-level entry covering virtAddr, returning
// ErrInvalidMapping if any level along the way is not present.
func pteForAddress(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	var (
		entry *pageTableEntry
		err   *kernel.Error
	)

	walk(virtAddr, func(_ uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}
		entry = pte
		return true
	})

	return entry, err
}

// Translate resolves virtAddr to its backing physical address, or returns
// ErrInvalidMapping if virtAddr isn't currently mapped.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := pteForAddress(virtAddr)
	if err != nil {
		return 0, err
	}

	return pte.Frame().Address() + PageOffset(virtAddr), nil
}

// PageOffset returns the byte offset of virtAddr within its containing page.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1)
}
