package vmm

import "math"

const (
	// pageLevels indicates the number of page table levels used by the
	// i386 non-PAE paging mode: a page directory and a page table.
	pageLevels = 2

	// ptePhysPageMask extracts the physical frame address from a page
	// table/directory entry. On i386 (no PAE) bits 12-31 contain it.
	ptePhysPageMask = uintptr(0xfffff000)

	// tempMappingAddr is a reserved virtual page used for temporary
	// physical page mappings (e.g. zeroing a freshly allocated page
	// table before linking it into the active PDT). It sits just below
	// the 4MB window consumed by the recursive self-mapping trick at
	// the top of the address space.
	tempMappingAddr = uintptr(0xffbff000)
)

var (
	// pdtVirtualAddr is the virtual address that, thanks to the
	// recursive last-PDT-entry mapping, makes the MMU's own page-walk
	// land back on the page directory itself: setting every index bit
	// for both page levels to 1 walks PDT->PDT->PDT instead of
	// PDT->PT->frame.
	pdtVirtualAddr = uintptr(math.MaxUint32 &^ ((1 << 12) - 1))

	// pageLevelBits defines the number of virtual address bits that
	// correspond to each page level. i386 non-PAE paging uses 10 bits
	// per level (1024 entries per table).
	pageLevelBits = [pageLevels]uint8{
		10,
		10,
	}

	// pageLevelShifts defines the shift required to access each page
	// table component of a virtual address.
	pageLevelShifts = [pageLevels]uint8{
		22,
		12,
	}
)

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set when using 4MB pages instead of 4K pages.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when swapping page tables by updating the CR3 register.
	FlagGlobal

	// FlagCopyOnWrite is used to implement copy-on-write functionality. This
	// flag and FlagRW are mutually exclusive.
	FlagCopyOnWrite = 1 << 9

	// i386 non-PAE page table entries are 32 bits wide and have no spare
	// bit for a no-execute flag; enforcing W^X on this target would
	// require PAE, which is out of scope.
)
