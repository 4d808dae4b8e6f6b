package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = uintptr(2)

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// KernelVMA is the virtual address the kernel image is linked to run
	// at; the difference between a section's linked (virtual) address
	// and its physical load address is always this constant. Used by
	// vmm.Init to translate the ELF sections reported by the bootloader
	// back to physical frames while building the kernel's own PDT.
	KernelVMA = uintptr(0xc0000000)
)
