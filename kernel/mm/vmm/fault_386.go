package vmm

import (
	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/gate"
	"github.com/d4ilyrun/kernel-sub002/kernel/kfmt"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm"
	"github.com/d4ilyrun/kernel-sub002/kernel/symtab"
)

var (
	// handleInterruptFn is used by tests.
	handleInterruptFn = gate.HandleInterrupt

	// addressSpaceFaultFn services a page fault that isn't a CoW write, by
	// consulting whatever owns the current address space's segment list.
	// It is a no-op returning errNoAddressSpaceFaultHandler until
	// kernel/proc installs a real implementation via
	// SetAddressSpaceFaultHandler; vmm cannot import proc directly since
	// proc depends on vmm.
	addressSpaceFaultFn = func(uintptr) *kernel.Error { return errNoAddressSpaceFaultHandler }

	errNoAddressSpaceFaultHandler = &kernel.Error{Module: "vmm", Message: "no address space fault handler installed"}
)

// SetAddressSpaceFaultHandler installs the function pageFaultHandler calls to
// resolve a fault that the CoW fast path doesn't handle: fn is expected to
// locate the segment covering the faulting address in the current process
// and fault a backing frame into it lazily. Called once by kernel/proc
// during initialization.
func SetAddressSpaceFaultHandler(fn func(faultAddress uintptr) *kernel.Error) {
	addressSpaceFaultFn = fn
}

func installFaultHandlers() {
	handleInterruptFn(gate.PageFaultException, pageFaultHandler)
	handleInterruptFn(gate.GPFException, generalProtectionFaultHandler)
}

// pageFaultHandler is invoked when a PDT or PDT-entry is not present or when a
// RW protection check fails.
func pageFaultHandler(regs *gate.Registers) {
	var (
		faultAddress = uintptr(readCR2Fn())
		faultPage    = mm.PageFromAddress(faultAddress)
		pageEntry    *pageTableEntry
	)

	// Lookup entry for the page where the fault occurred
	walk(faultPage.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		nextIsPresent := pte.HasFlags(FlagPresent)

		if pteLevel == pageLevels-1 && nextIsPresent {
			pageEntry = pte
		}

		// Abort walk if the next page table entry is missing
		return nextIsPresent
	})

	// CoW is supported for RO pages with the CoW flag set
	if pageEntry != nil && !pageEntry.HasFlags(FlagRW) && pageEntry.HasFlags(FlagCopyOnWrite) {
		var (
			copy    mm.Frame
			tmpPage mm.Page
			err     *kernel.Error
		)

		if copy, err = mm.AllocFrame(); err != nil {
			nonRecoverablePageFault(faultAddress, regs, err)
		} else if tmpPage, err = mapTemporaryFn(copy); err != nil {
			nonRecoverablePageFault(faultAddress, regs, err)
		} else {
			// Copy page contents, mark as RW and remove CoW flag
			kernel.Memcopy(faultPage.Address(), tmpPage.Address(), mm.PageSize)
			_ = unmapFn(tmpPage)

			// Update mapping to point to the new frame, flag it as RW and
			// remove the CoW flag
			pageEntry.ClearFlags(FlagCopyOnWrite)
			pageEntry.SetFlags(FlagPresent | FlagRW)
			pageEntry.SetFrame(copy)
			flushTLBEntryFn(faultPage.Address())

			// Fault recovered; retry the instruction that caused the fault
			return
		}
	}

	// Not a CoW fault (or CoW handling itself failed trying to recover): the
	// address might still be a valid, not-yet-backed page inside one of the
	// current process's segments. Hand off to whatever owns the segment
	// list for lazy, driver-specific backing (anonymous allocation, reading
	// in a file-backed page, ...).
	if err := addressSpaceFaultFn(faultAddress); err == nil {
		return
	}

	nonRecoverablePageFault(faultAddress, regs, errUnrecoverableFault)
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - attempts to access reserved or unimplemented CPU registers
func generalProtectionFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\nGeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	printFaultingSymbol(uintptr(regs.EIP))
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panic(errUnrecoverableFault)
}

// printFaultingSymbol resolves eip to the nearest loaded kernel symbol and
// prints it, or notes that no symbol table is available.
func printFaultingSymbol(eip uintptr) {
	if name, offset, ok := symtab.Lookup(eip); ok {
		kfmt.Printf("Faulting instruction: 0x%x (%s+0x%x)\n", eip, name, offset)
		return
	}

	if symtab.Loaded() {
		kfmt.Printf("Faulting instruction: 0x%x (no covering symbol)\n", eip)
	} else {
		kfmt.Printf("Faulting instruction: 0x%x (no symbol table loaded)\n", eip)
	}
}

func nonRecoverablePageFault(faultAddress uintptr, regs *gate.Registers, err *kernel.Error) {
	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch {
	case regs.ErrorCode == 0:
		kfmt.Printf("read from non-present page")
	case regs.ErrorCode == 1:
		kfmt.Printf("page protection violation (read)")
	case regs.ErrorCode == 2:
		kfmt.Printf("write to non-present page")
	case regs.ErrorCode == 3:
		kfmt.Printf("page protection violation (write)")
	case regs.ErrorCode == 4:
		kfmt.Printf("page-fault in user-mode")
	case regs.ErrorCode == 8:
		kfmt.Printf("page table has reserved bit set")
	case regs.ErrorCode == 16:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf("\n")
	printFaultingSymbol(uintptr(regs.EIP))
	kfmt.Printf("\nRegisters:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panic(err)
}
