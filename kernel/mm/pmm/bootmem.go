package pmm

import (
	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/hal/multiboot"
	"github.com/d4ilyrun/kernel-sub002/kernel/kfmt/early"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm"
)

var (
	errBootAllocOutOfMemory = &kernel.Error{Module: "pmm", Message: "boot allocator: out of memory"}
)

// BootMemAllocator implements a rudimentary physical memory allocator used to
// bootstrap the kernel before the refcounted BitmapAllocator is available.
//
// The allocator uses the memory region information provided by the
// bootloader to detect free memory blocks and hand out the next available
// frame. Allocations are tracked via an internal cursor so replaying the same
// sequence of AllocFrame calls after resetting the cursor always reproduces
// the same frames; BitmapAllocator.init relies on this to mark the frames the
// boot allocator already handed out as reserved.
//
// The boot allocator cannot free frames. Once the bitmap allocator is
// initialized it takes over all allocations.
type BootMemAllocator struct {
	kernelStartFrame mm.Frame
	kernelEndFrame   mm.Frame

	allocCount     uint64
	lastAllocIndex int64
}

// init sets up the boot memory allocator and records the frame range occupied
// by the kernel image so the bitmap allocator can mark it reserved later.
func (alloc *BootMemAllocator) init(kernelStart, kernelEnd uintptr) {
	alloc.lastAllocIndex = -1
	alloc.kernelStartFrame = mm.FrameFromAddress(kernelStart)
	alloc.kernelEndFrame = mm.FrameFromAddress(kernelEnd)
}

// printMemoryMap logs the memory regions reported by the bootloader.
func (alloc *BootMemAllocator) printMemoryMap() {
	early.Printf("[pmm] system memory map:\n")
	var totalFree uint64
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		early.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n",
			region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())
		if region.Type == multiboot.MemAvailable {
			totalFree += region.Length
		}
		return true
	})
	early.Printf("[pmm] free memory: %dKb\n", totalFree/1024)
}

// AllocFrame scans the system memory regions reported by the bootloader and
// reserves the next available free frame.
func (alloc *BootMemAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	var (
		foundPageIndex                           int64 = -1
		regionStartPageIndex, regionEndPageIndex int64
	)

	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		regionStartPageIndex = int64(((region.PhysAddress + (uint64(mm.PageSize) - 1)) &^ (uint64(mm.PageSize) - 1)) >> mm.PageShift)
		regionEndPageIndex = int64(((region.PhysAddress + region.Length) &^ (uint64(mm.PageSize) - 1)) >> mm.PageShift)

		if alloc.lastAllocIndex+1 >= regionEndPageIndex {
			return true
		}

		if alloc.lastAllocIndex < regionStartPageIndex {
			foundPageIndex = regionStartPageIndex
		} else {
			foundPageIndex = alloc.lastAllocIndex + 1
		}
		return false
	})

	if foundPageIndex == -1 {
		return mm.InvalidFrame, errBootAllocOutOfMemory
	}

	alloc.allocCount++
	alloc.lastAllocIndex = foundPageIndex

	return mm.Frame(foundPageIndex), nil
}
