// Package pmm implements the kernel's physical memory manager: it tracks
// page frame reservations and hands out refcounted frames to the vmm and
// segment layers above it.
package pmm

import (
	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm"
)

var (
	// earlyAllocator is the page allocator used while bootstrapping the
	// kernel, before the refcounted bitmap allocator is available.
	earlyAllocator BootMemAllocator

	// bitmapAllocator is the allocator used for the remainder of the
	// kernel's lifetime.
	bitmapAllocator BitmapAllocator
)

// Init sets up the kernel physical memory allocation sub-system: it
// bootstraps the boot allocator from the bootloader-provided memory map and
// then hands off to the refcounted bitmap allocator, which becomes the
// vmm package's frame source for the remainder of the kernel's lifetime.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	earlyAllocator.init(kernelStart, kernelEnd)
	earlyAllocator.printMemoryMap()
	mm.SetFrameAllocator(earlyAllocFrame)

	if err := bitmapAllocator.init(); err != nil {
		return err
	}
	mm.SetFrameAllocator(bitmapAllocFrame)

	return nil
}

func earlyAllocFrame() (mm.Frame, *kernel.Error) {
	return earlyAllocator.AllocFrame()
}

func bitmapAllocFrame() (mm.Frame, *kernel.Error) {
	return bitmapAllocator.AllocFrame()
}

// Allocate reserves a free frame and sets its reference count to 1.
func Allocate() (mm.Frame, *kernel.Error) {
	return bitmapAllocator.AllocFrame()
}

// AllocateContiguous reserves n physically contiguous frames.
func AllocateContiguous(n uint) (mm.Frame, *kernel.Error) {
	return bitmapAllocator.AllocContiguous(n)
}

// Get increments frame's reference count. It is used whenever a new owner
// starts sharing an already allocated frame (e.g. mapping it into a second
// address space).
func Get(frame mm.Frame) {
	bitmapAllocator.Get(frame)
}

// Put decrements frame's reference count, returning it to the free list once
// the count reaches zero.
func Put(frame mm.Frame) *kernel.Error {
	return bitmapAllocator.Put(frame)
}

// RefCount returns the current reference count for frame.
func RefCount(frame mm.Frame) uint16 {
	return bitmapAllocator.RefCount(frame)
}
