// Package heap implements the kernel's general purpose dynamic memory
// allocator (kmalloc/kfree). It is a size-class bucket allocator: each
// bucket serves a fixed block size and carves its backing memory out of
// page-aligned regions that carry a small header identifying the owning
// bucket, so Free can recover it from nothing but the pointer returned by
// Allocate. Sizes larger than the biggest bucket class fall through to a
// page-granular allocator that maps the request directly.
package heap

import (
	"unsafe"

	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm/vmm"
	"github.com/d4ilyrun/kernel-sub002/kernel/sync"
)

// minAlign is the minimum alignment guaranteed for every pointer returned
// by Allocate, matching the smallest bucket class.
const minAlign = 16

// classSizes are the bucket sizes, each double the previous one starting
// at minAlign. Anything bigger than the last entry is handed to the
// page-granular path instead of growing a dedicated bucket for it.
var classSizes = [...]uintptr{16, 32, 64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384}

// reserveRegionFn and mapFn are used by tests to avoid driving the real
// vmm/paging code from a hosted test binary.
var (
	reserveRegionFn = vmm.EarlyReserveRegion
	mapFn           = vmm.Map
)

// errOutOfMemory is returned when the backing page allocator cannot satisfy
// a bucket growth or a page-granular request.
var errOutOfMemory = &kernel.Error{Module: "heap", Message: "unable to grow heap: out of memory"}

var buckets [len(classSizes)]bucket

// Init prepares every bucket's block size. It must run once before the
// first call to Allocate.
func Init() {
	for i := range buckets {
		buckets[i].blockSize = classSizes[i]
	}
}

// classFor returns the index of the smallest bucket able to satisfy size,
// or -1 if size exceeds every bucket class.
func classFor(size uintptr) int {
	for i, s := range classSizes {
		if s >= size {
			return i
		}
	}
	return -1
}

// Allocate returns a pointer to a newly allocated block of at least size
// bytes, aligned to at least minAlign. Requests bigger than the largest
// bucket class are mapped directly via the page-granular path.
func Allocate(size uintptr) (uintptr, *kernel.Error) {
	if size == 0 {
		size = 1
	}

	idx := classFor(size)
	if idx < 0 {
		return allocateLarge(size, vmm.FlagPresent|vmm.FlagRW)
	}

	return buckets[idx].allocate()
}

// AllocateDMA is identical to Allocate except that the backing pages are
// marked uncacheable, for use with device buffers on CPUs that cannot
// selectively flush individual cache lines. DMA buffers always go through
// the page-granular path since sharing a cached bucket page with unrelated
// allocations would defeat the point of marking it uncacheable.
func AllocateDMA(size uintptr) (uintptr, *kernel.Error) {
	return allocateLarge(size, vmm.FlagPresent|vmm.FlagRW|vmm.FlagDoNotCache)
}

// Free releases a pointer previously returned by Allocate or AllocateDMA.
func Free(ptr uintptr) *kernel.Error {
	pageAddr := ptr &^ (mm.PageSize - 1)
	hdr := (*regionHeader)(unsafe.Pointer(pageAddr))

	if hdr.bucket == nil {
		return freeLarge(pageAddr, hdr.pages)
	}

	b := hdr.bucket
	b.lock.Acquire()
	defer b.lock.Release()

	blk := (*freeBlock)(unsafe.Pointer(ptr))
	blk.next = b.free
	b.free = blk

	return nil
}

// regionHeader sits at the start of every page-aligned region handed out
// by grow (bucket == non-nil) or allocateLarge (bucket == nil, pages holds
// the region's size so Free knows how much to unmap).
type regionHeader struct {
	bucket *bucket
	pages  uintptr
}

// regionHeaderSize is the header's size rounded up to minAlign, so the
// blocks (or the large allocation) placed right after it stay aligned.
var regionHeaderSize = (unsafe.Sizeof(regionHeader{}) + minAlign - 1) &^ (minAlign - 1)

// freeBlock overlays an unused block's first machine word, chaining it
// into its bucket's freelist.
type freeBlock struct {
	next *freeBlock
}

// bucket serves fixed-size blocks carved out of page-aligned regions
// allocated on demand.
type bucket struct {
	lock      sync.Spinlock
	blockSize uintptr
	free      *freeBlock
}

func (b *bucket) allocate() (uintptr, *kernel.Error) {
	b.lock.Acquire()
	defer b.lock.Release()

	if b.free == nil {
		if err := b.grow(); err != nil {
			return 0, err
		}
	}

	blk := b.free
	b.free = blk.next

	return uintptr(unsafe.Pointer(blk)), nil
}

// grow maps in a fresh page-aligned region sized to hold a regionHeader
// plus as many blocks of b.blockSize as fit, and chains them onto the
// bucket's freelist. The caller must hold b.lock.
func (b *bucket) grow() *kernel.Error {
	regionSize := roundUpPage(regionHeaderSize + b.blockSize)

	regionAddr, err := allocRegion(regionSize, vmm.FlagPresent|vmm.FlagRW)
	if err != nil {
		return err
	}

	hdr := (*regionHeader)(unsafe.Pointer(regionAddr))
	hdr.bucket = b

	blockAreaStart := regionAddr + regionHeaderSize
	blockAreaSize := regionSize - regionHeaderSize
	numBlocks := blockAreaSize / b.blockSize

	for i := uintptr(0); i < numBlocks; i++ {
		blk := (*freeBlock)(unsafe.Pointer(blockAreaStart + i*b.blockSize))
		blk.next = b.free
		b.free = blk
	}

	return nil
}

// allocateLarge services a request above the largest bucket class (or a
// DMA request of any size) by mapping it directly, page-granular, leaving
// room for a regionHeader with bucket == nil so Free can unmap it.
func allocateLarge(size uintptr, flags vmm.PageTableEntryFlag) (uintptr, *kernel.Error) {
	regionSize := roundUpPage(regionHeaderSize + size)

	regionAddr, err := allocRegion(regionSize, flags)
	if err != nil {
		return 0, err
	}

	hdr := (*regionHeader)(unsafe.Pointer(regionAddr))
	hdr.bucket = nil
	hdr.pages = regionSize / mm.PageSize

	return regionAddr + regionHeaderSize, nil
}

func freeLarge(regionAddr uintptr, pages uintptr) *kernel.Error {
	for i := uintptr(0); i < pages; i++ {
		if err := vmm.Unmap(mm.PageFromAddress(regionAddr + i*mm.PageSize)); err != nil {
			return err
		}
	}
	return nil
}

// allocRegion reserves a virtual region and backs every page in it with a
// freshly allocated physical frame.
func allocRegion(size uintptr, flags vmm.PageTableEntryFlag) (uintptr, *kernel.Error) {
	regionAddr, err := reserveRegionFn(size)
	if err != nil {
		return 0, err
	}

	pageCount := size / mm.PageSize
	for i := uintptr(0); i < pageCount; i++ {
		frame, err := mm.AllocFrame()
		if err != nil {
			return 0, errOutOfMemory
		}

		page := mm.PageFromAddress(regionAddr + i*mm.PageSize)
		if err := mapFn(page, frame, flags); err != nil {
			return 0, err
		}
	}

	return regionAddr, nil
}

func roundUpPage(size uintptr) uintptr {
	return (size + mm.PageSize - 1) &^ (mm.PageSize - 1)
}
