package pmm

import (
	"reflect"
	"unsafe"

	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/hal/multiboot"
	"github.com/d4ilyrun/kernel-sub002/kernel/kfmt/early"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm/vmm"
)

var (
	// the following functions are used by tests to mock calls into the vmm
	// package and are automatically inlined by the compiler.
	reserveRegionFn = vmm.EarlyReserveRegion
	mapFn           = vmm.Map

	errOutOfMemory     = &kernel.Error{Module: "pmm", Message: "no more free frames available"}
	errDoublePut       = &kernel.Error{Module: "pmm", Message: "put() called on a frame with a zero refcount"}
	errFrameNotInAPool = &kernel.Error{Module: "pmm", Message: "frame does not belong to any known memory pool"}
)

type markAs bool

const (
	markReserved markAs = false
	markFree            = true
)

// framePool tracks the free/reserved bitmap and per-frame reference counts
// for a single contiguous range of frames reported as available by the
// bootloader.
type framePool struct {
	// startFrame is the frame number for the first page in this pool.
	startFrame mm.Frame

	// endFrame is the last frame (inclusive) tracked by this pool.
	endFrame mm.Frame

	// freeCount tracks the available pages in this pool so fully
	// allocated pools can be skipped without scanning their bitmap.
	freeCount uint32

	// freeBitmap tracks used/free pages in the pool; a set bit means the
	// corresponding frame is reserved.
	freeBitmap    []uint64
	freeBitmapHdr reflect.SliceHeader

	// refCount holds one entry per frame in the pool. A frame is free iff
	// its entry is zero, which is also reflected by the free bitmap; the
	// refcount additionally tracks how many owners share the frame.
	refCount    []uint16
	refCountHdr reflect.SliceHeader
}

// BitmapAllocator implements the refcounted physical frame allocator
// described by the kernel's memory model: Allocate hands out a frame with a
// refcount of 1, Get/Put adjust the refcount and Put frees the frame once the
// count reaches zero.
type BitmapAllocator struct {
	totalPages    uint32
	reservedPages uint32

	pools    []framePool
	poolsHdr reflect.SliceHeader

	// freeCursor remembers the last pool a frame was served from so
	// AllocFrame can resume scanning there instead of restarting at pool 0.
	freeCursor int
}

// init allocates space for the allocator bookkeeping structures using the
// boot allocator and flags the frames used by the kernel image and the boot
// allocator itself as reserved.
func (alloc *BitmapAllocator) init() *kernel.Error {
	if err := alloc.setupPools(); err != nil {
		return err
	}

	alloc.reserveKernelFrames()
	alloc.reserveBootAllocatorFrames()
	alloc.printStats()
	return nil
}

func (alloc *BitmapAllocator) setupPools() *kernel.Error {
	var (
		err                 *kernel.Error
		sizeofPool          = unsafe.Sizeof(framePool{})
		pageSizeMinus1      = uint64(mm.PageSize - 1)
		requiredBitmapBytes uint64
		requiredRefCntBytes uint64
	)

	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		alloc.poolsHdr.Len++
		alloc.poolsHdr.Cap++

		regionStartFrame := mm.Frame(((region.PhysAddress + pageSizeMinus1) &^ pageSizeMinus1) >> mm.PageShift)
		regionEndFrame := mm.Frame(((region.PhysAddress+region.Length)&^pageSizeMinus1)>>mm.PageShift) - 1
		pageCount := uint32(regionEndFrame-regionStartFrame) + 1
		alloc.totalPages += pageCount

		requiredBitmapBytes += uint64(((pageCount + 63) &^ 63) >> 3)
		requiredRefCntBytes += uint64(pageCount) * 2
		return true
	})

	requiredBytes := (uint64(uintptr(alloc.poolsHdr.Len)*sizeofPool) + requiredBitmapBytes + requiredRefCntBytes + pageSizeMinus1) &^ pageSizeMinus1
	requiredPages := uintptr(requiredBytes) >> mm.PageShift

	var regionStart uintptr
	regionStart, err = reserveRegionFn(uintptr(requiredBytes))
	if err != nil {
		return err
	}
	alloc.poolsHdr.Data = regionStart

	for page, index := mm.PageFromAddress(regionStart), uintptr(0); index < requiredPages; page, index = page+1, index+1 {
		nextFrame, ferr := earlyAllocFrame()
		if ferr != nil {
			return ferr
		}
		if ferr = mapFn(page, nextFrame, vmm.FlagPresent|vmm.FlagRW); ferr != nil {
			return ferr
		}
		kernel.Memset(page.Address(), 0, mm.PageSize)
	}

	alloc.pools = *(*[]framePool)(unsafe.Pointer(&alloc.poolsHdr))

	cursor := regionStart + uintptr(alloc.poolsHdr.Len)*sizeofPool
	poolIndex := 0
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		regionStartFrame := mm.Frame(((region.PhysAddress + pageSizeMinus1) &^ pageSizeMinus1) >> mm.PageShift)
		regionEndFrame := mm.Frame(((region.PhysAddress+region.Length)&^pageSizeMinus1)>>mm.PageShift) - 1
		pageCount := uint32(regionEndFrame-regionStartFrame) + 1
		bitmapBytes := uintptr(((pageCount + 63) &^ 63) >> 3)
		refCntBytes := uintptr(pageCount) * 2

		p := &alloc.pools[poolIndex]
		p.startFrame = regionStartFrame
		p.endFrame = regionEndFrame
		p.freeCount = pageCount

		p.freeBitmapHdr.Len, p.freeBitmapHdr.Cap = int(bitmapBytes>>3), int(bitmapBytes>>3)
		p.freeBitmapHdr.Data = cursor
		p.freeBitmap = *(*[]uint64)(unsafe.Pointer(&p.freeBitmapHdr))
		cursor += bitmapBytes

		p.refCountHdr.Len, p.refCountHdr.Cap = int(refCntBytes>>1), int(refCntBytes>>1)
		p.refCountHdr.Data = cursor
		p.refCount = *(*[]uint16)(unsafe.Pointer(&p.refCountHdr))
		cursor += refCntBytes

		poolIndex++
		return true
	})

	return nil
}

func (alloc *BitmapAllocator) poolForFrame(frame mm.Frame) int {
	for i := range alloc.pools {
		if frame >= alloc.pools[i].startFrame && frame <= alloc.pools[i].endFrame {
			return i
		}
	}
	return -1
}

func (alloc *BitmapAllocator) markFrame(poolIndex int, frame mm.Frame, flag markAs) {
	if poolIndex < 0 || frame > alloc.pools[poolIndex].endFrame {
		return
	}

	relFrame := frame - alloc.pools[poolIndex].startFrame
	block := relFrame >> 6
	mask := uint64(1) << (63 - uint(relFrame-block<<6))
	switch flag {
	case markFree:
		alloc.pools[poolIndex].freeBitmap[block] &^= mask
		alloc.pools[poolIndex].freeCount++
		alloc.reservedPages--
	case markReserved:
		alloc.pools[poolIndex].freeBitmap[block] |= mask
		alloc.pools[poolIndex].freeCount--
		alloc.reservedPages++
	}
}

func (alloc *BitmapAllocator) reserveKernelFrames() {
	poolIndex := alloc.poolForFrame(earlyAllocator.kernelStartFrame)
	for frame := earlyAllocator.kernelStartFrame; frame <= earlyAllocator.kernelEndFrame; frame++ {
		alloc.markFrame(poolIndex, frame, markReserved)
		alloc.setRefCount(frame, 1)
	}
}

// reserveBootAllocatorFrames replays the boot allocator's allocation
// sequence (by resetting and re-running it) to discover and reserve every
// frame it already handed out.
func (alloc *BitmapAllocator) reserveBootAllocatorFrames() {
	allocCount := earlyAllocator.allocCount
	earlyAllocator.allocCount, earlyAllocator.lastAllocIndex = 0, -1
	for i := uint64(0); i < allocCount; i++ {
		frame, _ := earlyAllocator.AllocFrame()
		alloc.markFrame(alloc.poolForFrame(frame), frame, markReserved)
		alloc.setRefCount(frame, 1)
	}
}

func (alloc *BitmapAllocator) setRefCount(frame mm.Frame, v uint16) {
	poolIndex := alloc.poolForFrame(frame)
	if poolIndex < 0 {
		return
	}
	alloc.pools[poolIndex].refCount[frame-alloc.pools[poolIndex].startFrame] = v
}

func (alloc *BitmapAllocator) printStats() {
	early.Printf("[pmm] page stats: free: %d/%d (%d reserved)\n",
		alloc.totalPages-alloc.reservedPages, alloc.totalPages, alloc.reservedPages)
}

// AllocFrame reserves and returns a free frame with its refcount set to 1.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	poolCount := len(alloc.pools)
	for i := 0; i < poolCount; i++ {
		poolIndex := (alloc.freeCursor + i) % poolCount
		pool := &alloc.pools[poolIndex]
		if pool.freeCount == 0 {
			continue
		}

		for block := range pool.freeBitmap {
			if pool.freeBitmap[block] == ^uint64(0) {
				continue
			}
			for bit := 0; bit < 64; bit++ {
				mask := uint64(1) << (63 - uint(bit))
				if pool.freeBitmap[block]&mask != 0 {
					continue
				}
				relFrame := mm.Frame(block<<6 + bit)
				frame := pool.startFrame + relFrame
				if frame > pool.endFrame {
					continue
				}
				alloc.freeCursor = poolIndex
				alloc.markFrame(poolIndex, frame, markReserved)
				pool.refCount[relFrame] = 1
				return frame, nil
			}
		}
	}

	return mm.InvalidFrame, errOutOfMemory
}

// AllocContiguous reserves n physically contiguous frames, or returns
// mm.InvalidFrame and an error if no such run exists.
func (alloc *BitmapAllocator) AllocContiguous(n uint) (mm.Frame, *kernel.Error) {
	if n == 0 {
		return mm.InvalidFrame, errOutOfMemory
	}

	for poolIndex := range alloc.pools {
		pool := &alloc.pools[poolIndex]
		if uint32(n) > pool.freeCount {
			continue
		}

		runStart := mm.Frame(0)
		runLen := uint(0)
		for frame := pool.startFrame; frame <= pool.endFrame; frame++ {
			if alloc.frameReserved(pool, frame) {
				runLen = 0
				continue
			}
			if runLen == 0 {
				runStart = frame
			}
			runLen++
			if runLen == n {
				for f := runStart; f < runStart+mm.Frame(n); f++ {
					alloc.markFrame(poolIndex, f, markReserved)
					alloc.setRefCount(f, 1)
				}
				return runStart, nil
			}
		}
	}

	return mm.InvalidFrame, errOutOfMemory
}

func (alloc *BitmapAllocator) frameReserved(pool *framePool, frame mm.Frame) bool {
	relFrame := frame - pool.startFrame
	block := relFrame >> 6
	mask := uint64(1) << (63 - uint(relFrame-block<<6))
	return pool.freeBitmap[block]&mask != 0
}

// Get increments the reference count of an already-allocated frame.
func (alloc *BitmapAllocator) Get(frame mm.Frame) {
	poolIndex := alloc.poolForFrame(frame)
	if poolIndex < 0 {
		return
	}
	alloc.pools[poolIndex].refCount[frame-alloc.pools[poolIndex].startFrame]++
}

// Put decrements the reference count of frame, freeing it once the count
// reaches zero. Calling Put on a frame whose refcount is already zero
// returns errDoublePut.
func (alloc *BitmapAllocator) Put(frame mm.Frame) *kernel.Error {
	poolIndex := alloc.poolForFrame(frame)
	if poolIndex < 0 {
		return errFrameNotInAPool
	}

	rel := frame - alloc.pools[poolIndex].startFrame
	if alloc.pools[poolIndex].refCount[rel] == 0 {
		return errDoublePut
	}

	alloc.pools[poolIndex].refCount[rel]--
	if alloc.pools[poolIndex].refCount[rel] == 0 {
		alloc.markFrame(poolIndex, frame, markFree)
	}
	return nil
}

// RefCount returns the current reference count for frame, or 0 if frame does
// not belong to any known memory pool.
func (alloc *BitmapAllocator) RefCount(frame mm.Frame) uint16 {
	poolIndex := alloc.poolForFrame(frame)
	if poolIndex < 0 {
		return 0
	}
	return alloc.pools[poolIndex].refCount[frame-alloc.pools[poolIndex].startFrame]
}
