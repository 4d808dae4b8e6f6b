package heap

import (
	"testing"
	"unsafe"

	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm/vmm"
)

// fakeBackingPage backs a region returned by the stubbed reserveRegionFn/mapFn so
// tests never drive the real paging code; it must be page-aligned so the
// &^(PageSize-1) trick in Free finds the region header.
type fakeBackingPage struct {
	bytes [2 * 4096]byte
}

func newFakeRegion(t *testing.T) uintptr {
	t.Helper()
	p := &fakeBackingPage{}
	raw := uintptr(unsafe.Pointer(&p.bytes[0]))
	aligned := (raw + mm.PageSize - 1) &^ (mm.PageSize - 1)
	return aligned
}

func withFakeAllocator(t *testing.T) {
	t.Helper()

	origReserve := reserveRegionFn
	origMap := mapFn

	t.Cleanup(func() {
		reserveRegionFn = origReserve
		mapFn = origMap
		mm.SetFrameAllocator(nil)
		Init()
	})

	mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) {
		return mm.Frame(0), nil
	})

	regions := map[uintptr]bool{}

	reserveRegionFn = func(size uintptr) (uintptr, *kernel.Error) {
		addr := newFakeRegion(t)
		regions[addr] = true
		return addr, nil
	}
	mapFn = func(mm.Page, mm.Frame, vmm.PageTableEntryFlag) *kernel.Error {
		return nil
	}

	Init()
}

func TestAllocateReturnsAlignedPointer(t *testing.T) {
	withFakeAllocator(t)

	ptr, err := Allocate(24)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ptr%minAlign != 0 {
		t.Errorf("expected pointer aligned to %d bytes; got %x", minAlign, ptr)
	}
}

func TestAllocatePicksSmallestSufficientClass(t *testing.T) {
	withFakeAllocator(t)

	if idx := classFor(20); classSizes[idx] != 32 {
		t.Errorf("expected 20 bytes to round up to the 32-byte class; got %d", classSizes[idx])
	}
	if idx := classFor(16); classSizes[idx] != 16 {
		t.Errorf("expected an exact match to stay in its own class; got %d", classSizes[idx])
	}
}

func TestAllocateZeroSizeSucceeds(t *testing.T) {
	withFakeAllocator(t)

	if _, err := Allocate(0); err != nil {
		t.Fatalf("expected a zero-size allocation to succeed; got %v", err)
	}
}

func TestFreeReturnsBlockToItsBucket(t *testing.T) {
	withFakeAllocator(t)

	ptr, err := Allocate(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	idx := classFor(16)
	before := buckets[idx].free

	if err := Free(ptr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if buckets[idx].free == before {
		t.Error("expected Free to push the block back onto its bucket's freelist")
	}
	if uintptr(unsafe.Pointer(buckets[idx].free)) != ptr {
		t.Errorf("expected the freed pointer to be at the head of the freelist")
	}
}

func TestAllocateReusesFreedBlock(t *testing.T) {
	withFakeAllocator(t)

	first, err := Allocate(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Free(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := Allocate(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if second != first {
		t.Errorf("expected the freed block to be reused; got %x want %x", second, first)
	}
}

func TestAllocateAboveLargestClassUsesPageGranularPath(t *testing.T) {
	withFakeAllocator(t)

	ptr, err := Allocate(32768)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hdr := (*regionHeader)(unsafe.Pointer(ptr &^ (mm.PageSize - 1)))
	if hdr.bucket != nil {
		t.Error("expected a large allocation to carry a nil bucket in its region header")
	}
}

func TestAllocateDMARequestsUncacheableMapping(t *testing.T) {
	withFakeAllocator(t)

	var gotFlags vmm.PageTableEntryFlag
	mapFn = func(_ mm.Page, _ mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
		gotFlags = flags
		return nil
	}

	if _, err := AllocateDMA(64); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotFlags&vmm.FlagDoNotCache == 0 {
		t.Error("expected AllocateDMA to map its backing pages with FlagDoNotCache")
	}
}

func TestGrowChainsEveryBlockWithinTheRegion(t *testing.T) {
	withFakeAllocator(t)

	idx := classFor(16)
	b := &buckets[idx]
	// Init does not clear freelists left by earlier tests; start empty so
	// only this region's blocks are counted.
	b.free = nil

	if err := b.grow(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count := 0
	for blk := b.free; blk != nil; blk = blk.next {
		count++
		if count > 1000 {
			t.Fatal("freelist appears to be cyclic")
		}
	}

	blockAreaSize := roundUpPage(regionHeaderSize+b.blockSize) - regionHeaderSize
	expected := blockAreaSize / b.blockSize
	if uintptr(count) != expected {
		t.Errorf("expected %d chained blocks; got %d", expected, count)
	}
}
