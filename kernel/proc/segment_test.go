package proc

import (
	"errors"
	"io"
	"testing"
	"unsafe"

	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm/vmm"
	"github.com/d4ilyrun/kernel-sub002/kernel/vfs"
)

// withFakeTempMapping stubs the scratch mapping segment drivers use to
// reach into a frame that isn't mapped anywhere yet, backing it with a
// plain Go byte slice instead of real page tables.
func withFakeTempMapping(t *testing.T) map[mm.Frame][]byte {
	t.Helper()

	origMap := mapTemporaryFn
	origUnmap := tempUnmapFn
	t.Cleanup(func() {
		mapTemporaryFn = origMap
		tempUnmapFn = origUnmap
	})

	backing := map[mm.Frame][]byte{}
	var mapped mm.Frame
	var mappedBuf []byte

	// The drivers write through page.Address(), so the "mapping" is a
	// page-aligned scratch page whose contents are copied in from and
	// back out to the frame's backing slice.
	scratch := make([]byte, 2*mm.PageSize)
	scratchAddr := (uintptr(unsafe.Pointer(&scratch[0])) + mm.PageSize - 1) &^ (mm.PageSize - 1)
	scratchBuf := scratch[scratchAddr-uintptr(unsafe.Pointer(&scratch[0])):][:mm.PageSize]

	mapTemporaryFn = func(frame mm.Frame) (mm.Page, *kernel.Error) {
		buf, ok := backing[frame]
		if !ok {
			buf = make([]byte, mm.PageSize)
			backing[frame] = buf
		}
		copy(scratchBuf, buf)
		mapped = frame
		mappedBuf = buf
		return mm.PageFromAddress(scratchAddr), nil
	}
	tempUnmapFn = func(mm.Page) *kernel.Error {
		copy(mappedBuf, scratchBuf)
		backing[mapped] = mappedBuf
		return nil
	}

	return backing
}

func TestNormalDriverFaultBacksPageWithProcessFlags(t *testing.T) {
	spaces := withFakeAddressSpaces(t)

	p, err := NewProcess("p", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seg, err := p.MapSegment(0x10000, mm.PageSize, vmm.FlagPresent|vmm.FlagRW)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := seg.driver.fault(p, seg, 0x10000); err != nil {
		t.Fatalf("unexpected fault error: %v", err)
	}

	if _, mapped := spaces[p][0x10000]; !mapped {
		t.Error("expected the faulting page to be backed by a frame")
	}
}

func TestNormalDriverFaultZeroesPageWhenVMClearSet(t *testing.T) {
	withFakeAddressSpaces(t)
	backing := withFakeTempMapping(t)

	p, err := NewProcess("p", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seg, err := p.MapSegmentCleared(0x20000, mm.PageSize, vmm.FlagPresent|vmm.FlagRW)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seg.VMFlags&VMClear == 0 {
		t.Fatal("expected MapSegmentCleared to set VMClear")
	}

	// Poison the frame's backing buffer so zeroing is actually observable.
	frame, err := allocFrameFn()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	poisoned := make([]byte, mm.PageSize)
	for i := range poisoned {
		poisoned[i] = 0xff
	}
	backing[frame] = poisoned
	allocFrameFn = func() (mm.Frame, *kernel.Error) { return frame, nil }

	if err := seg.driver.fault(p, seg, 0x20000); err != nil {
		t.Fatalf("unexpected fault error: %v", err)
	}

	for i, b := range backing[frame] {
		if b != 0 {
			t.Fatalf("expected frame to be zeroed at offset %d; got %x", i, b)
		}
	}
}

func TestMapSegmentAtRollsBackOnPartialFailure(t *testing.T) {
	spaces := withFakeAddressSpaces(t)

	p, err := NewProcess("p", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	origMap := pdtMapFn
	t.Cleanup(func() { pdtMapFn = origMap })

	calls := 0
	pdtMapFn = func(proc *Process, page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
		calls++
		if calls == 2 {
			return &kernel.Error{Module: "test", Message: "boom"}
		}
		return origMap(proc, page, frame, flags)
	}

	frames := []mm.Frame{10, 11, 12}
	if _, err := p.MapSegmentAt(0x30000, 3*mm.PageSize, vmm.FlagPresent|vmm.FlagRW, frames); err == nil {
		t.Fatal("expected the partial mapping failure to propagate")
	}

	if len(spaces[p]) != 0 {
		t.Errorf("expected every page mapped before the failure to be rolled back; got %d still mapped", len(spaces[p]))
	}
	if len(p.Segments) != 0 {
		t.Errorf("expected no segment to be recorded after a failed MapSegmentAt; got %+v", p.Segments)
	}
}

// fakeVnodeFile is a minimal in-memory vfs.File backed by a byte slice.
type fakeVnodeFile struct {
	data []byte
	pos  int64
}

func (f *fakeVnodeFile) Read(p []byte) (int, error) {
	if f.pos >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *fakeVnodeFile) Write([]byte) (int, error) { return 0, errors.New("not implemented") }

func (f *fakeVnodeFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.pos = offset
	case io.SeekCurrent:
		f.pos += offset
	case io.SeekEnd:
		f.pos = int64(len(f.data)) + offset
	}
	return f.pos, nil
}

func (f *fakeVnodeFile) Close() error { return nil }

func (f *fakeVnodeFile) Stat() (vfs.Stat, error) {
	return vfs.Stat{Size: int64(len(f.data))}, nil
}

func TestVnodeDriverFaultReadsFileContents(t *testing.T) {
	spaces := withFakeAddressSpaces(t)
	backing := withFakeTempMapping(t)

	p, err := NewProcess("p", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	contents := make([]byte, mm.PageSize)
	copy(contents, []byte("hello from disk"))
	file := &fakeVnodeFile{data: contents}

	seg, err := p.MapSegmentVnode(0x40000, mm.PageSize, vmm.FlagPresent|vmm.FlagRW, file, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frame, err := allocFrameFn()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	allocFrameFn = func() (mm.Frame, *kernel.Error) { return frame, nil }

	if err := seg.driver.fault(p, seg, 0x40000); err != nil {
		t.Fatalf("unexpected fault error: %v", err)
	}

	if _, mapped := spaces[p][0x40000]; !mapped {
		t.Fatal("expected the page to be mapped")
	}
	got := backing[frame][:len("hello from disk")]
	if string(got) != "hello from disk" {
		t.Errorf("expected frame to hold the file's contents; got %q", got)
	}
}

func TestVnodeDriverResizeReleasesFramesOnShrink(t *testing.T) {
	spaces := withFakeAddressSpaces(t)
	withFakeTempMapping(t)

	p, err := NewProcess("p", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	file := &fakeVnodeFile{data: make([]byte, 2*mm.PageSize)}
	seg, err := p.MapSegmentVnode(0x50000, 2*mm.PageSize, vmm.FlagPresent|vmm.FlagRW, file, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := seg.driver.fault(p, seg, 0x50000); err != nil {
		t.Fatalf("unexpected fault error: %v", err)
	}
	if err := seg.driver.fault(p, seg, 0x50000+mm.PageSize); err != nil {
		t.Fatalf("unexpected fault error: %v", err)
	}

	if err := seg.driver.resize(p, &p.Segments[0], mm.PageSize); err != nil {
		t.Fatalf("unexpected resize error: %v", err)
	}

	if p.Segments[0].Size != mm.PageSize {
		t.Errorf("expected segment to shrink to one page; got %d", p.Segments[0].Size)
	}
	if len(spaces[p]) != 1 {
		t.Errorf("expected the trailing page's frame to be released; got %d pages still mapped", len(spaces[p]))
	}
}
