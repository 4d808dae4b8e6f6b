// Package proc implements the kernel's process model: address spaces made
// up of segments, credentials, fork/exec, and parent/zombie/waitpid
// bookkeeping on top of kernel/sched's threads.
package proc

import (
	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm/pmm"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm/vmm"
	"github.com/d4ilyrun/kernel-sub002/kernel/sched"
	"github.com/d4ilyrun/kernel-sub002/kernel/sync"
	"github.com/d4ilyrun/kernel-sub002/kernel/vfs"
)

// State describes where a process sits in its lifecycle.
type State uint8

const (
	StateRunning State = iota
	StateZombie
)

// allocFrameFn, getFrameFn and putFrameFn are test seams so unit tests
// never drive the real frame allocator.
var (
	allocFrameFn = mm.AllocFrame
	getFrameFn   = pmm.Get
	putFrameFn   = pmm.Put
)

// The pdt* seams indirect every operation this package performs against a
// process's page directory table, so unit tests can swap in a fake address
// space (keyed off the *Process itself) instead of driving the real
// vmm/cpu code, which would fault outside ring 0 on a hosted test binary.
var (
	pdtInitFn = func(p *Process, frame mm.Frame) *kernel.Error {
		return p.PDT.Init(frame)
	}
	pdtMapFn = func(p *Process, page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
		return p.PDT.Map(page, frame, flags)
	}
	pdtUnmapFn = func(p *Process, page mm.Page) *kernel.Error {
		return p.PDT.Unmap(page)
	}
	pdtTranslateFn = func(p *Process, addr uintptr) (uintptr, *kernel.Error) {
		return p.PDT.Translate(addr)
	}
	pdtFrameFn = func(p *Process) mm.Frame {
		return p.PDT.Frame()
	}
)

var (
	procLock sync.Spinlock
	allProcs = map[uint32]*Process{}
	nextPID  uint32
)

// Process is a single address space, owned by exactly one credentials
// block, with one or more threads executing inside it.
type Process struct {
	PID      uint32
	ParentID uint32
	Name     string

	Credentials Credentials

	PDT      vmm.PageDirectoryTable
	Segments []Segment

	MainThread *sched.Thread

	// brk is the current end of the process's heap segment, grown by
	// the brk/sbrk syscalls. A zero value means no heap segment has
	// been established yet.
	brk uintptr

	// files holds this process's open file descriptor table, keyed by
	// descriptor number.
	files map[int]vfs.File

	state      State
	exitStatus int

	// lock guards children, zombieQueue and waiters.
	lock sync.Spinlock

	// children holds the PIDs of every process this one ever forked,
	// live or already reaped.
	children []uint32

	// zombieQueue holds children that have exited but not yet been
	// reaped via Waitpid.
	zombieQueue []*Process

	// waiters holds threads blocked inside Waitpid with no matching
	// zombie yet.
	waiters sync.WaitQueue
}

// NewProcess allocates a fresh page directory and registers a new process.
// If parent is nil the new process receives root credentials, used only
// for the kernel's very first process.
func NewProcess(name string, parent *Process) (*Process, *kernel.Error) {
	pdtFrame, err := allocFrameFn()
	if err != nil {
		return nil, err
	}

	creds := rootCredentials
	var parentID uint32
	if parent != nil {
		creds = parent.Credentials
		parentID = parent.PID
	}

	procLock.Acquire()
	nextPID++
	pid := nextPID
	p := &Process{
		PID:         pid,
		ParentID:    parentID,
		Name:        name,
		Credentials: creds,
	}
	allProcs[pid] = p
	procLock.Release()

	if err := pdtInitFn(p, pdtFrame); err != nil {
		return nil, err
	}

	if parent != nil {
		parent.lock.Acquire()
		parent.children = append(parent.children, pid)
		parent.lock.Release()
	}

	return p, nil
}

// Current returns the process owning the currently executing thread.
// Panics if called from a thread sched doesn't know is owned by a
// process (e.g. before the first process has been scheduled).
func Current() *Process {
	return sched.Current().Proc.(*Process)
}

// Lookup returns the process registered under pid, if any.
func Lookup(pid uint32) (*Process, bool) {
	procLock.Acquire()
	defer procLock.Release()
	p, ok := allProcs[pid]
	return p, ok
}

// State returns the process's current lifecycle state.
func (p *Process) State() State {
	return p.state
}

// MapSegment reserves size bytes, rounded up to a page multiple, of
// address space at addr, records it as one of the process's anonymous
// segments and returns it. No frame is allocated or mapped yet: each page
// is backed lazily, by normalDriver.fault, the first time it is touched.
// addr and size must not overlap an existing segment.
func (p *Process) MapSegment(addr uintptr, size uintptr, flags vmm.PageTableEntryFlag) (Segment, *kernel.Error) {
	return p.mapSegment(addr, size, flags, 0, normalDriver{})
}

// MapSegmentCleared behaves like MapSegment but zeroes each page the first
// time it is faulted in, for callers that can't tolerate stale frame
// contents leaking into the new segment (e.g. a BSS section).
func (p *Process) MapSegmentCleared(addr uintptr, size uintptr, flags vmm.PageTableEntryFlag) (Segment, *kernel.Error) {
	return p.mapSegment(addr, size, flags, VMClear, normalDriver{})
}

// MapSegmentVnode records a segment whose pages are populated on demand by
// reading file starting at fileOffset, the same way an ELF loader maps a
// binary's sections without reading the whole file up front.
func (p *Process) MapSegmentVnode(addr uintptr, size uintptr, flags vmm.PageTableEntryFlag, file vfs.File, fileOffset int64) (Segment, *kernel.Error) {
	seg, err := p.mapSegment(addr, size, flags, 0, vnodeDriver{})
	if err != nil {
		return Segment{}, err
	}

	seg.file = file
	seg.fileOffset = fileOffset
	p.Segments[len(p.Segments)-1] = seg
	return seg, nil
}

func (p *Process) mapSegment(addr, size uintptr, flags vmm.PageTableEntryFlag, vmFlags VMFlag, driver segmentDriver) (Segment, *kernel.Error) {
	size = (size + mm.PageSize - 1) &^ (mm.PageSize - 1)
	seg := Segment{Start: addr, Size: size, Flags: flags, VMFlags: vmFlags}

	for _, existing := range p.Segments {
		if seg.Overlaps(existing) {
			return Segment{}, errSegmentOverlap
		}
	}

	seg, err := driver.alloc(p, seg)
	if err != nil {
		return Segment{}, err
	}

	p.Segments = append(p.Segments, seg)
	return seg, nil
}

// MapSegmentAt eagerly backs size bytes, rounded up to a page multiple, at
// addr using the supplied pre-existing frames (one per page, in address
// order) instead of allocating fresh ones, pinning each via pmm.Get. Used
// by an ELF loader mapping pages it already populated outside the
// process's address space. If mapping any page fails, every page mapped
// by this call is rolled back.
func (p *Process) MapSegmentAt(addr uintptr, size uintptr, flags vmm.PageTableEntryFlag, frames []mm.Frame) (Segment, *kernel.Error) {
	size = (size + mm.PageSize - 1) &^ (mm.PageSize - 1)
	seg := Segment{Start: addr, Size: size, Flags: flags}

	for _, existing := range p.Segments {
		if seg.Overlaps(existing) {
			return Segment{}, errSegmentOverlap
		}
	}

	seg, err := (normalDriver{}).allocAt(p, seg, frames)
	if err != nil {
		return Segment{}, err
	}

	p.Segments = append(p.Segments, seg)
	return seg, nil
}

// teardown releases every segment's frames, the process's page directory
// frame, and removes it from the registry. Called once a process has
// become a zombie and its parent has reaped it.
func (p *Process) teardown() {
	for _, seg := range p.Segments {
		_ = seg.driver.free(p, seg)
	}

	_ = putFrameFn(pdtFrameFn(p))

	procLock.Acquire()
	delete(allProcs, p.PID)
	procLock.Release()
}
