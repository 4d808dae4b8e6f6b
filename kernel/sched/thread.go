// Package sched implements a preemptive round-robin scheduler with a
// single global FIFO runqueue.
package sched

import (
	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/gate"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm/vmm"
)

// State describes where a thread currently sits relative to the scheduler.
type State uint8

const (
	// StateRunning means the thread is either the one currently executing
	// or sitting on the runqueue waiting for its turn.
	StateRunning State = iota

	// StateWaiting means the thread has blocked on exactly one wait queue
	// and will not run again until something unblocks it.
	StateWaiting

	// StateZombie means the thread has exited and is only waiting to be
	// reaped by its parent.
	StateZombie
)

// defaultQuantum is the number of timer ticks (1 kHz, so milliseconds) a
// thread is allowed to run before being preempted.
const defaultQuantum = 2

// kernelStackSize is the size of the stack allocated for every thread.
const kernelStackSize = 16 * 1024

// Thread is a single schedulable unit of execution.
type Thread struct {
	// ID uniquely identifies this thread.
	ID uint32

	// Name is a short human readable label, mainly useful for debugging.
	Name string

	// Proc is an opaque handle to the owning process, set and interpreted
	// by the kernel/proc package. sched never dereferences it; keeping it
	// untyped here avoids a sched<->proc import cycle, since proc needs
	// to create and manipulate threads.
	Proc interface{}

	state State

	// sp is the saved stack pointer. It is only meaningful while the
	// thread is not the one currently executing.
	sp uintptr

	// pdtAddr is the physical address of the page directory table this
	// thread's address space uses.
	pdtAddr uintptr

	kstackTop uintptr

	quantum int

	// resumeRegs is only set for threads built by NewForkedThread: the
	// trap frame resumeTrampoline hands off to gate.ResumeTrapFrame on
	// first run.
	resumeRegs *gate.Registers

	next *Thread
}

var nextThreadID uint32

// NewThread allocates a kernel stack for a new thread, synthesises the
// initial context so that the first switch into it resumes execution at
// entry, and enqueues it on the runqueue.
func NewThread(name string, entry uintptr, pdtAddr uintptr) (*Thread, *kernel.Error) {
	stackAddr, err := allocKernelStack()
	if err != nil {
		return nil, err
	}

	nextThreadID++

	t := &Thread{
		ID:        nextThreadID,
		Name:      name,
		state:     StateRunning,
		pdtAddr:   pdtAddr,
		kstackTop: stackAddr + kernelStackSize,
		quantum:   defaultQuantum,
	}

	t.sp = buildInitialStack(t.kstackTop, entry)

	enqueue(t)

	return t, nil
}

// NewForkedThread allocates a kernel stack for a thread whose first run
// resumes directly inside regs rather than at a plain entry point. fork
// uses this to give a child process a thread that picks up exactly where
// the parent's syscall handler found it, register for register.
func NewForkedThread(name string, pdtAddr uintptr, regs gate.Registers) (*Thread, *kernel.Error) {
	stackAddr, err := allocKernelStack()
	if err != nil {
		return nil, err
	}

	nextThreadID++

	t := &Thread{
		ID:         nextThreadID,
		Name:       name,
		state:      StateRunning,
		pdtAddr:    pdtAddr,
		kstackTop:  stackAddr + kernelStackSize,
		quantum:    defaultQuantum,
		resumeRegs: &regs,
	}

	t.sp = buildResumeStack(t.kstackTop)

	enqueue(t)

	return t, nil
}

// State returns the thread's current scheduling state.
func (t *Thread) State() State {
	return t.state
}

// allocKernelStack reserves a virtual region in the kernel address space
// and backs every page with a freshly allocated physical frame, returning
// the region's starting virtual address.
func allocKernelStack() (uintptr, *kernel.Error) {
	size := (kernelStackSize + mm.PageSize - 1) &^ (mm.PageSize - 1)

	regionAddr, err := vmm.EarlyReserveRegion(size)
	if err != nil {
		return 0, err
	}

	pageCount := size / mm.PageSize
	for i := uintptr(0); i < pageCount; i++ {
		frame, err := mm.AllocFrame()
		if err != nil {
			return 0, err
		}

		page := mm.PageFromAddress(regionAddr + i*mm.PageSize)
		if err := vmm.Map(page, frame, vmm.FlagPresent|vmm.FlagRW); err != nil {
			return 0, err
		}
	}

	return regionAddr, nil
}
