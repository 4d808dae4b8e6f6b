// Package kmain wires together every kernel subsystem and hands control to
// the scheduler. It is the only package the rt0 assembly stub calls into.
package kmain

import (
	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/cpu"
	"github.com/d4ilyrun/kernel-sub002/kernel/gate"
	"github.com/d4ilyrun/kernel-sub002/kernel/goruntime"
	"github.com/d4ilyrun/kernel-sub002/kernel/hal"
	"github.com/d4ilyrun/kernel-sub002/kernel/hal/multiboot"
	"github.com/d4ilyrun/kernel-sub002/kernel/initcall"
	"github.com/d4ilyrun/kernel-sub002/kernel/irq"
	"github.com/d4ilyrun/kernel-sub002/kernel/kfmt"
	legacyAllocator "github.com/d4ilyrun/kernel-sub002/kernel/mem/pmm/allocator"
	legacyVmm "github.com/d4ilyrun/kernel-sub002/kernel/mem/vmm"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm/heap"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm/pmm"
	"github.com/d4ilyrun/kernel-sub002/kernel/mm/vmm"
	"github.com/d4ilyrun/kernel-sub002/kernel/proc"
	"github.com/d4ilyrun/kernel-sub002/kernel/sched"
	"github.com/d4ilyrun/kernel-sub002/kernel/syscall"
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// Kmain is the only Go symbol visible (exported) to the rt0 initialization
// code. It is invoked after rt0 has set up the GDT and a minimal g0 struct
// that lets Go code run on the small stack the assembly stub allocated.
//
// rt0 passes the physical address of the multiboot info payload along with
// the physical start/end addresses of the loaded kernel image.
//
// Kmain is not expected to return. If it does, the rt0 code halts the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	registerBootstrap(kernelStart, kernelEnd)
	registerEarly()
	registerNormal()
	registerLate()

	initcall.RunStage(initcall.StageBootstrap)
	initcall.RunStage(initcall.StageEarly)
	initcall.RunStage(initcall.StageNormal)
	initcall.RunStage(initcall.StageLate)

	cpu.EnableInterrupts()
	sched.Schedule()

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating this as dead code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// registerBootstrap wires up the interrupt/exception plumbing and both
// generations of the memory manager. A failure at this stage is always
// fatal, since nothing later can be trusted to work without it.
func registerBootstrap(kernelStart, kernelEnd uintptr) {
	initcall.Register(initcall.StageBootstrap, "gate", func() *kernel.Error {
		gate.Init()
		return nil
	})
	initcall.Register(initcall.StageBootstrap, "irq", func() *kernel.Error {
		irq.Init()
		return nil
	})
	initcall.Register(initcall.StageBootstrap, "syscall", func() *kernel.Error {
		syscall.Init()
		return nil
	})

	// kernel/mm/{pmm,vmm,heap} back kernel/proc and kernel/sched. pmm
	// runs first: it bootstraps its frame allocator against the
	// identity/recursive mapping rt0 already set up, so vmm can use
	// mm.AllocFrame to build the kernel's own granular, higher-half page
	// directory without depending on a allocator that isn't wired yet.
	initcall.Register(initcall.StageBootstrap, "pmm", func() *kernel.Error {
		return pmm.Init(kernelStart, kernelEnd)
	})
	initcall.Register(initcall.StageBootstrap, "vmm", func() *kernel.Error {
		return vmm.Init(mm.KernelVMA)
	})
	initcall.Register(initcall.StageBootstrap, "heap", func() *kernel.Error {
		heap.Init()
		return nil
	})

	// kernel/mem/{pmm/allocator,vmm} are the legacy allocator pair that
	// backs kernel/goruntime's real Go allocator bootstrap. They run
	// after the new mm stack since they have no bearing on it and
	// nothing about their own bootstrap requires it to exist first.
	initcall.Register(initcall.StageBootstrap, "legacy_allocator", func() *kernel.Error {
		legacyAllocator.Init(kernelStart, kernelEnd)
		legacyVmm.SetFrameAllocator(legacyAllocator.AllocFrame)
		return nil
	})
	initcall.Register(initcall.StageBootstrap, "legacy_vmm", func() *kernel.Error {
		return legacyVmm.Init(mm.KernelVMA)
	})
}

// registerEarly brings up the Go runtime features the rest of the kernel
// assumes are available (maps, interfaces, heap allocation) and the
// scheduler. A failure here is also fatal.
func registerEarly() {
	initcall.Register(initcall.StageEarly, "goruntime", goruntime.Init)
	initcall.Register(initcall.StageEarly, "sched", func() *kernel.Error {
		sched.Init(cpu.ActivePDT())
		return nil
	})
}

// registerNormal probes for hardware and brings up whatever drivers are
// found. A failure here is logged and the kernel keeps booting without
// whatever the failing driver would have provided.
func registerNormal() {
	initcall.Register(initcall.StageNormal, "hal", func() *kernel.Error {
		hal.DetectHardware()
		return nil
	})
}

// registerLate spawns the kernel's first process now that the rest of the
// system is up.
func registerLate() {
	initcall.Register(initcall.StageLate, "init_process", spawnInitProcess)
}

// spawnInitProcess creates the kernel's very first process and its single
// thread, which becomes runnable as soon as sched.Schedule is first called.
func spawnInitProcess() *kernel.Error {
	p, err := proc.NewProcess("init", nil)
	if err != nil {
		return err
	}

	t, err := sched.NewThread("init", sched.FuncPC(initEntry), p.PDT.Frame().Address())
	if err != nil {
		return err
	}

	t.Proc = p
	p.MainThread = t

	return nil
}

// initEntry is the entry point of the init process's main thread. It is a
// placeholder until the init binary is loaded from the root filesystem and
// exec'd into this process.
func initEntry() {
	for {
		sched.Yield()
	}
}
