package cpu

// kernelTSSSelector is the GDT selector of the single static TSS this
// kernel uses. The GDT itself (including this TSS descriptor) is set up by
// the early rt0 assembly stub before the Go entry point runs, the same way
// it already installs the flat code/data segments.
const kernelTSSSelector uint16 = 0x28

// tss is the subset of the i386 task-state segment layout the kernel
// actually touches. Since tasks are switched entirely in software
// (SwitchContext) the only fields that matter to the CPU are ss0/esp0: they
// tell it which stack to load on a ring3->ring0 transition.
type tss struct {
	linkPrev uint32
	esp0     uint32
	ss0      uint32
	_        [23]uint32
}

var kernelTSS tss

// InitTSS points the kernel TSS's ss0 at the flat kernel data segment and
// loads the task register so that the CPU will honor ss0/esp0 on the next
// privilege-level change.
func InitTSS(kernelDataSelector uint16) {
	kernelTSS.ss0 = uint32(kernelDataSelector)
	LoadTSS(kernelTSSSelector)
}

// SetKernelStack updates esp0 to point at the top of the given kernel
// stack. Called by the scheduler every time it switches to a new thread.
func SetKernelStack(esp0 uintptr) {
	kernelTSS.esp0 = uint32(esp0)
}
