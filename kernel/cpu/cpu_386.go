package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// InterruptsEnabled returns true if the IF flag is currently set in EFLAGS.
func InterruptsEnabled() bool

// Halt stops instruction execution until the next interrupt arrives.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page directory to point to the specified physical
// address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page
// directory (the contents of CR3).
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register (the faulting linear
// address after a page fault).
func ReadCR2() uint32

// ID returns information about the CPU and its features. It is implemented
// as a CPUID instruction with EAX=leaf and returns the values in EAX, EBX,
// ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// OutB writes a byte to the given I/O port.
func OutB(port uint16, value uint8)

// InB reads a byte from the given I/O port.
func InB(port uint16) uint8

// OutW writes a word to the given I/O port.
func OutW(port uint16, value uint16)

// InW reads a word from the given I/O port.
func InW(port uint16) uint16

// IOWait performs a throwaway write to an unused port, giving slow legacy
// devices (the PIC, the PIT) time to process the previous command.
func IOWait()

// LoadIDT loads the interrupt descriptor table pointed to by idtPtrAddr (the
// address of a 6-byte IDTR pseudo-descriptor) via the LIDT instruction.
func LoadIDT(idtPtrAddr uintptr)

// LoadTSS loads the task register with the given GDT selector.
func LoadTSS(selector uint16)

// SwitchContext saves the current stack pointer to *savedSP, switches to
// newSP and, if newPDT is non-zero and different from the active one,
// reloads CR3. It returns when some other thread switches back to the
// context that called it. This is the only place where a thread's
// instruction stream moves to a different stack.
func SwitchContext(savedSP *uintptr, newSP uintptr, newPDT uintptr)

// FramePointer returns the value of EBP in the caller's frame. Used by
// kfmt's panic handler to walk the saved-EBP chain for a backtrace.
func FramePointer() uintptr

// StackPointer returns the value of ESP in the caller's frame.
func StackPointer() uintptr
