package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// InterruptsEnabled reports whether RFLAGS.IF is currently set.
func InterruptsEnabled() bool

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// CPUID executes the CPUID instruction for the given leaf and sub-leaf,
// returning the eax/ebx/ecx/edx register values.
func CPUID(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)

// ReadMSR reads the model-specific register addressed by msr.
func ReadMSR(msr uint32) uint64

// WriteMSR writes value to the model-specific register addressed by msr.
func WriteMSR(msr uint32, value uint64)

// InByte reads a byte from the given I/O port.
func InByte(port uint16) uint8

// OutByte writes a byte to the given I/O port.
func OutByte(port uint16, value uint8)

// OutLong writes a 32-bit value to the given I/O port.
func OutLong(port uint16, value uint32)

// ReadTSC returns the current value of the timestamp counter.
func ReadTSC() uint64

// FramePointer returns the caller's current RBP value, the head of the
// saved-frame-pointer chain the panic backtrace walks.
func FramePointer() uintptr

// WithoutInterrupts disables interrupts, runs f, then restores interrupts
// to whatever state they were in before the call. spec.md §5: any code that
// mutates state an interrupt handler also touches on the same core (the
// migration ring's slot state machine, a core-local run queue) must run
// inside this wrapper; cross-core races are the CAS's job, not this one's.
func WithoutInterrupts(f func()) {
	enabled := InterruptsEnabled()
	DisableInterrupts()
	defer func() {
		if enabled {
			EnableInterrupts()
		}
	}()
	f()
}
