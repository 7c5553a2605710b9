// Package gate installs the x86-64 IDT and routes interrupts, exceptions
// and the local APIC timer vector to registered Go handlers. The actual
// gate-entry stubs and the IDT descriptor load are hand-written assembly
// (one stub per vector, generated by interruptGateEntries) since Go cannot
// express the "this instruction pointer is a valid IDT target with no Go
// stack set up yet" contract; everything above that line is ordinary Go.
//
// Grounded on the teacher kernel's irq/gate packages, generalized so the
// scheduler (kernel/sched) can register the timer vector the same way a
// driver registers a page-fault handler.
package gate

import (
	"github.com/vortexkernel/vortex/kernel/kfmt/early"
)

// Registers is a snapshot of every general-purpose register plus the
// CPU-pushed interrupt frame, exactly as the gate stub leaves them on the
// handler's stack. The scheduler captures and restores a thread's execution
// state through this same struct (kernel/sched.Thread.Capture/Restore)
// rather than defining a second, incompatible layout.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Info carries the exception's error code, or the vector number for
	// an interrupt that pushes none.
	Info uint64

	// The CPU-pushed frame consumed by IRETQ.
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// Print dumps the register snapshot via the early, non-allocating printer;
// used by the panic path and by unhandled-exception reporting.
func (r *Registers) Print() {
	early.Printf("RAX = %x RBX = %x\n", r.RAX, r.RBX)
	early.Printf("RCX = %x RDX = %x\n", r.RCX, r.RDX)
	early.Printf("RSI = %x RDI = %x\n", r.RSI, r.RDI)
	early.Printf("RBP = %x\n", r.RBP)
	early.Printf("R8  = %x R9  = %x\n", r.R8, r.R9)
	early.Printf("R10 = %x R11 = %x\n", r.R10, r.R11)
	early.Printf("R12 = %x R13 = %x\n", r.R12, r.R13)
	early.Printf("R14 = %x R15 = %x\n", r.R14, r.R15)
	early.Printf("RIP = %x CS  = %x\n", r.RIP, r.CS)
	early.Printf("RSP = %x SS  = %x\n", r.RSP, r.SS)
	early.Printf("RFL = %x\n", r.RFlags)
}

// InterruptNumber names an IDT slot.
type InterruptNumber uint8

const (
	DivideByZero            = InterruptNumber(0)
	NMI                     = InterruptNumber(2)
	Overflow                = InterruptNumber(4)
	BoundRangeExceeded      = InterruptNumber(5)
	InvalidOpcode           = InterruptNumber(6)
	DeviceNotAvailable      = InterruptNumber(7)
	DoubleFault             = InterruptNumber(8)
	InvalidTSS              = InterruptNumber(10)
	SegmentNotPresent       = InterruptNumber(11)
	StackSegmentFault       = InterruptNumber(12)
	GPFException            = InterruptNumber(13)
	PageFaultException      = InterruptNumber(14)
	FloatingPointException  = InterruptNumber(16)
	AlignmentCheck          = InterruptNumber(17)
	MachineCheck            = InterruptNumber(18)
	SIMDFPException         = InterruptNumber(19)
)

// Init loads the IDT. Every gate starts out non-present; HandleInterrupt
// both registers the Go-level handler and marks the gate present.
func Init() {
	installIDT()
}

// HandleInterrupt routes intNumber to handler. istOffset selects an
// interrupt-stack-table entry to run the handler on (0 disables IST, using
// the interrupted thread's own stack); the scheduler's timer vector and any
// double-fault-adjacent vector should use a dedicated IST stack so a
// stack-overflowing thread cannot also corrupt its own interrupt handling.
func HandleInterrupt(intNumber InterruptNumber, istOffset uint8, handler func(*Registers))

// installIDT populates the IDT descriptor and issues LIDT.
func installIDT()

// dispatchInterrupt is the common landing pad every generated gate stub
// jumps to; it looks up and invokes the registered Go handler for the
// vector that trapped.
func dispatchInterrupt()

// interruptGateEntries emits one gate stub per IDT slot. Never called
// directly from Go; its address is what installIDT wires into the IDT.
func interruptGateEntries()
