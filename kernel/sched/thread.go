package sched

import (
	"github.com/vortexkernel/vortex/kernel/addr"
	"github.com/vortexkernel/vortex/kernel/errors"
	"github.com/vortexkernel/vortex/kernel/gate"
	"github.com/vortexkernel/vortex/kernel/mem/vmm"
)

// MaxCores bounds the number of per-core migration inboxes kept alive; the
// spec's SMP bring-up enumerates processors from the MADT and will never
// see more cores than this.
const MaxCores = 256

// CoreId identifies one core's scheduler instance.
type CoreId uint8

// KernelCodeSegment is the GDT selector every thread's ThreadState.CS is
// initialized to. vortex's bootstrap GDT only ever installs one kernel code
// segment at this index (spec.md leaves the exact GDT layout unspecified;
// original_source hardcodes the same assumption).
const KernelCodeSegment = 0x08

// rflagsInterruptEnable, rflagsAlignmentCheck and rflagsID are the RFLAGS
// bits a freshly spawned thread starts with (spec.md §4.6.1): interrupts
// on, alignment checking on, and the CPUID-capability probe bit set.
const (
	rflagsInterruptEnable = 1 << 9
	rflagsAlignmentCheck  = 1 << 18
	rflagsID              = 1 << 21
)

// ThreadState is a thread's full saved execution context: the same layout
// an interrupt gate captures on entry, since a thread switch is always
// implemented by rewriting the interrupted core's gate.Registers before
// IRETQ.
type ThreadState = gate.Registers

// LocalThreadId names a thread's slot within one core's ThreadPool. It
// changes across a migration (the destination core assigns a new slot);
// GlobalThreadIdPool is what gives a thread a migration-stable identity.
type LocalThreadId struct {
	Core   CoreId
	Thread uint32
}

// IsBootstrapThread reports whether this is a core's always-present thread
// 0 (the first thread started on that core, never migrated or freed).
func (id LocalThreadId) IsBootstrapThread() bool { return id.Thread == 0 }

// IsHaltThread reports whether this is a core's dedicated halt thread
// (always thread 1, always runnable, always lowest priority).
func (id LocalThreadId) IsHaltThread() bool { return id.Thread == 1 }

// Thread is a schedulable unit of execution: a stable global identity, its
// current per-core location, and its saved register state.
type Thread struct {
	globalID uint64
	localID  LocalThreadId
	State    ThreadState
}

// GlobalID returns the thread's migration-stable identity.
func (t *Thread) GlobalID() uint64 { return t.globalID }

// LocalID returns the thread's current core and slot.
func (t *Thread) LocalID() LocalThreadId { return t.localID }

// Capture builds a Thread from the currently-interrupted core's register
// snapshot, tagging it with whatever global ID that core was last running
// as (spec.md §4.6.3's "save the current interrupt stack frame as a
// Thread").
func Capture(globalID uint64, localID LocalThreadId, regs *gate.Registers) Thread {
	return Thread{globalID: globalID, localID: localID, State: *regs}
}

// Restore writes t's saved state back onto the interrupt frame that will be
// used for the next IRETQ, switching execution to t.
func (t *Thread) Restore(regs *gate.Registers) {
	*regs = t.State
}

// migrateTo updates t's local ID after a cross-core move; callers are
// expected to also have called GlobalThreadIdPool.Migrate with the same
// newLocal to keep the global table in sync.
func (t *Thread) migrateTo(newLocal LocalThreadId) { t.localID = newLocal }

// Stack is a contiguous range of mapped kernel stack memory: bottom is the
// lowest address, top the initial stack pointer (stacks grow down).
type Stack struct {
	bottom addr.VirtAddr
	top    addr.VirtAddr
}

// Bottom returns the stack's lowest mapped address.
func (s Stack) Bottom() addr.VirtAddr { return s.bottom }

// Top returns the stack's initial stack-pointer value.
func (s Stack) Top() addr.VirtAddr { return s.top }

// ErrFailedToAllocateStack is returned when the upper-half virtual arena a
// thread's kernel stack is carved from has no room left (spec.md §7's
// FailedToAllocateStack, surfaced to spawn's caller rather than panicking).
var ErrFailedToAllocateStack = errors.KernelError("scheduler: failed to allocate kernel stack")

// StackPages is the number of 4 KiB pages allocated per thread kernel stack
// (spec.md §4.6.1: "a fresh kernel stack of 256 pages").
const StackPages = 256

// allocStack carves a fresh StackPages-page kernel stack from bump, leaving
// one page unmapped immediately below and above it, and maps the rest
// through mapper. The two guard pages turn a stack overflow or underflow
// into an immediate page fault instead of silently corrupting whatever
// happens to sit past the arena's current bump pointer (original_source's
// ThreadContext.kernel_stack guard pages, absent from the distillation's
// prose). Returns ErrFailedToAllocateStack if the arena is exhausted.
func allocStack(bump *vmm.VirtualBump, mapper *vmm.Mapper) (Stack, error) {
	start, ok := bump.AllocPages(StackPages + 2)
	if !ok {
		return Stack{}, ErrFailedToAllocateStack
	}
	mappable := start.Add(1)
	if err := mapper.MapAllocRange(mappable, StackPages, addr.FlagPresent|addr.FlagWritable); err != nil {
		return Stack{}, ErrFailedToAllocateStack
	}
	bottom := mappable.StartAddress()
	top := mappable.Add(StackPages).StartAddress()
	return Stack{bottom: bottom, top: top}, nil
}

// newThreadState builds the initial register state for a thread whose
// entry point is the trampoline for globalID's registered closure
// (spec.md §4.6.1): FnOnce pointer conceptually in rdi (here, the global ID
// used to look the closure up in entryRegistry, since Go has no raw
// Box::into_raw equivalent), rbp/rsp at the stack's bottom/top, cs the
// kernel code segment, rflags with interrupts/alignment-check/id set.
func newThreadState(globalID uint64, stack Stack) ThreadState {
	return ThreadState{
		RDI:    globalID,
		RBP:    uint64(stack.Bottom()),
		RSP:    uint64(stack.Top()),
		RIP:    threadTrampolineAddr(),
		CS:     KernelCodeSegment,
		RFlags: rflagsInterruptEnable | rflagsAlignmentCheck | rflagsID,
	}
}

// newHaltThreadState builds the register state for a core's dedicated halt
// thread: interrupts on, entry point at haltLoop, everything else zero.
func newHaltThreadState(stack Stack) ThreadState {
	return ThreadState{
		RBP:    uint64(stack.Bottom()),
		RSP:    uint64(stack.Top()),
		RIP:    haltLoopAddr(),
		CS:     KernelCodeSegment,
		RFlags: rflagsInterruptEnable,
	}
}
