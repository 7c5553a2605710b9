// Package initctx implements the boot-time phase chain that hands kernel
// resources forward as they come online: a driver holding a Phase0 value
// has no way to allocate a frame, because Phase0 simply has no method that
// would let it. Each phase embeds the one before it, so capabilities are
// additive and a later phase can always be used wherever an earlier one is
// expected.
//
// original_source/initialization_context.rs expresses this with a single
// generic InitializationContext<Phase> type plus AsRef/AsMut borrowing
// restricted by phase via a macro. Go's generics cannot restrict a method
// set to specific instantiations of a type parameter, so vortex expresses
// the same guarantee with one concrete struct per phase instead: the
// compiler still refuses ActiveTable() on a Phase0 value, it just does so
// through embedding rather than through InitializationContext[Phase1].
package initctx

import (
	"github.com/vortexkernel/vortex/kernel/acpi"
	"github.com/vortexkernel/vortex/kernel/addr"
	"github.com/vortexkernel/vortex/kernel/hal/bootbridge"
	"github.com/vortexkernel/vortex/kernel/mem/pfn"
	"github.com/vortexkernel/vortex/kernel/mem/vmm"
)

// Phase0 carries nothing but the raw handoff from the bootloader/bootbridge.
type Phase0 struct {
	bridge *bootbridge.Bridge
}

// New starts the chain at Phase0 from a parsed bootbridge handoff.
func New(bridge *bootbridge.Bridge) Phase0 {
	return Phase0{bridge: bridge}
}

// Bootbridge returns the raw handoff payload.
func (p Phase0) Bootbridge() *bootbridge.Bridge { return p.bridge }

// EnterPhase1 consumes a Phase0 value and yields a Phase1 once the active
// page table, the physical frame allocator and the kernel stack arena are
// all ready.
func (p Phase0) EnterPhase1(active *vmm.ActiveTable, frames *pfn.Buddy, stacks *vmm.VirtualBump) Phase1 {
	return Phase1{Phase0: p, active: active, frames: frames, stacks: stacks}
}

// Phase1 adds the memory-management resources every later phase depends on.
type Phase1 struct {
	Phase0
	active *vmm.ActiveTable
	frames *pfn.Buddy
	stacks *vmm.VirtualBump
}

// ActiveTable returns the kernel's active page table mapper.
func (p Phase1) ActiveTable() *vmm.ActiveTable { return p.active }

// FrameAllocator returns the physical frame allocator.
func (p Phase1) FrameAllocator() *pfn.Buddy { return p.frames }

// StackAllocator returns the virtual arena kernel stacks are carved from.
func (p Phase1) StackAllocator() *vmm.VirtualBump { return p.stacks }

// EnterPhase2 consumes a Phase1 value and yields a Phase2 once the platform
// topology has been read out of the bootbridge-provided ACPI tables.
func (p Phase1) EnterPhase2(processors []acpi.Processor, lapicMMIO addr.PhysAddr, ioapics []acpi.IOAPIC, overrides []acpi.InterruptOverride) Phase2 {
	return Phase2{
		Phase1:    p,
		processors: processors,
		lapicMMIO: lapicMMIO,
		ioapics:   ioapics,
		overrides: overrides,
	}
}

// Phase2 adds the ACPI-derived platform topology.
type Phase2 struct {
	Phase1
	processors []acpi.Processor
	lapicMMIO  addr.PhysAddr
	ioapics    []acpi.IOAPIC
	overrides  []acpi.InterruptOverride
}

// Processors returns every processor local APIC entry the MADT reported.
func (p Phase2) Processors() []acpi.Processor { return p.processors }

// LocalAPICBase returns the physical base address of the local APIC's MMIO
// window (meaningless once x2APIC mode is active, but still reported).
func (p Phase2) LocalAPICBase() addr.PhysAddr { return p.lapicMMIO }

// IOAPICs returns every IO-APIC the MADT reported, in MADT order (spec.md
// §9's open question on GSI ordering is resolved at the apic package
// boundary, not here: see apic.NewIOAPICSet).
func (p Phase2) IOAPICs() []acpi.IOAPIC { return p.ioapics }

// InterruptOverrides returns the legacy-ISA-IRQ-to-GSI remaps the MADT
// reported.
func (p Phase2) InterruptOverrides() []acpi.InterruptOverride { return p.overrides }

// LocalInitializer is the per-core setup callback registered in Phase3 and
// invoked once on the BSP and once on every AP as it comes online.
type LocalInitializer func(coreID uint8)

// EnterPhase3 consumes a Phase2 value and yields a Phase3 once the per-core
// local initializer has been registered.
func (p Phase2) EnterPhase3(local LocalInitializer) Phase3 {
	return Phase3{Phase2: p, local: local}
}

// Phase3 adds the per-core local initializer.
type Phase3 struct {
	Phase2
	local LocalInitializer
}

// LocalInit returns the registered per-core initializer.
func (p Phase3) LocalInit() LocalInitializer { return p.local }

// Scheduler is the subset of kernel/sched.Scheduler the final phase needs
// to expose; declared here rather than imported to avoid a import cycle
// between initctx and sched (sched.Thread creation needs a Phase1 to carve
// its stack, so sched cannot import initctx's concrete FinalPhase type).
type Scheduler interface {
	StartBootstrapCore()
}

// EnterFinalPhase consumes a Phase3 value and yields the FinalPhase once
// the IDT/GDT, APIC and scheduler are installed and the kernel is ready to
// start application processors.
func (p Phase3) EnterFinalPhase(scheduler Scheduler) FinalPhase {
	return FinalPhase{Phase3: p, scheduler: scheduler}
}

// FinalPhase is the last link in the chain: every resource the kernel ever
// bootstraps is reachable from here.
type FinalPhase struct {
	Phase3
	scheduler Scheduler
}

// Scheduler returns the installed scheduler.
func (p FinalPhase) Scheduler() Scheduler { return p.scheduler }
