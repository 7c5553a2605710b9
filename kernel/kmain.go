package kernel

import (
	"github.com/vortexkernel/vortex/kernel/acpi"
	"github.com/vortexkernel/vortex/kernel/addr"
	"github.com/vortexkernel/vortex/kernel/apic"
	"github.com/vortexkernel/vortex/kernel/cpu"
	"github.com/vortexkernel/vortex/kernel/gate"
	"github.com/vortexkernel/vortex/kernel/goruntime"
	"github.com/vortexkernel/vortex/kernel/hal"
	"github.com/vortexkernel/vortex/kernel/hal/bootbridge"
	"github.com/vortexkernel/vortex/kernel/initctx"
	"github.com/vortexkernel/vortex/kernel/kfmt/early"
	"github.com/vortexkernel/vortex/kernel/logring"
	"github.com/vortexkernel/vortex/kernel/mem/pfn"
	"github.com/vortexkernel/vortex/kernel/mem/vmm"
	"github.com/vortexkernel/vortex/kernel/sched"
	"github.com/vortexkernel/vortex/kernel/smp"
)

// logRingCapacity is the number of 128-byte chunks the post-bring-up log
// ring holds (spec.md §3/§4.7). kfmt/early covers everything logged before
// enterPhase1 builds this ring; every SMP core writes into it afterwards.
const logRingCapacity = 4096

// Log is the kernel's structured log ring, usable from any core once
// enterPhase1 installs it. logReader lives only on the bootstrap core, which
// is the sole consumer draining and printing reassembled entries.
var (
	Log       *logring.Ring
	logReader *logring.Reader
)

// logf writes msg to Log and immediately drains whatever it reassembled to
// the active terminal. A real multi-core kernel would drain from a
// dedicated logging core or timer callback instead of synchronously after
// every write; Kmain has neither yet, so it drains inline.
func logf(level logring.Level, format string, args ...interface{}) {
	Log.Printf(level, format, args...)
	for _, e := range logReader.Poll() {
		early.Printf("[%s] %s", e.Level, e.Message)
	}
}

// recursiveSelfMapIndex is the P4 slot holding the active table's self-map;
// index 0x1FE places it at 0xFFFF_FF00_0000_0000.
const recursiveSelfMapIndex = 0x1FE

// directPhysMapBase is the virtual base of the kernel's direct physical map
// (spec.md §3): every physical address p is reachable at
// directPhysMapBase+p without a page-table walk, used only during early
// bring-up before real memory-backed structures exist.
const directPhysMapBase = addr.VirtAddr(0xFFFF_9000_0000_0000)

func physToVirt(p addr.PhysAddr) addr.VirtAddr { return directPhysMapBase.Add(p.Uint64()) }

func physToVirtPtr(p addr.PhysAddr) uintptr { return uintptr(physToVirt(p)) }

// kernelStackArena and heapArena are disjoint windows of kernel virtual
// address space: one for sched's thread/AP stacks, one for the Go runtime's
// own heap, so growth in one can never collide with the other.
var (
	kernelStackArenaStart = addr.VirtAddr(0xFFFF_A000_0000_0000)
	kernelStackArenaEnd   = addr.VirtAddr(0xFFFF_A800_0000_0000)

	heapArenaStart = addr.VirtAddr(0xFFFF_B000_0000_0000)
	heapArenaEnd   = addr.VirtAddr(0xFFFF_C000_0000_0000)
)

// Kmain is the only Go symbol visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up
// the GDT and a minimal g0 struct that allows Go code to run on the 4K stack
// the assembly code allocated.
//
// The rt0 code passes the physical address of the boot-bridge handoff
// structure the bootloader built (spec.md §6).
//
// Kmain is not expected to return. If it does, the rt0 code halts the CPU.
//
//go:noinline
func Kmain(bootbridgePtr uintptr) {
	bridge := bootbridge.FromRawPointer(bootbridgePtr)
	SetKernelELF(bridge.ELF())

	hal.InitTerminal(bridge.Framebuffer)
	hal.ActiveTerminal.Clear()
	early.Printf("vortex: boot bridge decoded, %d GiB installed\n", bridge.TotalMemoryGiB)

	p0 := initctx.New(bridge)
	p1 := enterPhase1(p0, bridge)
	p2 := enterPhase2(p1, bridge)

	bspAPICID, lapic := bringUpLocalAPIC(p2)
	markBootstrapProcessor(p2.Processors(), bspAPICID)

	handles := sched.NewThreadHandlePool()
	globals := sched.NewGlobalThreadIdPool(handles)
	stacks := p1.StackAllocator()
	mapper := p1.ActiveTable().Mapper()

	local := func(coreID uint8) {
		startCore(coreID, p2, globals, handles, stacks, mapper)
	}
	p3 := p2.EnterPhase3(local)

	scheduler, err := sched.NewScheduler(0, globals, handles, stacks, mapper)
	if err != nil {
		logf(logring.LevelCritical, "vortex: failed to start bootstrap scheduler: %v\n", err)
		haltForever()
	}
	sched.InstallCpuLocal(0, uint32(bspAPICID), lapic)
	final := p3.EnterFinalPhase(scheduler)

	realPageTable := addr.PhysAddr(cpu.ActivePDT())
	ap, err := smp.PrepareTrampoline(final.ActiveTable(), final.FrameAllocator(), physToVirt, realPageTable)
	if err != nil {
		logf(logring.LevelError, "vortex: failed to stage AP trampoline: %v\n", err)
	} else {
		smp.RegisterTopology(final.Processors())
		smp.CalibrateTSC(1_000_000_000)
		if err := smp.BringUpAPs(ap, final.Phase2, lapic, stacks, mapper, bspAPICID, final.LocalInit()); err != nil {
			logf(logring.LevelError, "vortex: AP bring-up failed: %v\n", err)
		}
	}

	logf(logring.LevelInfo, "vortex: bootstrap core scheduling threads\n")
	final.Scheduler().StartBootstrapCore()

	for {
	}
}

// enterPhase1 wires the active page table, the physical frame allocator and
// the kernel stack/heap virtual arenas, and hooks the Go runtime's own
// allocator into them (spec.md §4.1-§4.3's memory subsystem).
func enterPhase1(p0 initctx.Phase0, bridge *bootbridge.Bridge) initctx.Phase1 {
	frames := pfn.NewBuddy(11, bridge.UsableRegions(), physToVirtPtr)
	active := vmm.NewActiveTable(recursiveSelfMapIndex, vmm.Unrestricted, frames)
	stacks := vmm.NewVirtualBump(kernelStackArenaStart, kernelStackArenaEnd)

	heap := vmm.NewVirtualBump(heapArenaStart, heapArenaEnd)
	goruntime.Configure(heap, active.Mapper())
	goruntime.Init()

	Log = logring.New(logRingCapacity)
	logReader = logring.NewReader(Log)

	return p0.EnterPhase1(active, frames, stacks)
}

// enterPhase2 locates the MADT through the boot bridge's RSDP and records
// the platform's processor/IO-APIC topology (spec.md §4.4's prerequisite
// "enumerate processors and IO-APICs" step).
func enterPhase2(p1 initctx.Phase1, bridge *bootbridge.Bridge) initctx.Phase2 {
	lapicMMIO, madtEntries, ok := bridge.LocateMADT(physToVirt)
	if !ok {
		early.Printf("vortex: no MADT found, proceeding uniprocessor\n")
		return p1.EnterPhase2(nil, 0, nil, nil)
	}

	processors, ioapics, overrides := bootbridge.ParseMADT(madtEntries)
	return p1.EnterPhase2(processors, lapicMMIO, ioapics, overrides)
}

// bringUpLocalAPIC installs the IDT, constructs this core's local APIC
// accessor and the IO-APIC redirection table, and reports the BSP's own
// APIC ID (needed to exclude it from BringUpAPs' AP loop).
func bringUpLocalAPIC(p2 initctx.Phase2) (bspAPICID uint8, lapic *apic.LocalApic) {
	gate.Init()
	lapic = apic.NewLocalApic(p2.LocalAPICBase(), physToVirt)
	apic.NewIOAPICSet(p2.IOAPICs(), p2.InterruptOverrides(), physToVirt)
	return uint8(lapic.ID()), lapic
}

// startCore runs once on every core (BSP and AP alike) once it has a stack
// and can execute ordinary Go: install its CpuLocal record, build its
// scheduler, and start the timer that hands control to it.
func startCore(coreID uint8, p2 initctx.Phase2, globals *sched.GlobalThreadIdPool, handles *sched.ThreadHandlePool, stacks *vmm.VirtualBump, mapper *vmm.Mapper) {
	core := sched.CoreId(coreID)
	if bspCore, ok := smp.BootstrapCoreID(); ok && core == bspCore {
		return // the BSP already started itself in Kmain
	}

	lapic := apic.NewLocalApic(p2.LocalAPICBase(), physToVirt)
	sched.InstallCpuLocal(core, lapic.ID(), lapic)

	scheduler, err := sched.NewScheduler(core, globals, handles, stacks, mapper)
	if err != nil {
		// Every AP writes into the one shared Log concurrently; only the
		// bootstrap core runs logReader, so this write is fire-and-forget
		// from here rather than going through logf.
		Log.Printf(logring.LevelCritical, "vortex: core %d failed to start scheduler: %v\n", core, err)
		haltForever()
	}
	scheduler.StartBootstrapCore()
}

// markBootstrapProcessor flags the MADT processor entry matching bspAPICID
// as the boot processor. The MADT itself carries no such flag (it is
// derived by comparing each entry's APIC ID against the local APIC's own
// ID register, read once bringUpLocalAPIC constructs it); smp.RegisterTopology
// relies on it being set to assign core 0 correctly.
func markBootstrapProcessor(processors []acpi.Processor, bspAPICID uint8) {
	for i := range processors {
		if processors[i].APICID == bspAPICID {
			processors[i].BootstrapCPU = true
			return
		}
	}
}

func haltForever() {
	for {
	}
}
