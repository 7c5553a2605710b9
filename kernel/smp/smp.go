// Package smp implements application-processor bring-up: trampoline
// staging in the fixed real-mode-reachable physical range, the INIT/SIPI
// sequence that starts an AP, and the core<->APIC-ID bookkeeping the rest
// of the kernel (apic, sched) needs once every core is alive (spec.md
// §4.4).
//
// Grounded on original_source/src/kernel/src/smp.rs. gopher-os never grew
// SMP support, so there is no teacher file for this package's algorithm;
// its shape (bodyless asm-backed entry points, phase-chain wiring,
// spinlock-protected shared tables) follows the idioms the rest of vortex
// already borrowed from gopher-os and applies them to bring-up logic that
// only original_source implements.
package smp

import (
	"sync/atomic"
	"unsafe"

	"github.com/vortexkernel/vortex/kernel/acpi"
	"github.com/vortexkernel/vortex/kernel/addr"
	"github.com/vortexkernel/vortex/kernel/apic"
	"github.com/vortexkernel/vortex/kernel/cpu"
	"github.com/vortexkernel/vortex/kernel/errors"
	"github.com/vortexkernel/vortex/kernel/initctx"
	"github.com/vortexkernel/vortex/kernel/mem/vmm"
	"github.com/vortexkernel/vortex/kernel/sched"
	"github.com/vortexkernel/vortex/kernel/sync"
)

// TrampolineStart and TrampolineEnd bound the fixed real-mode-reachable
// physical range every AP's trampoline lives in (spec.md §4.4.1/§6). The
// linear frame allocator already knows to skip this range
// (pfn.Linear.AllocFrame, which uses the same 0x7000-0x9000 bounds).
const (
	TrampolineStart = addr.PhysAddr(0x7000)
	TrampolineEnd   = addr.PhysAddr(0x9000)

	// trampolineDataPage holds the SmpInitializationData struct; the
	// trampoline's executable real-mode code starts on the next page.
	trampolineDataPage = addr.PhysAddr(0x7000)
	trampolineCodePage = addr.PhysAddr(0x8000)

	// apStackPages is the size of the transient stack an AP runs on between
	// the trampoline's long-mode jump and the moment its per-core
	// initializer hands it a real kernel stack.
	apStackPages = 16
)

// SmpInitializationData is the wire-format struct staged at physical
// TrampolineStart before every AP boot (spec.md §6); field order and width
// match exactly, since the real-mode trampoline code reads these offsets
// directly.
type SmpInitializationData struct {
	PageTable     uint32
	_pad          uint32
	RealPageTable uint64
	StackTop      uint64
	StackBottom   uint64
	APContext     uint64
}

// trampolineBlobStart and trampolineBlobEnd bound the assembled real-mode
// trampoline stub that brings an AP from reset through to long mode and a
// jump into apEntryDispatch. Provided by the trampoline assembly stub
// (outside this package, like every other bodyless entry point in the
// tree); TrampolineStart/End is where PrepareTrampoline copies the bytes
// these return, and apEntryAddr is where that stub eventually jumps.
func trampolineBlobStart() uintptr
func trampolineBlobEnd() uintptr

// apEntryAddr returns the address the trampoline jumps to once the AP is
// in long mode with its real page table and stack installed: the landing
// pad that calls apEntryDispatch with rdi holding ap_context.
func apEntryAddr() uint64

// apInitialized is set by an AP once it has run its local initializer and
// cleared by the BSP before sending the next AP's SIPI sequence (spec.md
// §4.4.2 step 5).
var apInitialized atomic.Bool

// topology maps APIC ID to CoreId, built once from Phase2's processor list.
var topology = struct {
	lock    sync.RWSpinlock
	byAPIC  map[uint8]sched.CoreId
	bspCore sched.CoreId
	bspSet  bool
}{byAPIC: map[uint8]sched.CoreId{}}

// RegisterTopology assigns a stable CoreId (0..n-1, MADT order) to every
// enabled processor Phase2 reported, and records which one is the
// bootstrap processor.
func RegisterTopology(processors []acpi.Processor) {
	topology.lock.Lock()
	defer topology.lock.Unlock()

	var next sched.CoreId
	for _, p := range processors {
		if !p.Enabled {
			continue
		}
		topology.byAPIC[p.APICID] = next
		if p.BootstrapCPU {
			topology.bspCore = next
			topology.bspSet = true
		}
		next++
	}
}

// CoreForAPICID resolves an APIC ID to its assigned CoreId.
func CoreForAPICID(apicID uint8) (sched.CoreId, bool) {
	topology.lock.RLock()
	defer topology.lock.RUnlock()
	c, ok := topology.byAPIC[apicID]
	return c, ok
}

// BootstrapCoreID returns the CoreId RegisterTopology assigned to the BSP.
func BootstrapCoreID() (sched.CoreId, bool) {
	topology.lock.RLock()
	defer topology.lock.RUnlock()
	return topology.bspCore, topology.bspSet
}

// tscHzEstimate is the calibrated TSC frequency busyWaitMillis uses to turn
// a millisecond count into a cycle count. original_source instead polls a
// timer-interrupt tick counter (TIMER_COUNT); vortex has no free-running
// tick counter available this early in bring-up (the local APIC timer on
// this core has not been armed yet), so it estimates elapsed time from the
// TSC instead, grounded on cpu.ReadTSC already existing for this purpose.
var tscHzEstimate uint64 = 1_000_000_000

// CalibrateTSC records a measured TSC frequency for busyWaitMillis to use.
// Call once early in boot, before BringUpAPs.
func CalibrateTSC(hz uint64) { atomic.StoreUint64(&tscHzEstimate, hz) }

func busyWaitMillis(ms uint64) {
	hz := atomic.LoadUint64(&tscHzEstimate)
	cycles := hz / 1000 * ms
	start := cpu.ReadTSC()
	for cpu.ReadTSC()-start < cycles {
	}
}

// ApInitializer stages the trampoline once and then boots every AP through
// it. Built once on the BSP during Phase1, before any AP is started.
type ApInitializer struct {
	bootstrapP4   addr.Frame[addr.Size4K]
	realPageTable addr.PhysAddr
	physToVirt    func(addr.PhysAddr) addr.VirtAddr
}

// PrepareTrampoline identity-maps the trampoline's physical range into the
// currently active table, copies the assembled trampoline blob into its
// code page, and builds a throwaway bootstrap P4 mapping the same identity
// range for the brief window between the AP's long-mode jump and the
// moment it loads realPageTable (spec.md §4.4.1).
func PrepareTrampoline(active *vmm.ActiveTable, frames vmm.FrameSource, physToVirt func(addr.PhysAddr) addr.VirtAddr, realPageTable addr.PhysAddr) (*ApInitializer, error) {
	trampolinePage := addr.PageFromAddress[addr.Size4K](addr.VirtAddr(uint64(TrampolineStart)))
	trampolinePageCount := (uint64(TrampolineEnd) - uint64(TrampolineStart)) / 4096
	for i := uint64(0); i < trampolinePageCount; i++ {
		page := trampolinePage.Add(i)
		frame := addr.FrameFromAddress[addr.Size4K](addr.PhysAddr(uint64(TrampolineStart) + i*4096))
		if err := active.Mapper().Map(page, frame, addr.FlagPresent|addr.FlagWritable|addr.FlagOverwriteable); err != nil {
			return nil, err
		}
	}

	blobStart, blobEnd := trampolineBlobStart(), trampolineBlobEnd()
	codeDst := physToVirt(trampolineCodePage)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(codeDst.Ptr())), blobEnd-blobStart),
		unsafe.Slice((*byte)(unsafe.Pointer(blobStart)), blobEnd-blobStart))

	bootstrapFrame := frames.AllocFrame()
	bootstrapTable := vmm.NewInactiveTable(bootstrapFrame, physToVirt, vmm.Unrestricted, frames)
	for i := uint64(0); i < trampolinePageCount; i++ {
		page := trampolinePage.Add(i)
		frame := addr.FrameFromAddress[addr.Size4K](addr.PhysAddr(uint64(TrampolineStart) + i*4096))
		if err := bootstrapTable.Mapper().Map(page, frame, addr.FlagPresent|addr.FlagWritable); err != nil {
			return nil, err
		}
	}

	return &ApInitializer{
		bootstrapP4:   bootstrapFrame,
		realPageTable: realPageTable,
		physToVirt:    physToVirt,
	}, nil
}

// BootAP runs the full INIT/SIPI sequence for one AP and blocks until it
// reports itself initialized (spec.md §4.4.2). coreID is staged as
// APContext and handed verbatim to the AP's local initializer: vortex
// passes the core ID assigned by RegisterTopology rather than a boxed context handle,
// since Go's GC already keeps every referenced phase value alive without
// needing original_source's Arc<Mutex<..>> refcounting scheme.
func (a *ApInitializer) BootAP(apicID uint8, lapic *apic.LocalApic, bump *vmm.VirtualBump, mapper *vmm.Mapper, coreID sched.CoreId) error {
	stackStart, ok := bump.AllocPages(apStackPages)
	if !ok {
		return sched.ErrFailedToAllocateStack
	}
	if err := mapper.MapAllocRange(stackStart, apStackPages, addr.FlagPresent|addr.FlagWritable); err != nil {
		return err
	}
	stackBottom := stackStart.StartAddress()
	stackTop := stackStart.Add(apStackPages).StartAddress()

	data := SmpInitializationData{
		PageTable:     uint32(a.bootstrapP4.StartAddress()),
		RealPageTable: uint64(a.realPageTable),
		StackTop:      uint64(stackTop),
		StackBottom:   uint64(stackBottom),
		APContext:     uint64(coreID),
	}
	dst := (*SmpInitializationData)(unsafe.Pointer(a.physToVirt(trampolineDataPage).Ptr()))
	*dst = data

	if apInitialized.Load() {
		return ErrAPAlreadyBooting
	}

	init, err := apic.NewICRBuilder().Delivery(apic.DeliveryInit).PhysicalDestination(apicID).Build()
	if err != nil {
		return err
	}
	lapic.SendIPI(init)
	busyWaitMillis(10)

	startupVector := uint8(trampolineCodePage / 4096)
	for i := 0; i < 2; i++ {
		startup, err := apic.NewICRBuilder().Delivery(apic.DeliveryStartUp).Vector(startupVector).PhysicalDestination(apicID).Build()
		if err != nil {
			return err
		}
		lapic.SendIPI(startup)
		busyWaitMillis(1)
	}

	for !apInitialized.Load() {
		busyWaitMillis(1)
	}
	apInitialized.Store(false)
	return nil
}

// ErrAPAlreadyBooting guards against overlapping BootAP calls: the
// "AP initialized" flag is single-flight by construction (spec.md
// §4.4.2 step 5 clears it for "the next AP", implying one in flight at a
// time).
var ErrAPAlreadyBooting = errors.KernelError("smp: another AP boot is already in flight")

// BringUpAPs boots every enabled, non-bootstrap processor Phase2 reported,
// one at a time, in MADT order (spec.md §4.4.2's "for each non-BSP APIC
// ID"). local is invoked once per AP, after the trampoline has handed
// control to apEntryDispatch, from that AP's own execution context.
func BringUpAPs(a *ApInitializer, p2 initctx.Phase2, lapic *apic.LocalApic, bump *vmm.VirtualBump, mapper *vmm.Mapper, bspAPICID uint8, local initctx.LocalInitializer) error {
	setLocalInitializer(local)
	for _, proc := range p2.Processors() {
		if !proc.Enabled || proc.APICID == bspAPICID {
			continue
		}
		coreID, ok := CoreForAPICID(proc.APICID)
		if !ok {
			continue
		}
		if err := a.BootAP(proc.APICID, lapic, bump, mapper, coreID); err != nil {
			return err
		}
	}
	return nil
}

var localInit atomic.Value // holds initctx.LocalInitializer

func setLocalInitializer(f initctx.LocalInitializer) { localInit.Store(f) }

// apEntryDispatch is what the trampoline's long-mode landing pad
// (apEntryAddr) calls with rdi holding the CoreId BootAP assigned, mirroring
// the register-carried "FnOnce pointer" convention kernel/sched's
// thread trampoline already uses for the same reason: Go has nothing to
// offer the assembly stub except a plain integer. It runs the registered
// per-core initializer, reports readiness, and halts forever — the
// scheduler on this core takes over at the next timer interrupt once
// StartBootstrapCore-equivalent setup inside local has armed it.
func apEntryDispatch(coreID uint64) {
	if f, ok := localInit.Load().(initctx.LocalInitializer); ok && f != nil {
		f(uint8(coreID))
	}
	apInitialized.Store(true)
	for {
		cpu.Halt()
	}
}
