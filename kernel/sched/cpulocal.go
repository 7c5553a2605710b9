package sched

import (
	"unsafe"

	"github.com/vortexkernel/vortex/kernel/apic"
	"github.com/vortexkernel/vortex/kernel/cpu"
	"github.com/vortexkernel/vortex/kernel/gate"
)

// msrGSBase is IA32_GS_BASE: writing it makes `mov reg, gs:[0]` dereference
// to whatever the written value points at.
const msrGSBase = 0xC0000101

// CpuLocal is the per-core record spec.md §3 describes: CPU ID, APIC ID, a
// reference to that core's local APIC, and (once installed) its scheduler.
// One instance is heap-allocated per core and its address is written to
// that core's GS-base MSR, so CurrentCpuLocal works from any context
// running on that core, interrupt handlers included.
type CpuLocal struct {
	CoreID    CoreId
	APICID    uint32
	LocalAPIC *apic.LocalApic

	scheduler *Scheduler
}

// InstallCpuLocal allocates and activates a CpuLocal for the calling core.
// Must be called once per core, from that core, before any code on it tries
// to use CurrentCpuLocal.
func InstallCpuLocal(coreID CoreId, apicID uint32, lapic *apic.LocalApic) *CpuLocal {
	local := &CpuLocal{CoreID: coreID, APICID: apicID, LocalAPIC: lapic}
	cpu.WriteMSR(msrGSBase, uint64(uintptr(unsafe.Pointer(local))))
	return local
}

// CurrentCpuLocal returns the calling core's CpuLocal record.
func CurrentCpuLocal() *CpuLocal {
	base := uintptr(cpu.ReadMSR(msrGSBase))
	return (*CpuLocal)(unsafe.Pointer(base))
}

// CurrentCoreID returns the calling core's CoreId.
func CurrentCoreID() CoreId { return CurrentCpuLocal().CoreID }

// attachScheduler links this core's CpuLocal to its Scheduler, called once
// from NewScheduler.
func (c *CpuLocal) attachScheduler(s *Scheduler) { c.scheduler = s }

// timerTick is the handler registered for the local APIC timer vector
// (spec.md §4.6.3): capture the interrupted thread, let the scheduler pick
// the next one, restore it, and send EOI.
func (c *CpuLocal) timerTick(regs *gate.Registers) {
	c.scheduler.tick(regs)
	c.LocalAPIC.EndOfInterrupt()
}
