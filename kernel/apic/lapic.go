package apic

import (
	"unsafe"

	"github.com/vortexkernel/vortex/kernel/addr"
	"github.com/vortexkernel/vortex/kernel/cpu"
)

// register names the local APIC registers LocalApic exposes, each carrying
// its xAPIC MMIO byte offset. x2APIC mode derives its MSR from the same
// offset (0x800 + offset>>4), so one table serves both modes instead of
// duplicating every accessor per mode.
type register uint32

const (
	regID           register = 0x020
	regEOI          register = 0x0B0
	regSpurious     register = 0x0F0
	regICRLow       register = 0x300
	regICRHigh      register = 0x310
	regTimerLVT     register = 0x320
	regTimerInitCnt register = 0x380
	regTimerCurCnt  register = 0x390
	regTimerDivide  register = 0x3E0
)

const (
	msrX2APICBase   = 0x800
	msrX2APICICR    = 0x830
	msrIA32APICBase = 0x1B
)

// TimerMode selects the local APIC timer's counting behavior.
type TimerMode uint8

const (
	TimerOneShot TimerMode = iota
	TimerPeriodic
	TimerTSCDeadline
)

const (
	lvtMaskBit         = 1 << 16
	lvtTimerModeShift  = 17
	icrDeliveryStatusBit = 1 << 12
)

// LocalApic hides the xAPIC/x2APIC register-access split behind one typed
// interface. x2APIC is selected once at construction by reading CPUID leaf
// 1's ECX bit 21 (spec.md §4.5: "x2APIC is selected by CPUID feature bit").
type LocalApic struct {
	x2apic  bool
	mmio    unsafe.Pointer // valid only when !x2apic
}

// NewLocalApic constructs a LocalApic, selecting x2APIC mode automatically
// when the CPU advertises it and falling back to MMIO access at
// physToVirt(mmioBase) otherwise.
func NewLocalApic(mmioBase addr.PhysAddr, physToVirt func(addr.PhysAddr) addr.VirtAddr) *LocalApic {
	_, _, ecx, _ := cpu.CPUID(1, 0)
	x2apic := ecx&(1<<21) != 0
	l := &LocalApic{x2apic: x2apic}
	if !x2apic {
		l.mmio = unsafe.Pointer(physToVirt(mmioBase).Ptr())
	}
	return l
}

func (l *LocalApic) read(r register) uint32 {
	if l.x2apic {
		return uint32(cpu.ReadMSR(msrX2APICBase + uint32(r)>>4))
	}
	return *(*uint32)(unsafe.Pointer(uintptr(l.mmio) + uintptr(r)))
}

func (l *LocalApic) write(r register, v uint32) {
	if l.x2apic {
		cpu.WriteMSR(msrX2APICBase+uint32(r)>>4, uint64(v))
		return
	}
	*(*uint32)(unsafe.Pointer(uintptr(l.mmio) + uintptr(r))) = v
}

// Enable sets the spurious-interrupt vector and the APIC software-enable
// bit (bit 8 of the spurious vector register).
func (l *LocalApic) Enable(spuriousVector uint8) {
	l.write(regSpurious, uint32(spuriousVector)|1<<8)
}

// ID returns this core's local APIC ID.
func (l *LocalApic) ID() uint32 {
	if l.x2apic {
		return l.read(regID)
	}
	return l.read(regID) >> 24
}

// EndOfInterrupt acknowledges the in-service interrupt.
func (l *LocalApic) EndOfInterrupt() { l.write(regEOI, 0) }

// StartTimer arms the local APIC timer with the given initial count,
// divide configuration (as the hardware's 4-bit divide-by code) and mode.
func (l *LocalApic) StartTimer(initialCount uint32, divide uint8, mode TimerMode, vector uint8) {
	l.write(regTimerDivide, uint32(divide))
	lvt := uint32(vector)
	if mode == TimerPeriodic {
		lvt |= 1 << lvtTimerModeShift
	} else if mode == TimerTSCDeadline {
		lvt |= 2 << lvtTimerModeShift
	}
	l.write(regTimerLVT, lvt)
	l.write(regTimerInitCnt, initialCount)
}

// DisableTimer masks the timer's LVT entry.
func (l *LocalApic) DisableTimer() {
	l.write(regTimerLVT, l.read(regTimerLVT)|lvtMaskBit)
}

// EnableTimer unmasks the timer's LVT entry.
func (l *LocalApic) EnableTimer() {
	l.write(regTimerLVT, l.read(regTimerLVT)&^uint32(lvtMaskBit))
}

// CurrentCount returns the timer's current countdown value.
func (l *LocalApic) CurrentCount() uint32 { return l.read(regTimerCurCnt) }

// SendIPI dispatches icr to the appropriate write path: a single MSR write
// in x2APIC mode, or ICR-high then ICR-low MMIO writes in xAPIC mode with a
// spin on the delivery-status bit before returning, per spec.md §4.5.
func (l *LocalApic) SendIPI(icr ICR) {
	if l.x2apic {
		cpu.WriteMSR(msrX2APICICR, icr.X2ApicForm())
		return
	}
	l.write(regICRHigh, uint32(icr.Destination())<<24)
	l.write(regICRLow, uint32(icr))
	for l.read(regICRLow)&icrDeliveryStatusBit != 0 {
	}
}
