package apic

import (
	"sort"
	"unsafe"

	"github.com/vortexkernel/vortex/kernel/acpi"
	"github.com/vortexkernel/vortex/kernel/addr"
)

const (
	ioRegSel = 0x00
	ioWin    = 0x10

	ioApicVer = 0x01
	ioRedTbl  = 0x10 // redirection table entries start here, two registers each
)

// ioapic is one IO-APIC's MMIO window plus the GSI range it owns.
type ioapic struct {
	mmio                unsafe.Pointer
	gsiBase             uint32
	maxRedirectionEntry uint8
}

func (io *ioapic) readReg(reg uint8) uint32 {
	*(*uint32)(io.mmio) = uint32(reg)
	return *(*uint32)(unsafe.Pointer(uintptr(io.mmio) + ioWin))
}

func (io *ioapic) writeReg(reg uint8, v uint32) {
	*(*uint32)(io.mmio) = uint32(reg)
	*(*uint32)(unsafe.Pointer(uintptr(io.mmio) + ioWin)) = v
}

// Polarity selects active-high or active-low signaling for a redirection
// entry.
type Polarity uint8

const (
	PolarityActiveHigh Polarity = iota
	PolarityActiveLow
)

// Redirection fully describes one GSI's routing.
type Redirection struct {
	Vector      uint8
	DestAPICID  uint8
	Polarity    Polarity
	Trigger     TriggerMode
	Masked      bool
}

// IOAPICSet owns every IO-APIC the platform reported and the ISA-IRQ
// overrides the MADT described, and resolves both into redirection-table
// writes.
type IOAPICSet struct {
	apics     []ioapic
	overrides []acpi.InterruptOverride
}

// NewIOAPICSet builds the routing engine from the IO-APICs and interrupt
// overrides Phase2 collected. Entries are sorted by GSI base here, once,
// at construction: spec.md §9 flags that the original never sorts and
// instead trusts ACPI MADT ordering, which silently breaks redirection
// under a firmware that lists IO-APICs out of GSI order. Sorting once up
// front removes that ambiguity rather than inheriting it.
func NewIOAPICSet(descs []acpi.IOAPIC, overrides []acpi.InterruptOverride, physToVirt func(addr.PhysAddr) addr.VirtAddr) *IOAPICSet {
	apics := make([]ioapic, len(descs))
	for i, d := range descs {
		apics[i] = ioapic{mmio: unsafe.Pointer(physToVirt(d.MMIOBase).Ptr()), gsiBase: d.GSIBase}
	}
	sort.Slice(apics, func(i, j int) bool { return apics[i].gsiBase < apics[j].gsiBase })
	for i := range apics {
		apics[i].maxRedirectionEntry = uint8(apics[i].readReg(ioApicVer) >> 16)
	}
	return &IOAPICSet{apics: apics, overrides: overrides}
}

// resolveGSI remaps an ISA IRQ through any matching interrupt-source
// override, or returns it unchanged when no override applies.
func (s *IOAPICSet) resolveGSI(isaIRQ uint8) uint32 {
	for _, o := range s.overrides {
		if o.ISAIRQ == isaIRQ {
			return o.GSI
		}
	}
	return uint32(isaIRQ)
}

// apicFor binary-searches the sorted IO-APIC list for the one owning gsi,
// returning its index into the redirection table.
func (s *IOAPICSet) apicFor(gsi uint32) (*ioapic, uint8) {
	idx := sort.Search(len(s.apics), func(i int) bool { return s.apics[i].gsiBase > gsi }) - 1
	if idx < 0 {
		panic("apic: no IO-APIC owns the requested GSI")
	}
	io := &s.apics[idx]
	index := uint8(gsi - io.gsiBase)
	if index > io.maxRedirectionEntry {
		panic("apic: redirection index exceeds IO-APIC's max redirection entry")
	}
	return io, index
}

// RouteISAIRQ binds a legacy ISA IRQ (remapped through any applicable
// interrupt-source override) to the given redirection.
func (s *IOAPICSet) RouteISAIRQ(isaIRQ uint8, r Redirection) {
	s.RouteGSI(s.resolveGSI(isaIRQ), r)
}

// RouteGSI binds gsi directly to the given redirection, panicking if gsi
// falls one past the owning IO-APIC's last legal redirection index
// (spec.md §8's boundary behaviour: equal to max_redirection_entry is
// legal, one higher panics).
func (s *IOAPICSet) RouteGSI(gsi uint32, r Redirection) {
	io, index := s.apicFor(gsi)

	var low, high uint32
	low |= uint32(r.Vector)
	if r.Polarity == PolarityActiveLow {
		low |= 1 << 13
	}
	if r.Trigger == TriggerLevel {
		low |= 1 << 15
	}
	if r.Masked {
		low |= 1 << 16
	}
	high = uint32(r.DestAPICID) << 24

	reg := ioRedTbl + index*2
	io.writeReg(reg, low)
	io.writeReg(reg+1, high)
}
