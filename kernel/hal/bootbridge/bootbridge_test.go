package bootbridge

import (
	"testing"
	"unsafe"

	"github.com/vortexkernel/vortex/kernel/addr"
	"github.com/vortexkernel/vortex/kernel/mem/pfn"
)

func putEntry(buf []byte, off int, e MemoryMapEntry) {
	*(*MemoryMapEntry)(unsafe.Pointer(&buf[off])) = e
}

func TestUsableRegionsFiltersByType(t *testing.T) {
	buf := make([]byte, int(fixedEntrySize)*3)
	putEntry(buf, 0*int(fixedEntrySize), MemoryMapEntry{Type: MemConventional, PhysStart: addr.PhysAddr(0x100000), PageCount: 16})
	putEntry(buf, 1*int(fixedEntrySize), MemoryMapEntry{Type: MemReserved, PhysStart: addr.PhysAddr(0x200000), PageCount: 16})
	putEntry(buf, 2*int(fixedEntrySize), MemoryMapEntry{Type: MemBootServicesData, PhysStart: addr.PhysAddr(0x300000), PageCount: 4})

	b := New(0, Framebuffer{}, FontBlob{}, KernelConfig{}, 0, buf, fixedEntrySize, nil, nil, nil)
	regions := b.UsableRegions()

	if len(regions) != 2 {
		t.Fatalf("expected 2 usable regions, got %d", len(regions))
	}
	if regions[0].Kind != pfn.RegionConventional || regions[0].Start != addr.PhysAddr(0x100000) {
		t.Fatalf("unexpected first region: %+v", regions[0])
	}
	if regions[1].Kind != pfn.RegionBootServicesData {
		t.Fatalf("unexpected second region: %+v", regions[1])
	}
}

func TestTotalCapacityGiB(t *testing.T) {
	buf := make([]byte, int(fixedEntrySize))
	// 1 GiB worth of pages starting at 0.
	putEntry(buf, 0, MemoryMapEntry{Type: MemConventional, PhysStart: 0, PageCount: (1 << 30) / 4096})

	b := New(0, Framebuffer{}, FontBlob{}, KernelConfig{}, 0, buf, fixedEntrySize, nil, nil, nil)
	if got := b.TotalCapacityGiB(); got != 2 {
		t.Fatalf("expected 2 (1 GiB rounded up + 1), got %d", got)
	}
}

func TestVisitMemoryRegionsEmptyMap(t *testing.T) {
	b := New(0, Framebuffer{}, FontBlob{}, KernelConfig{}, 0, nil, 0, nil, nil, nil)
	count := 0
	b.VisitMemoryRegions(func(*MemoryMapEntry) { count++ })
	if count != 0 {
		t.Fatalf("expected no visits over an empty map, got %d", count)
	}
}

func TestParseMADT(t *testing.T) {
	entries := []byte{
		// Processor Local APIC: type=0 len=8 acpiID=1 apicID=2 flags=1 (enabled)
		0, 8, 1, 2, 1, 0, 0, 0,
		// IO APIC: type=1 len=12 id=1 reserved=0 mmioBase=0xFEC00000 gsiBase=0
		1, 12, 1, 0, 0x00, 0x00, 0xC0, 0xFE, 0, 0, 0, 0,
		// Interrupt Source Override: type=2 len=10 bus=0 irq=0 gsi=2 flags=0
		2, 10, 0, 0, 2, 0, 0, 0, 0, 0,
	}

	processors, ioapics, overrides := ParseMADT(entries)

	if len(processors) != 1 || processors[0].APICID != 2 || !processors[0].Enabled {
		t.Fatalf("unexpected processors: %+v", processors)
	}
	if len(ioapics) != 1 || ioapics[0].ID != 1 || ioapics[0].MMIOBase != addr.PhysAddr(0xFEC00000) {
		t.Fatalf("unexpected ioapics: %+v", ioapics)
	}
	if len(overrides) != 1 || overrides[0].ISAIRQ != 0 || overrides[0].GSI != 2 {
		t.Fatalf("unexpected overrides: %+v", overrides)
	}
}

func TestParseMADTStopsOnTruncatedEntry(t *testing.T) {
	entries := []byte{0, 8, 1, 2} // claims length 8 but only 4 bytes present
	processors, ioapics, overrides := ParseMADT(entries)
	if len(processors) != 0 || len(ioapics) != 0 || len(overrides) != 0 {
		t.Fatal("expected truncated entry to be rejected, not partially parsed")
	}
}
