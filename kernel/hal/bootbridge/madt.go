package bootbridge

import (
	"unsafe"

	"github.com/vortexkernel/vortex/kernel/acpi"
	"github.com/vortexkernel/vortex/kernel/addr"
)

// MADT entry type bytes, per the ACPI Multiple APIC Description Table.
// Only the three entry kinds spec.md's Phase2 needs are decoded; every
// other MADT entry type (x2APIC, NMI sources, and so on) is skipped. Full
// ACPI table parsing is explicitly out of scope (spec.md §1); this is the
// "enumerate processors and IO-APICs" carve-out the same section keeps in
// scope.
const (
	madtProcessorLocalAPIC    = 0
	madtIOAPIC                = 1
	madtInterruptSrcOverride  = 2
)

const madtProcessorEnabled = 1

// ParseMADT decodes the MADT's entry list (the bytes following its 44-byte
// fixed header: signature, length, revision, checksum, OEM fields, local
// APIC address and flags) into the processor list, IO-APIC list and
// interrupt overrides Phase2 carries forward.
func ParseMADT(entries []byte) (processors []acpi.Processor, ioapics []acpi.IOAPIC, overrides []acpi.InterruptOverride) {
	for off := 0; off+2 <= len(entries); {
		entryType := entries[off]
		length := int(entries[off+1])
		if length < 2 || off+length > len(entries) {
			break
		}
		body := entries[off+2 : off+length]

		switch entryType {
		case madtProcessorLocalAPIC:
			if len(body) >= 6 {
				flags := le32(body[2:6])
				processors = append(processors, acpi.Processor{
					ACPIID:  body[0],
					APICID:  body[1],
					Enabled: flags&madtProcessorEnabled != 0,
				})
			}
		case madtIOAPIC:
			if len(body) >= 10 {
				ioapics = append(ioapics, acpi.IOAPIC{
					ID:       body[0],
					MMIOBase: addr.PhysAddr(le32(body[2:6])),
					GSIBase:  le32(body[6:10]),
				})
			}
		case madtInterruptSrcOverride:
			if len(body) >= 8 {
				flags := le16(body[6:8])
				overrides = append(overrides, acpi.InterruptOverride{
					ISAIRQ:         body[1],
					GSI:            le32(body[2:6]),
					ActiveLow:      flags&0x2 != 0,
					LevelTriggered: flags&0x8 != 0,
				})
			}
		}

		off += length
	}
	return processors, ioapics, overrides
}

// sdtHeader is the 36-byte header common to every ACPI system description
// table (RSDT, XSDT, MADT and friends).
type sdtHeader struct {
	signature  [4]byte
	length     uint32
	revision   uint8
	checksum   uint8
	oemID      [6]byte
	oemTableID [8]byte
	oemRev     uint32
	creatorID  uint32
	creatorRev uint32
}

// rsdpV2 mirrors the ACPI 2.0+ Root System Description Pointer: the first
// 20 bytes are the original ACPI 1.0 layout (signature/checksum/OEMID/
// revision/32-bit RsdtAddress), extended with the 64-bit XsdtAddress this
// struct goes on to use. LocateMADT assumes a 2.0+ RSDP, which is the
// only kind a UEFI-booted kernel is handed.
type rsdpV2 struct {
	signature    [8]byte
	checksum     uint8
	oemID        [6]byte
	revision     uint8
	rsdtAddress  uint32
	length       uint32
	xsdtAddress  uint64
	extChecksum  uint8
	reserved     [3]byte
}

// LocateMADT walks RSDP -> XSDT -> MADT to find the local APIC MMIO base
// and the MADT's entry list, the minimal ACPI table traversal spec.md §1
// permits ("ACPI table parsing beyond what is needed to enumerate
// processors and IO-APICs" is out of scope; finding the MADT at all is the
// carve-out that statement leaves in scope). physToVirt resolves the
// physical addresses the table headers are full of into addresses this
// kernel can dereference.
func (b *Bridge) LocateMADT(physToVirt func(addr.PhysAddr) addr.VirtAddr) (lapicMMIO addr.PhysAddr, entries []byte, ok bool) {
	if b.RSDP == 0 {
		return 0, nil, false
	}
	rsdp := (*rsdpV2)(unsafe.Pointer(physToVirt(b.RSDP).Ptr()))
	if rsdp.xsdtAddress == 0 {
		return 0, nil, false
	}

	xsdtAddr := addr.PhysAddr(rsdp.xsdtAddress)
	xsdtHeader := (*sdtHeader)(unsafe.Pointer(physToVirt(xsdtAddr).Ptr()))
	entryCount := (int(xsdtHeader.length) - int(unsafe.Sizeof(sdtHeader{}))) / 8
	xsdtEntries := unsafe.Slice((*uint64)(unsafe.Pointer(physToVirt(xsdtAddr).Ptr()+uintptr(unsafe.Sizeof(sdtHeader{})))), entryCount)

	for _, tableAddr := range xsdtEntries {
		header := (*sdtHeader)(unsafe.Pointer(physToVirt(addr.PhysAddr(tableAddr)).Ptr()))
		if header.signature != [4]byte{'A', 'P', 'I', 'C'} {
			continue
		}

		headerSize := unsafe.Sizeof(sdtHeader{})
		base := physToVirt(addr.PhysAddr(tableAddr)).Ptr()
		lapicMMIO = addr.PhysAddr(*(*uint32)(unsafe.Pointer(base + headerSize)))
		bodyStart := base + headerSize + 8 // skip local APIC address + flags
		bodyLen := int(header.length) - int(headerSize) - 8
		entries = unsafe.Slice((*byte)(unsafe.Pointer(bodyStart)), bodyLen)
		return lapicMMIO, entries, true
	}
	return 0, nil, false
}

func le16(b []byte) uint16 {
	_ = b[1]
	return uint16(b[0]) | uint16(b[1])<<8
}

func le32(b []byte) uint32 {
	_ = b[3]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
