// Package bootbridge decodes the structure the bootloader hands the kernel
// at entry: the firmware memory map, framebuffer and font descriptors, the
// RSDP, the kernel's own ELF and DWARF debug data, and a packed blob of
// embedded programs. It replaces kernel/hal/multiboot's narrower Multiboot2
// tag reader with the richer handoff spec.md §6 describes, following the
// same "fixed info pointer plus visitor callbacks" style multiboot.go uses
// rather than materializing the whole structure into allocated Go types
// (the allocator is not up yet when this package's functions run).
package bootbridge

import (
	"unsafe"

	"github.com/vortexkernel/vortex/kernel/addr"
	"github.com/vortexkernel/vortex/kernel/mem/pfn"
)

// PixelFormat enumerates the framebuffer's pixel layout.
type PixelFormat uint8

const (
	PixelFormatRGB PixelFormat = iota
	PixelFormatBGR
	PixelFormatBitmask
	PixelFormatBltOnly
)

// Framebuffer describes the boot framebuffer the firmware set up.
type Framebuffer struct {
	Base       addr.PhysAddr
	Size       uint64
	Width      uint32
	Height     uint32
	Stride     uint32
	Format     PixelFormat
	RedMask    uint32
	GreenMask  uint32
	BlueMask   uint32
}

// FontBlob locates the embedded console font bitmap.
type FontBlob struct {
	Base uintptr
	Size uint32
}

// KernelConfig carries the handful of boot-time settings the kernel honors;
// spec.md's ambient-config stance (§S1) is that configuration arrives only
// through this struct, never through files or environment variables.
type KernelConfig struct {
	FontPixelSize uint8
}

// MemoryEntryType classifies one firmware memory-map entry.
type MemoryEntryType uint32

const (
	MemReserved MemoryEntryType = iota
	MemLoaderCode
	MemLoaderData
	MemBootServicesCode
	MemBootServicesData
	MemRuntimeServicesCode
	MemRuntimeServicesData
	MemConventional
	MemUnusable
	MemAcpiReclaim
	MemAcpiNonVolatile
	MemMmio
	MemMmioPortSpace
	MemPalCode
	MemPersistentMemory
)

// MemoryMapEntry mirrors one UEFI-style memory descriptor.
type MemoryMapEntry struct {
	Type       MemoryEntryType
	PhysStart  addr.PhysAddr
	VirtStart  addr.VirtAddr
	PageCount  uint64
	Attributes uint64
}

// fixedEntrySize is the size of a memory-map entry's fixed fields. The
// firmware-reported stride may be larger (spec.md §6: "40+ bytes each, size
// from firmware"); this value is the fallback when no stride is given.
const fixedEntrySize = 40

// Bridge is the decoded boot-time handoff structure. Its byte-slice fields
// are views into memory the bootloader already set up; Bridge does not copy
// or allocate them.
type Bridge struct {
	TotalMemoryGiB uint64
	Framebuffer    Framebuffer
	Font           FontBlob
	Config         KernelConfig
	RSDP           addr.PhysAddr

	memoryMap     []byte
	mapEntrySize  uint32

	elf  []byte // the kernel's own ELF image, for symbol/backtrace lookups
	dwarf []byte // packed DWARF debug sections, the "baker" input
	embedded []byte // packed blob of embedded programs (initrd-like)
}

// New wraps the firmware memory map and the handful of other byte regions
// the bootloader staged, without copying or validating their contents
// beyond what decoding requires.
func New(totalMemoryGiB uint64, fb Framebuffer, font FontBlob, cfg KernelConfig, rsdp addr.PhysAddr, memoryMap []byte, mapEntrySize uint32, elf, dwarf, embedded []byte) *Bridge {
	if mapEntrySize == 0 {
		mapEntrySize = fixedEntrySize
	}
	return &Bridge{
		TotalMemoryGiB: totalMemoryGiB,
		Framebuffer:    fb,
		Font:           font,
		Config:         cfg,
		RSDP:           rsdp,
		memoryMap:      memoryMap,
		mapEntrySize:   mapEntrySize,
		elf:            elf,
		dwarf:          dwarf,
		embedded:       embedded,
	}
}

// VisitMemoryRegions invokes fn once per firmware memory-map entry, in map
// order, without allocating a slice to hold them.
func (b *Bridge) VisitMemoryRegions(fn func(*MemoryMapEntry)) {
	if len(b.memoryMap) == 0 || b.mapEntrySize == 0 {
		return
	}
	for off := 0; off+int(b.mapEntrySize) <= len(b.memoryMap); off += int(b.mapEntrySize) {
		fn((*MemoryMapEntry)(unsafe.Pointer(&b.memoryMap[off])))
	}
}

// UsableRegions converts every Conventional/BootServicesCode/
// BootServicesData entry in the firmware memory map into a pfn.Region,
// ready to seed the buddy allocator.
func (b *Bridge) UsableRegions() []pfn.Region {
	var regions []pfn.Region
	b.VisitMemoryRegions(func(e *MemoryMapEntry) {
		kind, ok := regionKind(e.Type)
		if !ok {
			return
		}
		start := e.PhysStart
		end := start.Add(e.PageCount * 4096)
		regions = append(regions, pfn.Region{Kind: kind, Start: start, End: end})
	})
	return regions
}

func regionKind(t MemoryEntryType) (pfn.RegionKind, bool) {
	switch t {
	case MemConventional:
		return pfn.RegionConventional, true
	case MemBootServicesCode:
		return pfn.RegionBootServicesCode, true
	case MemBootServicesData:
		return pfn.RegionBootServicesData, true
	default:
		return 0, false
	}
}

// TotalCapacityGiB computes installed memory the way spec.md §6 specifies:
// the maximum of phys_start+page_count*4096 over Conventional/
// BootServicesCode/BootServicesData entries, right-shifted by 30 and
// incremented.
func (b *Bridge) TotalCapacityGiB() uint64 {
	var maxEnd uint64
	b.VisitMemoryRegions(func(e *MemoryMapEntry) {
		if _, ok := regionKind(e.Type); !ok {
			return
		}
		if end := e.PhysStart.Uint64() + e.PageCount*4096; end > maxEnd {
			maxEnd = end
		}
	})
	return (maxEnd >> 30) + 1
}

// rawHandoff is the fixed-layout structure the bootloader stub places at
// the pointer it hands Kmain, in the field order spec.md §6 narrates: total
// memory, framebuffer descriptor, font descriptor, kernel config, RSDP,
// memory map (pointer + length + entry size), then the three debug/embedded
// byte regions (pointer + length each). Every field is a raw integer or
// pointer-sized value so the layout needs no padding beyond natural
// alignment, matching the style kernel/hal/multiboot already uses for its
// own fixed tag headers.
type rawHandoff struct {
	totalMemoryGiB uint64

	fbBase      uint64
	fbSize      uint64
	fbWidth     uint32
	fbHeight    uint32
	fbStride    uint32
	fbFormat    uint32
	fbRedMask   uint32
	fbGreenMask uint32
	fbBlueMask  uint32

	fontBase uint64
	fontSize uint32

	fontPixelSize uint8
	_pad          [7]byte

	rsdp uint64

	memoryMapPtr  uint64
	memoryMapLen  uint64
	mapEntrySize  uint32
	_pad2         uint32

	elfPtr  uint64
	elfLen  uint64
	dwarfPtr uint64
	dwarfLen uint64
	embeddedPtr uint64
	embeddedLen uint64
}

// FromRawPointer decodes the fixed-layout handoff structure the bootloader
// stub placed at ptr into a Bridge, without copying any of the byte-slice
// regions it references.
func FromRawPointer(ptr uintptr) *Bridge {
	raw := (*rawHandoff)(unsafe.Pointer(ptr))

	var memoryMap, elf, dwarf, embedded []byte
	if raw.memoryMapPtr != 0 {
		memoryMap = unsafe.Slice((*byte)(unsafe.Pointer(uintptr(raw.memoryMapPtr))), raw.memoryMapLen)
	}
	if raw.elfPtr != 0 {
		elf = unsafe.Slice((*byte)(unsafe.Pointer(uintptr(raw.elfPtr))), raw.elfLen)
	}
	if raw.dwarfPtr != 0 {
		dwarf = unsafe.Slice((*byte)(unsafe.Pointer(uintptr(raw.dwarfPtr))), raw.dwarfLen)
	}
	if raw.embeddedPtr != 0 {
		embedded = unsafe.Slice((*byte)(unsafe.Pointer(uintptr(raw.embeddedPtr))), raw.embeddedLen)
	}

	fb := Framebuffer{
		Base:      addr.PhysAddr(raw.fbBase),
		Size:      raw.fbSize,
		Width:     raw.fbWidth,
		Height:    raw.fbHeight,
		Stride:    raw.fbStride,
		Format:    PixelFormat(raw.fbFormat),
		RedMask:   raw.fbRedMask,
		GreenMask: raw.fbGreenMask,
		BlueMask:  raw.fbBlueMask,
	}
	font := FontBlob{Base: uintptr(raw.fontBase), Size: raw.fontSize}
	cfg := KernelConfig{FontPixelSize: raw.fontPixelSize}

	return New(raw.totalMemoryGiB, fb, font, cfg, addr.PhysAddr(raw.rsdp), memoryMap, raw.mapEntrySize, elf, dwarf, embedded)
}

// ELF returns the kernel's own ELF image bytes, for the relocation-and-map
// contract described in spec.md §1 (ELF loading proper is out of scope;
// only this accessor is).
func (b *Bridge) ELF() []byte { return b.elf }

// DWARF returns the packed DWARF debug sections backing backtrace symbol
// resolution.
func (b *Bridge) DWARF() []byte { return b.dwarf }

// Embedded returns the packed blob of embedded programs handed off by the
// bootloader.
func (b *Bridge) Embedded() []byte { return b.embedded }
