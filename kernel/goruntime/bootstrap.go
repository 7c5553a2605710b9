// Package goruntime contains code for bootstrapping Go runtime features such
// as the memory allocator.
package goruntime

import (
	"unsafe"

	"github.com/vortexkernel/vortex/kernel/addr"
	"github.com/vortexkernel/vortex/kernel/errors"
	"github.com/vortexkernel/vortex/kernel/mem/vmm"
)

const pageSize = uint64(4 * 1024)

// ErrVirtualSpaceExhausted is what sysReserve panics with when the heap's
// virtual arena has no room left.
var ErrVirtualSpaceExhausted = errors.KernelError("goruntime: heap virtual address space exhausted")

var (
	heapArena *vmm.VirtualBump
	heapMap   *vmm.Mapper

	mapFn                = defaultMap
	earlyReserveRegionFn = defaultReserveRegion

	mallocInitFn    = mallocInit
	algInitFn       = algInit
	modulesInitFn   = modulesInit
	typeLinksInitFn = typeLinksInit
	itabsInitFn     = itabsInit
)

// Configure wires the Go-runtime allocator hookup to the virtual arena and
// mapper built during the memory subsystem's init phase. Must run before
// Init, and before any code path that can trigger a Go heap allocation —
// map/slice growth, interface boxing, the scheduler's entryRegistry, all of
// it.
func Configure(arena *vmm.VirtualBump, mapper *vmm.Mapper) {
	heapArena, heapMap = arena, mapper
}

//go:linkname mSysStatInc runtime.mSysStatInc
func mSysStatInc(*uint64, uintptr)

func defaultReserveRegion(pageCount uint64) (addr.Page[addr.Size4K], error) {
	start, ok := heapArena.AllocPages(pageCount)
	if !ok {
		return addr.Page[addr.Size4K]{}, ErrVirtualSpaceExhausted
	}
	return start, nil
}

func defaultMap(page addr.Page[addr.Size4K], count uint64, flags addr.EntryFlags) error {
	return heapMap.MapAllocRange(page, count, flags)
}

func pageCountFor(size uintptr) uint64 {
	return (uint64(size) + pageSize - 1) / pageSize
}

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings.
//
// This function replaces runtime.sysReserve and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr, reserved *bool) unsafe.Pointer {
	start, err := earlyReserveRegionFn(pageCountFor(size))
	if err != nil {
		panic(err)
	}

	*reserved = true
	return unsafe.Pointer(start.StartAddress().Ptr())
}

// sysMap establishes a mapping for a memory region previously reserved via
// sysReserve. gopher-os maps a shared copy-on-write zero frame here and only
// provisions real frames lazily in sysAlloc; the buddy allocator vortex
// builds on has no shared-zero-page concept, so sysMap provisions real
// backing frames up front instead — simpler, at the cost of committing
// memory the caller may never touch.
//
// This function replaces runtime.sysMap and is required for initializing the
// Go allocator.
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr, reserved bool, sysStat *uint64) unsafe.Pointer {
	if !reserved {
		panic("sysMap should only be called with reserved=true")
	}

	regionStart := addr.PageFromAddress[addr.Size4K](addr.VirtAddr(uintptr(virtAddr)).AlignUp(pageSize))
	pageCount := pageCountFor(size)

	if err := mapFn(regionStart, pageCount, addr.FlagPresent|addr.FlagWritable|addr.FlagNoExecute); err != nil {
		return unsafe.Pointer(uintptr(0))
	}

	mSysStatInc(sysStat, uintptr(pageCount*pageSize))
	return unsafe.Pointer(regionStart.StartAddress().Ptr())
}

// sysAlloc reserves enough virtual address space and physical frames to
// satisfy the allocation request and maps them, returning the region's
// start address.
//
// This function replaces runtime.sysAlloc and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	pageCount := pageCountFor(size)
	start, err := earlyReserveRegionFn(pageCount)
	if err != nil {
		return unsafe.Pointer(uintptr(0))
	}

	if err := mapFn(start, pageCount, addr.FlagPresent|addr.FlagWritable|addr.FlagNoExecute); err != nil {
		return unsafe.Pointer(uintptr(0))
	}

	mSysStatInc(sysStat, uintptr(pageCount*pageSize))
	return unsafe.Pointer(start.StartAddress().Ptr())
}

//go:linkname algInit runtime.alginit
func algInit()

//go:linkname modulesInit runtime.modulesinit
func modulesInit()

//go:linkname typeLinksInit runtime.typelinksinit
func typeLinksInit()

//go:linkname itabsInit runtime.itabsinit
func itabsInit()

//go:linkname mallocInit runtime.mallocinit
func mallocInit()

// prngSeed backs getRandomData's pseudo-random stream; there is no entropy
// source this early in boot, so the sequence is deterministic, matching
// gopher-os's own stand-in.
var prngSeed = uint32(0xdeadc0de)

// getRandomData populates r with pseudo-random bytes. The real
// runtime.getRandomData reads from the host's entropy source, which does not
// exist here.
//
//go:redirect-from runtime.getRandomData
func getRandomData(r []byte) {
	for i := range r {
		prngSeed = (prngSeed * 58321) + 11113
		r[i] = byte((prngSeed >> 16) & 255)
	}
}

// nanotime returns a monotonically increasing clock value. A real
// implementation needs the timer subsystem wired up (scheduler's
// tick-driven preemption is the earliest point that happens); this stand-in
// exists only so runtime code that calls it during early allocator bring-up
// does not crash.
//
//go:redirect-from runtime.nanotime
//go:nosplit
func nanotime() uint64 {
	return 1
}

// Init enables support for the Go runtime features the kernel needs once
// Configure has wired a real mapper and virtual arena: heap allocation (new,
// make, append growth), map primitives, and interfaces.
func Init() {
	mallocInitFn()
	algInitFn()
	modulesInitFn()
	typeLinksInitFn()
	itabsInitFn()
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file before Configure/Init ever run for real.
	_ = sysReserve
	_ = sysMap
	_ = sysAlloc
	_ = getRandomData
	_ = nanotime
}
