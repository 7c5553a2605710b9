package vmm

import (
	"unsafe"

	"github.com/vortexkernel/vortex/kernel/addr"
)

// ptrAt reinterprets a virtual address as a pointer into the running
// address space. Every caller in this package has already established,
// through a TableAccess traversal, that v addresses live page-table memory;
// this is the one place that trust is spent.
func ptrAt(v addr.VirtAddr) unsafe.Pointer {
	return unsafe.Pointer(v.Ptr())
}

// ActiveTable is the P4 table currently loaded in CR3, accessed recursively
// through recursiveIndex's self-map slot.
type ActiveTable struct {
	mapper *Mapper
}

// NewActiveTable builds an ActiveTable whose P4 is reachable at the virtual
// address the recursive self-map slot resolves to.
func NewActiveTable(recursiveIndex uint16, bounds P4Range, frames FrameSource) *ActiveTable {
	p4Virt := recursiveSelfAddress(recursiveIndex)
	access := Recursive{RecursiveIndex: recursiveIndex}
	return &ActiveTable{mapper: NewMapper(p4Virt, access, bounds, frames)}
}

// Mapper exposes the Map/Unmap/Translate surface for the active table.
func (a *ActiveTable) Mapper() *Mapper { return a.mapper }

// recursiveSelfAddress computes the canonical virtual address at which a P4
// table mapped into its own recursiveIndex slot becomes visible: all four
// table-index fields equal to recursiveIndex.
func recursiveSelfAddress(recursiveIndex uint16) addr.VirtAddr {
	idx := uint64(recursiveIndex)
	raw := (idx << 39) | (idx << 30) | (idx << 21) | (idx << 12)
	return addr.TruncVirtAddr(raw)
}

// InactiveTable is a P4 table not currently loaded in CR3: one being built
// for another core during SMP bring-up, or staged before a bootstrap
// pivot. It is accessed directly through a physical-memory window rather
// than recursively, since it has no self-map slot to walk through yet.
type InactiveTable struct {
	frame  addr.Frame[addr.Size4K]
	mapper *Mapper
}

// NewInactiveTable wraps frame (which must already hold a zeroed P4) for
// direct-style access through physToVirt, typically the kernel's direct
// physical map.
func NewInactiveTable(frame addr.Frame[addr.Size4K], physToVirt func(addr.PhysAddr) addr.VirtAddr, bounds P4Range, frames FrameSource) *InactiveTable {
	p4Virt := physToVirt(frame.StartAddress())
	access := Direct{PhysToVirt: physToVirt}
	return &InactiveTable{frame: frame, mapper: NewMapper(p4Virt, access, bounds, frames)}
}

// Mapper exposes the Map/Unmap/Translate surface for the inactive table.
func (i *InactiveTable) Mapper() *Mapper { return i.mapper }

// Frame returns the physical frame backing the inactive P4, the value that
// must eventually be written to CR3 to activate it.
func (i *InactiveTable) Frame() addr.Frame[addr.Size4K] { return i.frame }
