package vmm

import "github.com/vortexkernel/vortex/kernel/addr"

// TableAccess is the single capability the page-table walker needs: given
// the virtual address a table is currently mapped at and the entry at one
// of its indices, return the virtual address at which the table that entry
// points to can itself be read. spec.md §9 calls this out as "the entire
// abstraction" separating recursive from direct table access; vortex keeps
// it as exactly one method on an interface rather than duplicating the
// walking code per style.
type TableAccess interface {
	NextTableAddress(tableVirt addr.VirtAddr, index uint16, entry Entry) (addr.VirtAddr, bool)
}

// Recursive accesses child tables through a self-referential P4 slot: the
// table at RecursiveIndex in the active P4 points back to the P4 itself, so
// shifting the current table's virtual address left by 9 bits and ORing in
// the child index yields the child's virtual address, canonicalized.
type Recursive struct {
	// RecursiveIndex is the P4 slot whose entry points back at the P4
	// frame. Kmain uses index 0x1FE, whose 512 GiB window starts at
	// 0xFFFF_FF00_0000_0000.
	RecursiveIndex uint16
}

// NextTableAddress implements TableAccess.
func (r Recursive) NextTableAddress(tableVirt addr.VirtAddr, index uint16, entry Entry) (addr.VirtAddr, bool) {
	if !entry.IsPresent() {
		return 0, false
	}
	next := (uint64(tableVirt) << 9) | (uint64(index) << 12)
	return addr.TruncVirtAddr(next), true
}

// Direct accesses child tables by translating the entry's frame field
// through a caller-supplied physical-to-virtual mapping. It is used when
// the table being walked is not the active page table: staging an inactive
// table for another core, or walking page tables before the kernel's own
// recursive self-map exists.
type Direct struct {
	PhysToVirt func(addr.PhysAddr) addr.VirtAddr
}

// NextTableAddress implements TableAccess.
func (d Direct) NextTableAddress(_ addr.VirtAddr, _ uint16, entry Entry) (addr.VirtAddr, bool) {
	if !entry.IsPresent() {
		return 0, false
	}
	return d.PhysToVirt(entry.Frame()), true
}

// P4Range restricts the set of P4 indices a Mapper will traverse. Index
// bounds are asserted at runtime on every P4 access; an out-of-bounds index
// is a programmer error and aborts, per spec.md §3.
type P4Range struct {
	Start, End uint16 // [Start, End)
}

// Unrestricted spans the entire P4 table.
var Unrestricted = P4Range{Start: 0, End: entriesPerTable}

// LowerHalf spans user-space P4 indices (0..256).
var LowerHalf = P4Range{Start: 0, End: 256}

// UpperHalf spans kernel-space P4 indices (256..512).
var UpperHalf = P4Range{Start: 256, End: entriesPerTable}

func (r P4Range) check(index uint16) {
	if index < r.Start || index >= r.End {
		panic("vmm: P4 index out of restricted range")
	}
}
