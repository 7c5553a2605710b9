// Package vmm implements vortex's four-level page-table engine: recursive
// and direct table traversal, active/inactive table staging, restricted P4
// variants, and the Mapper operations (map_to, identity_map, translate,
// unmap) described in spec.md §3/§4.2.
package vmm

import "github.com/vortexkernel/vortex/kernel/addr"

const entriesPerTable = 512

// frameMask covers the physical-frame bits of an entry (12-51), excluding
// both the low flag bits and the NoExecute bit at bit 63.
const frameMask = uint64(0x000F_FFFF_FFFF_F000)

// Entry is one 8-byte slot of a page table: a physical frame number plus
// EntryFlags.
type Entry uint64

// IsPresent reports whether the entry's FlagPresent bit is set.
func (e Entry) IsPresent() bool { return addr.EntryFlags(e).Has(addr.FlagPresent) }

// HasFlags reports whether every bit in want is set on the entry.
func (e Entry) HasFlags(want addr.EntryFlags) bool { return addr.EntryFlags(e).Has(want) }

// Flags returns the flag bits of the entry with the frame bits masked out.
func (e Entry) Flags() addr.EntryFlags {
	return addr.EntryFlags(uint64(e) &^ frameMask)
}

// SetFlags ORs the given flags into the entry, leaving the frame bits
// untouched.
func (e *Entry) SetFlags(flags addr.EntryFlags) {
	*e = Entry(uint64(*e) | uint64(flags))
}

// ClearFlags clears the given flags on the entry, leaving the frame bits
// untouched.
func (e *Entry) ClearFlags(flags addr.EntryFlags) {
	*e = Entry(uint64(*e) &^ uint64(flags))
}

// Frame returns the physical frame this entry points at, independent of
// whether it addresses a 4K page, a child table, or (when FlagHugePage is
// set at the P2/P3 level) a huge page's base frame.
func (e Entry) Frame() addr.PhysAddr {
	return addr.PhysAddr(uint64(e) & frameMask)
}

// SetFrame overwrites the frame bits of the entry, leaving its flags
// untouched.
func (e *Entry) SetFrame(f addr.PhysAddr) {
	*e = Entry((uint64(*e) &^ frameMask) | (f.Uint64() & frameMask))
}

// Table is one level of the four-level paging hierarchy: 512 entries.
type Table struct {
	entries [entriesPerTable]Entry
}

// At returns the entry at index, which must be in [0,512).
// Index-out-of-bounds is a programmer error and aborts, per spec.md §3.
func (t *Table) At(index uint16) *Entry {
	if index >= entriesPerTable {
		panic("vmm: page table index out of bounds")
	}
	return &t.entries[index]
}

// Zero clears every entry in the table.
func (t *Table) Zero() {
	for i := range t.entries {
		t.entries[i] = 0
	}
}
