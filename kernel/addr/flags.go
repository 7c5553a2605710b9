package addr

// EntryFlags are the bitflags stored alongside a frame number in a
// page-table entry. They mirror the hardware-defined bits of an x86-64 PTE
// plus one kernel-internal bit (Overwriteable) that hardware ignores.
type EntryFlags uint64

const (
	// FlagPresent marks the entry as valid; the MMU ignores every other
	// bit when this is clear.
	FlagPresent EntryFlags = 1 << 0

	// FlagWritable allows writes through this mapping.
	FlagWritable EntryFlags = 1 << 1

	// FlagUserAccessible allows ring-3 accesses through this mapping.
	FlagUserAccessible EntryFlags = 1 << 2

	// FlagWriteThrough selects write-through caching for this mapping.
	FlagWriteThrough EntryFlags = 1 << 3

	// FlagNoCache disables caching for this mapping.
	FlagNoCache EntryFlags = 1 << 4

	// FlagAccessed is set by the CPU the first time the mapping is used.
	FlagAccessed EntryFlags = 1 << 5

	// FlagDirty is set by the CPU the first time the mapping is written.
	FlagDirty EntryFlags = 1 << 6

	// FlagHugePage marks a P3 or P2 entry as mapping a 1 GiB or 2 MiB
	// page directly instead of pointing at a child table.
	FlagHugePage EntryFlags = 1 << 7

	// FlagGlobal exempts the mapping from TLB flushes on a CR3 write.
	FlagGlobal EntryFlags = 1 << 8

	// FlagOverwriteable is bit 10, ignored by the MMU. A map_to call that
	// targets an entry carrying this flag replaces it instead of
	// panicking on the double-map invariant.
	FlagOverwriteable EntryFlags = 1 << 10

	// FlagNoExecute disallows instruction fetches through this mapping.
	// Requires the NXE bit to be set in EFER.
	FlagNoExecute EntryFlags = 1 << 63
)

// Has reports whether every bit of want is set in f.
func (f EntryFlags) Has(want EntryFlags) bool {
	return f&want == want
}

// frameMask covers the bits of a page-table entry that hold the physical
// frame number once the flag bits are excluded (bits 12-51).
const frameMask = uint64(0x000F_FFFF_FFFF_F000)
