package vmm

import (
	"github.com/vortexkernel/vortex/kernel/addr"
	"github.com/vortexkernel/vortex/kernel/cpu"
	"github.com/vortexkernel/vortex/kernel/errors"
)

// FlushTLBEntryFn is used by tests (including other packages' tests that
// exercise a Mapper, e.g. kernel/sched) to override calls to
// cpu.FlushTLBEntry, which would fault outside ring 0.
var FlushTLBEntryFn = cpu.FlushTLBEntry

// ErrAlreadyMapped is returned when a mapping operation would overwrite a
// present entry that does not carry FlagOverwriteable.
var ErrAlreadyMapped = errors.KernelError("virtual page already mapped")

// ErrNotMapped is returned by Translate/Unmap when no mapping covers the
// requested page.
var ErrNotMapped = errors.KernelError("virtual address not mapped")

// ErrHugePageUnsupported is returned when a walk meets a P3 or P2 entry
// carrying FlagHugePage (spec.md §4.2.1). Huge pages are out of scope for
// this Mapper: rather than misreading the entry's frame bits as a child
// table's physical address and descending into unrelated memory, every
// walk stops and reports this error instead.
var ErrHugePageUnsupported = errors.KernelError("vmm: huge-page entries are not supported by this mapper")

// FrameSource supplies physical frames to the mapper when it needs to
// materialize a new P3/P2/P1 table. It is satisfied by pfn.Linear and
// pfn.Buddy alike.
type FrameSource interface {
	AllocFrame() addr.Frame[addr.Size4K]
}

// Mapper walks and mutates a four-level page table rooted at a P4 whose
// virtual address is reachable through access. The same Mapper type serves
// both the active table (via Recursive) and a table staged for another core
// or not yet switched to (via Direct); only access and p4Virt differ.
type Mapper struct {
	p4Virt addr.VirtAddr
	access TableAccess
	bounds P4Range
	frames FrameSource
}

// NewMapper builds a Mapper over the P4 table reachable at p4Virt through
// access, restricted to the P4 indices in bounds.
func NewMapper(p4Virt addr.VirtAddr, access TableAccess, bounds P4Range, frames FrameSource) *Mapper {
	return &Mapper{p4Virt: p4Virt, access: access, bounds: bounds, frames: frames}
}

func tableAt(v addr.VirtAddr) *Table {
	return (*Table)(ptrAt(v))
}

// p4 returns the mapper's root table.
func (m *Mapper) p4() *Table { return tableAt(m.p4Virt) }

// walkCreate descends from P4 to the table that owns the P1 entry for page,
// allocating and zeroing any missing P3/P2/P1 tables along the way. It
// panics if page's P4 index falls outside the mapper's bounds, and returns
// ErrHugePageUnsupported if the P3 or P2 entry it would descend through is a
// huge page rather than a child table (spec.md §4.2.1).
func (m *Mapper) walkCreate(page addr.Page[addr.Size4K]) (*Table, error) {
	p4Index := page.P4Index()
	m.bounds.check(p4Index)

	p3Virt := m.nextOrCreate(m.p4Virt, m.p4(), p4Index)
	p3 := tableAt(p3Virt)
	if p3.At(page.P3Index()).HasFlags(addr.FlagHugePage) {
		return nil, ErrHugePageUnsupported
	}
	p2Virt := m.nextOrCreate(p3Virt, p3, page.P3Index())
	p2 := tableAt(p2Virt)
	if p2.At(page.P2Index()).HasFlags(addr.FlagHugePage) {
		return nil, ErrHugePageUnsupported
	}
	p1Virt := m.nextOrCreate(p2Virt, p2, page.P2Index())
	return tableAt(p1Virt), nil
}

// nextOrCreate returns the virtual address of the child table at index
// within table (itself reachable at tableVirt), allocating a fresh frame
// and a present P→child entry if none exists yet.
func (m *Mapper) nextOrCreate(tableVirt addr.VirtAddr, table *Table, index uint16) addr.VirtAddr {
	entry := table.At(index)
	if next, ok := m.access.NextTableAddress(tableVirt, index, *entry); ok {
		return next
	}

	frame := m.frames.AllocFrame()
	entry.SetFrame(frame.StartAddress())
	entry.SetFlags(addr.FlagPresent | addr.FlagWritable)

	next, ok := m.access.NextTableAddress(tableVirt, index, *entry)
	if !ok {
		panic("vmm: freshly created entry did not resolve to a table")
	}
	tableAt(next).Zero()
	return next
}

// walk descends from P4 to the table that would own page's P1 entry,
// returning ErrNotMapped the instant any intermediate level is absent, or
// ErrHugePageUnsupported if a P3/P2 entry it would descend through is a huge
// page rather than a child table (spec.md §4.2.1).
func (m *Mapper) walk(page addr.Page[addr.Size4K]) (*Table, error) {
	p4Index := page.P4Index()
	m.bounds.check(p4Index)

	p3Entry := *m.p4().At(p4Index)
	p3Virt, ok := m.access.NextTableAddress(m.p4Virt, p4Index, p3Entry)
	if !ok {
		return nil, ErrNotMapped
	}
	p3 := tableAt(p3Virt)
	p2Entry := *p3.At(page.P3Index())
	if p2Entry.HasFlags(addr.FlagHugePage) {
		return nil, ErrHugePageUnsupported
	}
	p2Virt, ok := m.access.NextTableAddress(p3Virt, page.P3Index(), p2Entry)
	if !ok {
		return nil, ErrNotMapped
	}
	p2 := tableAt(p2Virt)
	p1Entry := *p2.At(page.P2Index())
	if p1Entry.HasFlags(addr.FlagHugePage) {
		return nil, ErrHugePageUnsupported
	}
	p1Virt, ok := m.access.NextTableAddress(p2Virt, page.P2Index(), p1Entry)
	if !ok {
		return nil, ErrNotMapped
	}
	return tableAt(p1Virt), nil
}

// Map creates a mapping from page to frame with the given flags. It returns
// ErrAlreadyMapped if page is already present and the existing entry does
// not carry FlagOverwriteable (spec.md §3's bootstrap double-map escape
// hatch).
func (m *Mapper) Map(page addr.Page[addr.Size4K], frame addr.Frame[addr.Size4K], flags addr.EntryFlags) error {
	p1, err := m.walkCreate(page)
	if err != nil {
		return err
	}
	entry := p1.At(page.P1Index())
	if entry.IsPresent() && !entry.HasFlags(addr.FlagOverwriteable) {
		return ErrAlreadyMapped
	}
	*entry = 0
	entry.SetFrame(frame.StartAddress())
	entry.SetFlags(flags | addr.FlagPresent)
	FlushTLBEntryFn(uintptr(page.StartAddress()))
	return nil
}

// MapAlloc maps page to a freshly allocated frame from the mapper's
// FrameSource and returns that frame, for callers that only need backing
// memory rather than a specific physical address (spec.md §4.2.1's
// allocate-and-map convenience used by kernel stack carving).
func (m *Mapper) MapAlloc(page addr.Page[addr.Size4K], flags addr.EntryFlags) (addr.Frame[addr.Size4K], error) {
	frame := m.frames.AllocFrame()
	if err := m.Map(page, frame, flags); err != nil {
		return addr.Frame[addr.Size4K]{}, err
	}
	return frame, nil
}

// MapAllocRange maps count consecutive pages starting at page, each to its
// own freshly allocated frame.
func (m *Mapper) MapAllocRange(page addr.Page[addr.Size4K], count uint64, flags addr.EntryFlags) error {
	for i := uint64(0); i < count; i++ {
		if _, err := m.MapAlloc(page.Add(i), flags); err != nil {
			return err
		}
	}
	return nil
}

// IdentityMap maps frame to the page whose index equals the frame's index,
// i.e. virtual address == physical address.
func (m *Mapper) IdentityMap(frame addr.Frame[addr.Size4K], flags addr.EntryFlags) error {
	page := addr.PageFromAddress[addr.Size4K](addr.VirtAddr(frame.StartAddress().Uint64()))
	return m.Map(page, frame, flags)
}

// MapRange maps count consecutive pages starting at page to count
// consecutive frames starting at frame.
func (m *Mapper) MapRange(page addr.Page[addr.Size4K], frame addr.Frame[addr.Size4K], count uint64, flags addr.EntryFlags) error {
	for i := uint64(0); i < count; i++ {
		if err := m.Map(page.Add(i), frame.Add(i), flags); err != nil {
			return err
		}
	}
	return nil
}

// Unmap clears the mapping for page, returning ErrNotMapped if it was not
// present. It does not free the frame that was mapped; callers that own the
// frame's allocator are responsible for returning it.
func (m *Mapper) Unmap(page addr.Page[addr.Size4K]) error {
	p1, err := m.walk(page)
	if err != nil {
		return err
	}
	entry := p1.At(page.P1Index())
	if !entry.IsPresent() {
		return ErrNotMapped
	}
	*entry = 0
	FlushTLBEntryFn(uintptr(page.StartAddress()))
	return nil
}

// Translate resolves page to the frame it is currently mapped to.
func (m *Mapper) Translate(page addr.Page[addr.Size4K]) (addr.Frame[addr.Size4K], error) {
	p1, err := m.walk(page)
	if err != nil {
		return addr.Frame[addr.Size4K]{}, err
	}
	entry := p1.At(page.P1Index())
	if !entry.IsPresent() {
		return addr.Frame[addr.Size4K]{}, ErrNotMapped
	}
	return addr.FrameFromAddress[addr.Size4K](entry.Frame()), nil
}

// TranslateAddr resolves an arbitrary virtual address to the physical
// address it is currently mapped to, preserving the address's offset within
// its page.
func (m *Mapper) TranslateAddr(v addr.VirtAddr) (addr.PhysAddr, error) {
	page := addr.PageFromAddress[addr.Size4K](v.AlignDown(addr.Size4K{}.Bytes()))
	frame, err := m.Translate(page)
	if err != nil {
		return 0, err
	}
	offset := uint64(v) - uint64(page.StartAddress())
	return frame.StartAddress().Add(offset), nil
}
