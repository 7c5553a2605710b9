package vmm

import (
	"unsafe"

	"testing"

	"github.com/vortexkernel/vortex/kernel/addr"
)

// fakeFrameSource hands out synthetic page-aligned physical addresses backed
// by real Go memory, so Direct-style traversal (which dereferences the
// translated address) has somewhere safe to land. Physical addresses here
// have no relationship to the test binary's own memory layout; only the
// PhysToVirt closure below knows how to resolve them.
type fakeFrameSource struct {
	next  uint64
	pages map[addr.PhysAddr][]byte
}

func newFakeFrameSource() *fakeFrameSource {
	return &fakeFrameSource{next: 0x10_000, pages: map[addr.PhysAddr][]byte{}}
}

func (f *fakeFrameSource) AllocFrame() addr.Frame[addr.Size4K] {
	p := addr.PhysAddr(f.next)
	f.next += 4096
	f.pages[p] = make([]byte, 4096)
	return addr.FrameFromAddress[addr.Size4K](p)
}

func (f *fakeFrameSource) physToVirt(p addr.PhysAddr) addr.VirtAddr {
	buf, ok := f.pages[p]
	if !ok {
		panic("fakeFrameSource: unknown physical address")
	}
	return addr.VirtAddr(uintptr(unsafe.Pointer(&buf[0])))
}

func newTestMapper(t *testing.T) (*Mapper, *fakeFrameSource) {
	t.Helper()
	prevFlush := FlushTLBEntryFn
	FlushTLBEntryFn = func(uintptr) {}
	t.Cleanup(func() { FlushTLBEntryFn = prevFlush })

	frames := newFakeFrameSource()
	p4Frame := frames.AllocFrame()
	tableAt(frames.physToVirt(p4Frame.StartAddress())).Zero()
	access := Direct{PhysToVirt: frames.physToVirt}
	m := NewMapper(frames.physToVirt(p4Frame.StartAddress()), access, Unrestricted, frames)
	return m, frames
}

func TestMapperMapAndTranslate(t *testing.T) {
	m, frames := newTestMapper(t)

	target := frames.AllocFrame()
	page := addr.PageFromAddress[addr.Size4K](addr.VirtAddr(0xFFFF_9000_0000_0000))

	if err := m.Map(page, target, addr.FlagWritable); err != nil {
		t.Fatalf("map: %v", err)
	}

	got, err := m.Translate(page)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got != target {
		t.Fatalf("expected %v, got %v", target, got)
	}
}

func TestMapperTranslateUnmapped(t *testing.T) {
	m, _ := newTestMapper(t)
	page := addr.PageFromAddress[addr.Size4K](addr.VirtAddr(0x1000))
	if _, err := m.Translate(page); err != ErrNotMapped {
		t.Fatalf("expected ErrNotMapped, got %v", err)
	}
}

func TestMapperRejectsDoubleMapWithoutOverwriteable(t *testing.T) {
	m, frames := newTestMapper(t)
	page := addr.PageFromAddress[addr.Size4K](addr.VirtAddr(0x2000))

	if err := m.Map(page, frames.AllocFrame(), addr.FlagWritable); err != nil {
		t.Fatalf("first map: %v", err)
	}
	if err := m.Map(page, frames.AllocFrame(), addr.FlagWritable); err != ErrAlreadyMapped {
		t.Fatalf("expected ErrAlreadyMapped, got %v", err)
	}
}

func TestMapperAllowsDoubleMapWithOverwriteable(t *testing.T) {
	m, frames := newTestMapper(t)
	page := addr.PageFromAddress[addr.Size4K](addr.VirtAddr(0x3000))

	if err := m.Map(page, frames.AllocFrame(), addr.FlagWritable|addr.FlagOverwriteable); err != nil {
		t.Fatalf("first map: %v", err)
	}
	second := frames.AllocFrame()
	if err := m.Map(page, second, addr.FlagWritable); err != nil {
		t.Fatalf("expected overwrite to succeed, got %v", err)
	}
	got, err := m.Translate(page)
	if err != nil || got != second {
		t.Fatalf("expected translate to reflect the overwrite, got %v err=%v", got, err)
	}
}

func TestMapperUnmap(t *testing.T) {
	m, frames := newTestMapper(t)
	page := addr.PageFromAddress[addr.Size4K](addr.VirtAddr(0x4000))

	if err := m.Map(page, frames.AllocFrame(), addr.FlagWritable); err != nil {
		t.Fatalf("map: %v", err)
	}
	if err := m.Unmap(page); err != nil {
		t.Fatalf("unmap: %v", err)
	}
	if _, err := m.Translate(page); err != ErrNotMapped {
		t.Fatalf("expected ErrNotMapped after unmap, got %v", err)
	}
	if err := m.Unmap(page); err != ErrNotMapped {
		t.Fatalf("expected ErrNotMapped unmapping twice, got %v", err)
	}
}

func TestMapperP4BoundsEnforced(t *testing.T) {
	prevFlush := FlushTLBEntryFn
	FlushTLBEntryFn = func(uintptr) {}
	t.Cleanup(func() { FlushTLBEntryFn = prevFlush })

	frames := newFakeFrameSource()
	p4Frame := frames.AllocFrame()
	tableAt(frames.physToVirt(p4Frame.StartAddress())).Zero()
	access := Direct{PhysToVirt: frames.physToVirt}
	m := NewMapper(frames.physToVirt(p4Frame.StartAddress()), access, LowerHalf, frames)

	// 0xFFFF_9000_0000_0000 lands in the upper half (P4 index 0x120), which
	// LowerHalf must reject.
	page := addr.PageFromAddress[addr.Size4K](addr.VirtAddr(0xFFFF_9000_0000_0000))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-bounds P4 index")
		}
	}()
	m.Map(page, frames.AllocFrame(), addr.FlagWritable)
}

// TestIndependentMapperInstancesAgree rebuilds a second Mapper over the same
// already-populated P4 frame and checks it resolves the same mapping the
// first Mapper created: a stand-in for the active/inactive agreement
// property this package must hold, since a hosted test has no MMU to walk a
// genuine recursive self-map through.
func TestIndependentMapperInstancesAgree(t *testing.T) {
	prevFlush := FlushTLBEntryFn
	FlushTLBEntryFn = func(uintptr) {}
	t.Cleanup(func() { FlushTLBEntryFn = prevFlush })

	frames := newFakeFrameSource()
	p4Frame := frames.AllocFrame()
	p4Virt := frames.physToVirt(p4Frame.StartAddress())
	tableAt(p4Virt).Zero()
	access := Direct{PhysToVirt: frames.physToVirt}

	writer := NewMapper(p4Virt, access, Unrestricted, frames)
	page := addr.PageFromAddress[addr.Size4K](addr.VirtAddr(0xFFFF_9000_0000_0000))
	target := frames.AllocFrame()
	if err := writer.Map(page, target, addr.FlagWritable); err != nil {
		t.Fatalf("map: %v", err)
	}

	reader := NewMapper(p4Virt, access, Unrestricted, frames)
	got, err := reader.Translate(page)
	if err != nil {
		t.Fatalf("reader translate: %v", err)
	}
	if got != target {
		t.Fatalf("expected independently-constructed mapper to agree, got %v want %v", got, target)
	}
}

// TestMapperRejectsHugePageAtP2 checks that a P2 entry marked FlagHugePage
// (spec.md §4.2.1) stops the walk rather than being misread as a P1 table
// pointer.
func TestMapperRejectsHugePageAtP2(t *testing.T) {
	m, frames := newTestMapper(t)
	page := addr.PageFromAddress[addr.Size4K](addr.VirtAddr(0xFFFF_9000_0000_0000))

	if err := m.Map(page, frames.AllocFrame(), addr.FlagWritable); err != nil {
		t.Fatalf("map: %v", err)
	}

	p3Virt, ok := m.access.NextTableAddress(m.p4Virt, page.P4Index(), *m.p4().At(page.P4Index()))
	if !ok {
		t.Fatal("expected P3 table to exist after Map")
	}
	p3 := tableAt(p3Virt)
	p2Virt, ok := m.access.NextTableAddress(p3Virt, page.P3Index(), *p3.At(page.P3Index()))
	if !ok {
		t.Fatal("expected P2 table to exist after Map")
	}
	p2 := tableAt(p2Virt)
	p2.At(page.P2Index()).SetFlags(addr.FlagHugePage)

	if _, err := m.Translate(page); err != ErrHugePageUnsupported {
		t.Fatalf("expected ErrHugePageUnsupported, got %v", err)
	}
	if err := m.Unmap(page); err != ErrHugePageUnsupported {
		t.Fatalf("expected ErrHugePageUnsupported from Unmap, got %v", err)
	}
	if err := m.Map(page, frames.AllocFrame(), addr.FlagWritable); err != ErrHugePageUnsupported {
		t.Fatalf("expected ErrHugePageUnsupported from Map re-descending through the huge page, got %v", err)
	}
}
