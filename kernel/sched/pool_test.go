package sched

import (
	"testing"
	"unsafe"

	"github.com/vortexkernel/vortex/kernel/addr"
	"github.com/vortexkernel/vortex/kernel/mem/vmm"
)

// fakeFrameSource mirrors kernel/mem/vmm's own test helper: synthetic
// page-aligned physical addresses backed by real Go memory, so a Direct
// access strategy has somewhere safe to dereference.
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

// stubFlushTLBEntry overrides vmm's TLB-flush indirection for the duration
// of t, since a hosted test has no MMU entry to invalidate.
func stubFlushTLBEntry(t *testing.T) {
	t.Helper()
	prev := vmm.FlushTLBEntryFn
	vmm.FlushTLBEntryFn = func(uintptr) {}
	t.Cleanup(func() { vmm.FlushTLBEntryFn = prev })
}

// newTestPool builds a ThreadPool backed by a synthetic page-table and an
// ample virtual arena, enough to carve several StackPages-sized stacks.
func newTestPool(t *testing.T, core CoreId, globals *GlobalThreadIdPool) (*ThreadPool, *vmm.VirtualBump) {
	t.Helper()
	stubFlushTLBEntry(t)
	frames := newFakeFrameSource()
	p4Frame := frames.AllocFrame()
	access := vmm.Direct{PhysToVirt: frames.physToVirt}
	mapper := vmm.NewMapper(frames.physToVirt(p4Frame.StartAddress()), access, vmm.Unrestricted, frames)

	const arenaPages = StackPages * 8
	start := addr.VirtAddr(0xFFFF_A000_0000_0000)
	end := start.Add(arenaPages * 4096)
	bump := vmm.NewVirtualBump(start, end)

	return NewThreadPool(core, globals, bump, mapper), bump
}

func TestThreadPoolAllocGrowsAndRunsEntry(t *testing.T) {
	handles := NewThreadHandlePool()
	globals := NewGlobalThreadIdPool(handles)
	pool, _ := newTestPool(t, 0, globals)

	ran := false
	thread, handle, err := pool.Alloc(func() { ran = true })
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if thread.localID.Thread != 0 {
		t.Fatalf("expected first slot to be 0, got %d", thread.localID.Thread)
	}
	if handle.IsExpired(handles) {
		t.Fatal("expected fresh handle to be valid")
	}

	entryRegistryLock.Acquire()
	f, ok := entryRegistry[thread.globalID]
	entryRegistryLock.Release()
	if !ok {
		t.Fatal("expected entry closure to be registered")
	}
	f()
	if !ran {
		t.Fatal("expected registered closure to be the one passed to Alloc")
	}
}

func TestThreadPoolFreeReusesDeadSlotStack(t *testing.T) {
	handles := NewThreadHandlePool()
	globals := NewGlobalThreadIdPool(handles)
	pool, _ := newTestPool(t, 0, globals)

	t1, _, err := pool.Alloc(func() {})
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	firstStack := pool.slots[t1.localID.Thread].stack
	pool.Free(t1)

	if len(pool.dead) != 1 {
		t.Fatalf("expected one dead slot, got %d", len(pool.dead))
	}

	t2, _, err := pool.Alloc(func() {})
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if t2.localID.Thread != t1.localID.Thread {
		t.Fatalf("expected dead slot %d to be reused, got %d", t1.localID.Thread, t2.localID.Thread)
	}
	if pool.slots[t2.localID.Thread].stack != firstStack {
		t.Fatal("expected reused slot to keep its original stack")
	}
	if len(pool.dead) != 0 {
		t.Fatalf("expected dead list to be drained, got %d entries", len(pool.dead))
	}
}

func TestThreadPoolMigrationHandoff(t *testing.T) {
	handles := NewThreadHandlePool()
	globals := NewGlobalThreadIdPool(handles)
	src, _ := newTestPool(t, 0, globals)
	dst, _ := newTestPool(t, 1, globals)

	thread, _, err := src.Alloc(func() {})
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}

	src.migrateOut(dst, thread)
	if len(src.invalid) != 1 {
		t.Fatalf("expected source slot to go invalid, got %d entries", len(src.invalid))
	}

	var migrated Thread
	seen := false
	dst.CheckMigrate(func(tt Thread) {
		migrated = tt
		seen = true
	})
	if !seen {
		t.Fatal("expected CheckMigrate to observe the migrated thread")
	}
	if migrated.localID.Core != 1 {
		t.Fatalf("expected migrated thread's core to become 1, got %d", migrated.localID.Core)
	}
	if got := globals.Translate(thread.globalID); got.Core != 1 {
		t.Fatalf("expected global id pool to reflect migration, got core %d", got.Core)
	}
}

func TestThreadPoolPinUnpin(t *testing.T) {
	handles := NewThreadHandlePool()
	globals := NewGlobalThreadIdPool(handles)
	pool, _ := newTestPool(t, 0, globals)

	thread, _, err := pool.Alloc(func() {})
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}

	if pool.IsPinned(&thread) {
		t.Fatal("expected freshly spawned thread to be unpinned")
	}
	pool.Pin(&thread)
	if !pool.IsPinned(&thread) {
		t.Fatal("expected Pin to mark the thread pinned")
	}
	pool.Unpin(&thread)
	if pool.IsPinned(&thread) {
		t.Fatal("expected Unpin to clear the pin")
	}
}

func TestThreadPoolAllocFailsWhenArenaExhausted(t *testing.T) {
	stubFlushTLBEntry(t)
	handles := NewThreadHandlePool()
	globals := NewGlobalThreadIdPool(handles)
	frames := newFakeFrameSource()
	p4Frame := frames.AllocFrame()
	access := vmm.Direct{PhysToVirt: frames.physToVirt}
	mapper := vmm.NewMapper(frames.physToVirt(p4Frame.StartAddress()), access, vmm.Unrestricted, frames)

	start := addr.VirtAddr(0xFFFF_B000_0000_0000)
	end := start.Add((StackPages + 2) * 4096) // room for exactly one stack plus its guard pages
	bump := vmm.NewVirtualBump(start, end)
	pool := NewThreadPool(0, globals, bump, mapper)

	if _, _, err := pool.Alloc(func() {}); err != nil {
		t.Fatalf("expected first alloc to succeed, got %v", err)
	}
	if _, _, err := pool.Alloc(func() {}); err != ErrFailedToAllocateStack {
		t.Fatalf("expected ErrFailedToAllocateStack, got %v", err)
	}
}
