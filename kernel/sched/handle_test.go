package sched

import "testing"

func TestThreadHandlePoolDetectsExpiry(t *testing.T) {
	pool := NewThreadHandlePool()
	h := pool.create(42)

	if pool.isExpired(h) {
		t.Fatal("freshly created handle should not be expired")
	}
	if got, ok := pool.currentGlobalID(h); !ok || got != 42 {
		t.Fatalf("expected (42,true), got (%d,%v)", got, ok)
	}

	pool.free(h.handleID)
	if !pool.isExpired(h) {
		t.Fatal("expected handle to be expired after free")
	}
	if _, ok := pool.currentGlobalID(h); ok {
		t.Fatal("expected currentGlobalID to report not-ok after free")
	}
}

// TestHandleReuseDoesNotResurrectStaleHandle exercises spec.md §8's
// thread-handle generation invariant: once a handle's global ID has moved
// on, no new handle sharing its handleID should let the old handle observe
// the new occupant.
func TestHandleReuseDoesNotResurrectStaleHandle(t *testing.T) {
	pool := NewThreadHandlePool()
	old := pool.create(1)
	pool.free(old.handleID)

	fresh := pool.create(2)
	if fresh.handleID != old.handleID {
		t.Skip("pool did not reuse the retired slot; nothing to assert")
	}

	if !pool.isExpired(old) {
		t.Fatal("old handle must read as expired even though its slot was reused")
	}
	if pool.isExpired(fresh) {
		t.Fatal("freshly reissued handle must not read as expired")
	}
}

func TestGlobalThreadIdPoolAllocTranslateFree(t *testing.T) {
	handles := NewThreadHandlePool()
	globals := NewGlobalThreadIdPool(handles)

	local := LocalThreadId{Core: 0, Thread: 5}
	id, handle := globals.Alloc(local)

	if got := globals.Translate(id); got != local {
		t.Fatalf("expected translate to return %v, got %v", local, got)
	}
	if handle.IsExpired(handles) {
		t.Fatal("expected fresh handle to be valid")
	}

	globals.Migrate(id, LocalThreadId{Core: 1, Thread: 0})
	if got := globals.Translate(id); got.Core != 1 || got.Thread != 0 {
		t.Fatalf("expected migrated local id, got %v", got)
	}

	oldLocal := globals.Free(id)
	if oldLocal.Core != 1 {
		t.Fatalf("expected Free to return the last-known local id, got %v", oldLocal)
	}
	if !handle.IsExpired(handles) {
		t.Fatal("expected handle to be expired after Free")
	}
}

func TestGlobalThreadIdPoolReusesFreedSlots(t *testing.T) {
	handles := NewThreadHandlePool()
	globals := NewGlobalThreadIdPool(handles)

	id1, _ := globals.Alloc(LocalThreadId{Core: 0, Thread: 0})
	globals.Free(id1)

	id2, handle2 := globals.Alloc(LocalThreadId{Core: 0, Thread: 1})
	if id2 != id1 {
		t.Fatalf("expected freed global id to be reused, got new id %d vs freed %d", id2, id1)
	}
	if handle2.IsExpired(handles) {
		t.Fatal("expected handle for reused global id to be valid")
	}
}
