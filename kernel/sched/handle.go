// Package sched implements vortex's SMP thread lifecycle: per-core thread
// pools, generational handles safe across ID recycling, lock-free
// cross-core migration, and timer-driven preemption (spec.md §4.6/§5).
//
// Grounded on original_source/src/kernel/src/scheduler/thread.rs.
package sched

import "github.com/vortexkernel/vortex/kernel/sync"

// ThreadHandle is a generational reference to a thread: handleID indexes a
// slot in the global handle pool, globalID is the value that slot held when
// the handle was minted. A slot's globalID only ever changes when it is
// retired and reissued, so a stale handle's globalID mismatch is detected
// for free (spec.md §3, §8's thread-handle generation invariant).
type ThreadHandle struct {
	handleID uint64
	globalID uint64
}

type handleSlot struct {
	expired  bool
	globalID uint64
}

// ThreadHandlePool mints and retires ThreadHandles. A single instance is
// shared by every core behind an RWSpinlock: reads (Id queries) are
// concurrent, writes (create/free) are exclusive.
type ThreadHandlePool struct {
	lock    sync.RWSpinlock
	slots   []handleSlot
	expired []uint64
}

// NewThreadHandlePool builds an empty handle pool.
func NewThreadHandlePool() *ThreadHandlePool {
	return &ThreadHandlePool{}
}

// create mints a handle for globalID, reusing a retired slot when one is
// available whose previous occupant was a different global ID (reusing a
// slot for the very global ID that just vacated it would let a stale handle
// observe the new thread).
func (p *ThreadHandlePool) create(globalID uint64) ThreadHandle {
	p.lock.Lock()
	defer p.lock.Unlock()

	for i, idx := range p.expired {
		if p.slots[idx].globalID == globalID {
			continue
		}
		p.expired = append(p.expired[:i], p.expired[i+1:]...)
		p.slots[idx] = handleSlot{expired: false, globalID: globalID}
		return ThreadHandle{handleID: idx, globalID: globalID}
	}

	id := uint64(len(p.slots))
	p.slots = append(p.slots, handleSlot{expired: false, globalID: globalID})
	return ThreadHandle{handleID: id, globalID: globalID}
}

func (p *ThreadHandlePool) free(handleID uint64) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.slots[handleID].expired = true
	p.expired = append(p.expired, handleID)
}

func (p *ThreadHandlePool) isExpired(h ThreadHandle) bool {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if h.handleID >= uint64(len(p.slots)) {
		return true
	}
	slot := p.slots[h.handleID]
	return slot.expired || slot.globalID != h.globalID
}

func (p *ThreadHandlePool) currentGlobalID(h ThreadHandle) (uint64, bool) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if h.handleID >= uint64(len(p.slots)) {
		return 0, false
	}
	slot := p.slots[h.handleID]
	if slot.expired || slot.globalID != h.globalID {
		return 0, false
	}
	return slot.globalID, true
}

// GlobalThreadIdPool maps a thread's stable global ID to its current
// per-core LocalThreadId, so a migrated thread keeps the same global
// identity even though its core and slot index change.
type GlobalThreadIdPool struct {
	lock    sync.RWSpinlock
	entries []globalIDEntry
	free    []uint64
	handles *ThreadHandlePool
}

type globalIDEntry struct {
	local    LocalThreadId
	handleID uint64
}

// NewGlobalThreadIdPool builds an empty pool backed by handles.
func NewGlobalThreadIdPool(handles *ThreadHandlePool) *GlobalThreadIdPool {
	return &GlobalThreadIdPool{handles: handles}
}

// Translate resolves a global ID to its current local thread ID.
func (g *GlobalThreadIdPool) Translate(globalID uint64) LocalThreadId {
	g.lock.RLock()
	defer g.lock.RUnlock()
	return g.entries[globalID].local
}

// Migrate updates globalID's recorded location after a cross-core move.
func (g *GlobalThreadIdPool) Migrate(globalID uint64, newLocal LocalThreadId) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.entries[globalID].local = newLocal
}

// Alloc assigns a fresh global ID to local, returning it along with a
// freshly minted handle.
func (g *GlobalThreadIdPool) Alloc(local LocalThreadId) (uint64, ThreadHandle) {
	g.lock.Lock()

	if n := len(g.free); n > 0 {
		id := g.free[n-1]
		g.free = g.free[:n-1]
		g.lock.Unlock()

		clearExited(id)
		handle := g.handles.create(id)

		g.lock.Lock()
		g.entries[id] = globalIDEntry{local: local, handleID: handle.handleID}
		g.lock.Unlock()
		return id, handle
	}

	id := uint64(len(g.entries))
	g.entries = append(g.entries, globalIDEntry{local: local})
	g.lock.Unlock()

	handle := g.handles.create(id)

	g.lock.Lock()
	g.entries[id].handleID = handle.handleID
	g.lock.Unlock()
	return id, handle
}

// Free retires globalID, bumping its handle's generation so no outstanding
// ThreadHandle can observe it again, and returns the local ID it last held.
func (g *GlobalThreadIdPool) Free(globalID uint64) LocalThreadId {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.free = append(g.free, globalID)
	g.handles.free(g.entries[globalID].handleID)
	return g.entries[globalID].local
}

// Id returns globalID iff h's generation still matches the pool's current
// record for its slot; spec.md §7's InvalidHandle resolves to a zero value
// and ok=false here rather than a panic.
func (h ThreadHandle) Id(pool *ThreadHandlePool) (uint64, bool) {
	return pool.currentGlobalID(h)
}

// IsExpired reports whether h's generation has been superseded.
func (h ThreadHandle) IsExpired(pool *ThreadHandlePool) bool {
	return pool.isExpired(h)
}
