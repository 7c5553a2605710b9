package sched

import (
	"github.com/vortexkernel/vortex/kernel/mem/vmm"
	"github.com/vortexkernel/vortex/kernel/mpsc"
)

// threadContext is the per-slot state a ThreadPool owns: whether the slot
// currently holds a live thread, whether that thread is pinned to this
// core, and the kernel stack the slot's thread runs on. The stack survives
// across dead/alive cycles on purpose (spec.md §4.6.5: "the stack is not
// freed, reuse preserves it").
type threadContext struct {
	alive  bool
	pinned bool
	stack  Stack
}

// migratingThread is what one core pushes into another's migration inbox:
// the thread itself plus the slot state it occupied, so the destination can
// reconstruct a threadContext without re-deriving it.
type migratingThread struct {
	thread Thread
	ctx    threadContext
}

// ThreadPool owns every thread slot local to one core. It is never touched
// from another core directly; cross-core handoff only ever happens through
// migrateIn's MPSC ring (spec.md §5: "per-core scheduler state: owned by
// that core; never accessed from another core except via the migration
// inbox").
type ThreadPool struct {
	core    CoreId
	globals *GlobalThreadIdPool

	slots   []threadContext
	dead    []uint32
	invalid []uint32

	migrateIn *mpsc.Ring[migratingThread]

	bump   *vmm.VirtualBump
	mapper *vmm.Mapper
}

// migrationInboxCapacity matches original_source's SpinMPSC<_, 256>.
const migrationInboxCapacity = 256

// NewThreadPool builds an empty pool for core, whose thread stacks are
// carved from bump and mapped through mapper.
func NewThreadPool(core CoreId, globals *GlobalThreadIdPool, bump *vmm.VirtualBump, mapper *vmm.Mapper) *ThreadPool {
	return &ThreadPool{
		core:      core,
		globals:   globals,
		migrateIn: mpsc.New[migratingThread](migrationInboxCapacity),
		bump:      bump,
		mapper:    mapper,
	}
}

// Alloc produces a new thread running f, preferring a dead slot's stack,
// then an invalid slot's now-empty index, then growing the pool.
func (p *ThreadPool) Alloc(f func()) (Thread, ThreadHandle, error) {
	if n := len(p.dead); n > 0 {
		idx := p.dead[n-1]
		p.dead = p.dead[:n-1]
		ctx := &p.slots[idx]
		ctx.alive = true
		return p.spawnInto(uint32(idx), ctx.stack, f)
	}

	if n := len(p.invalid); n > 0 {
		idx := p.invalid[n-1]
		p.invalid = p.invalid[:n-1]
		stack, err := allocStack(p.bump, p.mapper)
		if err != nil {
			p.invalid = append(p.invalid, idx)
			return Thread{}, ThreadHandle{}, err
		}
		p.slots[idx] = threadContext{alive: true, stack: stack}
		return p.spawnInto(uint32(idx), stack, f)
	}

	stack, err := allocStack(p.bump, p.mapper)
	if err != nil {
		return Thread{}, ThreadHandle{}, err
	}
	idx := uint32(len(p.slots))
	p.slots = append(p.slots, threadContext{alive: true, stack: stack})
	return p.spawnInto(idx, stack, f)
}

func (p *ThreadPool) spawnInto(slot uint32, stack Stack, f func()) (Thread, ThreadHandle, error) {
	local := LocalThreadId{Core: p.core, Thread: slot}
	globalID, handle := p.globals.Alloc(local)
	registerEntry(globalID, f)
	thread := Thread{globalID: globalID, localID: local, State: newThreadState(globalID, stack)}
	return thread, handle, nil
}

// CheckMigrate drains every thread queued for this core and hands each one
// to callback once it has been assigned a local slot, per spec.md §4.6.4.
func (p *ThreadPool) CheckMigrate(callback func(Thread)) {
	for {
		in, ok := p.migrateIn.Pop()
		if !ok {
			return
		}

		var slot uint32
		if n := len(p.invalid); n > 0 {
			slot = p.invalid[n-1]
			p.invalid = p.invalid[:n-1]
		} else {
			slot = uint32(len(p.slots))
			p.slots = append(p.slots, threadContext{})
		}

		newLocal := LocalThreadId{Core: p.core, Thread: slot}
		in.thread.migrateTo(newLocal)
		p.globals.Migrate(in.thread.globalID, newLocal)
		p.slots[slot] = in.ctx
		callback(in.thread)
	}
}

// PendingMigrations reports the current depth of the migration inbox, for
// the scheduler's diagnostics path (spec.md §5, original_source's
// SpinMpsc::len).
func (p *ThreadPool) PendingMigrations() uint64 { return p.migrateIn.Len() }

// Pin marks thread as never eligible for migration.
func (p *ThreadPool) Pin(t *Thread) { p.slots[t.localID.Thread].pinned = true }

// Unpin clears a previous Pin.
func (p *ThreadPool) Unpin(t *Thread) { p.slots[t.localID.Thread].pinned = false }

// IsPinned reports whether thread is pinned to this core.
func (p *ThreadPool) IsPinned(t *Thread) bool { return p.slots[t.localID.Thread].pinned }

// migrateOut pushes thread to dest's inbox, retrying with the same payload
// until it fits (spec.md §7: MigrationRingFull never drops). Thread 0 and 1
// and any pinned thread must never reach here; callers enforce that.
func (p *ThreadPool) migrateOut(dest *ThreadPool, t Thread) {
	idx := t.localID.Thread
	p.invalid = append(p.invalid, idx)
	ctx := p.slots[idx]
	p.slots[idx] = threadContext{}

	dest.migrateIn.Push(migratingThread{thread: t, ctx: ctx})
}

// Free retires thread: its slot goes on the dead list (stack kept for
// reuse), its global ID is released, bumping its handle's generation.
func (p *ThreadPool) Free(t Thread) {
	idx := t.localID.Thread
	p.slots[idx].alive = false
	p.slots[idx].pinned = false
	p.dead = append(p.dead, idx)
	p.globals.Free(t.globalID)
}
