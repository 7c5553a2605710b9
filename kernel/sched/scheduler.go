package sched

import (
	"github.com/vortexkernel/vortex/kernel/apic"
	"github.com/vortexkernel/vortex/kernel/cpu"
	"github.com/vortexkernel/vortex/kernel/errors"
	"github.com/vortexkernel/vortex/kernel/gate"
	"github.com/vortexkernel/vortex/kernel/kfmt/early"
	"github.com/vortexkernel/vortex/kernel/mem/vmm"
	"github.com/vortexkernel/vortex/kernel/sync"
)

// migrationBacklogWarnThreshold is the inbox depth past which tick reports
// the migration backlog via PendingMigrations; a backlog this deep means
// CheckMigrate isn't draining as fast as other cores are migrating threads
// in.
const migrationBacklogWarnThreshold = migrationInboxCapacity / 2

// TimerVector is the IDT slot the local APIC timer is wired to on every
// core; chosen past the 32 CPU-reserved exception vectors and the legacy
// PIC IRQ range the IO-APIC may still be routing.
const TimerVector = gate.InterruptNumber(0x30)

// ErrInvalidHandle mirrors spec.md §7's InvalidHandle for callers that want
// an explicit error rather than the silent no-op ThreadHandle.Id/Join give.
var ErrInvalidHandle = errors.KernelError("scheduler: thread handle is invalid or retired")

var exitRegistry = struct {
	lock   sync.RWSpinlock
	exited map[uint64]bool
}{exited: map[uint64]bool{}}

func markExited(globalID uint64) {
	exitRegistry.lock.Lock()
	exitRegistry.exited[globalID] = true
	exitRegistry.lock.Unlock()
}

func hasExited(globalID uint64) bool {
	exitRegistry.lock.RLock()
	defer exitRegistry.lock.RUnlock()
	return exitRegistry.exited[globalID]
}

// clearExited forgets any exited marker for globalID. Called when
// GlobalThreadIdPool.Alloc reissues a recycled global ID so the new thread
// occupying it doesn't inherit its predecessor's exited status.
func clearExited(globalID uint64) {
	exitRegistry.lock.Lock()
	delete(exitRegistry.exited, globalID)
	exitRegistry.lock.Unlock()
}

// registeredSchedulers lets Migrate reach a destination core's ThreadPool
// by CoreId; populated as each core's Scheduler comes online.
var registeredSchedulers [MaxCores]*Scheduler

// Scheduler owns one core's run queue, halt thread, and thread pool. Every
// field below is touched only from the core that owns this Scheduler,
// except through the lock-free migration inbox inside pool (spec.md §5).
type Scheduler struct {
	core    CoreId
	pool    *ThreadPool
	handles *ThreadHandlePool
	globals *GlobalThreadIdPool

	// saved holds the register state of every runnable-but-not-currently-
	// running thread, keyed by global ID.
	saved map[uint64]Thread

	// runQueue is the round-robin order threads become eligible to run
	// in; it never contains the halt thread, which is scheduled only
	// when runQueue is empty.
	runQueue []uint64

	currentGlobalID uint64
	haltGlobalID    uint64
	haltThread      Thread
}

// NewScheduler builds a Scheduler for core, seeding its pool with the
// bootstrap thread (the caller's own execution context, thread 0) and a
// dedicated halt thread (thread 1), per spec.md §4.6.
func NewScheduler(core CoreId, globals *GlobalThreadIdPool, handles *ThreadHandlePool, bump *vmm.VirtualBump, mapper *vmm.Mapper) (*Scheduler, error) {
	pool := NewThreadPool(core, globals, bump, mapper)

	haltStack, err := allocStack(bump, mapper)
	if err != nil {
		return nil, err
	}
	pool.slots = append(pool.slots,
		threadContext{alive: true},                   // thread 0: bootstrap
		threadContext{alive: true, stack: haltStack}, // thread 1: halt
	)

	bootGlobalID, _ := globals.Alloc(LocalThreadId{Core: core, Thread: 0})
	haltGlobalID, _ := globals.Alloc(LocalThreadId{Core: core, Thread: 1})

	s := &Scheduler{
		core:            core,
		pool:            pool,
		handles:         handles,
		globals:         globals,
		saved:           make(map[uint64]Thread),
		currentGlobalID: bootGlobalID,
		haltGlobalID:    haltGlobalID,
		haltThread: Thread{
			globalID: haltGlobalID,
			localID:  LocalThreadId{Core: core, Thread: 1},
			State:    newHaltThreadState(haltStack),
		},
	}
	registeredSchedulers[core] = s
	return s, nil
}

// StartBootstrapCore installs the timer vector and starts the local APIC
// timer, handing scheduling control to the timer interrupt from this point
// on. Satisfies kernel/initctx.Scheduler.
func (s *Scheduler) StartBootstrapCore() {
	gate.HandleInterrupt(TimerVector, 0, func(regs *gate.Registers) {
		CurrentCpuLocal().timerTick(regs)
	})
	local := CurrentCpuLocal()
	local.attachScheduler(s)
	local.LocalAPIC.Enable(0xFF)
	local.LocalAPIC.StartTimer(schedulerTimerInitialCount, 16, apic.TimerPeriodic, uint8(TimerVector))
}

// schedulerTimerInitialCount is the local APIC timer's reload value chosen
// at init; tuned for a roughly millisecond-scale preemption quantum at a
// typical bus-clock-derived APIC frequency.
const schedulerTimerInitialCount = 1_000_000

// Spawn starts f as a new thread on the calling core, per spec.md §4.6.1.
func (s *Scheduler) Spawn(f func()) (ThreadHandle, error) {
	thread, handle, err := s.pool.Alloc(f)
	if err != nil {
		return ThreadHandle{}, err
	}
	s.saved[thread.globalID] = thread
	s.runQueue = append(s.runQueue, thread.globalID)
	return handle, nil
}

// tick implements one timer-interrupt scheduling decision: capture the
// interrupted thread, drain any migrated-in threads, pick the next
// runnable thread (or the halt thread if none), and restore it.
func (s *Scheduler) tick(regs *gate.Registers) {
	current := Capture(s.currentGlobalID, s.globals.Translate(s.currentGlobalID), regs)
	if s.currentGlobalID != s.haltGlobalID && !hasExited(s.currentGlobalID) {
		s.saved[s.currentGlobalID] = current
		s.runQueue = append(s.runQueue, s.currentGlobalID)
	}

	if n := s.pool.PendingMigrations(); n >= migrationBacklogWarnThreshold {
		early.Printf("sched: core %d migration inbox backlog at %d entries\n", s.core, n)
	}

	s.pool.CheckMigrate(func(t Thread) {
		s.saved[t.globalID] = t
		s.runQueue = append(s.runQueue, t.globalID)
	})

	for len(s.runQueue) > 0 {
		next := s.runQueue[0]
		s.runQueue = s.runQueue[1:]
		if hasExited(next) {
			delete(s.saved, next)
			continue
		}
		nt, ok := s.saved[next]
		if !ok {
			continue
		}
		delete(s.saved, next)
		s.currentGlobalID = next
		nt.Restore(regs)
		return
	}

	s.currentGlobalID = s.haltGlobalID
	s.haltThread.Restore(regs)
}

// Exit marks the calling thread dead and parks it until the next timer
// tick switches away, per spec.md §4.6.5. It never returns.
func Exit() {
	local := CurrentCpuLocal()
	s := local.scheduler

	localID := s.globals.Translate(s.currentGlobalID)
	markExited(s.currentGlobalID)
	s.pool.Free(Thread{globalID: s.currentGlobalID, localID: localID})

	for {
		cpu.Halt()
	}
}

// Join blocks the calling thread until the thread referenced by handle
// exits. A handle that is already invalid returns immediately (spec.md
// §7's InvalidHandle policy).
func Join(handle ThreadHandle) {
	local := CurrentCpuLocal()
	globalID, ok := handle.Id(local.scheduler.handles)
	if !ok {
		return
	}
	for !hasExited(globalID) {
		cpu.Halt()
	}
}

// Migrate moves thread off the calling core's pool and into dest's
// migration inbox. Pinned threads and each core's thread 0/1 must never be
// passed here; ThreadPool.IsPinned and LocalThreadId.IsBootstrapThread/
// IsHaltThread let callers enforce that before calling.
func (s *Scheduler) Migrate(dest CoreId, thread Thread) {
	destSched := registeredSchedulers[dest]
	s.pool.migrateOut(destSched.pool, thread)
}
