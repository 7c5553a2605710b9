package sched

import (
	"github.com/vortexkernel/vortex/kernel/cpu"
	"github.com/vortexkernel/vortex/kernel/sync"
)

// entryRegistry holds the closures new threads start in, keyed by global
// ID. Go has no equivalent of boxing an FnOnce and stashing its raw pointer
// in a register the way original_source does; a registry keyed by the
// thread's own (already-unique) global ID serves the same purpose without
// unsafe pointer arithmetic on a moving Go heap.
var (
	entryRegistryLock sync.Spinlock
	entryRegistry     = map[uint64]func(){}
)

// registerEntry records f as the entry closure for globalID. Called once,
// right before the thread carrying globalID is first scheduled.
func registerEntry(globalID uint64, f func()) {
	entryRegistryLock.Acquire()
	entryRegistry[globalID] = f
	entryRegistryLock.Release()
}

// threadTrampolineDispatch is invoked by the assembly trampoline with the
// new thread's global ID (passed through in rdi, the register
// newThreadState placed it in). It runs the registered closure to
// completion and then exits the thread; it never returns.
func threadTrampolineDispatch(globalID uint64) {
	entryRegistryLock.Acquire()
	f := entryRegistry[globalID]
	delete(entryRegistry, globalID)
	entryRegistryLock.Release()

	f()
	Exit()
}

// threadTrampoline is the assembly landing pad every freshly spawned
// thread's RIP starts at: it reads rdi, calls threadTrampolineDispatch, and
// never falls through (threadTrampolineDispatch calls Exit, which does not
// return to its caller).
func threadTrampoline()

// threadTrampolineAddr returns threadTrampoline's entry address for use as
// a ThreadState.RIP value.
func threadTrampolineAddr() uint64

// haltLoop is the halt thread's entire body: disable nothing, just hlt
// forever, letting the timer interrupt do all the work of finding
// something else runnable.
func haltLoop() {
	for {
		cpu.Halt()
	}
}

// haltLoopAddr returns haltLoop's entry address for use as a
// ThreadState.RIP value.
func haltLoopAddr() uint64
