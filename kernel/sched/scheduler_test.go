package sched

import "testing"

func TestExitRegistryTracksGlobalIDs(t *testing.T) {
	const id = 0xdead
	if hasExited(id) {
		t.Fatal("fresh global id must not read as exited")
	}
	markExited(id)
	if !hasExited(id) {
		t.Fatal("expected markExited to be observed by hasExited")
	}
}

func TestNewSchedulerSeedsBootstrapAndHaltThreads(t *testing.T) {
	handles := NewThreadHandlePool()
	globals := NewGlobalThreadIdPool(handles)
	pool, bump := newTestPool(t, 0, globals)

	s, err := NewScheduler(0, globals, handles, bump, pool.mapper)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	if s.currentGlobalID == s.haltGlobalID {
		t.Fatal("bootstrap and halt threads must have distinct global ids")
	}
	if got := globals.Translate(s.haltGlobalID); !got.IsHaltThread() {
		t.Fatalf("expected halt thread's local id to report IsHaltThread, got %v", got)
	}
	if got := globals.Translate(s.currentGlobalID); !got.IsBootstrapThread() {
		t.Fatalf("expected bootstrap thread's local id to report IsBootstrapThread, got %v", got)
	}
}

func TestSchedulerTickRoundRobinsAndFallsBackToHalt(t *testing.T) {
	handles := NewThreadHandlePool()
	globals := NewGlobalThreadIdPool(handles)
	pool, _ := newTestPool(t, 0, globals)

	haltStack, err := allocStack(pool.bump, pool.mapper)
	if err != nil {
		t.Fatalf("allocStack: %v", err)
	}
	pool.slots = append(pool.slots,
		threadContext{alive: true},
		threadContext{alive: true, stack: haltStack},
	)
	bootID, _ := globals.Alloc(LocalThreadId{Core: 0, Thread: 0})
	haltID, _ := globals.Alloc(LocalThreadId{Core: 0, Thread: 1})

	s := &Scheduler{
		core:            0,
		pool:            pool,
		handles:         handles,
		globals:         globals,
		saved:           make(map[uint64]Thread),
		currentGlobalID: bootID,
		haltGlobalID:    haltID,
		haltThread: Thread{
			globalID: haltID,
			localID:  LocalThreadId{Core: 0, Thread: 1},
			State:    newHaltThreadState(haltStack),
		},
	}
	registeredSchedulers[0] = s

	ran := false
	handle, err := s.Spawn(func() { ran = true })
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	_ = handle

	var regs ThreadState
	// First tick: interrupted bootstrap thread goes to the back of the run
	// queue, the freshly spawned thread (already in runQueue from Spawn) is
	// scheduled next.
	s.tick(&regs)
	if s.currentGlobalID == bootID {
		t.Fatal("expected scheduler to switch away from the bootstrap thread")
	}
	spawnedID := s.currentGlobalID

	entryRegistryLock.Acquire()
	f := entryRegistry[spawnedID]
	entryRegistryLock.Release()
	if f == nil {
		t.Fatal("expected spawned thread's entry closure to still be registered")
	}
	f()
	if !ran {
		t.Fatal("expected spawned closure to run")
	}

	// Second tick: the bootstrap thread (saved from tick 1) should come back
	// around via round robin.
	s.tick(&regs)
	if s.currentGlobalID != bootID {
		t.Fatalf("expected round robin to return to bootstrap thread %d, got %d", bootID, s.currentGlobalID)
	}

	// Mark both threads exited and confirm a subsequent tick drains the
	// queue without scheduling either, falling back to halt.
	markExited(bootID)
	markExited(spawnedID)
	s.tick(&regs)
	if s.currentGlobalID != haltID {
		t.Fatalf("expected fallback to halt thread, got %d", s.currentGlobalID)
	}
}
