// Package sync provides the spinlock and reader-writer lock primitives the
// kernel uses wherever spec.md §5's shared-resource policy calls for one:
// frame allocators, page tables, the IDT/GDT, and the global thread-handle
// pool.
package sync

import "sync/atomic"

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will
// cause a deadlock.
func (l *Spinlock) Acquire() {
	archAcquireSpinlock(&l.state, 1)
}

// TryToAcquire attempts to acquire the lock and returns true if the lock
// could be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it.
// Calling Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// archAcquireSpinlock is an arch-specific implementation for acquiring the
// lock.
func archAcquireSpinlock(state *uint32, attemptsBeforeYielding uint32)

// RWSpinlock is a reader-writer spinlock: any number of readers may hold it
// concurrently, but a writer excludes every reader and every other writer.
// spec.md §5 calls for exactly this on the global thread-handle pool: many
// cores query a handle, but creation/retirement needs exclusivity.
type RWSpinlock struct {
	// writer is 1 while a writer holds the lock.
	writer uint32
	// readers counts active readers; a writer may only proceed once it is 0.
	readers int32
}

// RLock blocks until a read lock can be acquired.
func (l *RWSpinlock) RLock() {
	for {
		if atomic.LoadUint32(&l.writer) != 0 {
			continue
		}
		atomic.AddInt32(&l.readers, 1)
		if atomic.LoadUint32(&l.writer) == 0 {
			return
		}
		atomic.AddInt32(&l.readers, -1)
	}
}

// RUnlock releases a previously acquired read lock.
func (l *RWSpinlock) RUnlock() {
	atomic.AddInt32(&l.readers, -1)
}

// Lock blocks until the write lock can be acquired, excluding every reader
// and every other writer.
func (l *RWSpinlock) Lock() {
	for !atomic.CompareAndSwapUint32(&l.writer, 0, 1) {
	}
	for atomic.LoadInt32(&l.readers) != 0 {
	}
}

// Unlock releases a previously acquired write lock.
func (l *RWSpinlock) Unlock() {
	atomic.StoreUint32(&l.writer, 0)
}
