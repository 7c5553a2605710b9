// Package pfn implements vortex's physical frame allocators: a buddy
// allocator used once the firmware memory map is available, and a linear
// bump allocator used to bootstrap the kernel before the buddy allocator
// exists.
package pfn

import "github.com/vortexkernel/vortex/kernel/addr"

// trampolineStart and trampolineEnd bound the real-mode AP trampoline
// region. The linear allocator never hands out a frame inside this range
// because the BSP identity-maps and writes to it directly during SMP
// bring-up (kernel/smp).
const (
	trampolineStart = 0x7000
	trampolineEnd   = 0x9000
)

// Linear is a bump allocator for early boot: AllocFrame returns the current
// cursor and advances it by one 4 KiB frame, skipping the trampoline range.
// DeallocFrame is a no-op, matching spec.md's statement that this allocator
// is used only during the single-threaded portion of boot before a real
// allocator is available.
type Linear struct {
	base    addr.PhysAddr
	cursor  addr.PhysAddr
	started bool
}

// NewLinear returns a Linear allocator that starts handing out frames at
// base, rounded up to a page boundary.
func NewLinear(base addr.PhysAddr) *Linear {
	aligned := base.AlignUp(addr.Size4K{}.Bytes())
	return &Linear{base: aligned, cursor: aligned, started: true}
}

// AllocFrame returns the next free frame and advances the cursor.
func (l *Linear) AllocFrame() addr.Frame[addr.Size4K] {
	frame := addr.FrameFromAddress[addr.Size4K](l.cursor)
	l.cursor = l.cursor.Add(addr.Size4K{}.Bytes())
	if l.cursor.Uint64() >= trampolineStart && l.cursor.Uint64() < trampolineEnd {
		l.cursor = addr.PhysAddr(trampolineEnd)
	}
	return frame
}

// DeallocFrame is a no-op: the linear allocator never reclaims.
func (l *Linear) DeallocFrame(addr.Frame[addr.Size4K]) {}

// Cursor returns the next address that would be handed out. Exposed for
// tests and for handing the allocator's high-water mark to the buddy
// allocator when it takes over.
func (l *Linear) Cursor() addr.PhysAddr { return l.cursor }

// Reset rewinds the cursor back to base. This is unsafe: every frame handed
// out since the last reset (or construction) becomes eligible for reuse even
// though callers may still be holding references to it. It exists only for
// the narrow early-boot window where the caller can prove no such references
// survive (e.g. discarding a scratch mapping built to probe ACPI tables).
func (l *Linear) Reset() {
	l.cursor = l.base
}
