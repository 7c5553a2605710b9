package vmm

import "github.com/vortexkernel/vortex/kernel/addr"

// VirtualBump hands out virtual pages from a single growing arena, for
// callers that need kernel virtual address space but do not otherwise
// manage it themselves: mapping an MMIO region, staging a new stack, growing
// the dynamic heap. It carries no knowledge of what backs the pages it
// hands out; pairing each returned page with a physical frame is the
// caller's job.
type VirtualBump struct {
	next addr.Page[addr.Size4K]
	end  addr.Page[addr.Size4K]
}

// NewVirtualBump creates an allocator over the half-open virtual range
// [start, end).
func NewVirtualBump(start, end addr.VirtAddr) *VirtualBump {
	return &VirtualBump{
		next: addr.PageFromAddress[addr.Size4K](start),
		end:  addr.PageFromAddress[addr.Size4K](end),
	}
}

// AllocPages returns the first page of a run of count consecutive pages, or
// ok=false if the arena is exhausted.
func (v *VirtualBump) AllocPages(count uint64) (addr.Page[addr.Size4K], bool) {
	if v.next.Index()+count > v.end.Index() {
		return addr.Page[addr.Size4K]{}, false
	}
	start := v.next
	v.next = v.next.Add(count)
	return start, true
}

// Remaining reports how many pages are still available in the arena.
func (v *VirtualBump) Remaining() uint64 {
	if v.end.Index() < v.next.Index() {
		return 0
	}
	return v.end.Index() - v.next.Index()
}
