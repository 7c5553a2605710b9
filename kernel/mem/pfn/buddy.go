package pfn

import (
	"unsafe"

	"github.com/vortexkernel/vortex/kernel/addr"
	"github.com/vortexkernel/vortex/kernel/errors"
)

// ErrOutOfMemory is returned once the buddy allocator can no longer satisfy
// a request from any of its regions.
var ErrOutOfMemory = errors.KernelError("out of memory")

// RegionKind classifies a firmware memory-map entry. Only Conventional,
// BootServicesCode and BootServicesData regions are usable by the buddy
// allocator; every other kind is reserved, MMIO, or otherwise off limits.
type RegionKind uint8

// Region kinds consumed by the buddy allocator. The full firmware memory-map
// type space (including the kinds the allocator ignores) lives in
// kernel/hal/bootbridge, which is the boundary that actually parses the
// bootloader-provided map.
const (
	RegionConventional RegionKind = iota
	RegionBootServicesCode
	RegionBootServicesData
)

// Region describes one contiguous, page-aligned span of usable physical
// memory that the buddy allocator may carve into blocks.
type Region struct {
	Kind  RegionKind
	Start addr.PhysAddr
	End   addr.PhysAddr // exclusive
}

const pageSize = uint64(4096)

// noFree is a sentinel free-list head value. It is distinguishable from
// every real frame address because it carries bits above bit 51, which a
// valid PhysAddr never has.
const noFree = addr.PhysAddr(^uint64(0))

// PhysToVirt translates a physical address into a virtual one the kernel
// can dereference, normally the kernel's direct physical map
// (0xFFFF_9000_0000_0000 + phys). Buddy needs this because its free lists
// are intrusive: a free block's own first eight bytes hold the next
// pointer.
type PhysToVirt func(addr.PhysAddr) uintptr

type pool struct {
	base, end addr.PhysAddr
	freeList  []addr.PhysAddr // one head per order
	size      uint64
}

// Buddy is a power-of-two buddy allocator over the set of usable regions
// reported by the firmware memory map. Each region keeps its own
// independent ladder of free lists; the allocator does not coalesce a block
// in one region with a block in another (spec.md §9's open question: this
// can fragment a heavily-split memory map, and vortex inherits that
// trade-off rather than resolve it).
type Buddy struct {
	orders     int
	pools      []pool
	allocated  uint64
	maxMem     uint64
	physToVirt PhysToVirt
}

// NewBuddy builds a Buddy allocator with the given number of orders
// (order 0 == one page, order orders-1 == the largest block size) over the
// supplied regions. Only regions whose Kind is usable are carved; callers
// should already have filtered the firmware map accordingly but NewBuddy
// re-checks defensively.
func NewBuddy(orders int, regions []Region, physToVirt PhysToVirt) *Buddy {
	if orders < 1 || orders > 64 {
		panic("pfn: buddy order count must be in [1,64]")
	}

	b := &Buddy{orders: orders, physToVirt: physToVirt}
	for _, r := range regions {
		if !usable(r.Kind) {
			continue
		}
		b.addRegion(r)
	}
	return b
}

func usable(k RegionKind) bool {
	switch k {
	case RegionConventional, RegionBootServicesCode, RegionBootServicesData:
		return true
	default:
		return false
	}
}

// addRegion greedily carves [r.Start, r.End) into the largest aligned
// power-of-two blocks that fit, pushing each onto the pool's free list for
// its order, exactly as a buddy allocator initialized over an
// arbitrarily-sized span must.
func (b *Buddy) addRegion(r Region) {
	start := r.Start.AlignUp(pageSize)
	end := r.End.AlignDown(pageSize)
	if end <= start {
		return
	}

	p := pool{base: start, end: end, freeList: make([]addr.PhysAddr, b.orders)}
	for i := range p.freeList {
		p.freeList[i] = noFree
	}

	cur := start
	for cur < end {
		order := b.orders - 1
		for order > 0 {
			blockSize := pageSize << uint(order)
			if cur.Uint64()%blockSize == 0 && cur.Add(blockSize) <= end {
				break
			}
			order--
		}
		blockSize := pageSize << uint(order)
		b.push(&p, order, cur)
		p.size += blockSize
		cur = cur.Add(blockSize)
	}

	b.maxMem += p.size
	b.pools = append(b.pools, p)
}

func (b *Buddy) push(p *pool, order int, block addr.PhysAddr) {
	*(*uint64)(unsafe.Pointer(b.physToVirt(block))) = p.freeList[order].Uint64()
	p.freeList[order] = block
}

func (b *Buddy) pop(p *pool, order int) (addr.PhysAddr, bool) {
	head := p.freeList[order]
	if head == noFree {
		return 0, false
	}
	next := *(*uint64)(unsafe.Pointer(b.physToVirt(head)))
	p.freeList[order] = addr.PhysAddr(next)
	return head, true
}

// orderFor returns the smallest order whose block size is >= size.
func orderFor(size uint64) int {
	order := 0
	for pageSize<<uint(order) < size {
		order++
	}
	return order
}

// Allocated returns the number of bytes currently handed out.
func (b *Buddy) Allocated() uint64 { return b.allocated }

// MaxMem returns the total byte capacity managed by the allocator.
func (b *Buddy) MaxMem() uint64 { return b.maxMem }

// freeListTotal sums the byte capacity still sitting in every pool's free
// lists. Used by tests to check the quiescent-point invariant from
// spec.md §8: allocated + sum(free_list_sizes*2^order) == max_mem.
func (b *Buddy) freeListTotal() uint64 {
	var total uint64
	for pi := range b.pools {
		p := &b.pools[pi]
		for order, head := range p.freeList {
			for head != noFree {
				total += pageSize << uint(order)
				head = addr.PhysAddr(*(*uint64)(unsafe.Pointer(b.physToVirt(head))))
			}
		}
	}
	return total
}

// Allocate reserves a block of at least size bytes, rounded up to the next
// power of two, and returns the frame at its base. Pools are scanned in the
// order the firmware reported them; once a pool cannot satisfy a request at
// any order, the next pool is tried for that same request (spec.md §4.1.1).
func (b *Buddy) Allocate(size uint64) (addr.Frame[addr.Size4K], error) {
	k := orderFor(size)
	if k >= b.orders {
		return addr.Frame[addr.Size4K]{}, ErrOutOfMemory
	}

	for pi := range b.pools {
		p := &b.pools[pi]
		for j := k; j < b.orders; j++ {
			block, ok := b.pop(p, j)
			if !ok {
				continue
			}
			// Split from order j down to order k, pushing the unused
			// right half of each split onto the next smaller free list.
			for lvl := j; lvl > k; lvl-- {
				buddyBlock := block.Add(pageSize << uint(lvl-1))
				b.push(p, lvl-1, buddyBlock)
			}
			b.allocated += pageSize << uint(k)
			return addr.FrameFromAddress[addr.Size4K](block), nil
		}
	}

	return addr.Frame[addr.Size4K]{}, ErrOutOfMemory
}

// AllocFrame satisfies vmm.FrameSource: it allocates a single 4 KiB frame
// and panics on exhaustion, per spec.md §7's policy that OutOfMemory is
// always fatal rather than a caller-visible error.
func (b *Buddy) AllocFrame() addr.Frame[addr.Size4K] {
	f, err := b.Allocate(pageSize)
	if err != nil {
		panic("pfn: buddy allocator exhausted")
	}
	return f
}

// Deallocate returns a previously-allocated block of size bytes (the same
// size passed to Allocate, which Allocate itself rounded up to a power of
// two) back to its pool, coalescing with its buddy wherever possible.
func (b *Buddy) Deallocate(frame addr.Frame[addr.Size4K], size uint64) {
	addrVal := frame.StartAddress()
	order := orderFor(size)
	freed := pageSize << uint(order)

	p := b.poolFor(addrVal)
	if p == nil {
		return
	}

	for order < b.orders-1 {
		blockSize := pageSize << uint(order)
		rel := (addrVal.Uint64() - p.base.Uint64()) ^ blockSize
		buddyAddr := p.base.Add(rel)
		if !p.contains(buddyAddr) || !b.removeFromFreeList(p, order, buddyAddr) {
			break
		}
		if buddyAddr < addrVal {
			addrVal = buddyAddr
		}
		order++
	}

	b.push(p, order, addrVal)
	b.allocated -= freed
}

func (p *pool) contains(a addr.PhysAddr) bool {
	return a >= p.base && a < p.end
}

func (b *Buddy) poolFor(a addr.PhysAddr) *pool {
	for i := range b.pools {
		if b.pools[i].contains(a) {
			return &b.pools[i]
		}
	}
	return nil
}

// removeFromFreeList removes target from the order free list if present,
// returning whether it was found. It walks the intrusive singly-linked list
// starting at the head.
func (b *Buddy) removeFromFreeList(p *pool, order int, target addr.PhysAddr) bool {
	head := p.freeList[order]
	if head == noFree {
		return false
	}
	if head == target {
		p.freeList[order] = addr.PhysAddr(*(*uint64)(unsafe.Pointer(b.physToVirt(head))))
		return true
	}

	prev := head
	cur := addr.PhysAddr(*(*uint64)(unsafe.Pointer(b.physToVirt(prev))))
	for cur != noFree {
		if cur == target {
			next := *(*uint64)(unsafe.Pointer(b.physToVirt(cur)))
			*(*uint64)(unsafe.Pointer(b.physToVirt(prev))) = next
			return true
		}
		prev = cur
		cur = addr.PhysAddr(*(*uint64)(unsafe.Pointer(b.physToVirt(prev))))
	}
	return false
}
