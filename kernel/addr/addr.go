// Package addr defines the kernel's typed physical and virtual address
// values along with the canonical-address and reserved-bit invariants that
// every other memory-management package in vortex relies on.
package addr

import "github.com/vortexkernel/vortex/kernel/errors"

const (
	// physAddrBits is the number of usable bits in a physical address on
	// the platforms vortex targets; bits 52-63 must be zero.
	physAddrBits = 52

	physAddrMask = (uint64(1) << physAddrBits) - 1

	// canonicalBit is the bit whose value must be replicated into bits
	// 48-63 of a virtual address for it to be canonical.
	canonicalBit = 47
)

var (
	// ErrNonCanonical is returned by checked VirtAddr constructors when
	// bits 48-63 do not all equal bit 47.
	ErrNonCanonical = errors.KernelError("virtual address is not canonical")

	// ErrReservedBitsSet is returned by checked PhysAddr constructors when
	// any of bits 52-63 are set.
	ErrReservedBitsSet = errors.KernelError("physical address has reserved bits set")
)

// PhysAddr is a 52-bit physical address. Bits 52-63 are always zero for any
// PhysAddr value obtained through a safe constructor.
type PhysAddr uint64

// NewPhysAddr checked-constructs a PhysAddr, rejecting any value with a
// reserved bit set.
func NewPhysAddr(raw uint64) (PhysAddr, error) {
	if raw&^physAddrMask != 0 {
		return 0, ErrReservedBitsSet
	}
	return PhysAddr(raw), nil
}

// TruncPhysAddr truncating-constructs a PhysAddr by masking off the
// reserved bits of raw.
func TruncPhysAddr(raw uint64) PhysAddr {
	return PhysAddr(raw & physAddrMask)
}

// UnsafePhysAddr unchecked-constructs a PhysAddr. The caller asserts that raw
// already satisfies the reserved-bits invariant.
func UnsafePhysAddr(raw uint64) PhysAddr {
	return PhysAddr(raw)
}

// Valid reports whether the address satisfies the reserved-bits invariant.
func (p PhysAddr) Valid() bool {
	return uint64(p)&^physAddrMask == 0
}

// Uint64 returns the raw bit pattern of the address.
func (p PhysAddr) Uint64() uint64 { return uint64(p) }

// Add returns p+n, re-masking the reserved bits (used by range iteration,
// which always constructs from previously-valid addresses).
func (p PhysAddr) Add(n uint64) PhysAddr {
	return PhysAddr((uint64(p) + n) & physAddrMask)
}

// AlignDown rounds p down to the nearest multiple of align, which must be a
// power of two.
func (p PhysAddr) AlignDown(align uint64) PhysAddr {
	return PhysAddr(uint64(p) &^ (align - 1))
}

// AlignUp rounds p up to the nearest multiple of align, which must be a
// power of two.
func (p PhysAddr) AlignUp(align uint64) PhysAddr {
	return PhysAddr((uint64(p) + align - 1) &^ (align - 1))
}

// VirtAddr is a canonical 64-bit virtual address: bits 48-63 all equal bit
// 47. Every VirtAddr obtained through a safe constructor satisfies this.
type VirtAddr uint64

// NewVirtAddr checked-constructs a VirtAddr, rejecting any value that is not
// canonical.
func NewVirtAddr(raw uint64) (VirtAddr, error) {
	if !isCanonical(raw) {
		return 0, ErrNonCanonical
	}
	return VirtAddr(raw), nil
}

// TruncVirtAddr truncating-constructs a VirtAddr by sign-extending bit 47
// into bits 48-63, forcing canonicality.
func TruncVirtAddr(raw uint64) VirtAddr {
	const signBit = uint64(1) << canonicalBit
	const upperBits = ^(signBit - 1) // bits 47-63
	if raw&signBit != 0 {
		return VirtAddr(raw | upperBits)
	}
	return VirtAddr(raw &^ upperBits)
}

// UnsafeVirtAddr unchecked-constructs a VirtAddr. The caller asserts that raw
// is already canonical.
func UnsafeVirtAddr(raw uint64) VirtAddr {
	return VirtAddr(raw)
}

func isCanonical(raw uint64) bool {
	top := raw >> canonicalBit
	return top == 0 || top == ^uint64(0)>>canonicalBit
}

// Valid reports whether the address is canonical.
func (v VirtAddr) Valid() bool {
	return isCanonical(uint64(v))
}

// Uint64 returns the raw bit pattern of the address.
func (v VirtAddr) Uint64() uint64 { return uint64(v) }

// Ptr reinterprets the address as a raw pointer-sized integer, for use when
// handing the value to unsafe.Pointer conversions at call sites.
func (v VirtAddr) Ptr() uintptr { return uintptr(v) }

// Add returns v+n, re-deriving canonicality the same way TruncVirtAddr does
// (used for range iteration over an already-canonical base).
func (v VirtAddr) Add(n uint64) VirtAddr {
	return TruncVirtAddr(uint64(v) + n)
}

// AlignDown rounds v down to the nearest multiple of align, which must be a
// power of two.
func (v VirtAddr) AlignDown(align uint64) VirtAddr {
	return VirtAddr(uint64(v) &^ (align - 1))
}

// AlignUp rounds v up to the nearest multiple of align, which must be a
// power of two.
func (v VirtAddr) AlignUp(align uint64) VirtAddr {
	return TruncVirtAddr((uint64(v) + align - 1) &^ (align - 1))
}
