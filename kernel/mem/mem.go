// Package mem contains low-level, allocation-free byte-range helpers used by
// the page-table engine and the Go-runtime allocator hookup while operating
// directly on physical/virtual memory through raw addresses.
package mem

import (
	"reflect"
	"unsafe"
)

// Set writes size copies of value starting at addr. The implementation
// mirrors bytes.Repeat: instead of a byte-at-a-time loop it performs
// log2(size) copy calls, which is a meaningful win given that every caller
// operates on page-aligned, page-sized regions.
func Set(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	target := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: addr,
	}))

	target[0] = value
	for index := uintptr(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Copy copies size bytes from src to dst. The two ranges must not overlap.
func Copy(src, dst uintptr, size uintptr) {
	if size == 0 {
		return
	}

	srcSlice := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: src,
	}))
	dstSlice := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: dst,
	}))

	copy(dstSlice, srcSlice)
}
