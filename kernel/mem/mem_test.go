package mem

import (
	"testing"
	"unsafe"
)

func TestSetAndCopy(t *testing.T) {
	src := make([]byte, 256)
	dst := make([]byte, 256)

	Set(uintptr(unsafe.Pointer(&src[0])), 0xAB, uintptr(len(src)))
	for i, b := range src {
		if b != 0xAB {
			t.Fatalf("byte %d: expected 0xAB, got 0x%x", i, b)
		}
	}

	Copy(uintptr(unsafe.Pointer(&src[0])), uintptr(unsafe.Pointer(&dst[0])), uintptr(len(src)))
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("byte %d: copy mismatch, expected 0x%x got 0x%x", i, src[i], dst[i])
		}
	}
}
