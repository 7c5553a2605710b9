package kernel

import (
	"encoding/binary"
	"unsafe"

	"github.com/vortexkernel/vortex/kernel/kfmt/early"
)

// maxBacktraceFrames bounds the saved-frame-pointer walk in case the chain
// is corrupt (the usual symptom of the stack overflow a panic is often
// reporting in the first place).
const maxBacktraceFrames = 32

// kernelELF is the kernel's own ELF image, handed to SetKernelELF once
// Kmain decodes the boot bridge, so panic backtraces can resolve return
// addresses to enclosing function names.
var kernelELF []byte

// SetKernelELF records the kernel's own ELF image for backtrace
// symbolication (spec.md §6's "kernel ELF reader" boot-bridge field).
func SetKernelELF(elf []byte) { kernelELF = elf }

// printBacktrace walks the chain of saved frame pointers starting at
// Panic's caller, printing a frame counter, return address, and (when
// kernelELF's symbol table has an enclosing function) its name for each
// (spec.md §6: "frame counter, instruction pointer, symbol name ...").
// Source-line resolution through the boot bridge's DWARF baker is not
// implemented; symbolication here is function-granularity only, from the
// ELF symbol table rather than DWARF line info.
func printBacktrace() {
	fp := framePointerFn()
	for i := 0; i < maxBacktraceFrames && fp != 0; i++ {
		retAddr := *(*uintptr)(unsafe.Pointer(fp + 8))
		if retAddr == 0 {
			break
		}
		if name, ok := symbolFor(uint64(retAddr)); ok {
			early.Printf("\n  #%d 0x%x %s", i, retAddr, name)
		} else {
			early.Printf("\n  #%d 0x%x", i, retAddr)
		}

		next := *(*uintptr)(unsafe.Pointer(fp))
		if next <= fp {
			break
		}
		fp = next
	}
}

const (
	elfSectionHeaderSize = 64
	elfSymbolEntrySize   = 24
	elfSectionTypeSymtab = 2
	elfSymbolTypeFunc    = 2
)

// symbolFor returns the name of the highest-addressed STT_FUNC symbol in
// kernelELF's .symtab whose value is <= addr, the usual "nearest preceding
// symbol" heuristic for resolving a return address to its enclosing
// function without full debug-line information.
func symbolFor(addr uint64) (string, bool) {
	if len(kernelELF) < 64 {
		return "", false
	}

	shoff := binary.LittleEndian.Uint64(kernelELF[0x28:])
	shnum := binary.LittleEndian.Uint16(kernelELF[0x3C:])
	shstrndx := binary.LittleEndian.Uint16(kernelELF[0x3E:])
	if shoff == 0 || uint64(shnum)*elfSectionHeaderSize+shoff > uint64(len(kernelELF)) {
		return "", false
	}

	section := func(i uint16) []byte {
		off := shoff + uint64(i)*elfSectionHeaderSize
		return kernelELF[off : off+elfSectionHeaderSize]
	}

	var symtab, strtab []byte
	for i := uint16(0); i < shnum; i++ {
		sh := section(i)
		if binary.LittleEndian.Uint32(sh[4:]) != elfSectionTypeSymtab {
			continue
		}
		symOff := binary.LittleEndian.Uint64(sh[24:])
		symSize := binary.LittleEndian.Uint64(sh[32:])
		symLink := binary.LittleEndian.Uint32(sh[40:])
		if symOff+symSize > uint64(len(kernelELF)) || symLink >= uint32(shnum) {
			continue
		}
		symtab = kernelELF[symOff : symOff+symSize]

		strSh := section(uint16(symLink))
		strOff := binary.LittleEndian.Uint64(strSh[24:])
		strSize := binary.LittleEndian.Uint64(strSh[32:])
		if strOff+strSize > uint64(len(kernelELF)) {
			continue
		}
		strtab = kernelELF[strOff : strOff+strSize]
		break
	}
	_ = shstrndx
	if symtab == nil || strtab == nil {
		return "", false
	}

	var bestName string
	var bestValue uint64
	found := false
	for off := 0; off+elfSymbolEntrySize <= len(symtab); off += elfSymbolEntrySize {
		entry := symtab[off : off+elfSymbolEntrySize]
		info := entry[4]
		if info&0xf != elfSymbolTypeFunc {
			continue
		}
		value := binary.LittleEndian.Uint64(entry[8:])
		if value > addr || value < bestValue {
			continue
		}
		if found && value == bestValue {
			continue
		}
		nameOff := binary.LittleEndian.Uint32(entry[0:])
		name, ok := cString(strtab, nameOff)
		if !ok {
			continue
		}
		bestName, bestValue, found = name, value, true
	}
	return bestName, found
}

func cString(strtab []byte, off uint32) (string, bool) {
	if uint64(off) >= uint64(len(strtab)) {
		return "", false
	}
	end := off
	for end < uint32(len(strtab)) && strtab[end] != 0 {
		end++
	}
	return string(strtab[off:end]), true
}
