package main

import "github.com/vortexkernel/vortex/kernel"

// bootbridgePtr holds the physical address of the boot-bridge handoff
// structure (spec.md §6). The rt0 assembly stub pokes this symbol
// (main.bootbridgePtr) before jumping to main, the same "known global, not a
// register argument" convention gopher-os's own stub.go used for its
// multibootInfoPtr: main is the program's real entrypoint, invoked directly
// by the linker-generated runtime bootstrap, so it cannot itself receive an
// argument from rt0.
var bootbridgePtr uintptr

// main is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function works as a trampoline for calling the actual kernel entrypoint
// (kernel.Kmain) and its intentionally defined to prevent the Go compiler from
// optimizing away the actual kernel code as its not aware of the presence of the
// rt0 code.
//
// The main function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// main is not expected to return. If it does, the rt0 code will halt the CPU.
func main() {
	kernel.Kmain(bootbridgePtr)
}
