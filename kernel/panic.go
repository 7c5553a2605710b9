package kernel

import (
	"sync/atomic"

	"github.com/vortexkernel/vortex/kernel/cpu"
	"github.com/vortexkernel/vortex/kernel/errors"
	"github.com/vortexkernel/vortex/kernel/kfmt/early"
	"github.com/vortexkernel/vortex/kernel/sync"
)

// qemuExitPort and the two exit codes implement spec.md §6's QEMU exit
// port: a 32-bit write to port 0xf4, 0x10 for success and 0x11 for failure.
const (
	qemuExitPort    = 0xf4
	qemuExitSuccess = 0x10
	qemuExitFailure = 0x11
)

const comPort = 0x3f8

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	// framePointerFn is mocked by tests; production code walks the real
	// saved-frame-pointer chain starting at cpu.FramePointer().
	framePointerFn = cpu.FramePointer

	// serialByteOutFn is mocked by tests; production code busy-waits on the
	// UART's transmit-empty bit before writing.
	serialByteOutFn = defaultSerialByteOut

	// qemuExitFn is mocked by tests; production code writes the exit code
	// straight to port 0xf4.
	qemuExitFn = qemuExit

	errRuntimePanic = errors.KernelError("unknown cause")

	// panicDepth counts re-entrant calls to Panic (spec.md §9): the first
	// panic prints a backtrace and unwinds, the second logs "DOUBLE PANIC"
	// and halts, the third bypasses the terminal entirely and writes
	// straight to the serial port before halting.
	panicDepth uint32

	// serialLock guards concurrent writers to the serial port. Panic force-
	// unlocks it on entry: a panic raised while some other code holds it
	// must not deadlock the handler trying to report it.
	serialLock sync.Spinlock
)

// PanicExitToQEMU controls whether a first-level panic exits QEMU instead of
// halting the CPU, mirroring spec.md §6's panic_exit build flag. It defaults
// to false; the external build sets it before Kmain runs.
var PanicExitToQEMU = false

// Panic outputs the supplied error (if not nil) to the console, prints a
// backtrace, and halts or exits QEMU. Calls to Panic never return. Panic
// also works as a redirection target for calls to panic() (resolved via
// runtime.gopanic).
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	cpu.DisableInterrupts()
	serialLock.Release()

	switch depth := atomic.AddUint32(&panicDepth, 1); {
	case depth == 1:
		panicFirst(e)
		if PanicExitToQEMU {
			qemuExitFn(qemuExitFailure)
		}
	case depth == 2:
		early.Printf("\n*** DOUBLE PANIC: system halted ***\n")
	default:
		writeSerialString("\r\n*** TRIPLE PANIC: system halted ***\r\n")
	}

	cpuHaltFn()
	for {
	}
}

// panicString serves as a redirect target for runtime.throw.
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	Panic(msg)
}

func panicFirst(e interface{}) {
	msg, hasMsg := describePanic(e)

	early.Printf("\n-----------------------------------\n")
	if hasMsg {
		early.Printf("unrecoverable error: %s\n", msg)
	}
	early.Printf("*** kernel panic: system halted ***")
	printBacktrace()
	early.Printf("\n-----------------------------------\n")
}

func describePanic(e interface{}) (string, bool) {
	switch t := e.(type) {
	case nil:
		return "", false
	case errors.KernelError:
		return t.Error(), true
	case string:
		return t, true
	case error:
		return t.Error(), true
	default:
		return errRuntimePanic.Error(), true
	}
}

func qemuExit(code uint32) {
	cpu.OutLong(qemuExitPort, code)
}

func defaultSerialByteOut(b byte) {
	for cpu.InByte(comPort+5)&0x20 == 0 {
	}
	cpu.OutByte(comPort, b)
}

func writeSerialString(s string) {
	for i := 0; i < len(s); i++ {
		serialByteOutFn(s[i])
	}
}
