package hal

import (
	"github.com/vortexkernel/vortex/kernel/driver/tty"
	"github.com/vortexkernel/vortex/kernel/driver/video/console"
	"github.com/vortexkernel/vortex/kernel/hal/bootbridge"
)

var (
	egaConsole = &console.Ega{}

	// ActiveTerminal points to the currently active terminal.
	ActiveTerminal = &tty.Vt{}
)

// InitTerminal provides a basic terminal to allow the kernel to emit some
// output till everything is properly setup. fb's physical address is
// expected to already be identity-mapped (or otherwise reachable) by the
// caller; this early in boot there is no mapper yet to do it here.
func InitTerminal(fb bootbridge.Framebuffer) {
	egaConsole.Init(uint16(fb.Width), uint16(fb.Height), uintptr(fb.Base))
	ActiveTerminal.AttachTo(egaConsole)
}
