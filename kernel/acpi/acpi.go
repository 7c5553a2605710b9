// Package acpi holds the processor and interrupt-routing facts the kernel
// needs out of the platform's ACPI tables: enough to bring up every core and
// wire every IO-APIC, nothing more. Parsing the MADT into these values is a
// bootbridge concern; this package only names the shapes Phase2 of the
// initialization chain hands forward.
package acpi

import "github.com/vortexkernel/vortex/kernel/addr"

// Processor is one entry of the MADT's Processor Local APIC list.
type Processor struct {
	APICID      uint8
	ACPIID      uint8
	Enabled     bool
	BootstrapCPU bool
}

// IOAPIC describes one IO-APIC as reported by the MADT's IO APIC entries.
type IOAPIC struct {
	ID                 uint8
	MMIOBase           addr.PhysAddr
	GSIBase            uint32
	MaxRedirectionEntry uint8
}

// InterruptOverride remaps a legacy ISA IRQ to a GSI with its own polarity
// and trigger mode, per the MADT's Interrupt Source Override entries.
type InterruptOverride struct {
	ISAIRQ  uint8
	GSI     uint32
	ActiveLow bool
	LevelTriggered bool
}
