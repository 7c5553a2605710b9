// Package apic implements vortex's unified local-APIC abstraction (xAPIC
// and x2APIC behind one interface), the typed Interprocessor Interrupt
// builder, and IO-APIC redirection.
package apic

import "github.com/vortexkernel/vortex/kernel/errors"

// DeliveryMode selects how a destination core's local APIC treats a
// delivered interrupt.
type DeliveryMode uint8

const (
	DeliveryFixed DeliveryMode = iota
	DeliveryLowestPriority
	DeliverySystemManagement
	_ // delivery mode 3 is reserved
	DeliveryNMI
	DeliveryInit
	DeliveryStartUp
)

// TriggerMode selects edge- or level-triggered delivery.
type TriggerMode uint8

const (
	TriggerEdge TriggerMode = iota
	TriggerLevel
)

// DestinationMode selects whether Destination addresses a physical APIC ID
// or a logical destination set.
type DestinationMode uint8

const (
	DestinationPhysical DestinationMode = iota
	DestinationLogical
)

// Shorthand lets an ICR address a fixed set of cores without naming an
// explicit destination.
type Shorthand uint8

const (
	ShorthandNone Shorthand = iota
	ShorthandSelf
	ShorthandAllIncludingSelf
	ShorthandAllExcludingSelf
)

// Assertion selects the level of a level-triggered INIT IPI.
type Assertion uint8

const (
	Deassert Assertion = iota
	Assert
)

// Errors returned by ICRBuilder.Build for combinations the Intel SDM
// forbids. They are returned, never panicked, since constructing an IPI is
// ordinary control flow, not a programmer invariant violation.
var (
	ErrNoShorthandLevelSMI       = errors.KernelError("icr: no-shorthand level-triggered SMI is illegal")
	ErrShorthandNonFixedDelivery = errors.KernelError("icr: self shorthand requires fixed delivery mode")
	ErrInitDeliveryWithVector    = errors.KernelError("icr: INIT delivery mode requires a zero vector")
	ErrShorthandInitLevelDeassert = errors.KernelError("icr: self/all shorthand with INIT, level trigger and deassert is illegal")
	ErrZeroVectorNonInit         = errors.KernelError("icr: a zero vector is only legal with INIT delivery mode")
)

// ICR is the 64-bit Interrupt Command Register value the SDM describes,
// laid out as the xAPIC interface splits it: bits 0-7 vector, 8-10
// delivery mode, 11 destination mode, 14 level, 15 trigger mode, 18-19
// shorthand, 56-63 destination APIC ID. x2APIC mode reinterprets bits
// 32-63 as a full 32-bit destination ID instead; Send (in lapic.go) is
// responsible for that reinterpretation, not the builder.
type ICR uint64

const (
	icrVectorShift    = 0
	icrDeliveryShift  = 8
	icrDestModeShift  = 11
	icrLevelShift     = 14
	icrTriggerShift   = 15
	icrShorthandShift = 18
	icrDestShift      = 56

	// icrX2ApicDestShift is where x2APIC mode expects the full 32-bit
	// destination ID, in place of xAPIC's 8-bit field at icrDestShift.
	icrX2ApicDestShift = 32
	icrDestMask        = uint64(0xFF) << icrDestShift
)

// ICRBuilder assembles an ICR value, rejecting Intel-illegal combinations
// at Build time rather than letting them reach hardware.
type ICRBuilder struct {
	vector      uint8
	delivery    DeliveryMode
	destMode    DestinationMode
	trigger     TriggerMode
	assertion   Assertion
	shorthand   Shorthand
	destination uint8
}

// NewICRBuilder starts a builder with edge-triggered, assert, physical,
// no-shorthand, fixed-delivery defaults — the common case for a one-shot
// vectored IPI to a named core.
func NewICRBuilder() *ICRBuilder {
	return &ICRBuilder{trigger: TriggerEdge, assertion: Assert, destMode: DestinationPhysical}
}

func (b *ICRBuilder) Vector(v uint8) *ICRBuilder           { b.vector = v; return b }
func (b *ICRBuilder) Delivery(d DeliveryMode) *ICRBuilder  { b.delivery = d; return b }
func (b *ICRBuilder) DestMode(m DestinationMode) *ICRBuilder { b.destMode = m; return b }
func (b *ICRBuilder) Trigger(t TriggerMode) *ICRBuilder    { b.trigger = t; return b }
func (b *ICRBuilder) Level(a Assertion) *ICRBuilder        { b.assertion = a; return b }
func (b *ICRBuilder) Shorthand(s Shorthand) *ICRBuilder    { b.shorthand = s; return b }
func (b *ICRBuilder) Destination(apicID uint8) *ICRBuilder { b.destination = apicID; return b }

// PhysicalDestination sets both the destination mode and the target
// physical APIC ID in one call, matching spec.md §8 scenario 5's phrasing.
func (b *ICRBuilder) PhysicalDestination(apicID uint8) *ICRBuilder {
	return b.DestMode(DestinationPhysical).Destination(apicID)
}

// Build validates the accumulated fields against the Intel SDM's
// illegal-combination rules and, if none apply, returns the assembled ICR.
func (b *ICRBuilder) Build() (ICR, error) {
	usesShorthand := b.shorthand == ShorthandSelf || b.shorthand == ShorthandAllIncludingSelf || b.shorthand == ShorthandAllExcludingSelf

	if b.shorthand == ShorthandNone && b.trigger == TriggerLevel && b.delivery == DeliverySystemManagement {
		return 0, ErrNoShorthandLevelSMI
	}
	if b.shorthand == ShorthandSelf && b.delivery != DeliveryFixed {
		return 0, ErrShorthandNonFixedDelivery
	}
	if b.delivery == DeliveryInit && b.vector != 0 {
		return 0, ErrInitDeliveryWithVector
	}
	if usesShorthand && b.delivery == DeliveryInit && b.trigger == TriggerLevel && b.assertion == Deassert {
		return 0, ErrShorthandInitLevelDeassert
	}
	if b.vector == 0 && b.delivery != DeliveryInit {
		return 0, ErrZeroVectorNonInit
	}

	var icr uint64
	icr |= uint64(b.vector) << icrVectorShift
	icr |= uint64(b.delivery) << icrDeliveryShift
	icr |= uint64(b.destMode) << icrDestModeShift
	icr |= uint64(b.assertion) << icrLevelShift
	icr |= uint64(b.trigger) << icrTriggerShift
	icr |= uint64(b.shorthand) << icrShorthandShift
	if b.shorthand == ShorthandNone {
		icr |= uint64(b.destination) << icrDestShift
	}
	return ICR(icr), nil
}

// Vector returns the vector field encoded in the ICR.
func (i ICR) Vector() uint8 { return uint8(i >> icrVectorShift) }

// DeliveryMode returns the delivery-mode field encoded in the ICR.
func (i ICR) DeliveryMode() DeliveryMode { return DeliveryMode(i >> icrDeliveryShift & 0x7) }

// DestMode returns the destination-mode bit encoded in the ICR.
func (i ICR) DestMode() DestinationMode { return DestinationMode(i >> icrDestModeShift & 0x1) }

// Level returns the assert/deassert bit encoded in the ICR.
func (i ICR) Level() Assertion { return Assertion(i >> icrLevelShift & 0x1) }

// Trigger returns the trigger-mode bit encoded in the ICR.
func (i ICR) Trigger() TriggerMode { return TriggerMode(i >> icrTriggerShift & 0x1) }

// Destination returns the physical destination APIC ID encoded in the
// ICR's high byte (meaningless when a shorthand is set).
func (i ICR) Destination() uint8 { return uint8(i >> icrDestShift) }

// X2ApicForm reinterprets the ICR for the single-MSR x2APIC write path: the
// xAPIC layout's 8-bit destination at bits 56-63 moves down to x2APIC's
// full 32-bit destination field at bits 32-63, per the ICR doc comment
// above. Every other field shares the same bit position in both modes.
func (i ICR) X2ApicForm() uint64 {
	return (uint64(i) &^ icrDestMask) | uint64(i.Destination())<<icrX2ApicDestShift
}
