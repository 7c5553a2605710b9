package apic

import "testing"

func TestICRRejectsNoShorthandLevelSMI(t *testing.T) {
	_, err := NewICRBuilder().
		Shorthand(ShorthandNone).
		Trigger(TriggerLevel).
		Delivery(DeliverySystemManagement).
		Vector(1).
		Build()
	if err != ErrNoShorthandLevelSMI {
		t.Fatalf("expected ErrNoShorthandLevelSMI, got %v", err)
	}
}

func TestICRBuildsLegalFixedVectoredIPI(t *testing.T) {
	icr, err := NewICRBuilder().
		Shorthand(ShorthandNone).
		PhysicalDestination(0x0A).
		Vector(0x40).
		Delivery(DeliveryFixed).
		Trigger(TriggerEdge).
		Level(Assert).
		Build()
	if err != nil {
		t.Fatalf("expected legal ICR, got err=%v", err)
	}

	if icr.Vector() != 0x40 {
		t.Fatalf("expected vector 0x40, got %x", icr.Vector())
	}
	if icr.DeliveryMode() != DeliveryFixed {
		t.Fatalf("expected delivery mode Fixed (0b000), got %d", icr.DeliveryMode())
	}
	if icr.DestMode() != DestinationPhysical {
		t.Fatal("expected physical destination mode")
	}
	if icr.Level() != Assert {
		t.Fatal("expected level=assert")
	}
	if icr.Trigger() != TriggerEdge {
		t.Fatal("expected edge trigger")
	}
	if icr.Destination() != 0x0A {
		t.Fatalf("expected destination 0x0A, got %x", icr.Destination())
	}
}

func TestICRX2ApicFormMovesDestinationToBits32to63(t *testing.T) {
	icr, err := NewICRBuilder().
		Shorthand(ShorthandNone).
		PhysicalDestination(0x0A).
		Vector(0x40).
		Delivery(DeliveryFixed).
		Trigger(TriggerEdge).
		Level(Assert).
		Build()
	if err != nil {
		t.Fatalf("expected legal ICR, got err=%v", err)
	}

	x2 := icr.X2ApicForm()
	if got := uint8(x2 >> 56); got != 0 {
		t.Fatalf("expected x2APIC form to clear the xAPIC destination byte, got %#x", got)
	}
	if got := uint32(x2 >> 32); got != 0x0A {
		t.Fatalf("expected destination 0x0A at bits 32-63, got %#x", got)
	}
	if got := uint32(x2); got != uint32(icr) {
		t.Fatalf("expected the low 32 bits to be unchanged, got %#x want %#x", got, uint32(icr))
	}
}

func TestICRRejectsShorthandWithNonFixedDelivery(t *testing.T) {
	_, err := NewICRBuilder().
		Shorthand(ShorthandSelf).
		Delivery(DeliveryLowestPriority).
		Vector(1).
		Build()
	if err != ErrShorthandNonFixedDelivery {
		t.Fatalf("expected ErrShorthandNonFixedDelivery, got %v", err)
	}
}

func TestICRRejectsInitDeliveryWithNonZeroVector(t *testing.T) {
	_, err := NewICRBuilder().
		Delivery(DeliveryInit).
		Vector(0x20).
		Build()
	if err != ErrInitDeliveryWithVector {
		t.Fatalf("expected ErrInitDeliveryWithVector, got %v", err)
	}
}

func TestICRAllowsInitDeliveryWithZeroVector(t *testing.T) {
	_, err := NewICRBuilder().
		Delivery(DeliveryInit).
		Vector(0).
		Trigger(TriggerLevel).
		Level(Assert).
		Build()
	if err != nil {
		t.Fatalf("expected zero-vector INIT to be legal, got %v", err)
	}
}

func TestICRRejectsShorthandInitLevelDeassert(t *testing.T) {
	_, err := NewICRBuilder().
		Shorthand(ShorthandAllExcludingSelf).
		Delivery(DeliveryInit).
		Vector(0).
		Trigger(TriggerLevel).
		Level(Deassert).
		Build()
	if err != ErrShorthandInitLevelDeassert {
		t.Fatalf("expected ErrShorthandInitLevelDeassert, got %v", err)
	}
}

func TestICRRejectsZeroVectorWithNonInitDelivery(t *testing.T) {
	_, err := NewICRBuilder().
		Delivery(DeliveryFixed).
		Vector(0).
		Build()
	if err != ErrZeroVectorNonInit {
		t.Fatalf("expected ErrZeroVectorNonInit, got %v", err)
	}
}
