package apic

import (
	"testing"

	"github.com/vortexkernel/vortex/kernel/acpi"
)

func TestResolveGSIAppliesOverride(t *testing.T) {
	s := &IOAPICSet{overrides: []acpi.InterruptOverride{{ISAIRQ: 0, GSI: 2}}}

	if got := s.resolveGSI(0); got != 2 {
		t.Fatalf("expected IRQ0 to remap to GSI2, got %d", got)
	}
	if got := s.resolveGSI(5); got != 5 {
		t.Fatalf("expected IRQ5 with no override to pass through unchanged, got %d", got)
	}
}

func TestApicForSelectsOwningRange(t *testing.T) {
	s := &IOAPICSet{apics: []ioapic{
		{gsiBase: 0, maxRedirectionEntry: 23},
		{gsiBase: 24, maxRedirectionEntry: 7},
	}}

	io, index := s.apicFor(0)
	if io != &s.apics[0] || index != 0 {
		t.Fatalf("expected first apic index 0, got apic=%p index=%d", io, index)
	}

	io, index = s.apicFor(30)
	if io != &s.apics[1] || index != 6 {
		t.Fatalf("expected second apic index 6, got apic=%p index=%d", io, index)
	}
}

func TestApicForAtMaxRedirectionEntryIsLegal(t *testing.T) {
	s := &IOAPICSet{apics: []ioapic{{gsiBase: 0, maxRedirectionEntry: 23}}}
	if _, index := s.apicFor(23); index != 23 {
		t.Fatalf("expected index 23 to be accepted, got %d", index)
	}
}

func TestApicForOneAboveMaxRedirectionEntryPanics(t *testing.T) {
	s := &IOAPICSet{apics: []ioapic{{gsiBase: 0, maxRedirectionEntry: 23}}}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for GSI one past max redirection entry")
		}
	}()
	s.apicFor(24)
}

func TestApicForUnownedGSIPanics(t *testing.T) {
	s := &IOAPICSet{apics: []ioapic{{gsiBase: 10, maxRedirectionEntry: 23}}}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for a GSI below every registered IO-APIC's base")
		}
	}()
	s.apicFor(5)
}
