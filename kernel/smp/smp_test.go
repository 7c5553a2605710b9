package smp

import (
	"testing"
	"unsafe"

	"github.com/vortexkernel/vortex/kernel/acpi"
	"github.com/vortexkernel/vortex/kernel/sched"
)

// TestSmpInitializationDataLayout guards the wire format spec.md §6 fixes:
// {page_table: u32, _pad: u32, real_page_table: u64, stack_top: u64,
// stack_bottom: u64, ap_context: u64}, 40 bytes, no unexpected padding.
func TestSmpInitializationDataLayout(t *testing.T) {
	var d SmpInitializationData
	if got, want := unsafe.Sizeof(d), uintptr(40); got != want {
		t.Fatalf("expected SmpInitializationData to be %d bytes, got %d", want, got)
	}
	if got := unsafe.Offsetof(d.RealPageTable); got != 8 {
		t.Fatalf("expected RealPageTable at offset 8, got %d", got)
	}
	if got := unsafe.Offsetof(d.StackTop); got != 16 {
		t.Fatalf("expected StackTop at offset 16, got %d", got)
	}
	if got := unsafe.Offsetof(d.StackBottom); got != 24 {
		t.Fatalf("expected StackBottom at offset 24, got %d", got)
	}
	if got := unsafe.Offsetof(d.APContext); got != 32 {
		t.Fatalf("expected APContext at offset 32, got %d", got)
	}
}

func resetTopology() {
	topology.lock.Lock()
	topology.byAPIC = map[uint8]sched.CoreId{}
	topology.bspSet = false
	topology.lock.Unlock()
}

func TestRegisterTopologyAssignsCoreIdsInMadtOrder(t *testing.T) {
	resetTopology()
	processors := []acpi.Processor{
		{APICID: 4, Enabled: true, BootstrapCPU: true},
		{APICID: 1, Enabled: true},
		{APICID: 9, Enabled: false}, // disabled: must not consume a core id
		{APICID: 2, Enabled: true},
	}
	RegisterTopology(processors)

	cases := []struct {
		apicID uint8
		want   sched.CoreId
	}{
		{4, 0},
		{1, 1},
		{2, 2},
	}
	for _, c := range cases {
		got, ok := CoreForAPICID(c.apicID)
		if !ok || got != c.want {
			t.Fatalf("apic id %d: expected core %d, got %d (ok=%v)", c.apicID, c.want, got, ok)
		}
	}
	if _, ok := CoreForAPICID(9); ok {
		t.Fatal("expected disabled processor's apic id to have no assigned core")
	}

	bsp, ok := BootstrapCoreID()
	if !ok || bsp != 0 {
		t.Fatalf("expected bootstrap core id 0, got %d (ok=%v)", bsp, ok)
	}
}

func TestBusyWaitMillisZeroReturnsImmediately(t *testing.T) {
	CalibrateTSC(1_000_000_000)
	busyWaitMillis(0)
}
