package irq

import (
	"arcgo/kernel/sync"
	"testing"
)

func resetRouteState() {
	handlers = [Interrupts]*handlerNode{}
	routeLock = sync.RWLock{}
	allocNodeFn = func() *handlerNode { return &handlerNode{} }
	IOAPICIterFn = func() []IOAPIC { return nil }
	IOAPICRouteFn = func(IOAPIC, ISATuple, uint8) {}
	IOAPICMaskFn = func(IOAPIC, ISATuple) {}
	AckFn = func(uint8) {}
	PrintInfoFn = func() {}
	panicFn = func(interface{}) {}
}

func TestRouteIntrDispatchOrder(t *testing.T) {
	resetRouteState()

	var order []int
	var ackedBefore bool

	AckFn = func(v uint8) {
		if len(order) != 0 {
			t.Fatal("expected AckFn to be called before any handler runs")
		}
		ackedBefore = true
	}

	h1 := func(*State) { order = append(order, 1) }
	h2 := func(*State) { order = append(order, 2) }

	if !RouteIntr(0x30, h1) {
		t.Fatal("expected RouteIntr(h1) to succeed")
	}
	if !RouteIntr(0x30, h2) {
		t.Fatal("expected RouteIntr(h2) to succeed")
	}

	Dispatch(&State{Vector: 0x30})

	if !ackedBefore {
		t.Fatal("expected the vector to be acknowledged")
	}

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected handlers to run head-first (h2, h1); got %v", order)
	}
}

func TestDispatchUnhandledPanics(t *testing.T) {
	resetRouteState()

	var gotErr interface{}
	panicFn = func(e interface{}) { gotErr = e }

	Dispatch(&State{Vector: 0x40})

	if gotErr != errUnhandledVector {
		t.Fatalf("expected Dispatch to panic with errUnhandledVector; got %v", gotErr)
	}
}

func TestDispatchAckPolicy(t *testing.T) {
	resetRouteState()

	var acked []uint8
	AckFn = func(v uint8) { acked = append(acked, v) }

	RouteIntr(Fault31, func(*State) {})
	RouteIntr(Spurious, func(*State) {})
	RouteIntr(Fault31+1, func(*State) {})

	Dispatch(&State{Vector: Fault31})
	Dispatch(&State{Vector: Spurious})
	Dispatch(&State{Vector: Fault31 + 1})

	if len(acked) != 1 || acked[0] != Fault31+1 {
		t.Fatalf("expected only vectors > Fault31 and != Spurious to be acked; got %v", acked)
	}
}

func TestRouteUnrouteRoundTrip(t *testing.T) {
	resetRouteState()

	h := func(*State) {}
	RouteIntr(0x31, h)

	if handlers[0x31] == nil {
		t.Fatal("expected handler chain to be populated after RouteIntr")
	}

	UnrouteIntr(0x31, h)

	if handlers[0x31] != nil {
		t.Fatal("expected handler chain to be empty after UnrouteIntr restores prior state")
	}
}

func TestUnrouteAbsentHandlerIsNoop(t *testing.T) {
	resetRouteState()

	h := func(*State) {}
	RouteIntr(0x32, h)

	other := func(*State) {}
	UnrouteIntr(0x32, other)

	if handlers[0x32] == nil || handlers[0x32].handler == nil {
		t.Fatal("expected unroute of an absent handler to leave the chain untouched")
	}
}

func TestRouteIntrAllocFailure(t *testing.T) {
	resetRouteState()
	allocNodeFn = func() *handlerNode { return nil }

	if RouteIntr(0x33, func(*State) {}) {
		t.Fatal("expected RouteIntr to return false when node allocation fails")
	}
}

func TestFindOwningAPICInclusiveBoundary(t *testing.T) {
	resetRouteState()

	apic := IOAPIC{ID: 0, IRQBase: 0, IRQs: 8}
	IOAPICIterFn = func() []IOAPIC { return []IOAPIC{apic} }

	if _, ok := findOwningAPIC(7); !ok {
		t.Fatal("expected irq 7 to be owned by an apic spanning [0, 8)")
	}

	if _, ok := findOwningAPIC(8); ok {
		t.Fatal("expected irq 8 to fall outside an apic spanning [0, 8)")
	}
}

func TestRouteIRQNotOwned(t *testing.T) {
	resetRouteState()
	IOAPICIterFn = func() []IOAPIC { return nil }

	tuple := ISATuple{IRQ: 3, ActivePolarity: PolarityHigh, TriggerMode: TriggerEdge}
	if RouteIRQ(&tuple, func(*State) {}) {
		t.Fatal("expected RouteIRQ to fail when no I/O APIC owns the IRQ")
	}
}

func TestRouteIRQProgramsAPIC(t *testing.T) {
	resetRouteState()

	apic := IOAPIC{ID: 1, IRQBase: 0, IRQs: 16}
	IOAPICIterFn = func() []IOAPIC { return []IOAPIC{apic} }

	var gotAPIC IOAPIC
	var gotTuple ISATuple
	var gotVector uint8
	IOAPICRouteFn = func(a IOAPIC, tuple ISATuple, vector uint8) {
		gotAPIC, gotTuple, gotVector = a, tuple, vector
	}

	tuple := ISATuple{IRQ: 3, ActivePolarity: PolarityHigh, TriggerMode: TriggerEdge}
	if !RouteIRQ(&tuple, func(*State) {}) {
		t.Fatal("expected RouteIRQ to succeed")
	}

	if gotAPIC != apic || gotTuple != tuple || gotVector != vectorForIRQ(3) {
		t.Fatalf("unexpected IOAPICRouteFn arguments: apic=%+v tuple=%+v vector=%#x", gotAPIC, gotTuple, gotVector)
	}
}

func TestUnrouteIRQMasksAndUnlinks(t *testing.T) {
	resetRouteState()

	apic := IOAPIC{ID: 1, IRQBase: 0, IRQs: 16}
	IOAPICIterFn = func() []IOAPIC { return []IOAPIC{apic} }

	var masked bool
	IOAPICMaskFn = func(IOAPIC, ISATuple) { masked = true }

	tuple := ISATuple{IRQ: 3}
	h := func(*State) {}
	vector := vectorForIRQ(3)
	RouteIntr(vector, h)

	UnrouteIRQ(&tuple, h)

	if !masked {
		t.Fatal("expected UnrouteIRQ to mask the owning apic")
	}
	if handlers[vector] != nil {
		t.Fatal("expected UnrouteIRQ to unlink the handler")
	}
}
