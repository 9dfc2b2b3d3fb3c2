package irq

import (
	"arcgo/kernel/kfmt"
	"arcgo/kernel/sync"
	"reflect"
)

// Vector-space layout constants.
const (
	// Interrupts is the number of CPU interrupt vectors.
	Interrupts = 256

	// Fault31 is the last CPU-reserved fault vector; vectors above it are
	// deliverable external interrupts.
	Fault31 = 31

	// Spurious is the vector the local interrupt controller raises for a
	// spurious interrupt. It must never be acknowledged.
	Spurious = 0xff

	// IRQ0 is the first CPU vector assigned to an external IRQ line.
	IRQ0 = 32

	// IRQs is the number of external IRQ lines that wrap into the
	// IRQ0-based vector range.
	IRQs = ISAIntrLines
)

// Handler receives the immutable interrupt state on dispatch.
type Handler func(*State)

// handlerNode is one link in a vector's handler chain. Nodes are allocated
// on registration and freed on unregistration; the chain itself requires no
// allocator access to traverse, which keeps dispatch safe to run with only
// the routing reader lock held.
type handlerNode struct {
	handler Handler
	next    *handlerNode
}

// handlers holds the head of each CPU vector's handler chain.
var handlers [Interrupts]*handlerNode

// routeLock protects handlers. Registration and unregistration take it for
// writing; Dispatch takes it for reading.
var routeLock sync.RWLock

// allocNodeFn allocates a handler chain node. It is mocked by tests to
// simulate allocation failure.
var allocNodeFn = func() *handlerNode { return &handlerNode{} }

// IOAPIC describes one I/O APIC's identity and the contiguous IRQ range it
// owns.
type IOAPIC struct {
	PhysAddr uintptr
	ID       uint8
	IRQBase  uint8
	IRQs     uint8
}

var (
	// IOAPICIterFn enumerates the I/O APICs discovered at boot. It is
	// populated by the platform's ACPI/MADT parser, outside the core, and
	// swapped out by tests.
	IOAPICIterFn = func() []IOAPIC { return nil }

	// IOAPICRouteFn programs apic's redirection entry for tuple's IRQ
	// line to deliver the given CPU vector with the tuple's polarity and
	// trigger mode.
	IOAPICRouteFn = func(apic IOAPIC, tuple ISATuple, vector uint8) {}

	// IOAPICMaskFn masks apic's redirection entry for tuple's IRQ line.
	// Masking is idempotent.
	IOAPICMaskFn = func(apic IOAPIC, tuple ISATuple) {}

	// AckFn acknowledges interrupt vector v at the local interrupt
	// controller.
	AckFn = func(v uint8) {}

	// PrintInfoFn logs the local interrupt controller's configuration.
	PrintInfoFn = func() {}
)

// RouteInit logs every I/O APIC discovered by IOAPICIterFn along with the
// local interrupt controller's configuration. It performs no other
// initialization; the handler table and routing lock are ready to use from
// program start.
func RouteInit() {
	for _, apic := range IOAPICIterFn() {
		kfmt.Printf("irq: discovered i/o apic (addr: 0x%x, id: %d, irq-base: %d, irqs: %d)\n", apic.PhysAddr, apic.ID, apic.IRQBase, apic.IRQs)
	}

	PrintInfoFn()
}

// RouteIntr registers handler on the chain for vector, masking local
// interrupts and taking the routing writer lock for the duration of the
// registration. It returns false if a chain node could not be allocated.
func RouteIntr(vector uint8, handler Handler) bool {
	tok := sync.IntrLock()
	routeLock.Lock()
	ok := routeIntrLocked(vector, handler)
	routeLock.Unlock()
	sync.IntrUnlock(tok)

	return ok
}

func routeIntrLocked(vector uint8, handler Handler) bool {
	node := allocNodeFn()
	if node == nil {
		return false
	}

	node.handler = handler
	node.next = handlers[vector]
	handlers[vector] = node

	return true
}

// UnrouteIntr removes the first occurrence of handler from vector's chain.
// A handler that is not present is silently ignored.
func UnrouteIntr(vector uint8, handler Handler) {
	tok := sync.IntrLock()
	routeLock.Lock()
	unrouteIntrLocked(vector, handler)
	routeLock.Unlock()
	sync.IntrUnlock(tok)
}

func unrouteIntrLocked(vector uint8, handler Handler) {
	target := reflect.ValueOf(handler).Pointer()

	var prev *handlerNode
	for node := handlers[vector]; node != nil; node = node.next {
		if reflect.ValueOf(node.handler).Pointer() == target {
			if prev == nil {
				handlers[vector] = node.next
			} else {
				prev.next = node.next
			}
			return
		}
		prev = node
	}
}

// vectorForIRQ maps an external IRQ line to its CPU vector: IRQ lines wrap
// into the fixed vector range beginning at IRQ0.
func vectorForIRQ(irqLine uint8) uint8 {
	return uint8((int(irqLine) % IRQs) + IRQ0)
}

// findOwningAPIC returns the I/O APIC whose range [IRQBase, IRQBase+IRQs)
// contains irqLine.
func findOwningAPIC(irqLine uint8) (IOAPIC, bool) {
	for _, apic := range IOAPICIterFn() {
		if irqLine >= apic.IRQBase && irqLine < apic.IRQBase+apic.IRQs {
			return apic, true
		}
	}

	return IOAPIC{}, false
}

// RouteIRQ locates the I/O APIC that owns tuple's IRQ line, registers
// handler on the corresponding CPU vector, and programs that APIC's
// redirection entry to deliver the vector with tuple's polarity and
// trigger. It returns false, without mutating any state, if no APIC owns
// the IRQ or if registration fails.
func RouteIRQ(tuple *ISATuple, handler Handler) bool {
	apic, found := findOwningAPIC(tuple.IRQ)
	if !found {
		return false
	}

	vector := vectorForIRQ(tuple.IRQ)
	if !RouteIntr(vector, handler) {
		return false
	}

	IOAPICRouteFn(apic, *tuple, vector)

	return true
}

// UnrouteIRQ masks every I/O APIC whose range contains tuple's IRQ line
// (there should be at most one in practice) and unregisters handler from
// the corresponding CPU vector. Masking and unregistration happen under the
// same writer lock and interrupt mask.
func UnrouteIRQ(tuple *ISATuple, handler Handler) {
	vector := vectorForIRQ(tuple.IRQ)

	tok := sync.IntrLock()
	routeLock.Lock()
	for _, apic := range IOAPICIterFn() {
		if tuple.IRQ >= apic.IRQBase && tuple.IRQ < apic.IRQBase+apic.IRQs {
			IOAPICMaskFn(apic, *tuple)
		}
	}
	unrouteIntrLocked(vector, handler)
	routeLock.Unlock()
	sync.IntrUnlock(tok)
}

// Dispatch is invoked by the interrupt entry stub with the CPU register
// snapshot for the vector it just received. External interrupts (vector >
// Fault31, excluding Spurious) are acknowledged before the handler chain
// runs. A vector with no registered handler is a fatal condition: it means
// hardware raised an interrupt the kernel does not know how to service.
func Dispatch(state *State) {
	v := state.Vector

	if v > Fault31 && v != Spurious {
		AckFn(v)
	}

	routeLock.RLock()
	node := handlers[v]
	if node == nil {
		routeLock.RUnlock()
		panicFn(errUnhandledVector)
		return
	}

	for ; node != nil; node = node.next {
		node.handler(state)
	}
	routeLock.RUnlock()
}
