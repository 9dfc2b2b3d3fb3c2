package irq

import "arcgo/kernel/kfmt"

// panicFn reports a fatal, unrecoverable condition. It is mocked by tests so
// that exercising a panic path does not actually halt the test binary.
var panicFn = kfmt.Panic

// ISAIntrLines is the number of legacy ISA interrupt sources.
const ISAIntrLines = 16

// Polarity describes the electrical active level of an interrupt source.
type Polarity uint8

// Trigger describes the electrical triggering mode of an interrupt source.
type Trigger uint8

// Polarity and trigger values for ISA tuples.
const (
	PolarityHigh Polarity = iota
	PolarityLow
)

const (
	TriggerEdge Trigger = iota
	TriggerLevel
)

// ISATuple describes one legacy ISA interrupt source's default electrical
// characteristics. An ACPI/MADT override (outside the core) may later
// rewrite these defaults; isa itself only establishes and serves them.
type ISATuple struct {
	IRQ            uint8
	ActivePolarity Polarity
	TriggerMode    Trigger
}

// isaTable holds the 16 ISA tuples as process-wide state; every consumer
// that calls IRQ receives a pointer into this same array.
var isaTable [ISAIntrLines]ISATuple

// ISAInit populates the ISA tuple table with its power-on defaults: each
// line defaults to active-high, edge-triggered, with IRQ equal to its own
// line index.
func ISAInit() {
	for line := range isaTable {
		isaTable[line] = ISATuple{
			IRQ:            uint8(line),
			ActivePolarity: PolarityHigh,
			TriggerMode:    TriggerEdge,
		}
	}
}

// ISAIRQ returns a stable reference to the ISA tuple for the given line.
// Passing a line at or beyond ISAIntrLines is a programming error and
// panics.
func ISAIRQ(line uint8) *ISATuple {
	if int(line) >= ISAIntrLines {
		panicFn(errInvalidISALine)
		return nil
	}

	return &isaTable[line]
}
