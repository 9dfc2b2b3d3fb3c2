// Package gdt builds and installs the kernel's Global Descriptor Table and
// Task State Segment. Both records are read directly by the CPU, so their
// in-memory layout must match the hardware-defined format byte-for-byte.
package gdt

import (
	"arcgo/kernel/cpu"
	"bytes"
	"encoding/binary"
)

// Segment selectors. Each selector is the byte offset of the corresponding
// gate within the GDT.
const (
	NullSelector       uint16 = 0x00
	KernelCodeSelector uint16 = 0x08
	KernelDataSelector uint16 = 0x10
	UserCodeSelector   uint16 = 0x18
	UserDataSelector   uint16 = 0x20
	TSSSelector        uint16 = 0x28
)

// gate describes a single 8-byte GDT descriptor. The field order and widths
// below already yield the hardware-required packed layout; no field
// requires an alignment wider than its own size so the Go compiler inserts
// no padding between them.
type gate struct {
	limitLow    uint16
	baseLow     uint16
	baseMid     uint8
	access      uint8
	granularity uint8
	baseHigh    uint8
}

func flatGate(access, granularity uint8) gate {
	return gate{
		limitLow:    0xffff,
		baseLow:     0,
		baseMid:     0,
		access:      access,
		granularity: granularity,
		baseHigh:    0,
	}
}

func (g *gate) setBase(base uint32) {
	g.baseLow = uint16(base & 0xffff)
	g.baseMid = uint8(base >> 16 & 0xff)
	g.baseHigh = uint8(base >> 24 & 0xff)
}

// Access byte and granularity nibble values for the four flat, long-mode
// segments the kernel installs. Present, ring-appropriate DPL, code/data
// type; 4K granularity with the long-mode (L) bit set for code segments.
const (
	accessKernelCode = 0x9a
	accessKernelData = 0x92
	accessUserCode   = 0xfa
	accessUserData   = 0xf2

	granularityCode = 0xaf // G=1, L=1, limit[19:16]=0xf
	granularityData = 0xcf // G=1, D/B=1, limit[19:16]=0xf
)

// gateCount is the five fixed gates (NULL, kernel/user code/data) plus the
// two gate-sized slots occupied by the 16-byte long-mode TSS descriptor.
const gateCount = 7

var table [gateCount]gate

// tssDescriptor fills the 16-byte TSS descriptor occupying table[5:7] with
// a system segment pointing at base, spanning limit bytes.
func tssDescriptor(base uint64, limit uint32) (lo, hi gate) {
	lo.limitLow = uint16(limit & 0xffff)
	lo.baseLow = uint16(base & 0xffff)
	lo.baseMid = uint8(base >> 16 & 0xff)
	lo.access = 0x89 // present, DPL=0, type=1001 (64-bit TSS, available)
	lo.granularity = uint8(limit >> 16 & 0xf)
	lo.baseHigh = uint8(base >> 24 & 0xff)

	// The upper 32 bits of the base address occupy the low 32 bits of
	// the second gate-sized slot; the remaining 32 bits are reserved.
	hi.limitLow = uint16(base >> 32 & 0xffff)
	hi.baseLow = uint16(base >> 48 & 0xffff)
	return lo, hi
}

// gdtr is the 80-bit pseudo-descriptor loaded by LGDT: a 16-bit table
// length followed by a 64-bit base address. Go would otherwise pad a
// uint16-then-uint64 struct out to 16 bytes to satisfy the uint64's
// alignment; bytes serializes the two fields explicitly instead so the
// installer sees the 10-byte hardware layout with no gap.
type gdtr struct {
	Limit uint16
	Base  uint64
}

func (d gdtr) bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d.Limit)
	binary.Write(buf, binary.LittleEndian, d.Base)
	return buf.Bytes()
}

// gdtrScratch holds the serialized gdtr passed to the low-level installer.
// It must outlive the LoadGDT call, so it is package-level rather than a
// stack-local temporary.
var gdtrScratch [10]byte

// loadGDTFn installs the GDT and reloads the code/data segment registers.
// It is swapped out by tests.
var loadGDTFn = cpu.LoadGDT

// loadTaskRegisterFn loads the task register. It is swapped out by tests.
var loadTaskRegisterFn = cpu.LoadTaskRegister

// TSSProviderFn returns the current CPU's TSS. The percpu package registers
// the real implementation at init time; gdt cannot import percpu directly
// since percpu's CPU record embeds a TSS value and would create an import
// cycle.
var TSSProviderFn = func() *TSS { return nil }

// Init constructs the GDT: a NULL gate, the four fixed kernel/user
// code/data gates, and a system-segment gate for the current CPU's TSS.
// It installs the table and reloads CS/DS/SS to the kernel selectors.
func Init() {
	table[0] = gate{}
	table[1] = flatGate(accessKernelCode, granularityCode)
	table[2] = flatGate(accessKernelData, granularityData)
	table[3] = flatGate(accessUserCode, granularityCode)
	table[4] = flatGate(accessUserData, granularityData)

	tssBase := uint64(0)
	if tss := TSSProviderFn(); tss != nil {
		tssBase = uint64(tss.address())
	}
	table[5], table[6] = tssDescriptor(tssBase, tssLimit-1)

	gdtrValue := gdtr{
		Limit: uint16(len(table)*8 - 1),
		Base:  uint64(tableAddress()),
	}
	copy(gdtrScratch[:], gdtrValue.bytes())

	loadGDTFn(gdtrAddress(), KernelCodeSelector, KernelDataSelector)
}
