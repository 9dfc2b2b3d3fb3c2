package gdt

import "unsafe"

// tssLimit is sizeof(TSS): iomap_base is set to this value to indicate that
// no I/O permission bitmap follows the TSS.
const tssLimit = 104

// TSS is the 64-bit Task State Segment, owned by each CPU's per-CPU record.
// The CPU reads it directly by physical offset when transferring control
// through an interrupt or privilege-level change, so its layout must match
// the hardware format exactly: every field here is naturally aligned at its
// own offset, so the Go compiler inserts no padding and the 104-byte struct
// is already byte-for-byte correct. Wide (64-bit) fields are split into
// low/high uint32 halves for the same reason the gdtr is serialized rather
// than cast: a single uint64 field here would force 8-byte struct alignment
// and introduce padding the hardware format does not have.
type TSS struct {
	reserved0 uint32

	rsp0Lo, rsp0Hi uint32
	rsp1Lo, rsp1Hi uint32
	rsp2Lo, rsp2Hi uint32

	reserved1Lo, reserved1Hi uint32

	ist1Lo, ist1Hi uint32
	ist2Lo, ist2Hi uint32
	ist3Lo, ist3Hi uint32
	ist4Lo, ist4Hi uint32
	ist5Lo, ist5Hi uint32
	ist6Lo, ist6Hi uint32
	ist7Lo, ist7Hi uint32

	reserved2Lo, reserved2Hi uint32
	reserved3                uint16

	IOMapBase uint16
}

// SetRSP sets the privilege-level stack pointer used when an interrupt or
// exception raises the CPU to ring index (0, 1, or 2).
func (t *TSS) SetRSP(index int, rsp uint64) {
	lo, hi := uint32(rsp&0xffffffff), uint32(rsp>>32)
	switch index {
	case 0:
		t.rsp0Lo, t.rsp0Hi = lo, hi
	case 1:
		t.rsp1Lo, t.rsp1Hi = lo, hi
	case 2:
		t.rsp2Lo, t.rsp2Hi = lo, hi
	}
}

// SetIST sets one of the seven Interrupt Stack Table entries, each an
// alternate stack pointer that a gate descriptor can request unconditionally
// regardless of the privilege level it interrupted. index ranges over 1..7.
func (t *TSS) SetIST(index int, rsp uint64) {
	lo, hi := uint32(rsp&0xffffffff), uint32(rsp>>32)
	switch index {
	case 1:
		t.ist1Lo, t.ist1Hi = lo, hi
	case 2:
		t.ist2Lo, t.ist2Hi = lo, hi
	case 3:
		t.ist3Lo, t.ist3Hi = lo, hi
	case 4:
		t.ist4Lo, t.ist4Hi = lo, hi
	case 5:
		t.ist5Lo, t.ist5Hi = lo, hi
	case 6:
		t.ist6Lo, t.ist6Hi = lo, hi
	case 7:
		t.ist7Lo, t.ist7Hi = lo, hi
	}
}

func (t *TSS) address() uintptr {
	return uintptr(unsafe.Pointer(t))
}

func tableAddress() uintptr {
	return uintptr(unsafe.Pointer(&table[0]))
}

func gdtrAddress() uintptr {
	return uintptr(unsafe.Pointer(&gdtrScratch[0]))
}

// TSSInit zeroes the current CPU's TSS, disables its I/O permission bitmap
// by setting iomap_base equal to the TSS size, and loads the task register
// with the TSS selector. It must be called once per CPU, after Init has
// installed a GDT whose TSS descriptor points at this CPU's record.
func TSSInit() {
	tss := TSSProviderFn()
	if tss == nil {
		return
	}

	*tss = TSS{}
	tss.IOMapBase = tssLimit

	loadTaskRegisterFn(TSSSelector)
}
