// Package percpu exposes the subset of the per-CPU data layout that the
// kernel core depends on: each CPU's Task State Segment. The full per-CPU
// record (scheduler run-queues, GS-relative addressing, and so on) is
// maintained outside the core; this package only models the one field the
// GDT/TSS initialization sequence needs.
package percpu

import "arcgo/kernel/cpu/gdt"

// CPU describes the subset of a processor's per-CPU record that the
// descriptor-table initialization sequence depends on.
type CPU struct {
	// TSS is the Task State Segment installed for this CPU. Its address
	// is embedded in the GDT's TSS gate so the CPU can locate it when
	// loading the task register.
	TSS gdt.TSS
}

// GetFn returns the current CPU's per-CPU record. It is populated by the
// platform's GS-relative per-CPU accessor at boot and swapped out by tests.
var GetFn = func() *CPU { return nil }

// Get returns the current CPU's per-CPU record.
func Get() *CPU {
	return GetFn()
}

func init() {
	// Register this package as the gdt package's TSS provider. gdt cannot
	// import percpu directly: CPU embeds a gdt.TSS value, so the reverse
	// import would form a cycle.
	gdt.TSSProviderFn = func() *gdt.TSS {
		cur := GetFn()
		if cur == nil {
			return nil
		}
		return &cur.TSS
	}
}
