// Package vmm exposes the narrow slice of the virtual memory manager that
// the rest of the kernel depends on: installing and removing a single page
// mapping in the currently active page directory table. The page-table
// walker that actually programs the MMU entries lives below this package
// and is wired in via MapFn/UnmapFn; callers such as the heap allocator only
// ever see Map/Unmap.
package vmm

import "arcgo/kernel/mem/pmm"

// Flag describes the permission bits requested for a page mapping. Flags
// are combined with a bitwise OR.
type Flag uint8

// Mapping permission flags. A page with no flags set is mapped read-only
// and executable.
const (
	// Writable marks the mapped page as writable.
	Writable Flag = 1 << iota

	// NoExecute marks the mapped page as non-executable.
	NoExecute
)

var (
	// MapFn installs a mapping from virtAddr to frame with the requested
	// flags in the active page directory table, allocating any
	// intermediate page-table frames it needs along the way. It reports
	// false if the mapping could not be established. MapFn is populated
	// by the platform's page-table walker at boot and is swapped out by
	// tests.
	MapFn = func(virtAddr uintptr, frame pmm.Frame, flags Flag) bool { return false }

	// UnmapFn removes the mapping for virtAddr from the active page
	// directory table and returns the frame that was mapped there. It
	// reports false if virtAddr had no mapping. UnmapFn is swapped out by
	// tests.
	UnmapFn = func(virtAddr uintptr) (pmm.Frame, bool) { return pmm.InvalidFrame, false }
)

// Map establishes a mapping between the virtual address virtAddr and the
// physical frame using the currently active page directory table.
func Map(virtAddr uintptr, frame pmm.Frame, flags Flag) bool {
	return MapFn(virtAddr, frame, flags)
}

// Unmap removes a mapping previously installed via Map.
func Unmap(virtAddr uintptr) (pmm.Frame, bool) {
	return UnmapFn(virtAddr)
}
