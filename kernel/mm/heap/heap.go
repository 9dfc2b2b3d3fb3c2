// Package heap implements the kernel's page-granular virtual-memory heap: a
// first-fit allocator over a contiguous linear region, with on-demand
// physical backing and coalescing on free.
//
// Every node in the heap's node list lives in the single page immediately
// before the region it describes. The list is modeled as an arena of raw
// addresses rather than Go pointers: a node's prev/next fields are the
// addresses of its neighbors' header pages, and nodeAt reinterprets an
// address as a *node on demand. The heap package is the sole mutator of
// this arena and always does so under lock.
package heap

import (
	"arcgo/kernel/kfmt"
	"arcgo/kernel/mem"
	"arcgo/kernel/mem/pmm"
	"arcgo/kernel/mem/vmm"
	"arcgo/kernel/sync"
	"unsafe"
)

const frameSize = uintptr(mem.PageSize)

// heapAlign is the alignment of the heap's start address: the 2-MiB
// boundary immediately following the kernel image.
const heapAlign = uintptr(2 * mem.Mb)

// Flag requests permissions for a heap_alloc'd region.
type Flag uint8

// Permission flags accepted by Alloc. A region allocated with no flags set
// is read-only and non-executable.
const (
	// Writable marks the allocated region as writable.
	Writable Flag = 1 << iota

	// Executable marks the allocated region as executable. Its absence
	// causes the region to be mapped no-execute.
	Executable
)

type nodeState uint8

const (
	stateFree nodeState = iota
	stateReserved
	stateAllocated
)

// node is the on-disk (in-memory) representation of a heap node header. It
// occupies exactly the page immediately before [start, end).
type node struct {
	prevAddr uintptr
	nextAddr uintptr
	state    nodeState
	start    uintptr
	end      uintptr
}

func nodeAt(addr uintptr) *node {
	return (*node)(unsafe.Pointer(addr))
}

var (
	// KernelImageEndFn returns the address of the first byte past the end
	// of the loaded kernel image. It is populated by the boot sequence,
	// outside the core, and swapped out by tests.
	KernelImageEndFn = func() uintptr { return 0 }

	// VMStackOffsetFn returns the address at which the kernel's stack
	// region begins; this is the exclusive upper bound of the heap's
	// linear region. It is swapped out by tests so they can exercise the
	// allocator over a small, fake address range.
	VMStackOffsetFn = func() uintptr { return 0xffffff8000000000 }
)

// lock serializes every heap entry point. Heap operations must not be
// called from interrupt context; unlike sync.IntrLock-guarded state, the
// heap spinlock alone does not mask interrupts.
var lock sync.Spinlock

// rootAddr is the address of the root node's header. The root node spans
// the entire heap region immediately after Init and is never destroyed by
// coalescing, since it has no predecessor to be absorbed into.
var rootAddr uintptr

func alignUp2M(addr uintptr) uintptr {
	return (addr + heapAlign - 1) &^ (heapAlign - 1)
}

func roundToPage(size uintptr) uintptr {
	if size == 0 {
		size = 1
	}
	return (size + frameSize - 1) &^ (frameSize - 1)
}

// Init reserves and maps the root node's header page and establishes the
// single root FREE node spanning [heap_start+frame, VMStackOffset). It
// panics if the header frame cannot be reserved or mapped: a kernel that
// cannot stand up its heap cannot continue booting.
func Init() {
	headerAddr := alignUp2M(KernelImageEndFn())

	frame, ok := pmm.Alloc()
	if !ok {
		kfmt.BootPanic("no room for heap")
		return
	}

	if !vmm.Map(headerAddr, frame, vmm.Writable) {
		pmm.Free(frame)
		kfmt.BootPanic("no room for heap")
		return
	}

	root := nodeAt(headerAddr)
	*root = node{
		prevAddr: 0,
		nextAddr: 0,
		state:    stateFree,
		start:    headerAddr + frameSize,
		end:      VMStackOffsetFn(),
	}

	rootAddr = headerAddr
}

// findNode walks the node list from the root looking for the first FREE
// node with at least size bytes available, splitting off the unused tail
// into a new FREE node when the leftover slack is large enough to justify
// the cost of a new header frame. It marks the chosen node RESERVED.
func findNode(size uintptr) (uintptr, bool) {
	for cur := rootAddr; cur != 0; {
		n := nodeAt(cur)

		if n.state != stateFree {
			cur = n.nextAddr
			continue
		}

		regionSize := n.end - n.start
		if regionSize < size {
			cur = n.nextAddr
			continue
		}

		if regionSize-size >= 2*frameSize {
			trySplit(cur, n, size)
		}

		n.state = stateReserved
		return cur, true
	}

	return 0, false
}

// trySplit carves a new FREE node out of the unused tail of n, which
// currently spans [n.start, n.end) and is about to have a size-byte prefix
// reserved out of it. Failure to reserve or map the new header frame is not
// an error: the caller simply receives the oversized, unsplit node.
func trySplit(cur uintptr, n *node, size uintptr) {
	newHeaderAddr := n.start + size

	frame, ok := pmm.Alloc()
	if !ok {
		return
	}

	if !vmm.Map(newHeaderAddr, frame, vmm.Writable) {
		pmm.Free(frame)
		return
	}

	newNode := nodeAt(newHeaderAddr)
	*newNode = node{
		prevAddr: cur,
		nextAddr: n.nextAddr,
		state:    stateFree,
		start:    n.start + size + frameSize,
		end:      n.end,
	}

	if n.nextAddr != 0 {
		nodeAt(n.nextAddr).prevAddr = newHeaderAddr
	}

	n.nextAddr = newHeaderAddr
	n.end = newHeaderAddr
}

// Reserve finds and marks RESERVED a region of at least size bytes (rounded
// up to a page) with no physical backing; the caller owns mapping its
// interior. It returns the address immediately after the node's header
// page, or false if no region was available.
func Reserve(size uintptr) (uintptr, bool) {
	lock.Acquire()
	defer lock.Release()

	hdr, ok := findNode(roundToPage(size))
	if !ok {
		return 0, false
	}

	return hdr + frameSize, true
}

// Alloc finds a region of at least size bytes (rounded up to a page), marks
// it ALLOCATED, and maps every page in the region to a freshly reserved
// physical frame with the permissions described by flags. If any pmm or vmm
// call mid-loop fails, Alloc unmaps and frees every page it had already
// mapped and returns false; no partial mapping is left behind.
func Alloc(size uintptr, flags Flag) (uintptr, bool) {
	lock.Acquire()
	defer lock.Release()

	size = roundToPage(size)

	hdr, ok := findNode(size)
	if !ok {
		return 0, false
	}

	n := nodeAt(hdr)
	n.state = stateAllocated

	mapFlags := vmm.Flag(0)
	if flags&Writable != 0 {
		mapFlags |= vmm.Writable
	}
	if flags&Executable == 0 {
		mapFlags |= vmm.NoExecute
	}

	dataStart := hdr + frameSize
	for off := uintptr(0); off < size; off += frameSize {
		frame, ok := pmm.Alloc()
		if !ok {
			freeLocked(hdr)
			return 0, false
		}

		if !vmm.Map(dataStart+off, frame, mapFlags) {
			pmm.Free(frame)
			freeLocked(hdr)
			return 0, false
		}
	}

	return dataStart, true
}

// Free releases a region previously returned by Reserve or Alloc, unmapping
// and releasing any physical frames it owns, then coalesces it with an
// adjacent FREE neighbor on either side.
func Free(ptr uintptr) {
	lock.Acquire()
	defer lock.Release()

	freeLocked(ptr - frameSize)
}

func freeLocked(hdr uintptr) {
	n := nodeAt(hdr)

	if n.state == stateAllocated {
		for addr := n.start; addr < n.end; addr += frameSize {
			if frame, ok := vmm.Unmap(addr); ok {
				pmm.Free(frame)
			}
		}
	}
	n.state = stateFree

	// Coalesce forward: absorb next into n, then free next's header frame.
	if n.nextAddr != 0 {
		next := nodeAt(n.nextAddr)
		if next.state == stateFree {
			absorbedHeaderAddr := n.nextAddr

			n.nextAddr = next.nextAddr
			if next.nextAddr != 0 {
				nodeAt(next.nextAddr).prevAddr = hdr
			}
			n.end = next.end

			if frame, ok := vmm.Unmap(absorbedHeaderAddr); ok {
				pmm.Free(frame)
			}
		}
	}

	// Coalesce backward: absorb n into prev, then free n's own header
	// frame, since n's header page is what is being given up.
	if n.prevAddr != 0 {
		prev := nodeAt(n.prevAddr)
		if prev.state == stateFree {
			prev.nextAddr = n.nextAddr
			if n.nextAddr != 0 {
				nodeAt(n.nextAddr).prevAddr = n.prevAddr
			}
			prev.end = n.end

			if frame, ok := vmm.Unmap(hdr); ok {
				pmm.Free(frame)
			}
		}
	}
}
