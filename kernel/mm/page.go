// Package mm defines the address types shared by the memory management
// subsystems and provides access to physical memory.
package mm

import (
	"math"

	"rvos/kernel"
)

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = uint32(1 << PageShift)
)

// PhysAddr is a physical memory address.
type PhysAddr uint32

// VirtAddr is a virtual memory address.
type VirtAddr uint32

// IsAligned returns true if addr lies on a page boundary.
func (addr PhysAddr) IsAligned() bool {
	return uint32(addr)&(PageSize-1) == 0
}

// Frame returns the Frame that contains addr.
func (addr PhysAddr) Frame() Frame {
	return FrameFromAddress(addr)
}

// IsAligned returns true if addr lies on a page boundary.
func (addr VirtAddr) IsAligned() bool {
	return uint32(addr)&(PageSize-1) == 0
}

// Page returns the Page that contains addr.
func (addr VirtAddr) Page() Page {
	return PageFromAddress(addr)
}

// AlignUp rounds value up to the next multiple of align, which must be a
// power of 2.
func AlignUp(value, align uint32) uint32 {
	return (value + align - 1) &^ (align - 1)
}

// IsAligned returns true if value is a multiple of align, which must be a
// power of 2.
func IsAligned(value, align uint32) bool {
	return value&(align-1) == 0
}

// Frame describes a physical memory page index.
type Frame uint32

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint32)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte in this Frame.
func (f Frame) Address() PhysAddr {
	return PhysAddr(f << PageShift)
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr PhysAddr) Frame {
	return Frame(uint32(physAddr) >> PageShift)
}

var (
	// frameAllocator points to a frame allocator function registered using
	// SetFrameAllocator.
	frameAllocator FrameAllocatorFn
)

// FrameAllocatorFn is a function that can allocate zeroed physical frames.
type FrameAllocatorFn func() (Frame, *kernel.Error)

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) { frameAllocator = allocFn }

// AllocFrame allocates a new physical frame using the currently active
// physical frame allocator.
func AllocFrame() (Frame, *kernel.Error) { return frameAllocator() }

// Page describes a virtual memory page index.
type Page uint32

// Address returns the virtual address of the first byte in this Page.
func (p Page) Address() VirtAddr {
	return VirtAddr(p << PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr VirtAddr) Page {
	return Page(uint32(virtAddr) >> PageShift)
}
