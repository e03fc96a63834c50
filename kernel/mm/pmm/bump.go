package pmm

import (
	"rvos/kernel"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
)

var errOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

// BumpAllocator implements a rudimentary physical page allocator. Pages are
// handed out from a cursor that starts at the beginning of free memory and
// only ever moves forward; it is not possible to free allocated pages.
type BumpAllocator struct {
	// nextAddr is the first byte that has not been handed out yet.
	nextAddr mm.PhysAddr

	// Keep track of the free region so we never hand out memory past it.
	startAddr, endAddr mm.PhysAddr

	// allocCount tracks the total number of allocated pages.
	allocCount uint32
}

// Init resets the allocator to hand out pages from the region
// [start, end). start is rounded up to the nearest page.
func (alloc *BumpAllocator) Init(start, end mm.PhysAddr) {
	alloc.startAddr = mm.PhysAddr(mm.AlignUp(uint32(start), mm.PageSize))
	alloc.endAddr = end
	alloc.nextAddr = alloc.startAddr
	alloc.allocCount = 0
}

// AllocPages reserves n contiguous pages and zero-fills them. It returns the
// physical address of the first page or an error if the free region cannot
// satisfy the request.
func (alloc *BumpAllocator) AllocPages(n uint32) (mm.PhysAddr, *kernel.Error) {
	size := uint64(n) * uint64(mm.PageSize)
	if uint64(alloc.nextAddr)+size > uint64(alloc.endAddr) {
		return 0, errOutOfMemory
	}

	paddr := alloc.nextAddr
	alloc.nextAddr += mm.PhysAddr(size)
	alloc.allocCount += n

	mm.Memset(paddr, 0, mm.Size(size))
	return paddr, nil
}

// AllocFrame reserves a single zeroed page.
func (alloc *BumpAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	paddr, err := alloc.AllocPages(1)
	if err != nil {
		return mm.InvalidFrame, err
	}

	return paddr.Frame(), nil
}

// printStats prints the free region managed by the allocator.
func (alloc *BumpAllocator) printStats() {
	kfmt.Printf("[pmm] free memory: 0x%8x - 0x%8x (%d pages)\n",
		uint32(alloc.startAddr), uint32(alloc.endAddr),
		uint32(alloc.endAddr-alloc.startAddr)>>mm.PageShift,
	)
}
