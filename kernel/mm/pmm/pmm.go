// Package pmm manages physical page allocation.
package pmm

import (
	"rvos/kernel"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
)

var (
	// bumpAllocator is the page allocator used by the kernel.
	bumpAllocator BumpAllocator

	// panicFn is mocked by tests.
	panicFn = kfmt.Panic
)

// Init sets up the kernel physical memory allocation sub-system. Pages are
// allocated from the free region [freeStart, freeEnd).
func Init(freeStart, freeEnd mm.PhysAddr) {
	bumpAllocator.Init(freeStart, freeEnd)
	bumpAllocator.printStats()
	mm.SetFrameAllocator(allocFrame)
}

// AllocPages returns the physical address of n contiguous zeroed pages.
// Running out of memory is fatal.
func AllocPages(n uint32) mm.PhysAddr {
	paddr, err := bumpAllocator.AllocPages(n)
	if err != nil {
		panicFn(err)
	}

	return paddr
}

func allocFrame() (mm.Frame, *kernel.Error) {
	return bumpAllocator.AllocFrame()
}
