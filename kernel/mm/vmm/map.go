// Package vmm builds and queries Sv32 page tables.
package vmm

import (
	"rvos/kernel"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
)

const (
	// satpModeSv32 selects Sv32 translation in the satp register.
	satpModeSv32 = uint32(1 << 31)
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	// mapFn is used by tests.
	mapFn = Map

	errUnalignedVaddr = &kernel.Error{Module: "vmm", Message: "unaligned vaddr"}
	errUnalignedPaddr = &kernel.Error{Module: "vmm", Message: "unaligned paddr"}
)

// Map establishes a mapping between a virtual page and a physical page in the
// page table rooted at root. A missing leaf table is allocated through the
// active frame allocator and installed with FlagValid. The leaf entry always
// gets FlagValid in addition to flags. Remapping a page silently replaces
// the previous entry.
//
// Both addresses must be page-aligned; misaligned addresses and allocation
// failures are fatal.
func Map(root mm.PhysAddr, virtAddr mm.VirtAddr, physAddr mm.PhysAddr, flags PageTableEntryFlag) {
	if err := mapPage(root, virtAddr, physAddr, flags); err != nil {
		panicFn(err)
	}
}

func mapPage(root mm.PhysAddr, virtAddr mm.VirtAddr, physAddr mm.PhysAddr, flags PageTableEntryFlag) *kernel.Error {
	if !virtAddr.IsAligned() {
		return errUnalignedVaddr
	}

	if !physAddr.IsAligned() {
		return errUnalignedPaddr
	}

	var err *kernel.Error

	walk(root, virtAddr, func(pteLevel uint8, pte *PageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flag it as valid.
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(physAddr.Frame())
			pte.SetFlags(flags | FlagValid)
			return true
		}

		// Next table does not yet exist; allocate a zeroed frame for it.
		if !pte.HasFlags(FlagValid) {
			var newTableFrame mm.Frame
			newTableFrame, err = mm.AllocFrame()
			if err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagValid)
		}

		return true
	})

	return err
}

// IdentityMapRegion maps the physical region [start, start+size) to the same
// virtual addresses. The region is widened to page boundaries.
func IdentityMapRegion(root, start mm.PhysAddr, size mm.Size, flags PageTableEntryFlag) {
	if size == 0 {
		return
	}

	last := (start + mm.PhysAddr(size) - 1).Frame()
	for frame := start.Frame(); frame <= last; frame++ {
		mapFn(root, mm.VirtAddr(frame.Address()), frame.Address(), flags)
	}
}

// SATP returns the satp value that activates the page table rooted at root.
func SATP(root mm.PhysAddr) uint32 {
	return satpModeSv32 | uint32(root.Frame())
}

// RootFromSATP returns the root page table address encoded in a satp value.
func RootFromSATP(satp uint32) mm.PhysAddr {
	return mm.Frame(satp &^ satpModeSv32).Address()
}
