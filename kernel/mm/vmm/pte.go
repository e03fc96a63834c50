package vmm

import (
	"rvos/kernel"
	"rvos/kernel/mm"
)

const (
	// pageLevels indicates the number of page levels supported by Sv32.
	pageLevels = 2

	// ptePPNShift is the position of the physical page number inside a
	// page table entry. Bits 0-9 hold the flags.
	ptePPNShift = 10

	// pteSize is the size of a page table entry in bytes.
	pteSize = 4
)

var (
	// pageLevelBits defines the number of virtual address bits that
	// correspond to each page level. Each Sv32 table holds 1024 entries.
	pageLevelBits = [pageLevels]uint8{10, 10}

	// pageLevelShifts defines the shift required to access each page table
	// component of a virtual address (VPN[1] and VPN[0]).
	pageLevelShifts = [pageLevels]uint8{22, 12}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uint32

const (
	// FlagValid is set for every entry that points to a table or a page.
	FlagValid PageTableEntryFlag = 1 << iota

	// FlagRead is set if the page can be read.
	FlagRead

	// FlagWrite is set if the page can be written to.
	FlagWrite

	// FlagExecute is set if the page contains code.
	FlagExecute

	// FlagUser is set if U-mode code can access this page. If not set only
	// the kernel can access this page.
	FlagUser
)

// ErrInvalidMapping is returned when trying to lookup a virtual memory address
// that is not yet mapped.
var ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

// PageTableEntry describes an Sv32 page table entry. Bits 10-31 hold the
// physical page number and bits 0-4 the flags. An entry is either zero or
// has FlagValid set.
type PageTableEntry uint32

// HasFlags returns true if this entry has all the input flags set.
func (pte PageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint32(pte) & uint32(flags)) == uint32(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte PageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint32(pte) & uint32(flags)) != 0
}

// Flags returns the flag bits of this entry.
func (pte PageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uint32(pte) & (1<<ptePPNShift - 1))
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *PageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uint32(*pte) | uint32(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *PageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uint32(*pte) &^ uint32(flags))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte PageTableEntry) Frame() mm.Frame {
	return mm.Frame(uint32(pte) >> ptePPNShift)
}

// SetFrame updates the page table entry to point the the given physical frame.
func (pte *PageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (PageTableEntry)((uint32(*pte) & (1<<ptePPNShift - 1)) | uint32(frame)<<ptePPNShift)
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. Changes made to the entry are written back to the table. If the
// function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *PageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// the root table. It calls the supplied walkFn with the page table entry
// that corresponds to each page table level. The next level is located
// through the (possibly updated) entry of the current level.
func walk(root mm.PhysAddr, virtAddr mm.VirtAddr, walkFn pageTableWalker) {
	var (
		tableAddr  = root
		entryAddr  mm.PhysAddr
		entryIndex uint32
		pte, orig  PageTableEntry
	)

	for level := uint8(0); level < pageLevels; level++ {
		// Extract the bits from virtual address that correspond to the
		// index in this level's page table
		entryIndex = (uint32(virtAddr) >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryAddr = tableAddr + mm.PhysAddr(entryIndex*pteSize)

		pte = PageTableEntry(mm.Read32(entryAddr))
		orig = pte
		ok := walkFn(level, &pte)
		if pte != orig {
			mm.Write32(entryAddr, uint32(pte))
		}

		if !ok {
			return
		}

		tableAddr = pte.Frame().Address()
	}
}

// pteForAddress returns the leaf page table entry that corresponds to a
// particular virtual address. The function performs a page table walk till it
// reaches the leaf entry returning ErrInvalidMapping if the page is not
// present.
func pteForAddress(root mm.PhysAddr, virtAddr mm.VirtAddr) (PageTableEntry, *kernel.Error) {
	var (
		err   *kernel.Error
		entry PageTableEntry
	)

	walk(root, virtAddr, func(pteLevel uint8, pte *PageTableEntry) bool {
		if !pte.HasFlags(FlagValid) {
			entry = 0
			err = ErrInvalidMapping
			return false
		}

		entry = *pte
		return true
	})

	return entry, err
}
