package vmm

import (
	"rvos/kernel"
	"rvos/kernel/mm"
)

var errUserAccess = &kernel.Error{Module: "vmm", Message: "user address is not accessible"}

// Lookup returns the leaf page table entry for virtAddr in the page table
// rooted at root or ErrInvalidMapping if the address is not mapped.
func Lookup(root mm.PhysAddr, virtAddr mm.VirtAddr) (PageTableEntry, *kernel.Error) {
	return pteForAddress(root, virtAddr)
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func Translate(root mm.PhysAddr, virtAddr mm.VirtAddr) (mm.PhysAddr, *kernel.Error) {
	pte, err := pteForAddress(root, virtAddr)
	if err != nil {
		return 0, err
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return pte.Frame().Address() + mm.PhysAddr(uint32(virtAddr)&(mm.PageSize-1)), nil
}

// translateUser behaves like Translate but also requires the page to be
// accessible from U-mode with the given permission.
func translateUser(root mm.PhysAddr, virtAddr mm.VirtAddr, perm PageTableEntryFlag) (mm.PhysAddr, *kernel.Error) {
	pte, err := pteForAddress(root, virtAddr)
	if err != nil {
		return 0, err
	}

	if !pte.HasFlags(FlagUser | perm) {
		return 0, errUserAccess
	}

	return pte.Frame().Address() + mm.PhysAddr(uint32(virtAddr)&(mm.PageSize-1)), nil
}

// userChunks splits [virtAddr, virtAddr+size) at page boundaries and calls fn
// with the physical address of each chunk and its offset into the range.
func userChunks(root mm.PhysAddr, virtAddr mm.VirtAddr, size int, perm PageTableEntryFlag, fn func(paddr mm.PhysAddr, off, n int)) *kernel.Error {
	for off := 0; off < size; {
		cur := virtAddr + mm.VirtAddr(off)
		paddr, err := translateUser(root, cur, perm)
		if err != nil {
			return err
		}

		n := int(mm.PageSize - uint32(cur)&(mm.PageSize-1))
		if n > size-off {
			n = size - off
		}

		fn(paddr, off, n)
		off += n
	}

	return nil
}

// CopyFromUser copies len(dst) bytes from the user address src into dst.
func CopyFromUser(root mm.PhysAddr, dst []byte, src mm.VirtAddr) *kernel.Error {
	return userChunks(root, src, len(dst), FlagRead, func(paddr mm.PhysAddr, off, n int) {
		mm.ReadBytes(paddr, dst[off:off+n])
	})
}

// CopyToUser copies src to the user address dst.
func CopyToUser(root mm.PhysAddr, dst mm.VirtAddr, src []byte) *kernel.Error {
	return userChunks(root, dst, len(src), FlagWrite, func(paddr mm.PhysAddr, off, n int) {
		mm.WriteBytes(paddr, src[off:off+n])
	})
}

// CopyStringFromUser reads a NUL-terminated string of at most maxLen bytes
// starting at the user address src. Strings that are not terminated within
// maxLen bytes are truncated.
func CopyStringFromUser(root mm.PhysAddr, src mm.VirtAddr, maxLen int) (string, *kernel.Error) {
	var (
		buf = make([]byte, 0, maxLen)
		ch  [1]byte
	)

	for len(buf) < maxLen {
		if err := CopyFromUser(root, ch[:], src+mm.VirtAddr(len(buf))); err != nil {
			return "", err
		}

		if ch[0] == 0 {
			break
		}

		buf = append(buf, ch[0])
	}

	return string(buf), nil
}
