// Package abi holds the constants shared verbatim between the kernel and user
// programs.
//
// A system call is issued with ecall. The call number travels in a3, up to
// three arguments in a0-a2 and the result comes back in a0.
package abi

// System call numbers.
const (
	SysPutChar   = 1
	SysGetChar   = 2
	SysExit      = 3
	SysReadFile  = 4
	SysWriteFile = 5
)

// UserBase is the virtual address user images are linked and loaded at.
const UserBase = 0x1000000
