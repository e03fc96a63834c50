package user

import (
	"rvos/abi"
	"rvos/kernel/cpu"
)

// Memory is the U-mode view of the program's address space.
type Memory interface {
	Load(addr uint32, p []byte) error
	Store(addr uint32, p []byte) error
}

// Runtime is the user-land side of the syscall ABI. It owns the register
// file of the program and issues ecalls through it.
type Runtime struct {
	mem  Memory
	regs cpu.Registers
}

// NewRuntime returns a runtime for a program entered at pc.
func NewRuntime(mem Memory, pc uint32) *Runtime {
	return &Runtime{
		mem: mem,
		regs: cpu.Registers{
			PC: pc,
			SP: StackTop,
		},
	}
}

// Syscall issues system call sysno and returns the value of a0.
func (rt *Runtime) Syscall(sysno, arg0, arg1, arg2 uint32) uint32 {
	rt.regs.A0 = arg0
	rt.regs.A1 = arg1
	rt.regs.A2 = arg2
	rt.regs.A3 = sysno

	cpu.Ecall(&rt.regs)
	return rt.regs.A0
}

// PutChar writes ch to the console.
func (rt *Runtime) PutChar(ch byte) {
	rt.Syscall(abi.SysPutChar, uint32(ch), 0, 0)
}

// GetChar waits for the next console character.
func (rt *Runtime) GetChar() byte {
	return byte(rt.Syscall(abi.SysGetChar, 0, 0, 0))
}

// Exit terminates the program. It never returns.
func (rt *Runtime) Exit() {
	rt.Syscall(abi.SysExit, 0, 0, 0)

	// The kernel never schedules an exited process again.
	select {}
}

// Write implements io.Writer on top of PutChar.
func (rt *Runtime) Write(p []byte) (int, error) {
	for _, ch := range p {
		rt.PutChar(ch)
	}

	return len(p), nil
}

// ReadFile reads the file name into buf and returns the number of bytes
// read or -1 if the file does not exist.
func (rt *Runtime) ReadFile(name string, buf []byte) int {
	nameAddr, bufAddr := rt.storeName(name)

	n := int32(rt.Syscall(abi.SysReadFile, nameAddr, bufAddr, uint32(len(buf))))
	if n > 0 {
		rt.load(bufAddr, buf[:n])
	}

	return int(n)
}

// WriteFile replaces the contents of the file name with data and returns the
// number of bytes written or -1 on failure.
func (rt *Runtime) WriteFile(name string, data []byte) int {
	nameAddr, bufAddr := rt.storeName(name)
	rt.store(bufAddr, data)

	return int(int32(rt.Syscall(abi.SysWriteFile, nameAddr, bufAddr, uint32(len(data)))))
}

// storeName copies name to the scratch region and returns its address along
// with the address of the data buffer that follows it.
func (rt *Runtime) storeName(name string) (uint32, uint32) {
	nameAddr := uint32(scratchBase)
	rt.store(nameAddr, append([]byte(name), 0))

	return nameAddr, nameAddr + uint32(len(name)) + 1
}

// load and store access user memory. A failed access raises a page fault.
func (rt *Runtime) load(addr uint32, p []byte) {
	if err := rt.mem.Load(addr, p); err != nil {
		cpu.Trap(cpu.CauseLoadPageFault, addr, &rt.regs)
	}
}

func (rt *Runtime) store(addr uint32, p []byte) {
	if err := rt.mem.Store(addr, p); err != nil {
		cpu.Trap(cpu.CauseStorePageFault, addr, &rt.regs)
	}
}
