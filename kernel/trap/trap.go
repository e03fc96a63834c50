// Package trap implements the S-mode trap entry point and the system call
// dispatcher.
package trap

import (
	"rvos/abi"
	"rvos/kernel"
	"rvos/kernel/cpu"
	"rvos/kernel/fs"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
	"rvos/kernel/mm/vmm"
	"rvos/kernel/proc"
	"rvos/kernel/sbi"
)

// errReturn is the value syscalls return in a0 on failure (-1).
const errReturn = ^uint32(0)

var (
	// The following functions are mocked by tests.
	panicFn   = kfmt.Panic
	putCharFn = sbi.PutChar
	getCharFn = sbi.GetChar

	errUnexpectedTrap = &kernel.Error{Module: "trap", Message: "unexpected trap"}
	errUnknownSyscall = &kernel.Error{Module: "trap", Message: "unexpected syscall"}
)

// Scheduler is the subset of the process scheduler used by syscalls.
type Scheduler interface {
	Current() *proc.Process
	Yield()
	Exit()
}

// FileStore is the subset of the file store used by syscalls.
type FileStore interface {
	Read(name string, buf []byte) (int, *kernel.Error)
	Write(name string, data []byte) (int, *kernel.Error)
}

// Dispatcher routes traps taken from U-mode to the system call handlers.
type Dispatcher struct {
	Sched Scheduler
	FS    FileStore
}

// Entry is the trap vector. It switches to the kernel stack recorded in
// sscratch, saves the interrupted registers in a TrapFrame at the top of
// that stack, re-arms sscratch, runs Handle and finally restores the
// registers from the frame and returns with sret.
func (d *Dispatcher) Entry(regs *cpu.Registers) {
	kernelSP := cpu.SwapCSR(cpu.SSCRATCH, regs.SP)
	frameAddr := mm.PhysAddr(kernelSP - frameSize)

	frame := saveFrame(regs, cpu.ReadCSR(cpu.SSCRATCH))
	frame.store(frameAddr)

	// Nested traps from this process find the stack top again.
	cpu.WriteCSR(cpu.SSCRATCH, kernelSP)

	frame = loadFrame(frameAddr)
	d.Handle(&frame)
	frame.store(frameAddr)

	frame = loadFrame(frameAddr)
	frame.restore(regs)
	cpu.Sret(regs)
}

// Handle decodes the trap cause. System calls from U-mode are dispatched and
// the saved pc is advanced past the ecall instruction; any other cause is
// fatal.
func (d *Dispatcher) Handle(f *TrapFrame) {
	var (
		scause = cpu.ReadCSR(cpu.SCAUSE)
		stval  = cpu.ReadCSR(cpu.STVAL)
		userPC = cpu.ReadCSR(cpu.SEPC)
	)

	if scause != cpu.CauseEcallU {
		kfmt.Printf("unexpected trap scause=%x, stval=%x, sepc=%x\n", scause, stval, userPC)
		f.DumpTo(kfmt.GetOutputSink())
		panicFn(errUnexpectedTrap)
		return
	}

	d.handleSyscall(f)
	userPC += cpu.InstructionSize

	// A syscall may have yielded; sepc belongs to this process again.
	cpu.WriteCSR(cpu.SEPC, userPC)
}

func (d *Dispatcher) handleSyscall(f *TrapFrame) {
	switch f.A3 {
	case abi.SysPutChar:
		putCharFn(byte(f.A0))
	case abi.SysGetChar:
		for {
			if ch := getCharFn(); ch >= 0 {
				f.A0 = uint32(ch)
				break
			}

			d.Sched.Yield()
		}
	case abi.SysExit:
		d.Sched.Exit()
	case abi.SysReadFile:
		f.A0 = d.readFile(mm.VirtAddr(f.A0), mm.VirtAddr(f.A1), int(f.A2))
	case abi.SysWriteFile:
		f.A0 = d.writeFile(mm.VirtAddr(f.A0), mm.VirtAddr(f.A1), int(f.A2))
	default:
		kfmt.Printf("unexpected syscall a3=%x\n", f.A3)
		panicFn(errUnknownSyscall)
	}
}

// readFile copies up to size bytes of the file whose name is stored at
// nameAddr into the user buffer at bufAddr.
func (d *Dispatcher) readFile(nameAddr, bufAddr mm.VirtAddr, size int) uint32 {
	root := d.Sched.Current().PageTable

	name, err := vmm.CopyStringFromUser(root, nameAddr, fs.NameMax)
	if err != nil {
		return errReturn
	}

	if size < 0 || size > fs.FileDataMax {
		size = fs.FileDataMax
	}

	buf := make([]byte, size)
	n, err := d.FS.Read(name, buf)
	if err != nil {
		kfmt.Printf("file not found: %s\n", name)
		return errReturn
	}

	if err = vmm.CopyToUser(root, bufAddr, buf[:n]); err != nil {
		return errReturn
	}

	return uint32(n)
}

// writeFile replaces the contents of the file whose name is stored at
// nameAddr with size bytes from the user buffer at bufAddr.
func (d *Dispatcher) writeFile(nameAddr, bufAddr mm.VirtAddr, size int) uint32 {
	root := d.Sched.Current().PageTable

	name, err := vmm.CopyStringFromUser(root, nameAddr, fs.NameMax)
	if err != nil {
		return errReturn
	}

	if size < 0 || size > fs.FileDataMax {
		size = fs.FileDataMax
	}

	data := make([]byte, size)
	if err = vmm.CopyFromUser(root, data, bufAddr); err != nil {
		return errReturn
	}

	n, err := d.FS.Write(name, data)
	if err != nil {
		kfmt.Printf("write_file: %s: %s\n", name, err.Message)
		return errReturn
	}

	return uint32(n)
}
