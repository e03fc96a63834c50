// Package proc implements the process table and the cooperative round-robin
// scheduler.
package proc

import (
	"rvos/abi"
	"rvos/kernel"
	"rvos/kernel/cpu"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
	"rvos/kernel/mm/pmm"
	"rvos/kernel/mm/vmm"
)

var (
	// The following functions are mocked by tests.
	switchContextFn = cpu.SwitchContext
	enterUserModeFn = cpu.EnterUserMode
	sfenceVMAFn     = cpu.SfenceVMA
	writeCSRFn      = cpu.WriteCSR
	panicFn         = kfmt.Panic

	errNoFreeSlots = &kernel.Error{Module: "proc", Message: "no free process slots"}
	errUnreachable = &kernel.Error{Module: "proc", Message: "unreachable"}
)

// Layout describes the physical memory every address space shares with the
// kernel.
type Layout struct {
	// KernelBase and FreeEnd delimit the kernel image and the free
	// memory region handed to the page allocator. The whole range is
	// identity mapped into every process.
	KernelBase, FreeEnd mm.PhysAddr

	// MMIOBase is the page holding the block device registers.
	MMIOBase mm.PhysAddr
}

// Scheduler owns the process table and tracks the running process.
type Scheduler struct {
	procs   [ProcsMax]Process
	idle    Process
	current *Process
	layout  Layout
}

// New returns a scheduler whose running process is the idle process. The idle
// process is bound to the calling thread of control, so Yield only returns
// to the caller after every other process stopped running.
func New(layout Layout) *Scheduler {
	s := &Scheduler{layout: layout}

	// Kernel stacks for every table slot followed by the idle stack.
	stacks := pmm.AllocPages((ProcsMax + 1) * KernelStackSize / mm.PageSize)
	for i := range s.procs {
		s.procs[i].StackBase = stacks + mm.PhysAddr(i*KernelStackSize)
	}

	s.idle = Process{
		PID:       -1,
		State:     Runnable,
		Context:   cpu.BootContext(),
		PageTable: s.newPageTable(),
		StackBase: stacks + mm.PhysAddr(ProcsMax*KernelStackSize),
	}
	s.current = &s.idle

	return s
}

// Current returns the process that is running.
func (s *Scheduler) Current() *Process {
	return s.current
}

// Idle returns the idle process.
func (s *Scheduler) Idle() *Process {
	return &s.idle
}

// Lookup returns the process with the given pid or nil if the slot for pid
// was never used.
func (s *Scheduler) Lookup(pid int) *Process {
	if pid < 1 || pid > ProcsMax || s.procs[pid-1].State == Unused {
		return nil
	}

	return &s.procs[pid-1]
}

// newPageTable allocates a root page table and maps the kernel and the device
// registers into it so the kernel stays addressable after a switch.
func (s *Scheduler) newPageTable() mm.PhysAddr {
	root := pmm.AllocPages(1)

	vmm.IdentityMapRegion(root, s.layout.KernelBase, mm.Size(s.layout.FreeEnd-s.layout.KernelBase), vmm.FlagRead|vmm.FlagWrite|vmm.FlagExecute)
	vmm.Map(root, mm.VirtAddr(s.layout.MMIOBase), s.layout.MMIOBase, vmm.FlagRead|vmm.FlagWrite)

	return root
}

// CreateProcess places image into the first unused table slot. The image is
// copied page by page into fresh memory mapped at abi.UserBase and the
// process starts executing at abi.UserBase in U-mode the first time it is
// scheduled. Running out of process slots is fatal.
func (s *Scheduler) CreateProcess(image []byte) *Process {
	var p *Process
	for i := range s.procs {
		if s.procs[i].State == Unused {
			p = &s.procs[i]
			p.PID = i + 1
			break
		}
	}

	if p == nil {
		panicFn(errNoFreeSlots)
		return nil
	}

	p.Context = cpu.NewContext(func() {
		enterUserModeFn(abi.UserBase)
	})
	p.PageTable = s.newPageTable()

	for off := 0; off < len(image); off += int(mm.PageSize) {
		page := pmm.AllocPages(1)

		end := off + int(mm.PageSize)
		if end > len(image) {
			end = len(image)
		}

		mm.WriteBytes(page, image[off:end])
		vmm.Map(p.PageTable, mm.VirtAddr(abi.UserBase+off), page, vmm.FlagUser|vmm.FlagRead|vmm.FlagWrite|vmm.FlagExecute)
	}

	p.State = Runnable
	return p
}

// pickNext scans the table starting at the slot after the current process
// and returns the first runnable process, or idle if there is none.
func (s *Scheduler) pickNext() *Process {
	start := 0
	if s.current.PID > 0 {
		start = s.current.PID
	}

	for i := 0; i < ProcsMax; i++ {
		p := &s.procs[(start+i)%ProcsMax]
		if p.State == Runnable && p.PID > 0 {
			return p
		}
	}

	return &s.idle
}

// Yield hands the CPU to the next runnable process. If that is the running
// process, Yield returns immediately. Otherwise the address space of the next
// process is activated, sscratch is pointed at its kernel stack and the
// register context is switched; Yield returns once the caller is scheduled
// again.
func (s *Scheduler) Yield() {
	next := s.pickNext()
	if next == s.current {
		return
	}

	sfenceVMAFn()
	writeCSRFn(cpu.SATP, vmm.SATP(next.PageTable))
	sfenceVMAFn()
	writeCSRFn(cpu.SSCRATCH, uint32(next.StackTop()))

	prev := s.current
	s.current = next
	switchContextFn(prev.Context, next.Context)
}

// Exit terminates the running process. It never returns.
func (s *Scheduler) Exit() {
	kfmt.Printf("process %d exited\n", s.current.PID)
	s.current.State = Exited
	s.Yield()

	panicFn(errUnreachable)
}
