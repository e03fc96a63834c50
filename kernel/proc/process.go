package proc

import (
	"rvos/kernel/cpu"
	"rvos/kernel/mm"
)

const (
	// ProcsMax is the capacity of the process table.
	ProcsMax = 8

	// KernelStackSize is the size of each process' kernel stack.
	KernelStackSize = 8192
)

// State describes the lifecycle stage of a process.
type State uint8

const (
	// Unused marks a free process table slot.
	Unused State = iota

	// Runnable processes are eligible for selection by Yield.
	Runnable

	// Exited processes keep their slot but are never selected again.
	Exited
)

// String implements fmt.Stringer for State.
func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Runnable:
		return "runnable"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// Process is a process control block.
type Process struct {
	// PID is index+1 for processes in the table and -1 for idle.
	PID int

	State State

	// Context holds the saved hardware context while the process is not
	// running.
	Context *cpu.Context

	// PageTable is the physical address of the root page table.
	PageTable mm.PhysAddr

	// StackBase is the lowest address of the process' kernel stack.
	StackBase mm.PhysAddr
}

// StackTop returns the address just past the end of the kernel stack. Traps
// taken while this process runs save their frame just below it.
func (p *Process) StackTop() mm.PhysAddr {
	return p.StackBase + KernelStackSize
}
