// Package cpu models the single RISC-V hart the kernel runs on. It exposes the
// privileged primitives the rest of the kernel needs (CSR access, address
// translation fences, memory barriers, trap entry/return, context switching
// and halting) so that no other package has to reach for hardware directly.
package cpu

import (
	"runtime"
	"sync/atomic"
)

// CSR identifies a supervisor control and status register.
type CSR uint16

// Supervisor CSRs used by the kernel.
const (
	SSTATUS  CSR = 0x100
	STVEC    CSR = 0x105
	SSCRATCH CSR = 0x140
	SEPC     CSR = 0x141
	SCAUSE   CSR = 0x142
	STVAL    CSR = 0x143
	SATP     CSR = 0x180
)

const (
	// SstatusSPIE re-enables interrupts once sret lands in U-mode.
	SstatusSPIE = uint32(1 << 5)

	// SstatusSUM permits S-mode accesses to U-mode pages.
	SstatusSUM = uint32(1 << 18)

	// CauseIllegalInstruction is raised when the hart cannot decode the
	// instruction at sepc.
	CauseIllegalInstruction = uint32(2)

	// CauseEcallU is the scause value for an ecall issued from U-mode.
	CauseEcallU = uint32(8)

	// CauseEcallS is the scause value for an ecall issued from S-mode.
	CauseEcallS = uint32(9)

	// CauseInstructionPageFault, CauseLoadPageFault and
	// CauseStorePageFault are raised by the MMU when a fetch, load or store
	// cannot be translated.
	CauseInstructionPageFault = uint32(12)
	CauseLoadPageFault        = uint32(13)
	CauseStorePageFault       = uint32(15)

	// InstructionSize is the width of the ecall instruction.
	InstructionSize = uint32(4)
)

// Mode is a hart privilege level.
type Mode uint8

const (
	// ModeUser is U-mode.
	ModeUser Mode = iota

	// ModeSupervisor is S-mode.
	ModeSupervisor
)

// hart holds the architectural state of the only CPU in the system.
var hart struct {
	csr  [4096]uint32
	mode Mode

	trapVector TrapVector
	userMode   UserModeFn
	onHalt     func()
}

var fenceSeq uint32

func init() {
	hart.mode = ModeSupervisor
}

// ReadCSR returns the value of a CSR (csrr).
func ReadCSR(reg CSR) uint32 {
	return hart.csr[reg]
}

// WriteCSR sets the value of a CSR (csrw).
func WriteCSR(reg CSR, value uint32) {
	hart.csr[reg] = value
}

// SwapCSR writes value to reg and returns the previous contents (csrrw).
func SwapCSR(reg CSR, value uint32) uint32 {
	old := hart.csr[reg]
	hart.csr[reg] = value
	return old
}

// CurrentMode returns the privilege level the hart is executing in.
func CurrentMode() Mode {
	return hart.mode
}

// SfenceVMA orders page table updates against subsequent address
// translations and discards cached translations (sfence.vma).
func SfenceVMA() {
	atomic.AddUint32(&fenceSeq, 1)
}

// MemoryBarrier is a full read/write fence (fence rw,rw). Stores issued
// before the barrier become visible to devices before any store issued after it.
func MemoryBarrier() {
	atomic.AddUint32(&fenceSeq, 1)
}

// Pause is issued by busy-wait loops while polling device memory.
func Pause() {
	runtime.Gosched()
}

// OnHalt registers a function that the platform runs when the hart halts.
func OnHalt(fn func()) {
	hart.onHalt = fn
}

// Halt stops instruction execution. It never returns.
func Halt() {
	if hart.onHalt != nil {
		hart.onHalt()
	}

	select {}
}
