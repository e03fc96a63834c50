package cpu

// TrapVector is the S-mode trap handler installed in stvec. The handler
// receives the register file of the interrupted context and must return
// through Sret.
type TrapVector func(regs *Registers)

// UserModeFn executes U-mode code starting at pc on behalf of the platform.
type UserModeFn func(pc uint32)

// SetTrapVector installs the trap handler (csrw stvec).
func SetTrapVector(vector TrapVector) {
	hart.trapVector = vector
}

// SetUserModeHandler registers the platform hook that runs U-mode code
// after an sret.
func SetUserModeHandler(fn UserModeFn) {
	hart.userMode = fn
}

// EnterUserMode is the user-mode entry trampoline: it points sepc at entry,
// enables SPIE and SUM in sstatus and issues sret. It never returns.
func EnterUserMode(entry uint32) {
	WriteCSR(SEPC, entry)
	WriteCSR(SSTATUS, SstatusSPIE|SstatusSUM)

	hart.mode = ModeUser
	if hart.userMode != nil {
		hart.userMode(ReadCSR(SEPC))
	}

	Halt()
}

// Ecall executes the environment call instruction with the supplied register
// file. On return regs holds the register file restored by the trap handler
// and regs.PC points at the instruction the hart resumes at.
func Ecall(regs *Registers) {
	cause := CauseEcallS
	if hart.mode == ModeUser {
		cause = CauseEcallU
	}

	Trap(cause, 0, regs)
}

// Trap raises a synchronous exception: scause, stval and sepc are latched,
// the hart switches to S-mode and jumps to the installed trap vector.
func Trap(cause, tval uint32, regs *Registers) {
	WriteCSR(SCAUSE, cause)
	WriteCSR(STVAL, tval)
	WriteCSR(SEPC, regs.PC)
	hart.mode = ModeSupervisor

	if hart.trapVector == nil {
		Halt()
		return
	}

	hart.trapVector(regs)
}

// Sret returns from a trap: the hart drops back to U-mode and continues at
// the address held in sepc.
func Sret(regs *Registers) {
	regs.PC = ReadCSR(SEPC)
	hart.mode = ModeUser
}
