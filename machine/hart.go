package machine

import (
	"errors"
	"fmt"
	"log/slog"

	"rvos/kernel/cpu"
	"rvos/kernel/mm"
	"rvos/kernel/mm/vmm"
	"rvos/user"
)

// userMemory performs U-mode loads and stores through the page table that
// is active in satp.
type userMemory struct {
	root mm.PhysAddr
}

func (m userMemory) Load(addr uint32, p []byte) error {
	if err := vmm.CopyFromUser(m.root, p, mm.VirtAddr(addr)); err != nil {
		return err
	}
	return nil
}

func (m userMemory) Store(addr uint32, p []byte) error {
	if err := vmm.CopyToUser(m.root, mm.VirtAddr(addr), p); err != nil {
		return err
	}
	return nil
}

// fetch reads the image header at pc. The entry page must be executable.
func (m userMemory) fetch(pc uint32) ([]byte, error) {
	pte, err := vmm.Lookup(m.root, mm.VirtAddr(pc))
	if err != nil {
		return nil, err
	}

	if !pte.HasFlags(vmm.FlagUser | vmm.FlagExecute) {
		return nil, errors.New("entry page is not executable from U-mode")
	}

	header := make([]byte, user.HeaderSize)
	if err := m.Load(pc, header); err != nil {
		return nil, err
	}

	return header, nil
}

// runUserMode is registered with cpu.SetUserModeHandler. It is invoked on the
// thread of control of the process that executed sret and runs the program
// whose image is mapped at pc.
func runUserMode(pc uint32) {
	mem := userMemory{root: vmm.RootFromSATP(cpu.ReadCSR(cpu.SATP))}

	header, err := mem.fetch(pc)
	if err != nil {
		slog.Error("hart: instruction fetch failed", "pc", fmt.Sprintf("0x%x", pc), "err", err)
		cpu.Trap(cpu.CauseInstructionPageFault, pc, &cpu.Registers{PC: pc})
		return
	}

	name, prog, err := user.Lookup(header)
	if err != nil {
		slog.Error("hart: cannot decode user image", "pc", fmt.Sprintf("0x%x", pc), "err", err)
		cpu.Trap(cpu.CauseIllegalInstruction, 0, &cpu.Registers{PC: pc})
		return
	}

	slog.Debug("hart: entering user program", "name", name, "pc", fmt.Sprintf("0x%x", pc))

	rt := user.NewRuntime(mem, pc)
	prog(rt)

	// Returning from main exits the program.
	rt.Exit()
}
