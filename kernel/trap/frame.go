package trap

import (
	"bytes"
	"encoding/binary"
	"io"

	"rvos/kernel/cpu"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
)

// frameSize is the number of bytes a TrapFrame occupies on the kernel stack.
const frameSize = 31 * 4

// TrapFrame contains a snapshot of the integer registers of the interrupted
// context. It is stored at the top of the kernel stack of the process that
// trapped, in the field order below.
type TrapFrame struct {
	RA, GP, TP                     uint32
	T0, T1, T2, T3, T4, T5, T6     uint32
	A0, A1, A2, A3, A4, A5, A6, A7 uint32
	S0, S1, S2, S3, S4, S5         uint32
	S6, S7, S8, S9, S10, S11       uint32
	SP                             uint32
}

// saveFrame captures regs with sp replaced by userSP.
func saveFrame(regs *cpu.Registers, userSP uint32) TrapFrame {
	return TrapFrame{
		RA: regs.RA, GP: regs.GP, TP: regs.TP,
		T0: regs.T0, T1: regs.T1, T2: regs.T2, T3: regs.T3, T4: regs.T4, T5: regs.T5, T6: regs.T6,
		A0: regs.A0, A1: regs.A1, A2: regs.A2, A3: regs.A3, A4: regs.A4, A5: regs.A5, A6: regs.A6, A7: regs.A7,
		S0: regs.S0, S1: regs.S1, S2: regs.S2, S3: regs.S3, S4: regs.S4, S5: regs.S5,
		S6: regs.S6, S7: regs.S7, S8: regs.S8, S9: regs.S9, S10: regs.S10, S11: regs.S11,
		SP: userSP,
	}
}

// restore loads the frame into regs.
func (f *TrapFrame) restore(regs *cpu.Registers) {
	regs.RA, regs.GP, regs.TP = f.RA, f.GP, f.TP
	regs.T0, regs.T1, regs.T2, regs.T3, regs.T4, regs.T5, regs.T6 = f.T0, f.T1, f.T2, f.T3, f.T4, f.T5, f.T6
	regs.A0, regs.A1, regs.A2, regs.A3, regs.A4, regs.A5, regs.A6, regs.A7 = f.A0, f.A1, f.A2, f.A3, f.A4, f.A5, f.A6, f.A7
	regs.S0, regs.S1, regs.S2, regs.S3, regs.S4, regs.S5 = f.S0, f.S1, f.S2, f.S3, f.S4, f.S5
	regs.S6, regs.S7, regs.S8, regs.S9, regs.S10, regs.S11 = f.S6, f.S7, f.S8, f.S9, f.S10, f.S11
	regs.SP = f.SP
}

// store writes the frame to physical memory at addr.
func (f *TrapFrame) store(addr mm.PhysAddr) {
	var buf bytes.Buffer
	// Writes to a bytes.Buffer of a fixed-size struct never fail.
	binary.Write(&buf, binary.LittleEndian, f)
	mm.WriteBytes(addr, buf.Bytes())
}

// loadFrame reads a frame from physical memory at addr.
func loadFrame(addr mm.PhysAddr) TrapFrame {
	var (
		raw [frameSize]byte
		f   TrapFrame
	)

	mm.ReadBytes(addr, raw[:])
	// raw holds exactly frameSize bytes so decoding cannot fail.
	binary.Read(bytes.NewReader(raw[:]), binary.LittleEndian, &f)
	return f
}

// DumpTo outputs the register contents to w.
func (f *TrapFrame) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "ra  = %8x sp  = %8x gp  = %8x tp  = %8x\n", f.RA, f.SP, f.GP, f.TP)
	kfmt.Fprintf(w, "t0  = %8x t1  = %8x t2  = %8x t3  = %8x\n", f.T0, f.T1, f.T2, f.T3)
	kfmt.Fprintf(w, "t4  = %8x t5  = %8x t6  = %8x\n", f.T4, f.T5, f.T6)
	kfmt.Fprintf(w, "a0  = %8x a1  = %8x a2  = %8x a3  = %8x\n", f.A0, f.A1, f.A2, f.A3)
	kfmt.Fprintf(w, "a4  = %8x a5  = %8x a6  = %8x a7  = %8x\n", f.A4, f.A5, f.A6, f.A7)
	kfmt.Fprintf(w, "s0  = %8x s1  = %8x s2  = %8x s3  = %8x\n", f.S0, f.S1, f.S2, f.S3)
	kfmt.Fprintf(w, "s4  = %8x s5  = %8x s6  = %8x s7  = %8x\n", f.S4, f.S5, f.S6, f.S7)
	kfmt.Fprintf(w, "s8  = %8x s9  = %8x s10 = %8x s11 = %8x\n", f.S8, f.S9, f.S10, f.S11)
}
