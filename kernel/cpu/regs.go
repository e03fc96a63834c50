package cpu

// Registers is a snapshot of the integer register file (x1-x31) and the
// program counter of a hart at the moment it trapped into S-mode.
type Registers struct {
	RA, SP, GP, TP         uint32
	T0, T1, T2             uint32
	S0, S1                 uint32
	A0, A1, A2, A3         uint32
	A4, A5, A6, A7         uint32
	S2, S3, S4, S5, S6, S7 uint32
	S8, S9, S10, S11       uint32
	T3, T4, T5, T6         uint32

	PC uint32
}
