// Package sbi issues calls to the supervisor binary interface implemented by
// the machine firmware.
package sbi

// Legacy SBI extension IDs.
const (
	EIDConsolePutChar = 0x01
	EIDConsoleGetChar = 0x02
)

// ErrNotSupported is returned in Ret.Error when no firmware handles a call.
const ErrNotSupported = -2

// Ret holds the a0/a1 pair returned by a firmware call.
type Ret struct {
	Error int32
	Value int32
}

// Firmware services ecalls issued from S-mode.
type Firmware interface {
	Call(eid, fid int32, args [6]uint32) Ret
}

var firmware Firmware

// SetFirmware registers the firmware that services Call.
func SetFirmware(fw Firmware) {
	firmware = fw
}

// Call issues an SBI call with extension eid, function fid and up to six
// arguments (a0-a5).
func Call(arg0, arg1, arg2, arg3, arg4, arg5 uint32, fid, eid int32) Ret {
	if firmware == nil {
		return Ret{Error: ErrNotSupported}
	}

	return firmware.Call(eid, fid, [6]uint32{arg0, arg1, arg2, arg3, arg4, arg5})
}

// PutChar writes ch to the firmware console.
func PutChar(ch byte) {
	Call(uint32(ch), 0, 0, 0, 0, 0, 0, EIDConsolePutChar)
}

// GetChar polls the firmware console. It returns -1 when no character is
// available and never blocks.
func GetChar() int32 {
	return Call(0, 0, 0, 0, 0, 0, 0, EIDConsoleGetChar).Error
}

// Console is an io.Writer that sends its output to the firmware console.
type Console struct{}

// Write implements io.Writer.
func (Console) Write(p []byte) (int, error) {
	for _, ch := range p {
		PutChar(ch)
	}

	return len(p), nil
}
