package machine

import (
	"bufio"
	"io"
	"log/slog"
	"sync"

	"rvos/kernel/sbi"
)

// Firmware implements the legacy SBI console extensions on top of a host
// terminal. Input is read by a background goroutine so that getchar never
// blocks the hart.
type Firmware struct {
	mu  sync.Mutex
	out *bufio.Writer

	in chan byte

	// drained is closed once the input stream ended and every byte was
	// handed to the kernel.
	drained   chan struct{}
	drainOnce sync.Once
}

// NewFirmware returns firmware reading console input from r and writing
// console output to w.
func NewFirmware(r io.Reader, w io.Writer) *Firmware {
	fw := &Firmware{
		out:     bufio.NewWriter(w),
		in:      make(chan byte, 64),
		drained: make(chan struct{}),
	}

	go fw.readInput(bufio.NewReader(r))
	return fw
}

func (fw *Firmware) readInput(r *bufio.Reader) {
	for {
		ch, err := r.ReadByte()
		if err != nil {
			if err != io.EOF {
				slog.Warn("firmware: console input failed", "err", err)
			}
			close(fw.in)
			return
		}

		fw.in <- ch
	}
}

// Call implements sbi.Firmware.
func (fw *Firmware) Call(eid, fid int32, args [6]uint32) sbi.Ret {
	switch eid {
	case sbi.EIDConsolePutChar:
		fw.putChar(byte(args[0]))
		return sbi.Ret{}
	case sbi.EIDConsoleGetChar:
		return sbi.Ret{Error: fw.getChar()}
	}

	slog.Warn("firmware: unsupported call", "eid", eid, "fid", fid)
	return sbi.Ret{Error: sbi.ErrNotSupported}
}

func (fw *Firmware) putChar(ch byte) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.out.WriteByte(ch)
	if ch == '\n' {
		fw.out.Flush()
	}
}

// getChar returns the next input byte or -1 if none is pending.
func (fw *Firmware) getChar() int32 {
	// Anything the user is expected to react to must be visible first.
	fw.Flush()

	select {
	case ch, ok := <-fw.in:
		if !ok {
			fw.drainOnce.Do(func() { close(fw.drained) })
			return -1
		}
		return int32(ch)
	default:
		return -1
	}
}

// Flush writes out buffered console output.
func (fw *Firmware) Flush() {
	fw.mu.Lock()
	fw.out.Flush()
	fw.mu.Unlock()
}

// InputDrained returns a channel that is closed once console input reached
// EOF and the kernel polled past its last byte.
func (fw *Firmware) InputDrained() <-chan struct{} {
	return fw.drained
}
