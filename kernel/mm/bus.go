package mm

import (
	"encoding/binary"
	"sync"

	"rvos/kernel"
	"rvos/kernel/kfmt"
)

// IODevice is a memory-mapped device window. Offsets are relative to the
// base address the device was mapped at. Only naturally aligned 32-bit
// accesses reach a device.
type IODevice interface {
	Read32(offset uint32) uint32
	Write32(offset uint32, value uint32)
}

type ioRegion struct {
	base PhysAddr
	size uint32
	dev  IODevice
}

// bus routes physical memory accesses either to RAM or to a device window.
// The kernel and the device models touch RAM from different goroutines so
// every RAM access holds the lock; device callbacks run without it so a
// device can access RAM while servicing a register write.
var bus struct {
	sync.Mutex
	ramBase PhysAddr
	ram     []byte
	io      []ioRegion
}

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	errBusFault = &kernel.Error{Module: "mm", Message: "access to unmapped physical address"}
)

// SetRAM attaches ram as the physical memory starting at base. Any previous
// RAM and device mappings are discarded.
func SetRAM(base PhysAddr, ram []byte) {
	bus.Lock()
	bus.ramBase = base
	bus.ram = ram
	bus.io = nil
	bus.Unlock()
}

// MapIO maps a device window of size bytes at base.
func MapIO(base PhysAddr, size uint32, dev IODevice) {
	bus.Lock()
	bus.io = append(bus.io, ioRegion{base: base, size: size, dev: dev})
	bus.Unlock()
}

// ramSlice returns the RAM backing [addr, addr+size). The caller must hold
// the bus lock. A nil slice is returned if the range is not backed by RAM.
func ramSlice(addr PhysAddr, size uint32) []byte {
	if addr < bus.ramBase {
		return nil
	}

	offset := uint64(addr - bus.ramBase)
	if offset+uint64(size) > uint64(len(bus.ram)) {
		return nil
	}

	return bus.ram[offset : offset+uint64(size)]
}

func ioLookup(addr PhysAddr) (IODevice, uint32) {
	bus.Lock()
	defer bus.Unlock()
	for _, r := range bus.io {
		if addr >= r.base && uint32(addr-r.base) < r.size {
			return r.dev, uint32(addr - r.base)
		}
	}
	return nil, 0
}

// access runs fn against the RAM backing [addr, addr+size) while holding the
// bus lock. It returns false if the range is not backed by RAM.
func access(addr PhysAddr, size uint32, fn func([]byte)) bool {
	bus.Lock()
	defer bus.Unlock()

	mem := ramSlice(addr, size)
	if mem == nil {
		return false
	}

	fn(mem)
	return true
}

// Read8 loads a byte from physical memory.
func Read8(addr PhysAddr) uint8 {
	var v uint8
	if !access(addr, 1, func(b []byte) { v = b[0] }) {
		panicFn(errBusFault)
	}
	return v
}

// Read16 loads a little-endian half-word from physical memory.
func Read16(addr PhysAddr) uint16 {
	var v uint16
	if !access(addr, 2, func(b []byte) { v = binary.LittleEndian.Uint16(b) }) {
		panicFn(errBusFault)
	}
	return v
}

// Read32 loads a little-endian word from physical memory or from a device
// register.
func Read32(addr PhysAddr) uint32 {
	var v uint32
	if access(addr, 4, func(b []byte) { v = binary.LittleEndian.Uint32(b) }) {
		return v
	}

	if dev, offset := ioLookup(addr); dev != nil {
		return dev.Read32(offset)
	}

	panicFn(errBusFault)
	return 0
}

// Read64 loads a little-endian double-word from physical memory.
func Read64(addr PhysAddr) uint64 {
	var v uint64
	if !access(addr, 8, func(b []byte) { v = binary.LittleEndian.Uint64(b) }) {
		panicFn(errBusFault)
	}
	return v
}

// Write8 stores a byte to physical memory.
func Write8(addr PhysAddr, v uint8) {
	if !access(addr, 1, func(b []byte) { b[0] = v }) {
		panicFn(errBusFault)
	}
}

// Write16 stores a little-endian half-word to physical memory.
func Write16(addr PhysAddr, v uint16) {
	if !access(addr, 2, func(b []byte) { binary.LittleEndian.PutUint16(b, v) }) {
		panicFn(errBusFault)
	}
}

// Write32 stores a little-endian word to physical memory or to a device
// register.
func Write32(addr PhysAddr, v uint32) {
	if access(addr, 4, func(b []byte) { binary.LittleEndian.PutUint32(b, v) }) {
		return
	}

	if dev, offset := ioLookup(addr); dev != nil {
		dev.Write32(offset, v)
		return
	}

	panicFn(errBusFault)
}

// Write64 stores a little-endian double-word to physical memory.
func Write64(addr PhysAddr, v uint64) {
	if !access(addr, 8, func(b []byte) { binary.LittleEndian.PutUint64(b, v) }) {
		panicFn(errBusFault)
	}
}

// ReadBytes copies len(p) bytes starting at addr into p.
func ReadBytes(addr PhysAddr, p []byte) {
	if !access(addr, uint32(len(p)), func(b []byte) { copy(p, b) }) {
		panicFn(errBusFault)
	}
}

// WriteBytes copies p into physical memory starting at addr.
func WriteBytes(addr PhysAddr, p []byte) {
	if !access(addr, uint32(len(p)), func(b []byte) { copy(b, p) }) {
		panicFn(errBusFault)
	}
}
