// Package virtio implements a polled driver for legacy (version 1)
// virtio-mmio block devices.
package virtio

import "rvos/kernel/mm"

// MMIOBase is the physical address of the block device register window.
const MMIOBase = mm.PhysAddr(0x10001000)

// Legacy virtio-mmio register offsets.
const (
	RegMagic         = 0x00
	RegVersion       = 0x04
	RegDeviceID      = 0x08
	RegGuestPageSize = 0x28
	RegQueueSel      = 0x30
	RegQueueNumMax   = 0x34
	RegQueueNum      = 0x38
	RegQueueAlign    = 0x3c
	RegQueuePFN      = 0x40
	RegQueueNotify   = 0x50
	RegDeviceStatus  = 0x70
	RegDeviceConfig  = 0x100
)

// Device status bits.
const (
	StatusAck       = 1
	StatusDriver    = 2
	StatusDriverOK  = 4
	StatusFeatureOK = 8
)

const (
	// Magic is the value of RegMagic ("virt" in little-endian).
	Magic = 0x74726976

	// LegacyVersion is the only transport version supported.
	LegacyVersion = 1

	// DeviceIDBlock identifies a block device.
	DeviceIDBlock = 2
)

// regs is a view over a device register window.
type regs mm.PhysAddr

func (r regs) read32(offset uint32) uint32 {
	return mm.Read32(mm.PhysAddr(r) + mm.PhysAddr(offset))
}

func (r regs) read64(offset uint32) uint64 {
	return uint64(r.read32(offset)) | uint64(r.read32(offset+4))<<32
}

func (r regs) write32(offset, value uint32) {
	mm.Write32(mm.PhysAddr(r)+mm.PhysAddr(offset), value)
}

// setStatus ORs bits into the device status register.
func (r regs) setStatus(bits uint32) {
	r.write32(RegDeviceStatus, r.read32(RegDeviceStatus)|bits)
}
