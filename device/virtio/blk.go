package virtio

import (
	"io"

	"rvos/device"
	"rvos/kernel"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
	"rvos/kernel/mm/pmm"
)

// SectorSize is the block size of the device.
const SectorSize = 512

// Block request types.
const (
	BlkTypeIn  = 0
	BlkTypeOut = 1
)

// Layout of the block request buffer. The header (type, reserved, sector) is
// read by the device, data is read or written depending on the request type,
// status is written by the device.
const (
	reqTypeOff     = 0
	reqReservedOff = 4
	reqSectorOff   = 8
	reqHeaderSize  = 16
	reqDataOff     = reqHeaderSize
	reqStatusOff   = reqDataOff + SectorSize
	reqSize        = reqStatusOff + 1
)

var (
	errBadMagic    = &kernel.Error{Module: "virtio", Message: "invalid magic value"}
	errBadVersion  = &kernel.Error{Module: "virtio", Message: "invalid version"}
	errBadDeviceID = &kernel.Error{Module: "virtio", Message: "invalid device id"}
)

// BlkDriver drives a legacy virtio block device with a single virtqueue.
type BlkDriver struct {
	regs  regs
	queue *Queue

	// req is the physical address of the request buffer reused by every
	// transfer.
	req mm.PhysAddr

	capacity uint64
}

// DriverName implements device.Driver.
func (drv *BlkDriver) DriverName() string {
	return "virtio-blk"
}

// DriverVersion implements device.Driver.
func (drv *BlkDriver) DriverVersion() (uint16, uint16, uint16) {
	return 1, 0, 0
}

// DriverInit validates the device identity, performs the status handshake,
// registers the request queue and reads the device capacity.
func (drv *BlkDriver) DriverInit(w io.Writer) *kernel.Error {
	switch {
	case drv.regs.read32(RegMagic) != Magic:
		return errBadMagic
	case drv.regs.read32(RegVersion) != LegacyVersion:
		return errBadVersion
	case drv.regs.read32(RegDeviceID) != DeviceIDBlock:
		return errBadDeviceID
	}

	drv.regs.write32(RegDeviceStatus, 0)
	drv.regs.setStatus(StatusAck)
	drv.regs.setStatus(StatusDriver)
	drv.regs.setStatus(StatusFeatureOK)

	drv.regs.write32(RegGuestPageSize, mm.PageSize)
	drv.queue = newQueue(drv.regs, 0)

	drv.regs.setStatus(StatusDriverOK)

	drv.capacity = drv.regs.read64(RegDeviceConfig) * SectorSize
	kfmt.Fprintf(w, "capacity is %d bytes\n", drv.capacity)

	drv.req = pmm.AllocPages(mm.Size(reqSize).Pages())
	return nil
}

// Capacity implements device.BlockDevice.
func (drv *BlkDriver) Capacity() uint64 {
	return drv.capacity
}

// ReadWriteDisk transfers one sector between buf and the disk. Requests for
// sectors past the end of the device are logged and ignored. A request the
// device completes with an error status is logged; reads then leave buf
// untouched.
func (drv *BlkDriver) ReadWriteDisk(buf []byte, sector uint64, isWrite bool) {
	if sector >= drv.capacity/SectorSize {
		kfmt.Printf("virtio: tried to read/write sector=%d, but capacity is %d\n", sector, drv.capacity/SectorSize)
		return
	}

	reqType := uint32(BlkTypeIn)
	dataFlags := uint16(DescFlagWrite)
	if isWrite {
		reqType = BlkTypeOut
		dataFlags = 0
		mm.WriteBytes(drv.req+reqDataOff, buf[:SectorSize])
	}

	mm.Write32(drv.req+reqTypeOff, reqType)
	mm.Write32(drv.req+reqReservedOff, 0)
	mm.Write64(drv.req+reqSectorOff, sector)
	mm.Write8(drv.req+reqStatusOff, 0xff)

	drv.queue.Transfer([]Desc{
		{Addr: drv.req, Len: reqHeaderSize},
		{Addr: drv.req + reqDataOff, Len: SectorSize, Flags: dataFlags},
		{Addr: drv.req + reqStatusOff, Len: 1, Flags: DescFlagWrite},
	})

	if status := mm.Read8(drv.req + reqStatusOff); status != 0 {
		kfmt.Printf("virtio: warn: failed to read/write sector=%d status=%d\n", sector, status)
		return
	}

	if !isWrite {
		mm.ReadBytes(drv.req+reqDataOff, buf[:SectorSize])
	}
}

func probeForBlockDevice() device.Driver {
	return &BlkDriver{regs: regs(MMIOBase)}
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderBus,
		Probe: probeForBlockDevice,
	})
}
