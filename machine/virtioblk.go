package machine

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"rvos/device/virtio"
	"rvos/kernel/mm"
)

const (
	// vendorID reads as "QEMU".
	vendorID = 0x554d4551

	regVendorID     = 0x0c
	regHostFeatures = 0x10

	// Request status values written to the status descriptor.
	blkStatusOK     = 0
	blkStatusIOErr  = 1
	blkStatusUnsupp = 2

	descSize     = 16
	usedElemSize = 8
)

// Disk is the storage backing a VirtioBlk.
type Disk interface {
	io.ReaderAt
	io.WriterAt
}

// VirtioBlk models a legacy virtio-mmio block device with a single queue.
// Register accesses arrive from the kernel through the physical memory bus;
// requests are processed by a device goroutine that is woken by writes to
// the queue notify register.
type VirtioBlk struct {
	disk     Disk
	capacity uint64

	mu            sync.Mutex
	status        uint32
	guestPageSize uint32
	queueSel      uint32
	queueNum      uint32
	queueAlign    uint32
	queuePFN      uint32
	lastAvail     uint16

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewVirtioBlk returns a device serving capacity bytes of disk and starts its
// request processing goroutine.
func NewVirtioBlk(disk Disk, capacity uint64) *VirtioBlk {
	dev := &VirtioBlk{
		disk:          disk,
		capacity:      capacity,
		guestPageSize: mm.PageSize,
		queueAlign:    mm.PageSize,
		notify:        make(chan struct{}, 1),
		done:          make(chan struct{}),
	}

	dev.wg.Add(1)
	go dev.run()

	return dev
}

// Close stops the device goroutine.
func (dev *VirtioBlk) Close() {
	close(dev.done)
	dev.wg.Wait()
}

// Read32 implements mm.IODevice.
func (dev *VirtioBlk) Read32(offset uint32) uint32 {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	switch offset {
	case virtio.RegMagic:
		return virtio.Magic
	case virtio.RegVersion:
		return virtio.LegacyVersion
	case virtio.RegDeviceID:
		return virtio.DeviceIDBlock
	case regVendorID:
		return vendorID
	case regHostFeatures:
		return 0
	case virtio.RegQueueNumMax:
		if dev.queueSel != 0 {
			return 0
		}
		return virtio.QueueEntries
	case virtio.RegQueuePFN:
		return dev.queuePFN
	case virtio.RegDeviceStatus:
		return dev.status
	case virtio.RegDeviceConfig:
		return uint32(dev.capacity / virtio.SectorSize)
	case virtio.RegDeviceConfig + 4:
		return uint32(dev.capacity / virtio.SectorSize >> 32)
	}

	slog.Debug("virtio-blk: read from unknown register", "offset", fmt.Sprintf("0x%x", offset))
	return 0
}

// Write32 implements mm.IODevice.
func (dev *VirtioBlk) Write32(offset, value uint32) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	switch offset {
	case virtio.RegDeviceStatus:
		if value == 0 {
			dev.reset()
			return
		}
		dev.status = value
		slog.Debug("virtio-blk: status", "value", value)
	case virtio.RegGuestPageSize:
		dev.guestPageSize = value
	case virtio.RegQueueSel:
		dev.queueSel = value
	case virtio.RegQueueNum:
		if value > virtio.QueueEntries {
			slog.Warn("virtio-blk: queue size exceeds maximum", "num", value)
			value = virtio.QueueEntries
		}
		dev.queueNum = value
	case virtio.RegQueueAlign:
		dev.queueAlign = value
	case virtio.RegQueuePFN:
		dev.queuePFN = value
		dev.lastAvail = 0
		slog.Debug("virtio-blk: queue registered", "base", fmt.Sprintf("0x%x", dev.queueBase()))
	case virtio.RegQueueNotify:
		select {
		case dev.notify <- struct{}{}:
		default:
		}
	default:
		slog.Debug("virtio-blk: write to unknown register", "offset", fmt.Sprintf("0x%x", offset), "value", value)
	}
}

// reset returns the device to its power-on state. The caller must hold mu.
func (dev *VirtioBlk) reset() {
	dev.status = 0
	dev.queueSel = 0
	dev.queueNum = 0
	dev.queuePFN = 0
	dev.lastAvail = 0
}

// queueBase returns the physical address of the descriptor table. The caller
// must hold mu.
func (dev *VirtioBlk) queueBase() mm.PhysAddr {
	return mm.PhysAddr(dev.queuePFN * dev.guestPageSize)
}

func (dev *VirtioBlk) run() {
	defer dev.wg.Done()

	for {
		select {
		case <-dev.done:
			return
		case <-dev.notify:
			dev.processQueue()
		}
	}
}

// queueLayout holds the guest addresses of the three parts of a virtqueue.
type queueLayout struct {
	num               uint16
	desc, avail, used mm.PhysAddr
}

func (dev *VirtioBlk) layout() (queueLayout, bool) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.queuePFN == 0 || dev.queueNum == 0 || dev.status&virtio.StatusDriverOK == 0 {
		return queueLayout{}, false
	}

	l := queueLayout{
		num:  uint16(dev.queueNum),
		desc: dev.queueBase(),
	}
	l.avail = l.desc + mm.PhysAddr(uint32(l.num)*descSize)

	// The used ring starts at the first queueAlign boundary past the
	// available ring (flags, idx, ring, used_event).
	l.used = mm.PhysAddr(mm.AlignUp(uint32(l.avail)+6+2*uint32(l.num), dev.queueAlign))
	return l, true
}

// processQueue consumes every chain published in the available ring.
func (dev *VirtioBlk) processQueue() {
	l, ok := dev.layout()
	if !ok {
		slog.Warn("virtio-blk: notify before the queue is live")
		return
	}

	for {
		dev.mu.Lock()
		lastAvail := dev.lastAvail
		dev.mu.Unlock()

		if lastAvail == mm.Read16(l.avail+2) {
			return
		}

		head := mm.Read16(l.avail + 4 + mm.PhysAddr(lastAvail%l.num)*2)
		written := dev.serve(l, head)

		usedIndex := mm.Read16(l.used + 2)
		elem := l.used + 4 + mm.PhysAddr(usedIndex%l.num)*usedElemSize
		mm.Write32(elem, uint32(head))
		mm.Write32(elem+4, written)
		mm.Write16(l.used+2, usedIndex+1)

		dev.mu.Lock()
		dev.lastAvail++
		dev.mu.Unlock()
	}
}

type desc struct {
	addr  mm.PhysAddr
	len   uint32
	flags uint16
}

// chain returns the descriptors linked from head.
func (l queueLayout) chain(head uint16) []desc {
	var descs []desc

	for i := head; len(descs) < int(l.num); {
		addr := l.desc + mm.PhysAddr(uint32(i%l.num)*descSize)
		d := desc{
			addr:  mm.PhysAddr(mm.Read64(addr)),
			len:   mm.Read32(addr + 8),
			flags: mm.Read16(addr + 12),
		}
		descs = append(descs, d)

		if d.flags&virtio.DescFlagNext == 0 {
			break
		}
		i = mm.Read16(addr + 14)
	}

	return descs
}

// serve executes the request chain starting at head and returns the number
// of bytes written to guest memory.
func (dev *VirtioBlk) serve(l queueLayout, head uint16) uint32 {
	descs := l.chain(head)
	if len(descs) < 2 {
		slog.Warn("virtio-blk: malformed request chain", "head", head, "descriptors", len(descs))
		return 0
	}

	var (
		hdr     = descs[0]
		status  = descs[len(descs)-1]
		data    = descs[1 : len(descs)-1]
		reqType = mm.Read32(hdr.addr)
		sector  = mm.Read64(hdr.addr + 8)
		written uint32
	)

	result := uint8(blkStatusOK)
	off := sector * virtio.SectorSize

	switch reqType {
	case virtio.BlkTypeIn, virtio.BlkTypeOut:
		for _, d := range data {
			if err := dev.transfer(d, off, reqType == virtio.BlkTypeIn); err != nil {
				slog.Warn("virtio-blk: request failed", "sector", sector, "err", err)
				result = blkStatusIOErr
				break
			}

			if reqType == virtio.BlkTypeIn {
				written += d.len
			}
			off += uint64(d.len)
		}
	default:
		slog.Warn("virtio-blk: unsupported request", "type", reqType)
		result = blkStatusUnsupp
	}

	slog.Debug("virtio-blk: request", "type", reqType, "sector", sector, "status", result)
	mm.Write8(status.addr, result)

	return written + 1
}

// transfer moves the buffer described by d to or from the disk at off.
func (dev *VirtioBlk) transfer(d desc, off uint64, toGuest bool) error {
	if off+uint64(d.len) > dev.capacity {
		return fmt.Errorf("offset %d is past the end of the disk", off)
	}

	if toGuest != (d.flags&virtio.DescFlagWrite != 0) {
		return fmt.Errorf("data descriptor has wrong direction")
	}

	buf := make([]byte, d.len)
	if toGuest {
		if _, err := dev.disk.ReadAt(buf, int64(off)); err != nil && err != io.EOF {
			return err
		}
		mm.WriteBytes(d.addr, buf)
		return nil
	}

	mm.ReadBytes(d.addr, buf)
	_, err := dev.disk.WriteAt(buf, int64(off))
	return err
}
