package virtio

import (
	"bytes"
	"fmt"
	"testing"

	"rvos/kernel"
	"rvos/kernel/cpu"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
	"rvos/kernel/mm/pmm"
)

const (
	ramBase = mm.PhysAddr(0x80000000)
	ramSize = 64 * mm.PageSize
)

// fakeBlk emulates a legacy virtio-mmio block device. When autoComplete is
// set, requests are processed synchronously as part of the notify write.
type fakeBlk struct {
	magic, version, deviceID uint32

	status, pfn, pageSize, align uint32

	disk         []byte
	failStatus   uint8
	autoComplete bool

	trace *[]string
}

func newFakeBlk(sectors int, trace *[]string) *fakeBlk {
	return &fakeBlk{
		magic:        Magic,
		version:      LegacyVersion,
		deviceID:     DeviceIDBlock,
		disk:         make([]byte, sectors*SectorSize),
		autoComplete: true,
		trace:        trace,
	}
}

func (d *fakeBlk) Read32(offset uint32) uint32 {
	switch offset {
	case RegMagic:
		return d.magic
	case RegVersion:
		return d.version
	case RegDeviceID:
		return d.deviceID
	case RegQueueNumMax:
		return QueueEntries
	case RegDeviceStatus:
		return d.status
	case RegDeviceConfig:
		return uint32(len(d.disk) / SectorSize)
	case RegDeviceConfig + 4:
		return 0
	}
	return 0
}

func (d *fakeBlk) Write32(offset uint32, value uint32) {
	*d.trace = append(*d.trace, fmt.Sprintf("w 0x%x=0x%x", offset, value))

	switch offset {
	case RegDeviceStatus:
		d.status = value
	case RegGuestPageSize:
		d.pageSize = value
	case RegQueueAlign:
		d.align = value
	case RegQueuePFN:
		d.pfn = value
	case RegQueueNotify:
		if d.autoComplete {
			d.complete()
		}
	}
}

// complete processes the chain published in the last available ring slot.
func (d *fakeBlk) complete() {
	base := mm.PhysAddr(d.pfn * d.pageSize)
	availIndex := mm.Read16(base + availIndexOff)
	head := mm.Read16(base + availRingOffset + mm.PhysAddr((availIndex-1)%QueueEntries)*2)

	desc := func(i uint16) (mm.PhysAddr, uint32, uint16, uint16) {
		addr := base + mm.PhysAddr(i)*descSize
		return mm.PhysAddr(mm.Read64(addr)), mm.Read32(addr + 8), mm.Read16(addr + 12), mm.Read16(addr + 14)
	}

	hdrAddr, _, _, next := desc(head)
	dataAddr, dataLen, dataFlags, next := desc(next)
	statusAddr, _, _, _ := desc(next)

	reqType := mm.Read32(hdrAddr)
	sector := mm.Read64(hdrAddr + 8)
	off := int(sector) * SectorSize

	switch {
	case d.failStatus != 0:
		mm.Write8(statusAddr, d.failStatus)
	case reqType == BlkTypeIn && dataFlags&DescFlagWrite != 0:
		mm.WriteBytes(dataAddr, d.disk[off:off+int(dataLen)])
		mm.Write8(statusAddr, 0)
	case reqType == BlkTypeOut && dataFlags&DescFlagWrite == 0:
		mm.ReadBytes(dataAddr, d.disk[off:off+int(dataLen)])
		mm.Write8(statusAddr, 0)
	default:
		mm.Write8(statusAddr, 2)
	}

	usedIndex := mm.Read16(base + usedIndexOff)
	elem := base + usedRingOffset + mm.PhysAddr(usedIndex%QueueEntries)*usedElemSize
	mm.Write32(elem, uint32(head))
	mm.Write32(elem+4, dataLen)
	mm.Write16(base+usedIndexOff, usedIndex+1)
}

func setupDevice(t *testing.T, sectors int) (*fakeBlk, *[]string) {
	mm.SetRAM(ramBase, make([]byte, ramSize))
	pmm.Init(ramBase, ramBase+mm.PhysAddr(ramSize))

	trace := &[]string{}
	dev := newFakeBlk(sectors, trace)
	mm.MapIO(MMIOBase, mm.PageSize, dev)

	t.Cleanup(func() {
		barrierFn = cpu.MemoryBarrier
		pauseFn = cpu.Pause
		mm.SetFrameAllocator(nil)
		mm.SetRAM(0, nil)
		kfmt.SetOutputSink(nil)
	})

	return dev, trace
}

func TestDriverInitHandshake(t *testing.T) {
	dev, trace := setupDevice(t, 20)

	var buf bytes.Buffer
	drv := probeForBlockDevice().(*BlkDriver)
	if err := drv.DriverInit(&buf); err != nil {
		t.Fatal(err)
	}

	exp := []string{
		"w 0x70=0x0",
		"w 0x70=0x1",
		"w 0x70=0x3",
		"w 0x70=0xb",
		"w 0x28=0x1000",
		"w 0x30=0x0",
		"w 0x38=0x10",
		"w 0x3c=0x1000",
		fmt.Sprintf("w 0x40=0x%x", dev.pfn),
		"w 0x70=0xf",
	}

	if fmt.Sprint(*trace) != fmt.Sprint(exp) {
		t.Fatalf("expected register writes:\n%v\ngot:\n%v", exp, *trace)
	}

	if got := mm.PhysAddr(dev.pfn * mm.PageSize); !got.IsAligned() || got != drv.queue.base {
		t.Fatalf("expected queue pfn to point at the queue base 0x%x; got 0x%x", drv.queue.base, got)
	}

	if exp := uint64(20 * SectorSize); drv.Capacity() != exp {
		t.Fatalf("expected capacity %d; got %d", exp, drv.Capacity())
	}

	if exp := "capacity is 10240 bytes\n"; buf.String() != exp {
		t.Fatalf("expected init output %q; got %q", exp, buf.String())
	}

	if drv.DriverName() != "virtio-blk" {
		t.Fatalf("unexpected driver name %q", drv.DriverName())
	}

	if major, minor, patch := drv.DriverVersion(); major != 1 || minor != 0 || patch != 0 {
		t.Fatalf("unexpected driver version %d.%d.%d", major, minor, patch)
	}
}

func TestDriverInitBadDevice(t *testing.T) {
	specs := []struct {
		mutate func(*fakeBlk)
		expErr *kernel.Error
	}{
		{func(d *fakeBlk) { d.magic = 0xdeadbeef }, errBadMagic},
		{func(d *fakeBlk) { d.version = 2 }, errBadVersion},
		{func(d *fakeBlk) { d.deviceID = 1 }, errBadDeviceID},
	}

	for specIndex, spec := range specs {
		dev, trace := setupDevice(t, 20)
		spec.mutate(dev)

		drv := probeForBlockDevice().(*BlkDriver)
		if err := drv.DriverInit(&bytes.Buffer{}); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}

		if len(*trace) != 0 {
			t.Errorf("[spec %d] expected no register writes after a failed identity check; got %v", specIndex, *trace)
		}
	}
}

func TestReadWriteDisk(t *testing.T) {
	dev, _ := setupDevice(t, 8)

	drv := probeForBlockDevice().(*BlkDriver)
	if err := drv.DriverInit(&bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}

	out := bytes.Repeat([]byte("0123456789abcdef"), SectorSize/16)
	drv.ReadWriteDisk(out, 3, true)

	if !bytes.Equal(dev.disk[3*SectorSize:4*SectorSize], out) {
		t.Fatal("expected sector 3 to contain the written data")
	}

	in := make([]byte, SectorSize)
	drv.ReadWriteDisk(in, 3, false)
	if !bytes.Equal(in, out) {
		t.Fatal("expected to read back the written sector")
	}

	if drv.queue.lastUsedIndex != 2 {
		t.Fatalf("expected two completed requests; got %d", drv.queue.lastUsedIndex)
	}
}

func TestReadWriteDiskOutOfRange(t *testing.T) {
	_, trace := setupDevice(t, 8)

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	drv := probeForBlockDevice().(*BlkDriver)
	drv.DriverInit(&bytes.Buffer{})
	*trace = (*trace)[:0]

	in := bytes.Repeat([]byte{0x55}, SectorSize)
	drv.ReadWriteDisk(in, 8, false)

	if len(*trace) != 0 {
		t.Fatalf("expected an out of range request to leave the device untouched; got %v", *trace)
	}

	if in[0] != 0x55 {
		t.Fatal("expected the buffer to be left untouched")
	}

	if exp := "virtio: tried to read/write sector=8, but capacity is 8\n"; buf.String() != exp {
		t.Fatalf("expected log %q; got %q", exp, buf.String())
	}
}

func TestReadWriteDiskDeviceError(t *testing.T) {
	dev, _ := setupDevice(t, 8)

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	drv := probeForBlockDevice().(*BlkDriver)
	drv.DriverInit(&bytes.Buffer{})

	copy(dev.disk, bytes.Repeat([]byte{0xaa}, SectorSize))
	dev.failStatus = 1

	in := make([]byte, SectorSize)
	drv.ReadWriteDisk(in, 0, false)

	if in[0] != 0 {
		t.Fatal("expected a failed read to leave the buffer untouched")
	}

	if exp := "virtio: warn: failed to read/write sector=0 status=1\n"; buf.String() != exp {
		t.Fatalf("expected log %q; got %q", exp, buf.String())
	}
}

func TestQueueBusy(t *testing.T) {
	dev, _ := setupDevice(t, 8)
	dev.autoComplete = false

	drv := probeForBlockDevice().(*BlkDriver)
	drv.DriverInit(&bytes.Buffer{})
	q := drv.queue

	if q.isBusy() {
		t.Fatal("expected an idle queue not to be busy")
	}

	for round := 1; round <= 3; round++ {
		q.kick(0)
		if !q.isBusy() {
			t.Fatalf("[round %d] expected queue to be busy right after kick", round)
		}

		// The device has not touched the used ring yet.
		if !q.isBusy() {
			t.Fatalf("[round %d] expected queue to remain busy until the device completes", round)
		}

		dev.complete()
		if q.isBusy() {
			t.Fatalf("[round %d] expected queue to be idle after one completion", round)
		}
	}
}

func TestTransferWaitsForDevice(t *testing.T) {
	dev, _ := setupDevice(t, 8)
	dev.autoComplete = false

	drv := probeForBlockDevice().(*BlkDriver)
	drv.DriverInit(&bytes.Buffer{})

	// Complete the request after a few polls.
	var polls int
	pauseFn = func() {
		if polls++; polls == 3 {
			dev.complete()
		}
	}

	in := make([]byte, SectorSize)
	drv.ReadWriteDisk(in, 1, false)

	if polls != 3 {
		t.Fatalf("expected the driver to poll until completion; polled %d times", polls)
	}
}

func TestBarrierBeforeNotify(t *testing.T) {
	_, trace := setupDevice(t, 8)

	drv := probeForBlockDevice().(*BlkDriver)
	drv.DriverInit(&bytes.Buffer{})
	*trace = (*trace)[:0]

	var availAtBarrier uint16
	barrierFn = func() {
		availAtBarrier = mm.Read16(drv.queue.base + availIndexOff)
		*trace = append(*trace, "barrier")
	}

	drv.ReadWriteDisk(make([]byte, SectorSize), 0, false)

	exp := []string{"barrier", "w 0x50=0x0"}
	if fmt.Sprint(*trace) != fmt.Sprint(exp) {
		t.Fatalf("expected %v; got %v", exp, *trace)
	}

	if availAtBarrier != 1 {
		t.Fatalf("expected the available ring to be published before the barrier; avail idx was %d", availAtBarrier)
	}
}

func TestDescriptorChain(t *testing.T) {
	dev, _ := setupDevice(t, 8)
	dev.autoComplete = false

	drv := probeForBlockDevice().(*BlkDriver)
	drv.DriverInit(&bytes.Buffer{})

	pauseFn = func() { dev.complete() }
	drv.ReadWriteDisk(make([]byte, SectorSize), 2, true)

	specs := []struct {
		addr  mm.PhysAddr
		len   uint32
		flags uint16
		next  uint16
	}{
		{drv.req, reqHeaderSize, DescFlagNext, 1},
		{drv.req + reqDataOff, SectorSize, DescFlagNext, 2},
		{drv.req + reqStatusOff, 1, DescFlagWrite, 0},
	}

	for i, spec := range specs {
		d := drv.queue.base + mm.PhysAddr(i*descSize)
		addr, length, flags, next := mm.PhysAddr(mm.Read64(d)), mm.Read32(d+8), mm.Read16(d+12), mm.Read16(d+14)
		if addr != spec.addr || length != spec.len || flags != spec.flags || next != spec.next {
			t.Errorf("[desc %d] expected {0x%x %d %d %d}; got {0x%x %d %d %d}", i, spec.addr, spec.len, spec.flags, spec.next, addr, length, flags, next)
		}
	}

	if got := mm.Read32(drv.req + reqTypeOff); got != BlkTypeOut {
		t.Errorf("expected request type %d; got %d", BlkTypeOut, got)
	}

	if got := mm.Read64(drv.req + reqSectorOff); got != 2 {
		t.Errorf("expected request sector 2; got %d", got)
	}
}
