package virtio

import (
	"rvos/kernel/cpu"
	"rvos/kernel/mm"
	"rvos/kernel/mm/pmm"
)

// QueueEntries is the number of descriptors in a virtqueue.
const QueueEntries = 16

// Virtqueue memory layout (legacy). The used ring starts on the page that
// follows the descriptor table and the available ring.
const (
	descSize = 16

	availOffset     = QueueEntries * descSize
	availFlagsOff   = availOffset
	availIndexOff   = availOffset + 2
	availRingOffset = availOffset + 4

	usedOffset     = 4096
	usedFlagsOff   = usedOffset
	usedIndexOff   = usedOffset + 2
	usedRingOffset = usedOffset + 4
	usedElemSize   = 8

	queueSize = usedRingOffset + QueueEntries*usedElemSize
)

// Descriptor flags.
const (
	DescFlagNext  = 1
	DescFlagWrite = 2
)

var (
	// The following functions are mocked by tests.
	barrierFn = cpu.MemoryBarrier
	pauseFn   = cpu.Pause
)

// Desc describes a buffer in a descriptor chain.
type Desc struct {
	Addr  mm.PhysAddr
	Len   uint32
	Flags uint16
}

// Queue is a virtqueue shared with the device. Requests are synchronous: a
// chain is published, the device is notified and the driver polls until the
// device reports completion, so at most one chain is in flight.
type Queue struct {
	regs  regs
	index uint32

	// base is the physical address of the descriptor table.
	base mm.PhysAddr

	// lastUsedIndex is the used index the driver expects once the
	// outstanding request completes.
	lastUsedIndex uint16
}

// newQueue allocates queue memory and registers it with the device as queue
// number index.
func newQueue(r regs, index uint32) *Queue {
	q := &Queue{
		regs:  r,
		index: index,
		base:  pmm.AllocPages(mm.Size(queueSize).Pages()),
	}

	r.write32(RegQueueSel, index)
	r.write32(RegQueueNum, QueueEntries)
	r.write32(RegQueueAlign, mm.PageSize)
	r.write32(RegQueuePFN, uint32(q.base.Frame()))

	return q
}

// Transfer hands chain to the device and returns once the device has
// processed it. Every descriptor but the last is linked to its successor.
func (q *Queue) Transfer(chain []Desc) {
	for i, d := range chain {
		addr := q.base + mm.PhysAddr(i*descSize)
		flags := d.Flags
		next := uint16(0)
		if i < len(chain)-1 {
			flags |= DescFlagNext
			next = uint16(i + 1)
		}

		mm.Write64(addr, uint64(d.Addr))
		mm.Write32(addr+8, d.Len)
		mm.Write16(addr+12, flags)
		mm.Write16(addr+14, next)
	}

	q.kick(0)
	for q.isBusy() {
		pauseFn()
	}
}

// kick publishes the chain starting at descriptor head in the available ring
// and notifies the device.
func (q *Queue) kick(head uint16) {
	availIndex := mm.Read16(q.base + availIndexOff)
	mm.Write16(q.base+availRingOffset+mm.PhysAddr(availIndex%QueueEntries)*2, head)
	mm.Write16(q.base+availIndexOff, availIndex+1)

	// The ring update must be visible before the device sees the notify.
	barrierFn()
	q.regs.write32(RegQueueNotify, q.index)
	q.lastUsedIndex++
}

// isBusy returns true while the device has not consumed the last kicked
// chain.
func (q *Queue) isBusy() bool {
	return q.lastUsedIndex != mm.Read16(q.base+usedIndexOff)
}
