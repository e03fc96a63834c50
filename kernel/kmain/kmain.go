package kmain

import (
	"rvos/device"
	"rvos/device/virtio"
	"rvos/kernel"
	"rvos/kernel/cpu"
	"rvos/kernel/fs"
	"rvos/kernel/hal"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
	"rvos/kernel/mm/pmm"
	"rvos/kernel/proc"
	"rvos/kernel/sbi"
	"rvos/kernel/trap"
)

var (
	// The following functions are mocked by tests.
	panicFn             = kfmt.Panic
	detectHardwareFn    = hal.DetectHardware
	activeBlockDeviceFn = hal.ActiveBlockDevice

	errNoBlockDevice = &kernel.Error{Module: "kmain", Message: "no block device found"}
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "switched to idle process"}
)

// Kmain is the kernel entrypoint. The boot code passes the physical address
// range occupied by the kernel image, the end of the free memory region that
// follows it and the image of the first user program.
//
// Kmain attaches the firmware console, sets up the page allocator, probes for
// hardware, loads the file store from the block device and starts the first
// user process. Control only returns to Kmain once no process is runnable
// which is treated as a fatal error.
func Kmain(kernelStart, kernelEnd, freeEnd mm.PhysAddr, shellImage []byte) {
	kfmt.SetOutputSink(sbi.Console{})

	pmm.Init(kernelEnd, freeEnd)

	detectHardwareFn()
	var dev device.BlockDevice
	if dev = activeBlockDeviceFn(); dev == nil {
		panicFn(errNoBlockDevice)
		return
	}

	store := fs.New(dev)
	store.Init()

	sched := proc.New(proc.Layout{
		KernelBase: kernelStart,
		FreeEnd:    freeEnd,
		MMIOBase:   virtio.MMIOBase,
	})

	dispatcher := &trap.Dispatcher{Sched: sched, FS: store}
	cpu.SetTrapVector(dispatcher.Entry)

	sched.CreateProcess(shellImage)
	sched.Yield()

	panicFn(errKmainReturned)
}
