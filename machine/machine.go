// Package machine is a hosted RISC-V machine for the kernel: physical RAM, a
// legacy virtio-mmio block device backed by a disk image, SBI console
// firmware on top of the host terminal and a hart that runs user programs.
package machine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"rvos/device/virtio"
	"rvos/kernel/cpu"
	"rvos/kernel/kmain"
	"rvos/kernel/mm"
	"rvos/kernel/sbi"
	"rvos/user"
)

const (
	pageSize = mm.PageSize

	// mmioWindowSize is the size of the virtio register window.
	mmioWindowSize = 0x1000
)

// Machine wires the platform devices together and boots the kernel.
type Machine struct {
	cfg Config

	disk *os.File
	blk  *VirtioBlk
	fw   *Firmware

	halted   chan struct{}
	haltOnce sync.Once
}

// New opens the disk image and creates the devices described by cfg. Console
// input is read from stdin; console output goes to stdout.
func New(cfg Config, stdin io.Reader, stdout io.Writer) (*Machine, error) {
	disk, err := os.OpenFile(cfg.DiskPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening disk image: %w", err)
	}

	info, err := disk.Stat()
	if err != nil {
		disk.Close()
		return nil, fmt.Errorf("opening disk image: %w", err)
	}

	// Trailing bytes that do not fill a sector are not addressable.
	capacity := uint64(info.Size()) / virtio.SectorSize * virtio.SectorSize
	slog.Info("machine: attached disk", "path", cfg.DiskPath, "capacity", capacity)

	return &Machine{
		cfg:    cfg,
		disk:   disk,
		blk:    NewVirtioBlk(disk, capacity),
		fw:     NewFirmware(stdin, stdout),
		halted: make(chan struct{}),
	}, nil
}

// Run boots the kernel with the configured shell as the first process and
// waits until the hart halts, console input is exhausted or ctx is done.
func (m *Machine) Run(ctx context.Context) error {
	image, err := user.Image(m.cfg.Shell)
	if err != nil {
		return err
	}

	ramBase := mm.PhysAddr(m.cfg.RAMBase)
	mm.SetRAM(ramBase, make([]byte, m.cfg.RAMSize))
	mm.MapIO(virtio.MMIOBase, mmioWindowSize, m.blk)
	sbi.SetFirmware(m.fw)

	cpu.SetUserModeHandler(runUserMode)
	cpu.OnHalt(func() {
		m.haltOnce.Do(func() {
			slog.Info("machine: hart halted")
			close(m.halted)
		})
	})

	slog.Info("machine: booting",
		"ram", fmt.Sprintf("0x%x-0x%x", m.cfg.RAMBase, uint64(m.cfg.RAMBase)+uint64(m.cfg.RAMSize)),
		"shell", m.cfg.Shell,
	)

	go kmain.Kmain(ramBase, ramBase+mm.PhysAddr(m.cfg.KernelSize), ramBase+mm.PhysAddr(m.cfg.RAMSize), image)

	defer m.fw.Flush()

	select {
	case <-m.halted:
	case <-m.fw.InputDrained():
		slog.Info("machine: console input closed")
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// Close stops the devices and releases the disk image.
func (m *Machine) Close() error {
	m.blk.Close()
	return m.disk.Close()
}
