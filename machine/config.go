package machine

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config describes the hosted machine.
type Config struct {
	// RAMBase and RAMSize describe physical RAM. The kernel image
	// occupies the first KernelSize bytes; the rest is free memory.
	RAMBase    uint32 `json:"ram_base"`
	RAMSize    uint32 `json:"ram_size"`
	KernelSize uint32 `json:"kernel_size"`

	// DiskPath is the tar image backing the virtio block device.
	DiskPath string `json:"disk_path"`

	// Shell is the name of the user program started by the kernel.
	Shell string `json:"shell"`

	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`
}

// DefaultConfig returns the configuration of a qemu virt-like machine with
// 64 MiB of RAM.
func DefaultConfig() Config {
	return Config{
		RAMBase:    0x80000000,
		RAMSize:    64 << 20,
		KernelSize: 2 << 20,
		DiskPath:   "disk.tar",
		Shell:      "shell",
		LogLevel:   "INFO",
	}
}

// LoadConfig reads a JSON config file. Fields missing from the file keep
// their DefaultConfig value.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	configFile, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer configFile.Close()

	if err = json.NewDecoder(configFile).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err = cfg.validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

func (cfg Config) validate() error {
	switch {
	case cfg.RAMBase%pageSize != 0:
		return fmt.Errorf("ram_base 0x%x is not page aligned", cfg.RAMBase)
	case cfg.RAMSize == 0 || cfg.RAMSize%pageSize != 0:
		return fmt.Errorf("ram_size 0x%x must be a non-zero multiple of the page size", cfg.RAMSize)
	case uint64(cfg.RAMBase)+uint64(cfg.RAMSize) > 1<<32:
		return fmt.Errorf("RAM [0x%x, +0x%x) does not fit the physical address space", cfg.RAMBase, cfg.RAMSize)
	case cfg.KernelSize >= cfg.RAMSize:
		return fmt.Errorf("kernel_size 0x%x leaves no free memory", cfg.KernelSize)
	case cfg.DiskPath == "":
		return fmt.Errorf("disk_path is required")
	}

	return nil
}
