package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"rvos/machine"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[rvos] error: %s\n", err.Error())
	os.Exit(1)
}

// main boots the kernel on the hosted machine. The firmware console is
// attached to stdin and stdout.
func main() {
	configPath := flag.String("config", "", "path to a JSON machine config file")
	diskPath := flag.String("disk", "", "disk image (overrides the config file)")
	flag.Parse()

	cfg := machine.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = machine.LoadConfig(*configPath); err != nil {
			exit(err)
		}
	}

	if *diskPath != "" {
		cfg.DiskPath = *diskPath
	}

	logCloser, err := machine.InitLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		exit(err)
	}
	defer logCloser.Close()

	m, err := machine.New(cfg, os.Stdin, os.Stdout)
	if err != nil {
		exit(err)
	}
	defer m.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err = m.Run(ctx); err != nil {
		slog.Error("machine stopped", "err", err)
	}
}
