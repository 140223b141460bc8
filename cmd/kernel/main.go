// Command kernel boots the obos-core engine as a hosted Go process: it
// parses the kernel command line, wires every subsystem together, launches
// init (unless told not to), and, when standard input is a real terminal,
// bridges it to the console TTY at /dev/console.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/obos-dev/kernel/internal/hostio"
	"github.com/obos-dev/kernel/internal/kernel/boot"
	"github.com/obos-dev/kernel/internal/kernel/vfs"
	"github.com/obos-dev/kernel/internal/log"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) (exitCode int) {
	logger := log.DefaultLogger()
	log.SetDefault(logger)

	// kerrors.Panic unwinds via a real Go panic; recover it here so a
	// kernel panic prints its reason and exits non-zero instead of
	// dumping a goroutine stack trace, the hosted-simulation analogue of
	// "halt forever."
	defer func() {
		if r := recover(); r != nil {
			logger.Error("kernel panic", "reason", r)
			exitCode = 2
		}
	}()

	var cfg boot.Config
	if err := cfg.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if cfg.Help() {
		cfg.PrintUsage(os.Stdout)
		return 0
	}

	k, err := boot.New(cfg)
	if err != nil {
		logger.Error("boot failed", "err", err)
		return 1
	}

	logger.Info("kernel booted", "cpus", k.Platform.NumCPU())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	go driveClock(ctx, k)

	console := attachConsole(k)
	if console != nil {
		defer console.Restore()

		go console.Run(ctx)
	}

	select {
	case <-ctx.Done():
	case what := <-k.PowerEvents:
		logger.Info("power event", "action", what)
	}

	return 0
}

// driveClock is the host stand-in for the platform timer IRQ: one tick
// per millisecond into the kernel's timer source.
func driveClock(ctx context.Context, k *boot.Kernel) {
	t := time.NewTicker(time.Millisecond)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			k.Clock.Tick()
		}
	}
}

// attachConsole wires the host terminal to the kernel's console TTY vnode
// at /dev/console, when stdin is actually a terminal -- skipped under
// "go run"/CI where stdin is redirected.
func attachConsole(k *boot.Kernel) *hostio.Console {
	tty := vfs.NewTTY()
	consoleVnode := vfs.NewVNode(vfs.Char, "console", vfs.PermOwnerRead|vfs.PermOwnerWrite)
	consoleVnode.TTY = tty

	console, err := hostio.NewConsole(os.Stdin, os.Stdout, tty)
	if err != nil {
		return nil
	}

	if err := k.VFS.AddDevice("/dev/console", consoleVnode); err != nil {
		console.Restore()
		return nil
	}

	return console
}
