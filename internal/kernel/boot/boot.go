// Package boot implements the glue layer: command-line parsing, subsystem
// wiring in dependency order, and init-process launch.
package boot

import (
	"fmt"
	"os"

	"github.com/obos-dev/kernel/internal/hostio"
	"github.com/obos-dev/kernel/internal/kernel/driver"
	"github.com/obos-dev/kernel/internal/kernel/handle"
	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/ksignal"
	"github.com/obos-dev/kernel/internal/kernel/ksync"
	"github.com/obos-dev/kernel/internal/kernel/platform"
	"github.com/obos-dev/kernel/internal/kernel/pmm"
	"github.com/obos-dev/kernel/internal/kernel/proc"
	"github.com/obos-dev/kernel/internal/kernel/sched"
	"github.com/obos-dev/kernel/internal/kernel/syscall"
	"github.com/obos-dev/kernel/internal/kernel/timer"
	"github.com/obos-dev/kernel/internal/kernel/vfs"
	"github.com/obos-dev/kernel/internal/kernel/vmm"
	"github.com/obos-dev/kernel/internal/log"
)

// numFrames is the size, in frames, of the software physical memory pool a
// hosted kernel boots with. There is no real RAM to size this from, so it
// is a fixed generous constant rather than something probed from firmware.
const numFrames = 1 << 16 // 256 MiB at a 4 KiB frame size

// Kernel bundles every subsystem boot wires together: the complete set a
// syscall.Call or a driver needs reaching off one root value.
type Kernel struct {
	Config Config

	Platform *platform.Set
	PMM      *pmm.Manager
	VMM      *vmm.Manager
	Sched    *sched.Scheduler
	Clock    *timer.Source
	Procs    *proc.Table
	Handles  *handle.Table // process 0's handle table; every other process has its own
	VFS      *vfs.VFS
	Symbols  *driver.SymbolTable
	Loader   *driver.Loader
	Drivers  *driver.Registry
	Sockets  *vfs.Registry
	Futexes  *ksync.FutexTable
	Syscalls *syscall.Table

	Kernel *proc.Process // PID 0, the pseudo-process owning kernel-only state
	Init   *proc.Process // PID 1, nil if Config.NoInit

	// PowerEvents receives one message per reboot/shutdown request so the
	// hosting process (cmd/kernel) can act on it; a real platform would
	// cut power here instead.
	PowerEvents chan string

	log *log.Logger
}

// New wires together every subsystem in dependency order -- physical
// memory before virtual memory, the process table before init can be
// created, the syscall table after every subsystem its handlers close
// over, and init last -- and installs kerrors.Panic's logger to route
// through internal/log.
func New(cfg Config) (*Kernel, error) {
	logger := log.DefaultLogger()
	kerrors.SetPanicLogger(func(msg string, args ...any) { logger.Error(msg, args...) })

	k := &Kernel{
		Config:      cfg,
		Platform:    platform.NewSet(1),
		PMM:         pmm.New(0, numFrames),
		Sched:       sched.New(1, nil),
		Procs:       proc.NewTable(),
		VFS:         vfs.New(),
		Symbols:     driver.NewSymbolTable(),
		Drivers:     driver.Builtins(),
		Sockets:     vfs.NewRegistry(),
		Futexes:     ksync.NewFutexTable(),
		PowerEvents: make(chan string, 1),
		log:         logger,
	}

	k.VMM = vmm.New(k.PMM, vmm.NewRAMSwap())
	k.Loader = driver.NewLoader(k.Symbols)
	k.Clock = timer.NewSource(k.Sched.CPU(0).DPC)

	k.Sockets.Register(vfs.AF_UNIX, vfs.SOCK_STREAM, vfs.NewUnixStream())

	// Subsystem handles exported for driver symbol resolution: a loaded
	// driver's undefined references resolve to these the way a relocated
	// binary's would resolve to kernel function addresses.
	k.Symbols.Export("vfs", k.VFS)
	k.Symbols.Export("vmm", k.VMM)
	k.Symbols.Export("pmm", k.PMM)

	if err := k.attachRootFS(); err != nil {
		return nil, fmt.Errorf("boot: attaching root filesystem driver: %w", err)
	}

	if err := k.mountRoot(); err != nil {
		return nil, fmt.Errorf("boot: mounting root filesystem: %w", err)
	}

	k.loadModules()

	kernelCtx := k.VMM.NewContext(0x1000, 1<<30)
	k.Kernel = k.Procs.New(proc.Credentials{}, kernelCtx)
	k.Handles = k.Kernel.Handles

	k.Syscalls = syscall.NewTable()
	syscall.RegisterCore(k.Syscalls, syscall.Deps{
		Futexes: k.Futexes,
		Clock:   k.Clock,
		Sockets: k.Sockets,
		Loader:  k.Loader,
		Drivers: k.Drivers,
		Power:   powerOps{k},
	})

	if !cfg.NoInit {
		if err := k.launchInit(); err != nil {
			return nil, fmt.Errorf("boot: launching init: %w", err)
		}
	}

	return k, nil
}

// attachRootFS loads the built-in ramfs driver and makes it the backing
// of the dirent-tree root, then lays out the standard directory skeleton
// every boot expects to find.
func (k *Kernel) attachRootFS() error {
	factory, err := k.Drivers.Lookup("ramfs")
	if err != nil {
		return err
	}

	hdr, drv, entry := factory()

	inst, err := k.Loader.Load(hdr, drv, nil, entry)
	if err != nil {
		return err
	}

	k.VFS.Root.Driver = inst.Driver

	for _, dir := range []string{"/dev", "/tmp", "/sbin", DefaultPermPrefix} {
		if _, err := k.VFS.MkdirAll(dir, vfs.PermOwnerRead|vfs.PermOwnerWrite|vfs.PermOwnerExec|vfs.PermGroupRead|vfs.PermGroupExec|vfs.PermOtherRead|vfs.PermOtherExec); err != nil {
			return err
		}
	}

	return nil
}

// loadModules loads each --load-modules entry from the builtin registry.
// A missing or failing module is logged and skipped rather than failing
// the boot, matching the original's degrade-and-continue module loop.
func (k *Kernel) loadModules() {
	for _, name := range k.Config.LoadModules {
		factory, err := k.Drivers.Lookup(name)
		if err != nil {
			k.log.Error("boot module not found", "module", name)
			continue
		}

		hdr, drv, entry := factory()

		if _, err := k.Loader.Load(hdr, drv, nil, entry); err != nil {
			k.log.Error("boot module failed to load", "module", name, "err", err)
			continue
		}

		k.log.Info("boot module loaded", "module", name)
	}
}

// powerOps implements the reboot/shutdown/suspend syscalls over the
// scheduler and the loaded-driver list.
type powerOps struct{ k *Kernel }

func (p powerOps) signal(what string) error {
	select {
	case p.k.PowerEvents <- what:
	default:
	}

	return nil
}

func (p powerOps) Reboot() error   { return p.signal("reboot") }
func (p powerOps) Shutdown() error { return p.signal("shutdown") }

// Suspend runs a full suspend/resume cycle: drivers are notified, the
// scheduler is frozen, then everything is brought back. There is no
// firmware sleep state to enter on a hosted simulation, so the cycle is
// immediate.
func (p powerOps) Suspend() error {
	var firstErr error

	p.k.Loader.ForEach(func(inst *driver.Instance) bool {
		if err := inst.Driver.OnSuspend(); err != nil && firstErr == nil {
			firstErr = err
		}

		return true
	})

	p.k.Sched.Suspend()
	p.k.Sched.Resume()

	p.k.Loader.ForEach(func(inst *driver.Instance) bool {
		if err := inst.Driver.OnWake(); err != nil && firstErr == nil {
			firstErr = err
		}

		return true
	})

	return firstErr
}

// mountRoot reads the partition table of Config.DiskImage and selects the
// partition named by Config.RootFSUUID/RootFSPartID (or the first one),
// logging the choice. It does not mount that partition, and it does not
// look at Config.MountInitrd: the VFS root stays the in-memory root vfs.New
// constructed. With no disk image configured -- the common case for tests
// and the interactive demo -- it does nothing.
func (k *Kernel) mountRoot() error {
	if k.Config.DiskImage == "" {
		return nil
	}

	f, err := os.Open(k.Config.DiskImage)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	parts, err := hostio.ReadPartitionTable(f, uint64(info.Size()))
	if err != nil {
		return err
	}

	part, err := k.selectRootPartition(parts)
	if err != nil {
		return err
	}

	k.log.Info("selected root partition", "first_lba", part.FirstLBA, "last_lba", part.LastLBA)

	// No on-disk filesystem reader is built in; the partition is still
	// resolved and logged so --root-fs-uuid/--root-fs-partid are
	// exercised end to end, and vfs.Mount stands ready for a real driver
	// to supply fsRoot.
	return nil
}

func (k *Kernel) selectRootPartition(parts []hostio.Partition) (hostio.Partition, error) {
	if k.Config.RootFSUUID == "" && k.Config.RootFSPartID == "" {
		if len(parts) == 0 {
			return hostio.Partition{}, kerrors.New(kerrors.NOT_FOUND, "boot.selectRootPartition")
		}

		return parts[0], nil
	}

	for _, p := range parts {
		if k.Config.RootFSUUID != "" && guidString(p.UniqueGUID) == k.Config.RootFSUUID {
			return p, nil
		}

		if k.Config.RootFSPartID != "" && guidString(p.TypeGUID) == k.Config.RootFSPartID {
			return p, nil
		}
	}

	return hostio.Partition{}, kerrors.New(kerrors.NOT_FOUND, "boot.selectRootPartition: no matching partition")
}

func guidString(g [16]byte) string {
	return fmt.Sprintf("%x", g)
}

// launchInit creates process 1 with its own address space and a
// Normal-priority initial thread, and records its command line from
// Config.InitPath. There is no machine code to execute on a hosted
// simulation, so launchInit does everything up to but not including
// "begin executing user-mode instructions."
func (k *Kernel) launchInit() error {
	ctx := k.VMM.NewContext(0x1000, 1<<30)

	initProc := k.Procs.New(proc.Credentials{}, ctx)
	initProc.Cmdline = []string{k.Config.InitPath}
	initProc.ExecFile = k.Config.InitPath
	initProc.Cwd = "/"

	th, err := k.Sched.NewThread(sched.Normal, 0, initProc)
	if err != nil {
		return err
	}

	thread := &proc.Thread{Sched: th, Signals: ksignal.NewThread(), Owner: initProc}
	initProc.AddThread(thread)

	k.Init = initProc

	k.log.Info("init launched", "pid", initProc.PID, "path", k.Config.InitPath)

	return nil
}
