package syscall

import (
	"encoding/binary"

	"github.com/obos-dev/kernel/internal/kernel/driver"
	"github.com/obos-dev/kernel/internal/kernel/handle"
	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/ksignal"
	"github.com/obos-dev/kernel/internal/kernel/ksync"
	"github.com/obos-dev/kernel/internal/kernel/proc"
	"github.com/obos-dev/kernel/internal/kernel/sched"
	"github.com/obos-dev/kernel/internal/kernel/timer"
	"github.com/obos-dev/kernel/internal/kernel/vfs"
	"github.com/obos-dev/kernel/internal/kernel/vmm"
)

// Power is the power-management surface the reboot/shutdown/suspend
// syscalls dispatch to; boot supplies the implementation.
type Power interface {
	Reboot() error
	Shutdown() error
	Suspend() error
}

// Deps bundles the kernel-wide singletons syscall handlers need beyond
// what Call carries per-invocation: the futex table, the timer tick
// source, the socket protocol registry, and the driver loader/registry
// pair. Handlers close over it at registration.
type Deps struct {
	Futexes *ksync.FutexTable
	Clock   *timer.Source
	Sockets *vfs.Registry
	Loader  *driver.Loader
	Drivers *driver.Registry
	Power   Power
}

// RegisterCore installs the syscalls this core implements in terms of
// real subsystem calls. Every declared number that RegisterCore doesn't
// give a real body ends up registered as a uniform UNIMPLEMENTED stub, so
// Dispatch never falls through to the "unregistered number" path for a
// number the ABI does declare.
func RegisterCore(t *Table, deps Deps) {
	reg := func(num Number, fn HandlerFunc) {
		argc, ok := Argc(num)
		if !ok {
			panic("syscall: RegisterCore: undeclared number")
		}

		t.Register(num, Name(num), argc, fn)
	}

	// Memory.
	reg(SysVirtualMemoryAlloc, sysVirtualMemoryAlloc)
	reg(SysVirtualMemoryFree, sysVirtualMemoryFree)
	reg(SysVirtualMemoryProtect, sysVirtualMemoryProtect)
	reg(SysMakeNewContext, sysMakeNewContext)
	reg(SysContextGetStat, sysContextGetStat)
	reg(SysQueryPageInfo, sysQueryPageInfo)

	// Threads.
	reg(SysThreadCreate, sysThreadCreate)
	reg(SysThreadReady, sysThreadReady)
	reg(SysThreadBlock, sysThreadBlock)
	reg(SysThreadPriority, sysThreadPriority)
	reg(SysThreadAffinity, sysThreadAffinity)
	reg(SysThreadGetTid, sysThreadGetTid)
	reg(SysYield, sysYield)
	reg(SysExitCurrentThread, sysExitCurrentThread)

	// Process.
	reg(SysProcessStart, sysProcessStart)
	reg(SysProcessOpen, sysProcessOpen)
	reg(SysWaitProcess, sysWaitProcess)
	reg(SysExitCurrentProcess, sysExitCurrentProcess)
	reg(SysFork, sysFork)

	// Futex.
	reg(SysFutexWait, futexWaitHandler(deps.Futexes))
	reg(SysFutexWake, futexWakeHandler(deps.Futexes))

	// Files.
	reg(SysFdOpen, sysFdOpen)
	reg(SysFdOpenAt, sysFdOpenAt)
	reg(SysFdCreat, sysFdCreat)
	reg(SysFdRead, sysFdRead)
	reg(SysFdPRead, sysFdPRead)
	reg(SysFdWrite, sysFdWrite)
	reg(SysFdPWrite, sysFdPWrite)
	reg(SysFdSeek, sysFdSeek)
	reg(SysFdTellOff, sysFdTellOff)
	reg(SysFdClose, sysFdClose)
	reg(SysFdFlush, sysFdFlush)
	reg(SysFcntl, sysFcntl)
	reg(SysStat, sysStat)
	reg(SysReadLinkAt, sysReadLinkAt)
	reg(SysUnlinkAt, sysUnlinkAt)
	reg(SysMkdirAt, sysMkdirAt)
	reg(SysSymLinkAt, sysSymLinkAt)
	reg(SysOpenDir, sysOpenDir)
	reg(SysReadEntries, sysReadEntries)
	reg(SysMkPipe, sysMkPipe)

	// IRP.
	reg(SysIRPCreate, sysIRPCreate)
	reg(SysIRPSubmit, sysIRPSubmit)
	reg(SysIRPWait, sysIRPWait)
	reg(SysIRPQueryState, sysIRPQueryState)
	reg(SysIRPGetBuffer, sysIRPGetBuffer)
	reg(SysIRPGetStatus, sysIRPGetStatus)

	// Signals.
	reg(SysKill, sysKill)
	reg(SysKillProcess, sysKillProcess)
	reg(SysSigAction, sysSigAction)
	reg(SysSigProcMask, sysSigProcMask)
	reg(SysSigSuspend, sysSigSuspend)
	reg(SysSigAltStack, sysSigAltStack)
	reg(SysSigPending, sysSigPending)
	reg(SysSigReturn, sysSigReturn)

	// Sockets.
	reg(SysSocket, socketHandler(deps.Sockets))
	reg(SysBind, sysBind)
	reg(SysConnect, sysConnect)
	reg(SysListen, sysListen)
	reg(SysAccept, sysAccept)
	reg(SysSendTo, sysSendTo)
	reg(SysRecvFrom, sysRecvFrom)
	reg(SysSockShutdown, sysSockShutdown)
	reg(SysGetSockOpt, sysGetSockOpt)
	reg(SysSetSockOpt, sysSetSockOpt)
	reg(SysSockName, sysSockName)
	reg(SysPeerName, sysPeerName)

	// Clock/power.
	reg(SysClockGet, clockGetHandler(deps.Clock))
	reg(SysReboot, powerHandler(deps.Power, "Reboot"))
	reg(SysPowerShutdown, powerHandler(deps.Power, "PowerShutdown"))
	reg(SysSuspend, powerHandler(deps.Power, "Suspend"))

	// Drivers.
	reg(SysLoadDriver, loadDriverHandler(deps.Loader, deps.Drivers))
	reg(SysStartDriver, sysStartDriver)
	reg(SysUnloadDriver, unloadDriverHandler(deps.Loader))
	reg(SysFindDriverByName, findDriverHandler(deps.Loader))
	reg(SysQueryDriverName, sysQueryDriverName)

	// Mount.
	reg(SysMount, mountHandler(deps.Loader, deps.Drivers))
	reg(SysUnmount, sysUnmount)
	reg(SysChdir, sysChdir)
	reg(SysGetCWD, sysGetCWD)

	// Select/poll.
	reg(SysPSelect, pselectHandler(deps.Clock))
	reg(SysPPoll, ppollHandler(deps.Clock))

	for num, name := range names {
		if _, _, registered := t.Lookup(num); registered {
			continue
		}

		t.Register(num, name, argc[num], stub(name))
	}
}

func stub(name string) HandlerFunc {
	return func(*Call) (uintptr, error) {
		return 0, kerrors.Wrap(kerrors.UNIMPLEMENTED, "syscall."+name, nil)
	}
}

// lookupThread resolves a TypeThread handle to the proc.Thread it names.
// Handles name proc.Thread (not sched.Thread directly) because a syscall
// needs both the schedulable entity and its signal-delivery state.
// handle.Current short-circuits to the calling thread without touching the
// handle table at all.
func (c *Call) lookupThread(h uintptr) (*proc.Thread, error) {
	if handle.Handle(h) == handle.Current {
		return c.Thread, nil
	}

	obj, err := c.Handles.Lookup(handle.Handle(h), handle.TypeThread)
	if err != nil {
		return nil, err
	}

	return obj.(*proc.Thread), nil
}

func (c *Call) lookupFD(h uintptr) (*vfs.FileDescriptor, error) {
	obj, err := c.Handles.Lookup(handle.Handle(h), handle.TypeFile)
	if err != nil {
		return nil, err
	}

	return obj.(*vfs.FileDescriptor), nil
}

func sysVirtualMemoryAlloc(c *Call) (uintptr, error) {
	hint := c.Args[0]
	size := c.Args[1]
	prot := vmm.Prot(c.Args[2])
	flags := vmm.Flags(c.Args[3])

	return c.Ctx.VirtualMemoryAlloc(hint, size, prot, flags, nil, 0)
}

func sysVirtualMemoryFree(c *Call) (uintptr, error) {
	return 0, c.Ctx.VirtualMemoryFree(c.Args[0], c.Args[1])
}

func sysVirtualMemoryProtect(c *Call) (uintptr, error) {
	base, size, prot := c.Args[0], c.Args[1], vmm.Prot(c.Args[2])
	return 0, c.Ctx.VirtualMemoryProtect(base, size, prot, vmm.PageableOp(c.Args[3]))
}

func sysThreadReady(c *Call) (uintptr, error) {
	th, err := c.lookupThread(c.Args[0])
	if err != nil {
		return 0, err
	}

	// A thread parked by ThreadBlock is woken through its park header;
	// readying it directly would enqueue a thread that is still blocked
	// inside its wait.
	if th.Sched.State() == sched.Blocked {
		c.Sched.Unpark(th.Sched)
		return 0, nil
	}

	return 0, c.Sched.Ready(th.Sched)
}

func sysYield(c *Call) (uintptr, error) {
	c.Sched.Yield(c.CPU)
	return 0, nil
}

func sysExitCurrentThread(c *Call) (uintptr, error) {
	c.Sched.Exit(c.CPU, c.Thread.Sched)
	return 0, nil
}

func sysWaitProcess(c *Call) (uintptr, error) {
	child, err := c.ProcTable.Wait(c.Process, proc.PID(c.Args[0]))
	if err != nil {
		return 0, err
	}

	return uintptr(child.PID), nil
}

func sysExitCurrentProcess(c *Call) (uintptr, error) {
	c.ProcTable.Exit(c.Process, int(c.Args[0]))
	return 0, nil
}

// futexKey resolves a user-space futex address to the physical-frame-based
// key two processes sharing a mapping would agree on even if the address
// differs between them.
func futexKey(c *Call, uaddr uintptr) (ksync.FutexKey, error) {
	frame, off, err := c.Mem.PinUser(c.Ctx, uaddr)
	if err != nil {
		return ksync.FutexKey{}, err
	}

	return ksync.FutexKey{Frame: uint64(frame), Offset: off}, nil
}

func futexWaitHandler(futexes *ksync.FutexTable) HandlerFunc {
	return func(c *Call) (uintptr, error) {
		addr := c.Args[0]
		expect := uint32(c.Args[1])

		key, err := futexKey(c, addr)
		if err != nil {
			return 0, err
		}

		readWord := func() uint32 {
			buf, err := c.CopyIn(addr, 4)
			if err != nil {
				return expect + 1 // force a mismatch rather than block on a bad read
			}

			return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
		}

		return 0, futexes.Wait(key, expect, readWord)
	}
}

func futexWakeHandler(futexes *ksync.FutexTable) HandlerFunc {
	return func(c *Call) (uintptr, error) {
		key, err := futexKey(c, c.Args[0])
		if err != nil {
			return 0, err
		}

		return uintptr(futexes.Wake(key, int(c.Args[1]))), nil
	}
}

func sysFdOpen(c *Call) (uintptr, error) {
	pathBuf, err := c.CopyIn(c.Args[0], 256)
	if err != nil {
		return 0, err
	}

	path := cString(pathBuf)
	flags := vfs.OFlag(c.Args[1])
	creds := c.Process.Credentials

	fd, err := c.VFS.FdOpen(c.VFS.Root, path, flags, creds.EUID, creds.EGID, creds.HasGroup)
	if err != nil {
		return 0, err
	}

	return uintptr(c.Handles.Open(handle.TypeFile, fd)), nil
}

func sysFdRead(c *Call) (uintptr, error) {
	fd, err := c.lookupFD(c.Args[0])
	if err != nil {
		return 0, err
	}

	buf := make([]byte, int(c.Args[2]))

	read, err := fd.Read(buf)
	if err != nil {
		return uintptr(read), err
	}

	return uintptr(read), c.CopyOut(c.Args[1], buf[:read])
}

func sysFdWrite(c *Call) (uintptr, error) {
	fd, err := c.lookupFD(c.Args[0])
	if err != nil {
		return 0, err
	}

	buf, err := c.CopyIn(c.Args[1], int(c.Args[2]))
	if err != nil {
		return 0, err
	}

	n, err := fd.Write(buf)
	return uintptr(n), err
}

func sysFdSeek(c *Call) (uintptr, error) {
	fd, err := c.lookupFD(c.Args[0])
	if err != nil {
		return 0, err
	}

	off, err := fd.Seek(int64(c.Args[1]), int(c.Args[2]))
	return uintptr(off), err
}

func sysFdClose(c *Call) (uintptr, error) {
	fd, err := c.lookupFD(c.Args[0])
	if err != nil {
		return 0, err
	}

	if err := fd.Close(); err != nil {
		return 0, err
	}

	return 0, c.Handles.Close(handle.Handle(c.Args[0]))
}

func sysFdFlush(c *Call) (uintptr, error) {
	fd, err := c.lookupFD(c.Args[0])
	if err != nil {
		return 0, err
	}

	return 0, fd.Flush()
}

func sysKill(c *Call) (uintptr, error) {
	th, err := c.lookupThread(c.Args[0])
	if err != nil {
		return 0, err
	}

	ksignal.Kill(th.Signals, ksignal.Sig(c.Args[1]))

	return 0, nil
}

func sysKillProcess(c *Call) (uintptr, error) {
	target := c.ProcTable.Lookup(proc.PID(c.Args[0]))
	if target == nil {
		return 0, kerrors.NotFound
	}

	var signals []*ksignal.Thread
	for _, th := range target.ThreadList() {
		signals = append(signals, th.Signals)
	}

	ok := ksignal.KillProcess(signals, ksignal.Sig(c.Args[1]))
	if !ok {
		return 0, kerrors.New(kerrors.WAKE_INCAPABLE, "syscall.KillProcess")
	}

	return 0, nil
}

func sysSigAction(c *Call) (uintptr, error) {
	sig := ksignal.Sig(c.Args[0])

	action := ksignal.Action{
		Kind:       ksignal.HandlerKind(c.Args[1]),
		Handler:    c.Args[2],
		Trampoline: c.Args[2],
	}

	return 0, c.Process.Sigactions.Set(sig, action)
}

func sysSigProcMask(c *Call) (uintptr, error) {
	how, mask := c.Args[0], uint64(c.Args[1])

	old := c.Thread.Signals.Mask()

	switch how {
	case 0: // SIG_BLOCK
		c.Thread.Signals.SetMask(old | mask)
	case 1: // SIG_UNBLOCK
		c.Thread.Signals.SetMask(old &^ mask)
	case 2: // SIG_SETMASK
		c.Thread.Signals.SetMask(mask)
	default:
		return 0, kerrors.InvalidArgument
	}

	return uintptr(old), nil
}

func sysSigReturn(c *Call) (uintptr, error) {
	mask, err := c.Thread.Signals.SigReturn()
	return uintptr(mask), err
}

func sysChdir(c *Call) (uintptr, error) {
	pathBuf, err := c.CopyIn(c.Args[0], 256)
	if err != nil {
		return 0, err
	}

	c.Process.Cwd = cString(pathBuf)

	return 0, nil
}

func sysMakeNewContext(c *Call) (uintptr, error) {
	ctx := c.Mem.NewContext(vmm.PageSize, 1<<30)

	return uintptr(c.Handles.Open(handle.TypeVMContext, ctx)), nil
}

func sysContextGetStat(c *Call) (uintptr, error) {
	ctx, err := c.lookupContext(c.Args[0])
	if err != nil {
		return 0, err
	}

	stat := ctx.Stat()

	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[0:], stat.Committed)
	binary.LittleEndian.PutUint64(buf[8:], stat.Pageable)
	binary.LittleEndian.PutUint64(buf[16:], stat.NonPaged)
	binary.LittleEndian.PutUint64(buf[24:], stat.Paged)

	return 0, c.CopyOut(c.Args[1], buf)
}

func sysQueryPageInfo(c *Call) (uintptr, error) {
	info, err := c.Ctx.QueryPageInfo(c.Args[0])
	if err != nil {
		return 0, err
	}

	var pageable uint64
	if info.Pageable {
		pageable = 1
	}

	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[0:], uint64(info.Base))
	binary.LittleEndian.PutUint64(buf[8:], uint64(info.Size))
	binary.LittleEndian.PutUint64(buf[16:], uint64(info.Prot))
	binary.LittleEndian.PutUint64(buf[24:], pageable)

	return 0, c.CopyOut(c.Args[1], buf)
}

func sysThreadCreate(c *Call) (uintptr, error) {
	pri := sched.Priority(c.Args[0])
	if pri < sched.Idle || pri > sched.RealTime {
		return 0, kerrors.InvalidArgument
	}

	th := c.Sched.NewThreadInactive(pri, uint64(c.Args[1]), c.Process)
	pt := &proc.Thread{Sched: th, Signals: ksignal.NewThread()}
	c.Process.AddThread(pt)

	return uintptr(c.Handles.Open(handle.TypeThread, pt)), nil
}

func sysThreadBlock(c *Call) (uintptr, error) {
	th, err := c.lookupThread(c.Args[0])
	if err != nil {
		return 0, err
	}

	// Only self-blocking is supported: stopping another thread mid-flight
	// is the scheduler-suspend path, not ThreadBlock.
	if th != c.Thread {
		return 0, kerrors.InvalidOperation
	}

	if s := c.Thread.Signals; s != nil {
		s.BeginInterruptibleWait(th.Sched.ParkHeader())
		defer s.EndInterruptibleWait()
	}

	return 0, c.Sched.Park(th.Sched)
}

func sysThreadPriority(c *Call) (uintptr, error) {
	th, err := c.lookupThread(c.Args[0])
	if err != nil {
		return 0, err
	}

	old := th.Sched.Priority

	return uintptr(old), c.Sched.SetPriority(th.Sched, sched.Priority(c.Args[1]))
}

func sysThreadAffinity(c *Call) (uintptr, error) {
	th, err := c.lookupThread(c.Args[0])
	if err != nil {
		return 0, err
	}

	return 0, c.Sched.SetAffinity(th.Sched, uint64(c.Args[1]))
}

func sysThreadGetTid(c *Call) (uintptr, error) {
	return uintptr(c.Thread.Sched.ID), nil
}

func sysProcessStart(c *Call) (uintptr, error) {
	pathBuf, err := c.CopyIn(c.Args[0], 256)
	if err != nil {
		return 0, err
	}

	path := cString(pathBuf)

	ctx := c.Mem.NewContext(vmm.PageSize, 1<<30)
	child := c.ProcTable.Spawn(c.Process, ctx)
	child.ExecFile = path
	child.Cmdline = []string{path}

	th := c.Sched.NewThreadInactive(sched.Normal, 0, child)
	pt := &proc.Thread{Sched: th, Signals: ksignal.NewThread()}
	child.AddThread(pt)

	if err := c.Sched.Ready(th); err != nil {
		return 0, err
	}

	return uintptr(c.Handles.Open(handle.TypeProcess, child)), nil
}

func sysProcessOpen(c *Call) (uintptr, error) {
	target := c.ProcTable.Lookup(proc.PID(c.Args[0]))
	if target == nil {
		return 0, kerrors.NotFound
	}

	return uintptr(c.Handles.Open(handle.TypeProcess, target)), nil
}

func sysFork(c *Call) (uintptr, error) {
	child, err := c.ProcTable.Fork(c.Process, c.Mem)
	if err != nil {
		return 0, err
	}

	th := c.Sched.NewThreadInactive(c.Thread.Sched.Priority, c.Thread.Sched.Affinity, child)
	pt := &proc.Thread{Sched: th, Signals: ksignal.NewThread()}
	child.AddThread(pt)

	if err := c.Sched.Ready(th); err != nil {
		return 0, err
	}

	return uintptr(child.PID), nil
}

func sysSigSuspend(c *Call) (uintptr, error) {
	s := c.Thread.Signals
	if s == nil {
		return 0, kerrors.InvalidOperation
	}

	oldMask := s.Mask()
	s.SetMask(uint64(c.Args[0]))
	defer s.SetMask(oldMask)

	if _, ok := s.Deliverable(); ok {
		return 0, kerrors.New(kerrors.ABORTED, "syscall.SigSuspend")
	}

	h := c.Thread.Sched.ParkHeader()
	s.BeginInterruptibleWait(h)
	defer s.EndInterruptibleWait()

	// Re-check after registering: a signal that raced the registration
	// would otherwise be missed and the suspend would sleep through it.
	if _, ok := s.Deliverable(); ok {
		return 0, kerrors.New(kerrors.ABORTED, "syscall.SigSuspend")
	}

	if err := c.Sched.Park(c.Thread.Sched); err != nil {
		return 0, err
	}

	return 0, kerrors.New(kerrors.ABORTED, "syscall.SigSuspend")
}

func sysSigAltStack(c *Call) (uintptr, error) {
	s := c.Thread.Signals
	if s == nil {
		return 0, kerrors.InvalidOperation
	}

	if c.Args[1] == 0 {
		s.SetAltStack(nil)
	} else {
		s.SetAltStack(&ksignal.AltStack{SP: c.Args[0], Size: c.Args[1]})
	}

	return 0, nil
}

func sysSigPending(c *Call) (uintptr, error) {
	s := c.Thread.Signals
	if s == nil {
		return 0, kerrors.InvalidOperation
	}

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, s.Pending())

	return 0, c.CopyOut(c.Args[0], buf)
}

func clockGetHandler(clock *timer.Source) HandlerFunc {
	return func(c *Call) (uintptr, error) {
		if clock == nil {
			return 0, kerrors.Unimplemented
		}

		return uintptr(clock.Ticks()), nil
	}
}

func powerHandler(power Power, name string) HandlerFunc {
	return func(c *Call) (uintptr, error) {
		if power == nil {
			return 0, kerrors.Wrap(kerrors.UNIMPLEMENTED, "syscall."+name, nil)
		}

		switch name {
		case "Reboot":
			return 0, power.Reboot()
		case "PowerShutdown":
			return 0, power.Shutdown()
		default:
			return 0, power.Suspend()
		}
	}
}

func (c *Call) lookupContext(h uintptr) (*vmm.Context, error) {
	if handle.Handle(h) == handle.Current {
		return c.Ctx, nil
	}

	obj, err := c.Handles.Lookup(handle.Handle(h), handle.TypeVMContext)
	if err != nil {
		return nil, err
	}

	return obj.(*vmm.Context), nil
}

func (c *Call) lookupSocket(h uintptr) (*vfs.Socket, error) {
	obj, err := c.Handles.Lookup(handle.Handle(h), handle.TypeSocket)
	if err != nil {
		return nil, err
	}

	return obj.(*vfs.Socket), nil
}

func (c *Call) lookupIRP(h uintptr) (*vfs.IRP, error) {
	obj, err := c.Handles.Lookup(handle.Handle(h), handle.TypeIRP)
	if err != nil {
		return nil, err
	}

	return obj.(*vfs.IRP), nil
}

func (c *Call) lookupDriver(h uintptr) (*driver.Instance, error) {
	obj, err := c.Handles.Lookup(handle.Handle(h), handle.TypeDriver)
	if err != nil {
		return nil, err
	}

	return obj.(*driver.Instance), nil
}

// copyInString reads a NUL-terminated user string, bounded at 256 bytes,
// the path-length cap the syscall ABI imposes.
func (c *Call) copyInString(uaddr uintptr) (string, error) {
	buf, err := c.CopyIn(uaddr, 256)
	if err != nil {
		return "", err
	}

	return cString(buf), nil
}

func cString(b []byte) string {
	for i, ch := range b {
		if ch == 0 {
			return string(b[:i])
		}
	}

	return string(b)
}
