package syscall

import (
	"bytes"
	"testing"

	"github.com/obos-dev/kernel/internal/kernel/driver"
	"github.com/obos-dev/kernel/internal/kernel/handle"
	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/ksignal"
	"github.com/obos-dev/kernel/internal/kernel/ksync"
	"github.com/obos-dev/kernel/internal/kernel/pmm"
	"github.com/obos-dev/kernel/internal/kernel/proc"
	"github.com/obos-dev/kernel/internal/kernel/sched"
	"github.com/obos-dev/kernel/internal/kernel/timer"
	"github.com/obos-dev/kernel/internal/kernel/vfs"
	"github.com/obos-dev/kernel/internal/kernel/vmm"
)

// testKernel bundles the dispatch table, a syscall context, and the
// singletons the handlers close over.
type testKernel struct {
	tbl   *Table
	call  *Call
	clock *timer.Source
}

func newTestKernel(t *testing.T) *testKernel {
	t.Helper()

	pm := pmm.New(1, 4096)
	vm := vmm.New(pm, vmm.NewRAMSwap())
	sc := sched.New(1, nil)
	procs := proc.NewTable()
	fs := vfs.New()

	drivers := driver.Builtins()

	factory, err := drivers.Lookup("ramfs")
	if err != nil {
		t.Fatalf("Builtins has no ramfs: %v", err)
	}

	symbols := driver.NewSymbolTable()
	loader := driver.NewLoader(symbols)

	hdr, drv, entry := factory()

	inst, err := loader.Load(hdr, drv, nil, entry)
	if err != nil {
		t.Fatalf("loading ramfs: %v", err)
	}

	fs.Root.Driver = inst.Driver

	sockets := vfs.NewRegistry()
	sockets.Register(vfs.AF_UNIX, vfs.SOCK_STREAM, vfs.NewUnixStream())

	clock := timer.NewSource(sc.CPU(0).DPC)

	ctx := vm.NewContext(0x1000, 1<<30)
	process := procs.New(proc.Credentials{}, ctx)
	process.Cwd = "/"

	schedThread, err := sc.NewThread(sched.Normal, 0, process)
	if err != nil {
		t.Fatalf("NewThread: %v", err)
	}

	thread := &proc.Thread{Sched: schedThread, Signals: ksignal.NewThread(), Owner: process}
	process.AddThread(thread)

	tbl := NewTable()
	RegisterCore(tbl, Deps{
		Futexes: ksync.NewFutexTable(),
		Clock:   clock,
		Sockets: sockets,
		Loader:  loader,
		Drivers: drivers,
	})

	call := &Call{
		Process:   process,
		Thread:    thread,
		ProcTable: procs,
		CPU:       sc.CPU(0),
		Sched:     sc,
		Mem:       vm,
		Ctx:       ctx,
		VFS:       fs,
		Handles:   process.Handles,
	}

	return &testKernel{tbl: tbl, call: call, clock: clock}
}

// userBuf maps one page of user memory at a fixed address and seeds it
// with data, returning the mapped base.
func (k *testKernel) userBuf(t *testing.T, addr uintptr, data []byte) uintptr {
	t.Helper()

	base, err := k.call.Ctx.VirtualMemoryAlloc(addr, vmm.PageSize, vmm.ProtRead|vmm.ProtWrite|vmm.ProtUser, vmm.FlagHint, nil, 0)
	if err != nil {
		t.Fatalf("mapping user page at %#x: %v", addr, err)
	}

	if len(data) > 0 {
		if err := k.call.Mem.CopyOut(k.call.Ctx, base, data); err != nil {
			t.Fatalf("seeding user page: %v", err)
		}
	}

	return base
}

func (k *testKernel) readBack(t *testing.T, addr uintptr, n int) []byte {
	t.Helper()

	buf := make([]byte, n)
	if err := k.call.Mem.CopyIn(k.call.Ctx, addr, buf); err != nil {
		t.Fatalf("reading back user memory at %#x: %v", addr, err)
	}

	return buf
}

func (k *testKernel) dispatch(t *testing.T, num Number, args ...uintptr) uintptr {
	t.Helper()

	ret, err := k.do(num, args...)
	if err != nil {
		t.Fatalf("Dispatch(%s): %v", Name(num), err)
	}

	return ret
}

func (k *testKernel) do(num Number, args ...uintptr) (uintptr, error) {
	k.call.Args = Args{}
	copy(k.call.Args[:], args)

	return k.tbl.Dispatch(num, k.call)
}

func le64(b []byte) uint64 {
	v := uint64(0)
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}

	return v
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func TestVirtualMemoryAllocSyscallWiresToVMM(t *testing.T) {
	k := newTestKernel(t)

	base := k.dispatch(t, SysVirtualMemoryAlloc, 0, vmm.PageSize, uintptr(vmm.ProtRead|vmm.ProtWrite), 0, 0)
	if base == 0 {
		t.Fatal("Dispatch(VirtualMemoryAlloc) returned a zero base")
	}
}

func TestDispatchUnregisteredNumberIsUnimplemented(t *testing.T) {
	tbl := NewTable()

	_, err := tbl.Dispatch(Number(99999), &Call{})
	if got := kerrors.Of(err); got != kerrors.UNIMPLEMENTED {
		t.Fatalf("Dispatch of unregistered number = %v, want UNIMPLEMENTED", got)
	}
}

func TestEveryDeclaredNumberIsRegistered(t *testing.T) {
	k := newTestKernel(t)

	for num, name := range names {
		if _, _, ok := k.tbl.Lookup(num); !ok {
			t.Errorf("declared syscall %s is not registered", name)
		}
	}
}

func TestKillAcceptsHandleCurrentAsCallingThread(t *testing.T) {
	k := newTestKernel(t)

	k.dispatch(t, SysKill, uintptr(handle.Current), uintptr(ksignal.SIGUSR1))

	if k.call.Thread.Signals.Pending()&(1<<ksignal.SIGUSR1) == 0 {
		t.Fatal("Kill(handle.Current) did not raise the signal on the calling thread")
	}
}

func TestFdOpenMissingPathFails(t *testing.T) {
	k := newTestKernel(t)

	addr := k.userBuf(t, 0x2000, []byte("/does-not-exist\x00"))

	_, err := k.do(SysFdOpen, addr, uintptr(vfs.ORead), 0)
	if got := kerrors.Of(err); got != kerrors.NOT_FOUND {
		t.Fatalf("FdOpen on missing path = %v, want NOT_FOUND", got)
	}
}

func TestFdCreatWriteReadBack(t *testing.T) {
	k := newTestKernel(t)

	path := k.userBuf(t, 0x2000, []byte("/tmp-note\x00"))
	data := k.userBuf(t, 0x4000, []byte("hello, kernel"))

	fd := k.dispatch(t, SysFdCreat, path, 0, 0)

	if n := k.dispatch(t, SysFdWrite, fd, data, 13); n != 13 {
		t.Fatalf("FdWrite wrote %d bytes, want 13", n)
	}

	k.dispatch(t, SysFdSeek, fd, 0, 0)

	out := k.userBuf(t, 0x6000, nil)
	if n := k.dispatch(t, SysFdRead, fd, out, 13); n != 13 {
		t.Fatalf("FdRead read %d bytes, want 13", n)
	}

	if got := k.readBack(t, out, 13); string(got) != "hello, kernel" {
		t.Fatalf("read back %q, want %q", got, "hello, kernel")
	}

	if off := k.dispatch(t, SysFdTellOff, fd); off != 13 {
		t.Fatalf("FdTellOff = %d, want 13", off)
	}

	k.dispatch(t, SysFdClose, fd)
}

func TestMkPipeRoundTrip(t *testing.T) {
	k := newTestKernel(t)

	out := k.userBuf(t, 0x2000, nil)
	k.dispatch(t, SysMkPipe, out, 0)

	raw := k.readBack(t, out, 8)
	rh := uintptr(le32(raw[0:]))
	wh := uintptr(le32(raw[4:]))

	msg := k.userBuf(t, 0x4000, []byte("ping"))
	if n := k.dispatch(t, SysFdWrite, wh, msg, 4); n != 4 {
		t.Fatalf("pipe write = %d, want 4", n)
	}

	dst := k.userBuf(t, 0x6000, nil)
	if n := k.dispatch(t, SysFdRead, rh, dst, 4); n != 4 {
		t.Fatalf("pipe read = %d, want 4", n)
	}

	if got := k.readBack(t, dst, 4); string(got) != "ping" {
		t.Fatalf("pipe carried %q, want %q", got, "ping")
	}
}

func TestForkSyscallCreatesRunnableChild(t *testing.T) {
	k := newTestKernel(t)

	pid := k.dispatch(t, SysFork)

	child := k.call.ProcTable.Lookup(proc.PID(pid))
	if child == nil {
		t.Fatalf("Fork returned PID %d but the process table has no such process", pid)
	}

	threads := child.ThreadList()
	if len(threads) != 1 {
		t.Fatalf("forked child has %d threads, want 1", len(threads))
	}

	if threads[0].Sched.State() != sched.Ready {
		t.Fatalf("forked child's thread is %v, want READY", threads[0].Sched.State())
	}
}

func TestMkdirAtAndReadEntries(t *testing.T) {
	k := newTestKernel(t)

	path := k.userBuf(t, 0x2000, []byte("/work\x00"))
	k.dispatch(t, SysMkdirAt, uintptr(handle.Current), path, uintptr(vfs.PermOwnerRead|vfs.PermOwnerWrite|vfs.PermOwnerExec))

	root := k.userBuf(t, 0x4000, []byte("/\x00"))
	dirFD := k.dispatch(t, SysOpenDir, root)

	out := k.userBuf(t, 0x6000, nil)
	n := k.dispatch(t, SysReadEntries, dirFD, out, vmm.PageSize)

	if got := k.readBack(t, out, int(n)); !bytes.Contains(got, []byte("work\x00")) {
		t.Fatalf("ReadEntries output %q does not contain %q", got, "work")
	}
}

func TestStatReportsFileSize(t *testing.T) {
	k := newTestKernel(t)

	path := k.userBuf(t, 0x2000, []byte("/stat-me\x00"))
	data := k.userBuf(t, 0x4000, []byte("12345"))

	fd := k.dispatch(t, SysFdCreat, path, 0, 0)
	k.dispatch(t, SysFdWrite, fd, data, 5)

	out := k.userBuf(t, 0x6000, nil)
	k.dispatch(t, SysStat, path, out)

	stat := k.readBack(t, out, 40)
	if size := le64(stat[32:]); size != 5 {
		t.Fatalf("Stat size = %d, want 5", size)
	}
}

func TestSymlinkResolvesThroughReadLink(t *testing.T) {
	k := newTestKernel(t)

	target := k.userBuf(t, 0x2000, []byte("/tmp\x00"))
	link := k.userBuf(t, 0x4000, []byte("/scratch\x00"))

	k.dispatch(t, SysSymLinkAt, target, uintptr(handle.Current), link)

	out := k.userBuf(t, 0x6000, nil)
	n := k.dispatch(t, SysReadLinkAt, uintptr(handle.Current), link, out)

	if got := k.readBack(t, out, int(n)); string(got) != "/tmp" {
		t.Fatalf("ReadLinkAt = %q, want %q", got, "/tmp")
	}
}

func TestUnixSocketEcho(t *testing.T) {
	k := newTestKernel(t)

	addr := k.userBuf(t, 0x2000, []byte("/sock/echo\x00"))

	server := k.dispatch(t, SysSocket, uintptr(vfs.AF_UNIX), uintptr(vfs.SOCK_STREAM), 0)
	k.dispatch(t, SysBind, server, addr)
	k.dispatch(t, SysListen, server, 4)

	client := k.dispatch(t, SysSocket, uintptr(vfs.AF_UNIX), uintptr(vfs.SOCK_STREAM), 0)
	k.dispatch(t, SysConnect, client, addr)

	conn := k.dispatch(t, SysAccept, server)

	msg := k.userBuf(t, 0x4000, []byte("marco"))
	if n := k.dispatch(t, SysSendTo, client, msg, 5, 0); n != 5 {
		t.Fatalf("SendTo = %d, want 5", n)
	}

	dst := k.userBuf(t, 0x6000, nil)
	if n := k.dispatch(t, SysRecvFrom, conn, dst, 5, 0); n != 5 {
		t.Fatalf("RecvFrom = %d, want 5", n)
	}

	if got := k.readBack(t, dst, 5); string(got) != "marco" {
		t.Fatalf("socket carried %q, want %q", got, "marco")
	}

	// The client never bound, so only the client side has a named peer:
	// the server's bound address.
	nameOut := k.userBuf(t, 0x8000, nil)
	if n := k.dispatch(t, SysPeerName, client, nameOut); n == 0 {
		t.Fatal("PeerName returned an empty name")
	}
}

func TestClockGetReturnsTicks(t *testing.T) {
	k := newTestKernel(t)

	k.clock.Tick()
	k.clock.Tick()
	k.clock.Tick()

	if ticks := k.dispatch(t, SysClockGet, 0); ticks != 3 {
		t.Fatalf("ClockGet = %d, want 3", ticks)
	}
}

func TestSigPendingReportsRaisedSignal(t *testing.T) {
	k := newTestKernel(t)

	k.call.Thread.Signals.SetMask(1 << ksignal.SIGUSR2)
	k.call.Thread.Signals.Raise(ksignal.SIGUSR2)

	out := k.userBuf(t, 0x2000, nil)
	k.dispatch(t, SysSigPending, out)

	if got := le64(k.readBack(t, out, 8)); got&(1<<ksignal.SIGUSR2) == 0 {
		t.Fatalf("SigPending = %#x, missing SIGUSR2 bit", got)
	}
}

func TestIRPReadCompletesOnRamfsFile(t *testing.T) {
	k := newTestKernel(t)

	path := k.userBuf(t, 0x2000, []byte("/blob\x00"))
	data := k.userBuf(t, 0x4000, []byte("abcdef"))

	fd := k.dispatch(t, SysFdCreat, path, 0, 0)
	k.dispatch(t, SysFdWrite, fd, data, 6)
	k.dispatch(t, SysFdFlush, fd)

	irp := k.dispatch(t, SysIRPCreate, fd, uintptr(vfs.IRPRead), 0, 6)
	k.dispatch(t, SysIRPSubmit, irp)

	if done := k.dispatch(t, SysIRPWait, irp); done != 6 {
		t.Fatalf("IRPWait completed %d blocks, want 6", done)
	}

	if state := k.dispatch(t, SysIRPQueryState, irp); state != 1 {
		t.Fatalf("IRPQueryState = %d, want 1 (complete)", state)
	}

	out := k.userBuf(t, 0x6000, nil)
	if n := k.dispatch(t, SysIRPGetBuffer, irp, out, 6); n != 6 {
		t.Fatalf("IRPGetBuffer = %d, want 6", n)
	}

	if got := k.readBack(t, out, 6); string(got) != "abcdef" {
		t.Fatalf("IRP read %q, want %q", got, "abcdef")
	}

	if status := k.dispatch(t, SysIRPGetStatus, irp); status != uintptr(kerrors.SUCCESS) {
		t.Fatalf("IRPGetStatus = %d, want SUCCESS", status)
	}
}

func TestLoadDriverFromHeaderImage(t *testing.T) {
	k := newTestKernel(t)

	hdr := driver.RAMFSHeader()

	image, err := hdr.MarshalBinary()
	if err != nil {
		t.Fatalf("marshaling header: %v", err)
	}

	path := k.userBuf(t, 0x2000, []byte("/ramfs.drv\x00"))
	data := k.userBuf(t, 0x4000, image)

	fd := k.dispatch(t, SysFdCreat, path, 0, 0)
	k.dispatch(t, SysFdWrite, fd, data, uintptr(len(image)))
	k.dispatch(t, SysFdClose, fd)

	h := k.dispatch(t, SysLoadDriver, path, 0)
	k.dispatch(t, SysStartDriver, h)

	nameOut := k.userBuf(t, 0x6000, nil)
	n := k.dispatch(t, SysQueryDriverName, h, nameOut)

	if got := k.readBack(t, nameOut, int(n)); string(got) != "ramfs" {
		t.Fatalf("QueryDriverName = %q, want %q", got, "ramfs")
	}

	k.dispatch(t, SysUnloadDriver, h)
}

func TestPPollReportsPipeReadable(t *testing.T) {
	k := newTestKernel(t)

	out := k.userBuf(t, 0x2000, nil)
	k.dispatch(t, SysMkPipe, out, 0)

	raw := k.readBack(t, out, 8)
	rh := le32(raw[0:])
	wh := uintptr(le32(raw[4:]))

	entry := []byte{byte(rh), byte(rh >> 8), byte(rh >> 16), byte(rh >> 24), pollIn, 0, 0, 0}
	fds := k.userBuf(t, 0x4000, entry)

	// Empty pipe: a zero-timeout poll reports nothing ready.
	if n := k.dispatch(t, SysPPoll, fds, 1, 0, 0); n != 0 {
		t.Fatalf("PPoll on empty pipe = %d, want 0", n)
	}

	msg := k.userBuf(t, 0x6000, []byte("x"))
	k.dispatch(t, SysFdWrite, wh, msg, 1)

	if n := k.dispatch(t, SysPPoll, fds, 1, 0, 0); n != 1 {
		t.Fatalf("PPoll after write = %d, want 1", n)
	}

	if back := k.readBack(t, fds, 8); back[6]&pollIn == 0 {
		t.Fatal("PPoll did not set POLLIN in revents")
	}
}

func TestGetCWDAndChdir(t *testing.T) {
	k := newTestKernel(t)

	path := k.userBuf(t, 0x2000, []byte("/tmp\x00"))
	k.dispatch(t, SysChdir, path)

	out := k.userBuf(t, 0x4000, nil)
	n := k.dispatch(t, SysGetCWD, out, 64)

	if got := k.readBack(t, out, int(n)); string(got) != "/tmp" {
		t.Fatalf("GetCWD = %q, want %q", got, "/tmp")
	}
}

func TestContextGetStatCopiesCounters(t *testing.T) {
	k := newTestKernel(t)

	k.dispatch(t, SysVirtualMemoryAlloc, 0, vmm.PageSize, uintptr(vmm.ProtRead|vmm.ProtWrite), 0, 0)

	out := k.userBuf(t, 0x2000, nil)
	k.dispatch(t, SysContextGetStat, uintptr(handle.Current), out)

	stat := k.readBack(t, out, 32)
	if pageable := le64(stat[8:]); pageable == 0 {
		t.Fatal("ContextGetStat reported zero pageable bytes after an allocation")
	}
}

func TestThreadCreateReadyAndPriority(t *testing.T) {
	k := newTestKernel(t)

	h := k.dispatch(t, SysThreadCreate, uintptr(sched.Low), 0, 0)

	k.dispatch(t, SysThreadReady, h)

	old := k.dispatch(t, SysThreadPriority, h, uintptr(sched.High))
	if sched.Priority(old) != sched.Low {
		t.Fatalf("ThreadPriority returned old priority %v, want Low", sched.Priority(old))
	}

	obj, err := k.call.Handles.Lookup(handle.Handle(h), handle.TypeThread)
	if err != nil {
		t.Fatalf("looking up created thread: %v", err)
	}

	if pri := obj.(*proc.Thread).Sched.Priority; pri != sched.High {
		t.Fatalf("thread priority = %v, want High", pri)
	}
}
