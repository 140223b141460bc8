package proc

import (
	"testing"

	"github.com/obos-dev/kernel/internal/kernel/pmm"
	"github.com/obos-dev/kernel/internal/kernel/sched"
	"github.com/obos-dev/kernel/internal/kernel/vmm"
)

func newTestVMM(t *testing.T) *vmm.Manager {
	t.Helper()

	return vmm.New(pmm.New(1, 4096), vmm.NewRAMSwap())
}

func TestForkCreatesChildWithCopiedAddressSpace(t *testing.T) {
	tbl := NewTable()
	vmgr := newTestVMM(t)

	kernelCtx := vmgr.NewContext(0x1000, 1<<30)
	parent := tbl.New(Credentials{UID: 1000, EUID: 1000}, kernelCtx)

	if _, err := parent.AddrSpace.VirtualMemoryAlloc(0, 4096, vmm.ProtRead|vmm.ProtWrite, 0, nil, 0); err != nil {
		t.Fatalf("alloc: %v", err)
	}

	child, err := tbl.Fork(parent, vmgr)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}

	if child.PID == parent.PID {
		t.Fatal("child should have a distinct PID")
	}

	if child.AddrSpace == parent.AddrSpace {
		t.Fatal("child should have its own address space")
	}

	if child.Credentials.UID != parent.Credentials.UID || child.Credentials.EUID != parent.Credentials.EUID {
		t.Error("child should inherit parent's credentials")
	}

	kids := parent.Children()
	if len(kids) != 1 || kids[0] != child {
		t.Errorf("parent.Children() = %v, want [child]", kids)
	}
}

func TestExitSignalsZombieAndWaitReturns(t *testing.T) {
	tbl := NewTable()
	vmgr := newTestVMM(t)

	parent := tbl.New(Credentials{}, vmgr.NewContext(0x1000, 1<<30))
	child, err := tbl.Fork(parent, vmgr)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}

	done := make(chan *Process, 1)

	go func() {
		got, err := tbl.Wait(parent, child.PID)
		if err != nil {
			t.Error(err)
		}
		done <- got
	}()

	tbl.Exit(child, 7)

	got := <-done
	if got != child {
		t.Fatal("Wait should return the exited child")
	}

	if !child.Dead() || child.ExitStatus() != 7 {
		t.Errorf("child dead=%v status=%d, want dead=true status=7", child.Dead(), child.ExitStatus())
	}

	if len(parent.Children()) != 0 {
		t.Error("child should be removed from the parent's child list after Wait")
	}
}

func TestOrphanedChildrenReparentToInit(t *testing.T) {
	tbl := NewTable()
	vmgr := newTestVMM(t)

	initProc := tbl.New(Credentials{}, vmgr.NewContext(0x1000, 1<<30)) // PID 0
	_ = tbl.New(Credentials{}, vmgr.NewContext(0x1000, 1<<30))         // PID 1: the real init, per New()'s doc

	mid, err := tbl.Fork(initProc, vmgr)
	if err != nil {
		t.Fatalf("fork mid: %v", err)
	}

	grandchild, err := tbl.Fork(mid, vmgr)
	if err != nil {
		t.Fatalf("fork grandchild: %v", err)
	}

	tbl.Exit(mid, 0)

	initDirect := tbl.Lookup(1)
	if initDirect == nil {
		t.Fatal("expected PID 1 to exist")
	}

	found := false

	for _, c := range initDirect.Children() {
		if c == grandchild {
			found = true
		}
	}

	if !found {
		t.Error("orphaned grandchild should be reparented to PID 1")
	}
}

func TestNewSessionCreatesOwnGroup(t *testing.T) {
	tbl := NewTable()
	vmgr := newTestVMM(t)

	p := tbl.New(Credentials{}, vmgr.NewContext(0x1000, 1<<30))

	s := p.NewSession()
	if s.Leader != p {
		t.Error("session leader should be the calling process")
	}

	g := p.Group()
	if g == nil || g.ID != p.PID {
		t.Error("process should lead its own new group after NewSession")
	}

	members := g.Members()
	if len(members) != 1 || members[0] != p {
		t.Errorf("group members = %v, want just the leader", members)
	}
}

func TestAddThreadAssociatesOwner(t *testing.T) {
	tbl := NewTable()
	vmgr := newTestVMM(t)

	p := tbl.New(Credentials{}, vmgr.NewContext(0x1000, 1<<30))

	s := sched.New(1, nil)
	st, err := s.NewThread(sched.Normal, 0, nil)
	if err != nil {
		t.Fatalf("new sched thread: %v", err)
	}

	th := &Thread{Sched: st}
	p.AddThread(th)

	if th.Owner != p {
		t.Error("AddThread should set the thread's Owner")
	}

	list := p.ThreadList()
	if len(list) != 1 || list[0] != th {
		t.Errorf("ThreadList() = %v, want [th]", list)
	}
}
