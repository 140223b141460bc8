// Package proc implements processes, threads, process groups, sessions,
// and credentials -- the substrate that ties the scheduler, VMM, signal,
// and handle-table layers together into the unit a syscall actually
// operates on.
package proc

import (
	"sync"
	"sync/atomic"

	"github.com/obos-dev/kernel/internal/kernel/handle"
	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/ksignal"
	"github.com/obos-dev/kernel/internal/kernel/sched"
	"github.com/obos-dev/kernel/internal/kernel/vmm"
	"github.com/obos-dev/kernel/internal/kernel/wait"
)

// PID uniquely and monotonically identifies a process for the life of the
// kernel.
type PID uint64

// Credentials is a process's uid/gid tuple: real, effective, and saved IDs
// plus a supplementary group list, per the traditional Unix model.
type Credentials struct {
	UID, EUID, SUID uint32
	GID, EGID, SGID uint32
	Groups          []uint32
}

// HasGroup reports whether gid matches the credential's effective group or
// any supplementary group -- the set a capability or file-permission check
// tests against.
func (c Credentials) HasGroup(gid uint32) bool {
	if c.EGID == gid {
		return true
	}

	for _, g := range c.Groups {
		if g == gid {
			return true
		}
	}

	return false
}

// Thread couples a schedulable sched.Thread with its signal-delivery state
// and its owning Process.
type Thread struct {
	Sched   *sched.Thread
	Signals *ksignal.Thread
	Owner   *Process
}

// Group is a process group: a leader PID, its member list, and the session
// it belongs to.
type Group struct {
	ID      PID
	mu      sync.Mutex
	members []*Process
	Session *Session
}

func newGroup(leader *Process, s *Session) *Group {
	g := &Group{ID: leader.PID, Session: s}
	g.members = append(g.members, leader)

	return g
}

func (g *Group) Members() []*Process {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*Process, len(g.members))
	copy(out, g.members)

	return out
}

func (g *Group) add(p *Process) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.members = append(g.members, p)
}

func (g *Group) remove(p *Process) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, m := range g.members {
		if m == p {
			g.members = append(g.members[:i], g.members[i+1:]...)
			return
		}
	}
}

// Session groups process groups under one controlling terminal.
type Session struct {
	ID       PID
	Leader   *Process
	CtrlTTY  any // the controlling TTY vnode, typed any to avoid an import cycle with vfs
	refcount atomic.Int32

	mu     sync.Mutex
	groups []*Group
}

func newSession(leader *Process) *Session {
	s := &Session{ID: leader.PID, Leader: leader}
	s.refcount.Store(1)

	return s
}

func (s *Session) addGroup(g *Group) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.groups = append(s.groups, g)
}

// Process is one process: its address space, handle table, thread list,
// credentials, family links, and exit/zombie state.
type Process struct {
	PID         PID
	Credentials Credentials

	AddrSpace  *vmm.Context
	Handles    *handle.Table
	Sigactions *ksignal.ActionTable

	Umask    uint32
	Cmdline  []string
	ExecFile string
	Cwd      string

	mu       sync.Mutex
	threads  []*Thread
	parent   *Process
	children []*Process
	group    *Group

	exitStatus int
	dead       atomic.Bool
	zombie     *wait.Header // signaled once Exit runs; parents Wait on this
}

// Table is the kernel-wide process registry: PID allocation plus a lookup
// map, guarded by one lock.
type Table struct {
	mu      sync.Mutex
	nextPID atomic.Uint64
	byPID   map[PID]*Process
	init    *Process // PID 1, the reparenting target for orphaned children
}

// NewTable creates an empty process table.
func NewTable() *Table {
	return &Table{byPID: make(map[PID]*Process)}
}

// New creates a process with the next PID, with no parent and no
// session/group, owning ctx. The first call creates PID 0 (the kernel's
// own pseudo-process) and the second PID 1.
func (t *Table) New(creds Credentials, ctx *vmm.Context) *Process {
	p := &Process{
		PID:         PID(t.nextPID.Add(1) - 1),
		Credentials: creds,
		AddrSpace:   ctx,
		Handles:     handle.New(),
		Sigactions:  ksignal.NewActionTable(),
		zombie:      wait.NewHeader(true),
	}

	t.mu.Lock()
	t.byPID[p.PID] = p
	if p.PID == 1 {
		t.init = p
	}
	t.mu.Unlock()

	return p
}

// Lookup returns the process with the given PID, or nil.
func (t *Table) Lookup(pid PID) *Process {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.byPID[pid]
}

// Children returns a snapshot of p's child processes.
func (p *Process) Children() []*Process {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Process, len(p.children))
	copy(out, p.children)

	return out
}

// ThreadList returns a snapshot of p's threads.
func (p *Process) ThreadList() []*Thread {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Thread, len(p.threads))
	copy(out, p.threads)

	return out
}

// AddThread registers th as belonging to p.
func (p *Process) AddThread(th *Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()

	th.Owner = p
	p.threads = append(p.threads, th)
}

// Dead reports whether Exit has run for p.
func (p *Process) Dead() bool { return p.dead.Load() }

// ExitStatus returns the status Exit recorded.
func (p *Process) ExitStatus() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.exitStatus
}

// Zombie returns the waitable header a parent blocks on to reap p.
func (p *Process) Zombie() *wait.Header { return p.zombie }

// Fork creates a child of parent: a new PID, a copy of parent's
// credentials, a forked address space (vmgr.Fork), a fresh handle table
// seeded from parent's open handles, and membership in parent's process
// group and session. It does not itself clone threads; the caller creates
// the child's initial thread via sc.NewThread and AddThread.
func (t *Table) Fork(parent *Process, vmgr *vmm.Manager) (*Process, error) {
	childCtx := vmgr.NewContext(0, 0)
	if err := vmgr.Fork(childCtx, parent.AddrSpace); err != nil {
		return nil, kerrors.Wrap(kerrors.INTERNAL_ERROR, "proc.Fork", err)
	}

	child := &Process{
		PID:         PID(t.nextPID.Add(1) - 1),
		Credentials: parent.Credentials,
		AddrSpace:   childCtx,
		Handles:     parent.Handles.Clone(),
		Sigactions:  ksignal.NewActionTable(),
		Cwd:         parent.Cwd,
		ExecFile:    parent.ExecFile,
		Umask:       parent.Umask,
		zombie:      wait.NewHeader(true),
	}

	child.parent = parent

	parent.mu.Lock()
	parent.children = append(parent.children, child)
	group := parent.group
	parent.mu.Unlock()

	child.group = group
	if group != nil {
		group.add(child)
	}

	t.mu.Lock()
	t.byPID[child.PID] = child
	t.mu.Unlock()

	return child, nil
}

// Spawn creates a fresh child of parent with its own address space ctx and
// an empty handle table -- the ProcessStart shape, where the child begins
// from a named executable rather than as a fork of the parent's memory.
func (t *Table) Spawn(parent *Process, ctx *vmm.Context) *Process {
	child := &Process{
		PID:         PID(t.nextPID.Add(1) - 1),
		Credentials: parent.Credentials,
		AddrSpace:   ctx,
		Handles:     handle.New(),
		Sigactions:  ksignal.NewActionTable(),
		Cwd:         parent.Cwd,
		Umask:       parent.Umask,
		zombie:      wait.NewHeader(true),
	}

	child.parent = parent

	parent.mu.Lock()
	parent.children = append(parent.children, child)
	group := parent.group
	parent.mu.Unlock()

	child.group = group
	if group != nil {
		group.add(child)
	}

	t.mu.Lock()
	t.byPID[child.PID] = child
	t.mu.Unlock()

	return child
}

// Exec replaces p's address space and command line in place, as if p had
// just been forked anew into execFile; the caller is responsible for
// tearing down the old context's mappings via vmgr before calling Exec, and
// for constructing the replacement context.
func (p *Process) Exec(execFile string, cmdline []string, newCtx *vmm.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ExecFile = execFile
	p.Cmdline = cmdline
	p.AddrSpace = newCtx
}

// Exit marks p dead with the given status, signals its zombie header so a
// waiting parent's Wait returns, and reparents any remaining children to
// the table's init process (PID 1), matching traditional Unix orphan
// handling.
func (t *Table) Exit(p *Process, status int) {
	p.mu.Lock()
	p.exitStatus = status
	p.dead.Store(true)
	kids := p.children
	p.children = nil
	p.mu.Unlock()

	t.mu.Lock()
	initProc := t.init
	t.mu.Unlock()

	if initProc != nil {
		for _, k := range kids {
			k.mu.Lock()
			k.parent = initProc
			k.mu.Unlock()

			initProc.mu.Lock()
			initProc.children = append(initProc.children, k)
			initProc.mu.Unlock()
		}
	}

	wait.Signal(p.zombie, true, false)

	if p.group != nil {
		p.group.remove(p)
	}
}

// Wait blocks until the child with the given PID has exited, then removes
// it from parent's child list and returns it so the caller can read its
// exit status before the process table entry is finally reclaimed.
func (t *Table) Wait(parent *Process, childPID PID) (*Process, error) {
	parent.mu.Lock()

	var child *Process

	for _, c := range parent.children {
		if c.PID == childPID {
			child = c
			break
		}
	}

	parent.mu.Unlock()

	if child == nil {
		return nil, kerrors.New(kerrors.NOT_FOUND, "proc.Wait")
	}

	if err := wait.WaitOne(child.zombie); err != nil {
		return nil, err
	}

	parent.mu.Lock()
	for i, c := range parent.children {
		if c.PID == childPID {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
	parent.mu.Unlock()

	t.mu.Lock()
	delete(t.byPID, childPID)
	t.mu.Unlock()

	return child, nil
}

// NewSession makes p the leader of a brand new session and a brand new
// process group within it, detaching it from whatever group it was in
// before.
func (p *Process) NewSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := newSession(p)
	g := newGroup(p, s)
	s.addGroup(g)
	p.group = g

	return s
}

// SetProcessGroup moves p into group g.
func (p *Process) SetProcessGroup(g *Group) {
	p.mu.Lock()
	old := p.group
	p.group = g
	p.mu.Unlock()

	if old != nil {
		old.remove(p)
	}

	g.add(p)
}

// Group returns p's current process group.
func (p *Process) Group() *Group {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.group
}
