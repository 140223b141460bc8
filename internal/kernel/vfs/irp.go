package vfs

import (
	"sync/atomic"

	"github.com/obos-dev/kernel/internal/kernel/kerrors"
	"github.com/obos-dev/kernel/internal/kernel/wait"
)

// IRPOp selects the direction of an I/O request packet.
type IRPOp int

const (
	IRPRead IRPOp = iota
	IRPWrite
)

// IRP is an I/O request packet: the asynchronous alternative to a driver's
// synchronous ReadSync/WriteSync, for drivers that implement
// SubmitIRP/FinalizeIRP instead.
type IRP struct {
	VNode   *VNode
	DevDesc any // the target vnode's per-driver cookie, captured at create

	Op        IRPOp
	Buff      []byte
	BlkOffset uint64
	BlkCount  uint64
	DryOp     bool // validate only, perform no actual transfer

	NBlkDone uint64
	Status   error

	Evnt *wait.Header // set by the driver on Submit; nil means already complete

	refcount atomic.Int32
}

// NewIRP allocates an IRP with refcount 1, held by the caller.
func NewIRP(op IRPOp, buff []byte, blkOffset, blkCount uint64) *IRP {
	irp := &IRP{Op: op, Buff: buff, BlkOffset: blkOffset, BlkCount: blkCount}
	irp.refcount.Store(1)

	return irp
}

// Ref increments the IRP's refcount, e.g. when both the submitter and the
// driver need to keep it alive independently.
func (irp *IRP) Ref() { irp.refcount.Add(1) }

// Unref decrements the refcount; the IRP is considered freed (in this
// Go model, simply eligible for GC) once it reaches zero.
func (irp *IRP) Unref() { irp.refcount.Add(-1) }

// Submit hands irp to drv, which fills in Evnt (or leaves it nil if the
// operation already completed synchronously).
func Submit(drv Driver, irp *IRP) error {
	return drv.SubmitIRP(irp)
}

// Wait blocks on irp's completion event, if any, then calls the driver's
// FinalizeIRP to fill NBlkDone/Status. Poll callers should check
// irp.Evnt == nil or wait.Signaled(irp.Evnt) instead of calling Wait.
func Wait(drv Driver, irp *IRP) error {
	if irp.Evnt != nil {
		if err := wait.WaitOne(irp.Evnt); err != nil {
			return err
		}
	}

	if err := drv.FinalizeIRP(irp); err != nil {
		return kerrors.Wrap(kerrors.INTERNAL_ERROR, "vfs.Wait", err)
	}

	return irp.Status
}
