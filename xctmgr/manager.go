// Package xctmgr implements the transaction manager (component C5): the
// begin/precommit/abort/wait-for-commit driver that runs the Silo-style
// validation protocol against the record header (xctid), the transaction
// object (xct), and the lock lists (locklist).
//
// This is grounded on the commit protocol described alongside
// foedus/xct/xct.hpp: lock writes ascending, fence on the global epoch,
// validate reads/pointers/page-versions, issue the commit id, publish
// writes, release descending.
package xctmgr

import (
	"time"

	"github.com/foedus-go/foedus/epoch"
	"github.com/foedus-go/foedus/locklist"
	"github.com/foedus-go/foedus/metrics"
	"github.com/foedus-go/foedus/walog"
	"github.com/foedus-go/foedus/xct"
	"github.com/foedus-go/foedus/xctid"
	"github.com/sirupsen/logrus"
)

// Worker drives one thread's transactions against a shared epoch clock.
// It owns the thread's Xct object, its epoch protection handle, and its
// write-ahead log buffer.
type Worker struct {
	xct    *xct.Xct
	clock  *epoch.Clock
	handle epoch.Handle
	buf    *walog.Buffer
	log    *logrus.Entry
	m      *metrics.Set
}

// NewWorker constructs a transaction-manager worker for one thread.
func NewWorker(threadID int, clock *epoch.Clock, buf *walog.Buffer, log *logrus.Entry, m *metrics.Set) *Worker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Worker{
		xct:    xct.New(threadID),
		clock:  clock,
		handle: clock.AcquireHandle(),
		buf:    buf,
		log:    log.WithField("thread", threadID),
		m:      m,
	}
}

// Close releases the worker's epoch protection handle. Call once the
// thread is done issuing transactions.
func (w *Worker) Close() {
	w.clock.ReleaseHandle(w.handle)
}

// Xct exposes the underlying transaction object, e.g. so storage-layer
// code can call AddToReadSet/AddToWriteSet while the transaction is active.
func (w *Worker) Xct() *xct.Xct { return w.xct }

// BeginXct starts a new transaction attempt at the given isolation level
// and marks the thread protected in the epoch clock, running any
// reclamation triggers that have become safe as a side effect.
func (w *Worker) BeginXct(level xct.IsolationLevel) error {
	if err := w.xct.Activate(level); err != nil {
		return err
	}
	w.clock.ProtectAndDrain(w.handle)
	if w.m != nil {
		w.m.Counter("xct_begin_total").Inc()
	}
	return nil
}

// AbortXct releases every lock the transaction holds, seeds the
// retrospective lock list from what it wanted (for an adaptive retry),
// and deactivates.
func (w *Worker) AbortXct() error {
	cll := w.xct.CLL()
	w.xct.RLL().FillFrom(cll)
	cll.ReleaseAll()
	cll.Clear()
	w.clock.Unprotect(w.handle)
	if w.m != nil {
		w.m.Counter("xct_abort_total").Inc()
	}
	return w.xct.Deactivate()
}

// PrecommitXct runs the full Silo-style validation protocol and, on
// success, returns the epoch the transaction committed in. On failure it
// returns ErrValidationFailed having already
// performed the same cleanup as AbortXct - callers must not call AbortXct
// again afterward.
func (w *Worker) PrecommitXct() (epoch.Epoch, error) {
	x := w.xct
	cll := x.CLL()

	if x.IsReadOnly() {
		if !w.validate(x) {
			return w.failCommit(cll)
		}
		w.clock.Unprotect(w.handle)
		if err := x.Deactivate(); err != nil {
			return epoch.Invalid, err
		}
		if w.m != nil {
			w.m.Counter("xct_commit_readonly_total").Inc()
		}
		return w.clock.Current(), nil
	}

	// Phase 1: acquire X locks for every write, ascending. AcquireNow
	// fixes up the ascending-id invariant itself if a lower-ID lock is
	// requested after a higher one is already held.
	for _, ws := range x.WriteSet() {
		cll.AcquireNow(ws.LockID, ws.OwnerAddress, xctid.ModeExclusive)
	}

	// Fence: read the global epoch AFTER locks are held, so no writer we
	// are about to validate against can commit in a now-invisible epoch.
	commitEpoch := w.clock.Current()

	if !w.validate(x) {
		return w.failCommit(cll)
	}

	maxDep := w.maxDependency(x)
	id, finalEpoch := x.IssueNextID(maxDep, commitEpoch)

	// Phase 3: apply writes, then publish log records. The payload must
	// land before InstallXctId flips the owner id, since a concurrent
	// reader that samples the owner id first and the payload second (the
	// order Get/validate always uses) must never observe the new id
	// alongside the old bytes.
	for _, ws := range x.WriteSet() {
		if ws.PayloadAddress != nil {
			ws.LogEntry.WriteTo(ws.PayloadAddress)
		}
		e, _ := cll.Find(ws.LockID)
		e.InstallXctId(id)
		w.buf.Append(uint32(ws.StorageID), id, ws.LogEntry)
	}
	for _, lw := range x.LockFreeWriteSet() {
		w.buf.Append(uint32(lw.StorageID), id, lw.LogEntry)
	}

	cll.ReleaseAll()
	cll.Clear()
	x.RLL().Clear()
	w.clock.Unprotect(w.handle)
	if err := x.Deactivate(); err != nil {
		return epoch.Invalid, err
	}
	if w.m != nil {
		w.m.Counter("xct_commit_total").Inc()
	}
	return finalEpoch, nil
}

func (w *Worker) failCommit(cll *locklist.CurrentLockList) (epoch.Epoch, error) {
	w.xct.RLL().FillFrom(cll)
	cll.ReleaseAll()
	cll.Clear()
	w.clock.Unprotect(w.handle)
	w.xct.Deactivate()
	if w.m != nil {
		w.m.Counter("xct_validation_failed_total").Inc()
	}
	return epoch.Invalid, ErrValidationFailed
}

// validate runs Phase 2: read-set, pointer-set and page-version-set
// validation. Returns false on the first detected conflict.
func (w *Worker) validate(x *xct.Xct) bool {
	for _, r := range x.ReadSet() {
		current := r.OwnerAddress.ID()
		if current.SameOwner(r.ObservedID) {
			continue
		}
		if r.RelatedWrite != nil {
			// The only allowed mismatch: we hold the X lock on this
			// record ourselves because we are about to overwrite it.
			continue
		}
		w.log.WithField("storage", r.StorageID).Debug("read validation failed")
		return false
	}
	for _, p := range x.PointerSet() {
		if *p.Address != p.Observed {
			w.log.Debug("pointer validation failed")
			return false
		}
	}
	for _, pv := range x.PageVersionSet() {
		if *pv.Address != pv.Observed {
			w.log.Debug("page version validation failed")
			return false
		}
	}
	return true
}

// maxDependency computes the highest XctId this transaction's reads and
// writes depend on, which the commit id must strictly exceed. A write with
// no matching prior read (a "blind write") still contributes the owner id
// observed when it was queued, and every write also contributes its
// record's current owner id, read under the X lock Phase 1 holds, so the
// new commit id is always issued past whatever another thread already
// installed on that record.
func (w *Worker) maxDependency(x *xct.Xct) xctid.XctId {
	var max xctid.XctId
	for _, r := range x.ReadSet() {
		if !max.IsValid() || max.Before(r.ObservedID) {
			max = r.ObservedID
		}
	}
	for _, ws := range x.WriteSet() {
		if !max.IsValid() || max.Before(ws.ObservedID) {
			max = ws.ObservedID
		}
		if cur := ws.OwnerAddress.ID(); !max.IsValid() || max.Before(cur) {
			max = cur
		}
	}
	return max
}

// WaitForCommit blocks until the worker's log buffer has been marked
// durable at or past commitEpoch - i.e. until the epoch advancer has
// bumped the global epoch past it. There is no durability without this
// call; PrecommitXct returning successfully only means the record is
// visible to other in-memory transactions, not that it has survived a
// crash.
func (w *Worker) WaitForCommit(commitEpoch epoch.Epoch) {
	for !commitEpoch.Before(w.buf.DurableEpoch()) {
		time.Sleep(time.Millisecond)
	}
}
