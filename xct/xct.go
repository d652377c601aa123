// Package xct implements the per-thread transaction object (component
// C3): the read/write/pointer/page-version sets a running transaction
// accumulates, the current and retrospective lock lists it drives, and
// issue_next_id, the core of the Silo-style commit-timestamp protocol.
//
// This is grounded directly on foedus/xct/xct.hpp from the original
// source tree: activate/deactivate, the bounded pointer/page-version sets,
// and issue_next_id's monotonicity rule are carried over unchanged in
// meaning. Where the original preallocates fixed-size arrays from a
// per-thread memory pool, this rewrite uses ordinary growable slices - Go
// reads/write sets have no hardcoded cap (see DESIGN.md for why only
// pointer_set/page_version_set keep theirs).
package xct

import (
	"github.com/foedus-go/foedus/epoch"
	"github.com/foedus-go/foedus/locklist"
	"github.com/foedus-go/foedus/storage"
	"github.com/foedus-go/foedus/walog"
	"github.com/foedus-go/foedus/xctid"
)

// IsolationLevel selects how strictly a transaction's reads are validated.
type IsolationLevel uint8

const (
	// IsolationSerializable validates every read at precommit.
	IsolationSerializable IsolationLevel = iota
	// IsolationSnapshot reads only from a fixed, already-consistent
	// snapshot, so per-record read validation is unnecessary; the engine
	// elides AddToReadSet calls for elidable reads at this level.
	IsolationSnapshot
)

const (
	// MaxPointerSets bounds the pointer set. Exceeding it yields
	// ErrTooManyReads.
	MaxPointerSets = 1024
	// MaxPageVersionSets bounds the page-version set, same failure mode.
	MaxPageVersionSets = 1024
)

// Xct is one thread's transaction object. It is reused across a thread's
// entire lifetime: Activate clears it for a new attempt, Deactivate closes
// it out, and the thread's lock lists and commit-timestamp lineage persist
// across attempts (the retrospective lock list in particular is the point
// of carrying it across an abort/retry pair).
type Xct struct {
	threadID       int
	active         bool
	isolationLevel IsolationLevel

	// id is the most recent XctId this thread has itself issued for a
	// committed read-write transaction; IssueNextID must always produce
	// something strictly greater.
	id xctid.XctId

	pointerSet     []PointerSetEntry
	pageVersionSet []PageVersionSetEntry
	readSet        []ReadSetEntry
	writeSet       []WriteSetEntry
	lockFreeWrites []LockFreeWriteSetEntry

	cll *locklist.CurrentLockList
	rll *locklist.RetrospectiveLockList

	localMem *localWorkMemory
}

// New constructs an Xct for the given thread. threadID is only used for
// diagnostics/logging.
func New(threadID int) *Xct {
	return &Xct{
		threadID: threadID,
		cll:      locklist.NewCurrentLockList(32),
		rll:      locklist.NewRetrospectiveLockList(),
		localMem: newLocalWorkMemory(),
	}
}

// IsActive reports whether a transaction is currently in progress.
func (x *Xct) IsActive() bool { return x.active }

// IsReadOnly reports whether this transaction has made no writes so far.
func (x *Xct) IsReadOnly() bool {
	return len(x.writeSet) == 0 && len(x.lockFreeWrites) == 0
}

// IsolationLevel returns the level passed to the most recent Activate.
func (x *Xct) IsolationLevel() IsolationLevel { return x.isolationLevel }

// ID returns the XctId of the most recently committed transaction on this
// thread. Note this is NOT the id of the in-progress transaction - that
// isn't issued until IssueNextID runs at precommit time.
func (x *Xct) ID() xctid.XctId { return x.id }

// ThreadID returns the owning thread's id.
func (x *Xct) ThreadID() int { return x.threadID }

// CLL exposes the current lock list so the transaction manager can drive
// acquisition/release during precommit and abort.
func (x *Xct) CLL() *locklist.CurrentLockList { return x.cll }

// RLL exposes the retrospective lock list.
func (x *Xct) RLL() *locklist.RetrospectiveLockList { return x.rll }

// ReadSet, WriteSet, LockFreeWriteSet, PointerSet and PageVersionSet
// expose the accumulated sets for precommit validation and log
// publication.
func (x *Xct) ReadSet() []ReadSetEntry                   { return x.readSet }
func (x *Xct) WriteSet() []WriteSetEntry                 { return x.writeSet }
func (x *Xct) LockFreeWriteSet() []LockFreeWriteSetEntry { return x.lockFreeWrites }
func (x *Xct) PointerSet() []PointerSetEntry             { return x.pointerSet }
func (x *Xct) PageVersionSet() []PageVersionSetEntry     { return x.pageVersionSet }

// Activate begins a new transaction attempt. If the retrospective lock
// list carries entries from a prior aborted attempt on this thread, the
// current lock list is pre-populated (in the same ascending order, not yet
// acquired) so the retry requests everything it is likely to need
// up-front - see locklist.RetrospectiveLockList.SeedCLL.
func (x *Xct) Activate(level IsolationLevel) error {
	if x.active {
		return ErrAlreadyActive
	}
	x.active = true
	x.isolationLevel = level
	x.pointerSet = x.pointerSet[:0]
	x.pageVersionSet = x.pageVersionSet[:0]
	x.readSet = x.readSet[:0]
	x.writeSet = x.writeSet[:0]
	x.lockFreeWrites = x.lockFreeWrites[:0]
	x.localMem.reset()

	if x.rll.Len() > 0 {
		x.rll.SeedCLL(x.cll)
	} else {
		x.cll.Clear()
	}
	return nil
}

// Deactivate closes out the transaction. The current lock list must
// already be empty (every lock released, whether by commit or abort).
func (x *Xct) Deactivate() error {
	if !x.active {
		return ErrNotActive
	}
	if x.cll.Len() > 0 {
		for _, e := range x.cll.Entries() {
			if e.Held() {
				return ErrLocksHeld
			}
		}
	}
	x.active = false
	return nil
}

// IssueNextID computes the commit timestamp: strictly greater than both
// the previous commit on this thread (x.id) and maxDepID (the highest
// XctId this transaction's reads/writes depend on), and no older than
// minEpoch. If the in-epoch ordinal would overflow 24 bits, the epoch is
// advanced by one and the ordinal resets to 1; the chosen epoch is
// returned alongside the new id so the caller can use it as the
// transaction's commit_epoch.
func (x *Xct) IssueNextID(maxDepID xctid.XctId, minEpoch epoch.Epoch) (xctid.XctId, epoch.Epoch) {
	e := minEpoch
	if x.id.IsValid() && x.id.Epoch().After(e) {
		e = x.id.Epoch()
	}
	if maxDepID.IsValid() && maxDepID.Epoch().After(e) {
		e = maxDepID.Epoch()
	}

	ordinal := uint32(1)
	if x.id.IsValid() && x.id.Epoch() == e && x.id.Ordinal()+1 > ordinal {
		ordinal = x.id.Ordinal() + 1
	}
	if maxDepID.IsValid() && maxDepID.Epoch() == e && maxDepID.Ordinal()+1 > ordinal {
		ordinal = maxDepID.Ordinal() + 1
	}

	if ordinal > xctid.MaxOrdinal {
		e = e.OneMore()
		ordinal = 1
	}

	newID := xctid.New(e, ordinal, 0)
	x.id = newID
	return newID, e
}

// AddToPointerSet records a volatile page pointer observed during a page
// traversal, so precommit can detect a concurrent RCU swap.
func (x *Xct) AddToPointerSet(address *storage.VolatilePagePointer, observed storage.VolatilePagePointer) error {
	if len(x.pointerSet) >= MaxPointerSets {
		return ErrTooManyReads
	}
	x.pointerSet = append(x.pointerSet, PointerSetEntry{Address: address, Observed: observed})
	return nil
}

// OverwriteToPointerSet updates an already-recorded pointer set entry to
// the value this same transaction just installed, so it does not
// spuriously abort on its own swap.
func (x *Xct) OverwriteToPointerSet(address *storage.VolatilePagePointer, observed storage.VolatilePagePointer) {
	for i := range x.pointerSet {
		if x.pointerSet[i].Address == address {
			x.pointerSet[i].Observed = observed
			return
		}
	}
}

// AddToPageVersionSet records a page structural-version word observed
// during traversal.
func (x *Xct) AddToPageVersionSet(address *storage.PageVersionStatus, observed storage.PageVersionStatus) error {
	if len(x.pageVersionSet) >= MaxPageVersionSets {
		return ErrTooManyReads
	}
	x.pageVersionSet = append(x.pageVersionSet, PageVersionSetEntry{Address: address, Observed: observed})
	return nil
}

// AddToReadSet records a record read for later validation. At
// IsolationSnapshot, the call is a no-op: reads under a fixed,
// already-consistent snapshot need no per-record validation. Call
// AddToReadSetForce to record a read regardless of isolation level.
func (x *Xct) AddToReadSet(storageID storage.StorageID, ownerAddr *xctid.RwLockableXctId, observedID xctid.XctId) {
	if x.isolationLevel == IsolationSnapshot {
		return
	}
	x.AddToReadSetForce(storageID, ownerAddr, observedID)
}

// AddToReadSetForce records a read regardless of isolation level.
func (x *Xct) AddToReadSetForce(storageID storage.StorageID, ownerAddr *xctid.RwLockableXctId, observedID xctid.XctId) *ReadSetEntry {
	x.readSet = append(x.readSet, ReadSetEntry{StorageID: storageID, OwnerAddress: ownerAddr, ObservedID: observedID})
	return &x.readSet[len(x.readSet)-1]
}

// AddToWriteSet records a write, cross-linking it with an existing
// read-set entry on the same owner address if one exists (so precommit
// knows a changed owner id there is this transaction's own pending write,
// not a conflict).
func (x *Xct) AddToWriteSet(storageID storage.StorageID, lockID locklist.UniversalLockId, ownerAddr *xctid.RwLockableXctId, payloadAddr []byte, logEntry walog.LogEntry) *WriteSetEntry {
	x.writeSet = append(x.writeSet, WriteSetEntry{
		StorageID:      storageID,
		LockID:         lockID,
		OwnerAddress:   ownerAddr,
		PayloadAddress: payloadAddr,
		LogEntry:       logEntry,
		ObservedID:     ownerAddr.ID(),
	})
	w := &x.writeSet[len(x.writeSet)-1]

	for i := range x.readSet {
		if x.readSet[i].OwnerAddress == ownerAddr {
			x.readSet[i].RelatedWrite = w
			w.RelatedRead = &x.readSet[i]
			break
		}
	}
	return w
}

// AddToReadAndWriteSet is AddToReadSetForce and AddToWriteSet together,
// already cross-linked.
func (x *Xct) AddToReadAndWriteSet(storageID storage.StorageID, lockID locklist.UniversalLockId, observedID xctid.XctId, ownerAddr *xctid.RwLockableXctId, payloadAddr []byte, logEntry walog.LogEntry) {
	r := x.AddToReadSetForce(storageID, ownerAddr, observedID)
	w := x.AddToWriteSet(storageID, lockID, ownerAddr, payloadAddr, logEntry)
	r.RelatedWrite = w
	w.RelatedRead = r
}

// AddToLockFreeWriteSet records an append to a sequential (lock-free)
// storage: no owner address, no lock, just a log entry queued for
// publication at commit.
func (x *Xct) AddToLockFreeWriteSet(storageID storage.StorageID, logEntry walog.LogEntry) {
	x.lockFreeWrites = append(x.lockFreeWrites, LockFreeWriteSetEntry{StorageID: storageID, LogEntry: logEntry})
}

// AcquireLocalWorkMemory returns a size-byte scratch slice, aligned to
// alignment (default 8), valid until the next Activate. Used to stage log
// record payloads before AddToWriteSet.
func (x *Xct) AcquireLocalWorkMemory(size uint32, alignment uint32) []byte {
	return x.localMem.acquire(size, alignment)
}
