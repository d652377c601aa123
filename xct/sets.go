package xct

import (
	"github.com/foedus-go/foedus/locklist"
	"github.com/foedus-go/foedus/storage"
	"github.com/foedus-go/foedus/walog"
	"github.com/foedus-go/foedus/xctid"
)

// ReadSetEntry records one record read, so precommit can revalidate it.
type ReadSetEntry struct {
	StorageID    storage.StorageID
	OwnerAddress *xctid.RwLockableXctId
	ObservedID   xctid.XctId
	// RelatedWrite points at the WriteSetEntry for the same owner address,
	// if this transaction also wrote the record; precommit allows the
	// observed id to differ from the current one only in that case (the
	// transaction's own write is in flight).
	RelatedWrite *WriteSetEntry
}

// WriteSetEntry records one record write, queued for Phase 3 apply.
type WriteSetEntry struct {
	StorageID      storage.StorageID
	LockID         locklist.UniversalLockId
	OwnerAddress   *xctid.RwLockableXctId
	PayloadAddress []byte
	LogEntry       walog.LogEntry
	// ObservedID is the record's owner id as observed at the moment this
	// write was queued, before the commit lock was ever acquired on it.
	// It feeds into issue_next_id's max-dependency computation the same
	// way a read's ObservedID does, so a blind write (no prior read)
	// still forces the new commit id past whatever id another thread
	// already installed on the record.
	ObservedID xctid.XctId
	// RelatedRead mirrors ReadSetEntry.RelatedWrite, set when the same
	// owner address was also read by this transaction.
	RelatedRead *ReadSetEntry
}

// LockFreeWriteSetEntry records an append to a sequential (lock-free)
// storage: no owner address, no lock, just a log entry to publish.
type LockFreeWriteSetEntry struct {
	StorageID storage.StorageID
	LogEntry  walog.LogEntry
}

// PointerSetEntry guards an RCU-swappable volatile page pointer observed
// during the transaction.
type PointerSetEntry struct {
	Address  *storage.VolatilePagePointer
	Observed storage.VolatilePagePointer
}

// PageVersionSetEntry guards a page's structural-modification counter
// observed during the transaction.
type PageVersionSetEntry struct {
	Address  *storage.PageVersionStatus
	Observed storage.PageVersionStatus
}
