// Package storage implements the engine's record and page storage layer
// (component C11): a StorageType-tagged family of access methods (array,
// hash, masstree, sequential) sharing one Record layout and one set of
// volatile/snapshot pointer primitives that the transaction and lock-list
// layers key off of.
package storage

import "github.com/foedus-go/foedus/xctid"

// StorageID identifies one storage (table/index) within the engine.
type StorageID uint32

// PageID identifies one page within a storage's volatile or snapshot page
// pool.
type PageID uint64

// VolatilePagePointer is an RCU-swappable reference to a volatile page.
// Xct.AddToPointerSet records the value observed at read time so
// precommit can detect a concurrent swap.
type VolatilePagePointer uint64

// IsNull reports whether the pointer is the null/unset value.
func (p VolatilePagePointer) IsNull() bool { return p == 0 }

// PageVersionStatus is a page's structural-modification counter plus
// status flags (e.g. "is being split", "is a border page"). Unlike
// VolatilePagePointer, the page itself never moves; only this status word
// changes, so AddToPageVersionSet does not need to worry about the
// address becoming stale.
type PageVersionStatus uint64

// Record is one storage slot: an ownership/lock word plus an opaque
// payload. The owner field's address is guaranteed stable for the
// record's lifetime (records are "moved" logically, via the Moved flag
// and a forwarding pointer written into the payload head, rather than
// physically relocated) - see xctid.XctId.Moved.
//
// This layout mirrors the teacher library's htable bucket/record slot
// (a fixed header followed by an inline payload byte range) adapted to
// carry an XctId-based ownership word instead of a bare hash tag.
type Record struct {
	Owner   xctid.RwLockableXctId
	Payload []byte
}

// NewRecord constructs a Record with the given initial owner id and an
// empty payload of payloadSize bytes.
func NewRecord(owner xctid.XctId, payloadSize int) *Record {
	return &Record{
		Owner:   *xctid.NewRwLockableXctId(owner),
		Payload: make([]byte, payloadSize),
	}
}
