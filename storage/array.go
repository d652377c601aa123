package storage

import (
	"errors"

	"github.com/foedus-go/foedus/locklist"
	"github.com/foedus-go/foedus/xctid"
)

// ErrOutOfRange is returned by Array.Record (and so by Array.Get,
// Overwrite and Increment) for an offset outside the array's fixed
// capacity.
var ErrOutOfRange = errors.New("storage: array offset out of range")

// Array is a direct-mapped, fixed-capacity storage: offset i always lives
// at records[i], no key comparison or hashing involved. This is the
// simplest of the four access methods and the one the original engine
// recommends for dense, integer-keyed data (e.g. a TPC-B branch or teller
// table).
type Array struct {
	Metadata
	payloadSize int
	records     []Record
}

// NewArray constructs an Array storage of the given logical capacity,
// with every slot pre-allocated at payloadSize bytes and an invalid
// (never committed) owner id.
func NewArray(id StorageID, name string, capacity int, payloadSize int) *Array {
	a := &Array{
		Metadata:    Metadata{StorageID: id, StorageName: name, Kind: TypeArray},
		payloadSize: payloadSize,
		records:     make([]Record, capacity),
	}
	for i := range a.records {
		a.records[i].Owner = *xctid.NewRwLockableXctId(0)
		a.records[i].Payload = make([]byte, payloadSize)
	}
	return a
}

// Capacity returns the number of addressable offsets.
func (a *Array) Capacity() int { return len(a.records) }

// PayloadSize returns the fixed per-slot payload size.
func (a *Array) PayloadSize() int { return a.payloadSize }

// Record returns the slot at offset, for the caller to read/lock/write
// directly - array storage has no indirection layer above the record
// itself.
func (a *Array) Record(offset int) (*Record, error) {
	if offset < 0 || offset >= len(a.records) {
		return nil, ErrOutOfRange
	}
	return &a.records[offset], nil
}

// LockIDOf returns the UniversalLockId that should be used to request a
// lock on this offset's record - callers pass this straight through to
// locklist.CurrentLockList.
func (a *Array) LockIDOf(offset int) locklist.UniversalLockId {
	return locklist.NewUniversalLockId(uint16(a.StorageID), uint32(offset), 0)
}

// Records returns every slot, in offset order.
func (a *Array) Records() []*Record {
	out := make([]*Record, len(a.records))
	for i := range a.records {
		out[i] = &a.records[i]
	}
	return out
}
