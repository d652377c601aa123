package storage

import (
	"encoding/binary"
	"errors"

	"github.com/foedus-go/foedus/locklist"
	"github.com/foedus-go/foedus/walog"
	"github.com/foedus-go/foedus/xctid"
)

// ErrNotFound is returned by Hash and Masstree Get/Overwrite when no
// record exists at the given key, matching the original
// engine's get/get_part/overwrite returning kErrorCodeStrKeyNotFound
// rather than a null pointer.
var ErrNotFound = errors.New("storage: record not found")

// ErrDuplicateKey is returned by Insert when key is already present,
// matching kErrorCodeStrKeyAlreadyExists.
var ErrDuplicateKey = errors.New("storage: key already exists")

// TxnContext is the slice of a running transaction's bookkeeping API a
// storage's per-record operations need in order to queue reads and
// writes. *xct.Xct satisfies it purely by having matching method
// signatures - this package cannot import package xct directly (xct
// already imports storage for StorageID, VolatilePagePointer and
// PageVersionStatus), so this interface is how create/get/overwrite/etc.
// below stay possible without a cycle. AddToWriteSet itself is
// deliberately not part of this interface: its return type,
// *xct.WriteSetEntry, is not a type this package can name.
type TxnContext interface {
	AddToReadSet(storageID StorageID, ownerAddr *xctid.RwLockableXctId, observedID xctid.XctId)
	AddToReadAndWriteSet(storageID StorageID, lockID locklist.UniversalLockId, observedID xctid.XctId, ownerAddr *xctid.RwLockableXctId, payloadAddr []byte, logEntry walog.LogEntry)
}

// rawBytesLog is a walog.LogEntry that just carries an exact byte
// payload - used by the increment helpers below, where the "new value"
// already fully describes the write and there is no reason to make the
// caller define a dedicated log record type for it.
type rawBytesLog struct {
	typeCode uint16
	data     []byte
}

func (r rawBytesLog) TypeCode() uint16    { return r.typeCode }
func (r rawBytesLog) PayloadSize() uint32 { return uint32(len(r.data)) }
func (r rawBytesLog) WriteTo(buf []byte) int {
	copy(buf, r.data)
	return len(r.data)
}

const logTypeIncrement uint16 = 0xFF00

// Get reads offset's current payload under x, adding it to the read set
// so a later Overwrite/commit-time change to this record aborts x at
// validation. Applications never see the record's owner header.
func (a *Array) Get(x TxnContext, offset int) ([]byte, error) {
	rec, err := a.Record(offset)
	if err != nil {
		return nil, err
	}
	x.AddToReadSet(a.ID(), &rec.Owner, rec.Owner.ID())
	return append([]byte(nil), rec.Payload...), nil
}

// Overwrite queues logEntry's bytes to replace offset's payload at
// commit. The write only actually lands during PrecommitXct's Phase 3.
func (a *Array) Overwrite(x TxnContext, offset int, logEntry walog.LogEntry) error {
	rec, err := a.Record(offset)
	if err != nil {
		return err
	}
	lockID := a.LockIDOf(offset)
	x.AddToReadAndWriteSet(a.ID(), lockID, rec.Owner.ID(), &rec.Owner, rec.Payload, logEntry)
	return nil
}

// Increment adds delta to the little-endian int64 stored at the start of
// offset's payload, the array storage's analogue of the original
// engine's increment_record - e.g. posting a TPC-B branch/teller balance
// change without the caller having to read the old value back first.
func (a *Array) Increment(x TxnContext, offset int, delta int64) (int64, error) {
	rec, err := a.Record(offset)
	if err != nil {
		return 0, err
	}
	current := int64(binary.LittleEndian.Uint64(rec.Payload))
	next := current + delta
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(next))
	lockID := a.LockIDOf(offset)
	x.AddToReadAndWriteSet(a.ID(), lockID, rec.Owner.ID(), &rec.Owner, rec.Payload, rawBytesLog{typeCode: logTypeIncrement, data: data})
	return next, nil
}

// Get returns key's payload if present.
func (h *Hash) Get(x TxnContext, key []byte) ([]byte, error) {
	rec, ok := h.Lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	x.AddToReadSet(h.ID(), &rec.Owner, rec.Owner.ID())
	return append([]byte(nil), rec.Payload...), nil
}

// Insert creates key with logEntry's initial payload, failing with
// ErrDuplicateKey if it already exists.
func (h *Hash) Insert(x TxnContext, key []byte, logEntry walog.LogEntry) error {
	if _, ok := h.Lookup(key); ok {
		return ErrDuplicateKey
	}
	rec := h.GetOrCreate(key)
	lockID := h.LockIDOf(key)
	x.AddToReadAndWriteSet(h.ID(), lockID, rec.Owner.ID(), &rec.Owner, rec.Payload, logEntry)
	return nil
}

// Upsert queues logEntry's write against key's record, creating it first
// if it does not exist yet - the insert-or-overwrite case the original
// engine's upsert_record covers in one call.
func (h *Hash) Upsert(x TxnContext, key []byte, logEntry walog.LogEntry) error {
	rec := h.GetOrCreate(key)
	lockID := h.LockIDOf(key)
	x.AddToReadAndWriteSet(h.ID(), lockID, rec.Owner.ID(), &rec.Owner, rec.Payload, logEntry)
	return nil
}

// Overwrite queues logEntry's write against key's existing record,
// failing with ErrNotFound if it doesn't exist - the strict complement
// to Insert.
func (h *Hash) Overwrite(x TxnContext, key []byte, logEntry walog.LogEntry) error {
	rec, ok := h.Lookup(key)
	if !ok {
		return ErrNotFound
	}
	lockID := h.LockIDOf(key)
	x.AddToReadAndWriteSet(h.ID(), lockID, rec.Owner.ID(), &rec.Owner, rec.Payload, logEntry)
	return nil
}

// Get returns key's payload if present.
func (m *Masstree) Get(x TxnContext, key []byte) ([]byte, error) {
	rec, ok := m.Lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	x.AddToReadSet(m.ID(), &rec.Owner, rec.Owner.ID())
	return append([]byte(nil), rec.Payload...), nil
}

// Insert creates key with logEntry's initial payload, failing with
// ErrDuplicateKey if it already exists.
func (m *Masstree) Insert(x TxnContext, key []byte, logEntry walog.LogEntry) error {
	if _, ok := m.Lookup(key); ok {
		return ErrDuplicateKey
	}
	rec := m.GetOrCreate(key)
	lockID := m.LockIDOf(key)
	x.AddToReadAndWriteSet(m.ID(), lockID, rec.Owner.ID(), &rec.Owner, rec.Payload, logEntry)
	return nil
}

// Upsert queues logEntry's write against key's record, creating it first
// if it does not exist yet.
func (m *Masstree) Upsert(x TxnContext, key []byte, logEntry walog.LogEntry) error {
	rec := m.GetOrCreate(key)
	lockID := m.LockIDOf(key)
	x.AddToReadAndWriteSet(m.ID(), lockID, rec.Owner.ID(), &rec.Owner, rec.Payload, logEntry)
	return nil
}

// Overwrite queues logEntry's write against key's existing record,
// failing with ErrNotFound if it doesn't exist.
func (m *Masstree) Overwrite(x TxnContext, key []byte, logEntry walog.LogEntry) error {
	rec, ok := m.Lookup(key)
	if !ok {
		return ErrNotFound
	}
	lockID := m.LockIDOf(key)
	x.AddToReadAndWriteSet(m.ID(), lockID, rec.Owner.ID(), &rec.Owner, rec.Payload, logEntry)
	return nil
}
