package walog

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/foedus-go/foedus/epoch"
	"github.com/foedus-go/foedus/xctid"
)

// headerSize is the fixed-size common prefix every record in the buffer
// carries ahead of its type-specific payload: XctId(8) + StorageID(4) +
// TypeCode(2) + pad(2) + PayloadSize(4) + pad(4) + Checksum(8).
const headerSize = 32

// RecordHeader is the common prefix of every appended log record:
// the commit XctId, the storage it belongs to, its wire type and size,
// and a checksum over the payload bytes. OneOfOne/xxhash gives a cheap
// 64-bit checksum per record, matching the teacher library's reliance on
// the same hash family for its hash table's tag bytes - here repurposed
// from bucket routing to log corruption detection.
type RecordHeader struct {
	XctID       xctid.XctId
	StorageID   uint32
	TypeCode    uint16
	PayloadSize uint32
	Checksum    uint64
}

func (h RecordHeader) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.XctID))
	binary.LittleEndian.PutUint32(buf[8:12], h.StorageID)
	binary.LittleEndian.PutUint16(buf[12:14], h.TypeCode)
	binary.LittleEndian.PutUint32(buf[16:20], h.PayloadSize)
	binary.LittleEndian.PutUint64(buf[24:32], h.Checksum)
}

func decodeHeader(buf []byte) RecordHeader {
	return RecordHeader{
		XctID:       xctid.XctId(binary.LittleEndian.Uint64(buf[0:8])),
		StorageID:   binary.LittleEndian.Uint32(buf[8:12]),
		TypeCode:    binary.LittleEndian.Uint16(buf[12:14]),
		PayloadSize: binary.LittleEndian.Uint32(buf[16:20]),
		Checksum:    binary.LittleEndian.Uint64(buf[24:32]),
	}
}

// Buffer is a single thread's append-only log: one writer (the owning
// thread, at commit time) appends lock-free, while the epoch Advancer and
// the gleaner's mappers read concurrently up to the durable watermark.
//
// The ring-buffer-with-atomic-cursor shape is adapted from the teacher
// library's pin.buffer grow-on-demand arena: here the buffer never needs
// to "pin" individual slots, so it is simplified to two atomic cursors
// (write position, durable position) over a single growable byte slice.
type Buffer struct {
	threadID int

	data []byte // grows, never shrinks, protected by the single-writer assumption
	pos  uint64 // atomic: next write offset

	durablePos uint64 // atomic: offset up to which bytes are flushed/visible
	durableEpoch uint64 // atomic epoch.Epoch: epoch passed to the most recent MarkDurable
}

const bufferInitialSize = 1 << 20 // 1MiB

// NewBuffer constructs an empty log buffer for threadID with the default
// initial capacity.
func NewBuffer(threadID int) *Buffer {
	return NewBufferWithCapacity(threadID, bufferInitialSize)
}

// NewBufferWithCapacity constructs an empty log buffer for threadID,
// preallocated to capacityBytes - the engine sizes this from
// config.LogOptions.BufferInitialSizeKB, mirroring the original's
// buffer_initial_size_kb_ knob.
func NewBufferWithCapacity(threadID int, capacityBytes int) *Buffer {
	if capacityBytes <= 0 {
		capacityBytes = bufferInitialSize
	}
	return &Buffer{threadID: threadID, data: make([]byte, capacityBytes)}
}

// Append serializes entry, stamped with id, onto the end of the buffer,
// growing it if necessary. It is only safe to call from the buffer's
// single owning thread.
func (b *Buffer) Append(storageID uint32, id xctid.XctId, entry LogEntry) {
	payloadSize := entry.PayloadSize()
	total := headerSize + int(payloadSize)

	pos := int(atomic.LoadUint64(&b.pos))
	if pos+total > len(b.data) {
		b.grow(pos + total)
	}

	entry.WriteTo(b.data[pos+headerSize : pos+total])
	checksum := xxhash.Checksum64(b.data[pos+headerSize : pos+total])

	h := RecordHeader{
		XctID:       id,
		StorageID:   storageID,
		TypeCode:    entry.TypeCode(),
		PayloadSize: payloadSize,
		Checksum:    checksum,
	}
	h.encode(b.data[pos : pos+headerSize])

	atomic.StoreUint64(&b.pos, uint64(pos+total))
}

func (b *Buffer) grow(need int) {
	size := len(b.data) * 2
	if size < need {
		size = need
	}
	next := make([]byte, size)
	copy(next, b.data[:atomic.LoadUint64(&b.pos)])
	b.data = next
}

// MarkDurable advances the durable watermark to the buffer's current
// write position, tagged with the epoch those bytes were written in. The
// epoch Advancer calls this once it has fenced memory, matching the
// "writers stamp records with the current epoch; all records of epoch e
// are visible once global_epoch passes e+1" rule.
func (b *Buffer) MarkDurable(e epoch.Epoch) {
	atomic.StoreUint64(&b.durablePos, atomic.LoadUint64(&b.pos))
	atomic.StoreUint64(&b.durableEpoch, uint64(e))
}

// DurableEpoch returns the epoch passed to the most recent MarkDurable
// call (the global epoch the Advancer had just bumped to).
func (b *Buffer) DurableEpoch() epoch.Epoch {
	return epoch.Epoch(atomic.LoadUint64(&b.durableEpoch))
}

// DurableBytes returns the byte range [0, durablePos) - every record in
// it is complete and safe for a mapper to read.
func (b *Buffer) DurableBytes() []byte {
	n := atomic.LoadUint64(&b.durablePos)
	return b.data[:n]
}

// Records decodes every complete record out of buf (typically the result
// of DurableBytes), calling fn with each header and its payload slice.
// Iteration stops early if fn returns false.
func Records(buf []byte, fn func(h RecordHeader, payload []byte) bool) {
	off := 0
	for off+headerSize <= len(buf) {
		h := decodeHeader(buf[off : off+headerSize])
		start := off + headerSize
		end := start + int(h.PayloadSize)
		if end > len(buf) {
			return
		}
		if !fn(h, buf[start:end]) {
			return
		}
		off = end
	}
}
