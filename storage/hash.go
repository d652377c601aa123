package storage

import (
	"bytes"
	"sync"

	"github.com/cespare/xxhash"
	"github.com/foedus-go/foedus/locklist"
	"github.com/foedus-go/foedus/xctid"
)

// hashBucketSlots mirrors the teacher library's htable.bucket entry count:
// enough key-tag slots to fit a cache line, plus overflow chaining.
const hashBucketSlots = 7

type hashSlot struct {
	used bool
	tag  uint16
	key  []byte
	rec  *Record
}

// hashBucket is a fixed-size run of slots with an overflow chain, adapted
// from the teacher library's htable.bucket. The original keeps this
// lock-free via CAS on a packed pointer+tag word; this rewrite instead
// guards each bucket with its own mutex; see DESIGN.md for why (Go's GC
// makes an unsafe.Pointer-tagged union of the kind the teacher uses far
// riskier to keep memory-safe, and per-bucket locks give the same
// practical concurrency for a hash index that isn't the hot path the
// record-level MCS lock is).
type hashBucket struct {
	mu       sync.RWMutex
	slots    [hashBucketSlots]hashSlot
	overflow *hashBucket
}

func (b *hashBucket) lookup(tag uint16, key []byte) (*Record, bool) {
	for cur := b; cur != nil; cur = cur.overflow {
		cur.mu.RLock()
		for i := range cur.slots {
			s := &cur.slots[i]
			if s.used && s.tag == tag && bytes.Equal(s.key, key) {
				rec := s.rec
				cur.mu.RUnlock()
				return rec, true
			}
		}
		cur.mu.RUnlock()
	}
	return nil, false
}

func (b *hashBucket) insert(tag uint16, key []byte, rec *Record) (inserted bool) {
	for cur := b; ; {
		cur.mu.Lock()
		for i := range cur.slots {
			s := &cur.slots[i]
			if s.used && s.tag == tag && bytes.Equal(s.key, key) {
				cur.mu.Unlock()
				return false
			}
		}
		for i := range cur.slots {
			s := &cur.slots[i]
			if !s.used {
				s.used, s.tag, s.key, s.rec = true, tag, key, rec
				cur.mu.Unlock()
				return true
			}
		}
		if cur.overflow == nil {
			cur.overflow = &hashBucket{}
		}
		next := cur.overflow
		cur.mu.Unlock()
		cur = next
	}
}

func (b *hashBucket) delete(tag uint16, key []byte) bool {
	for cur := b; cur != nil; cur = cur.overflow {
		cur.mu.Lock()
		for i := range cur.slots {
			s := &cur.slots[i]
			if s.used && s.tag == tag && bytes.Equal(s.key, key) {
				*s = hashSlot{}
				cur.mu.Unlock()
				return true
			}
		}
		cur.mu.Unlock()
	}
	return false
}

// Hash is a chained hash-table storage: arbitrary byte-slice keys hashed
// with xxhash (the same hasher the teacher library's htable.Table uses)
// into a fixed bucket array, each bucket holding up to hashBucketSlots
// direct entries plus an overflow chain.
type Hash struct {
	Metadata
	buckets     []hashBucket
	mask        uint64
	payloadSize int
	nextOffset  int
	mu          sync.Mutex
}

// NewHash constructs a Hash storage with 2^bits buckets.
func NewHash(id StorageID, name string, bits uint, payloadSize int) *Hash {
	return &Hash{
		Metadata:    Metadata{StorageID: id, StorageName: name, Kind: TypeHash},
		buckets:     make([]hashBucket, 1<<bits),
		mask:        1<<bits - 1,
		payloadSize: payloadSize,
	}
}

func hashTag(h uint64) uint16 { return uint16(h & 0x3FFF) }

func (h *Hash) bucketFor(key []byte) (*hashBucket, uint16) {
	sum := xxhash.Sum64(key)
	idx := sum & h.mask
	return &h.buckets[idx], hashTag(sum >> 48)
}

// Lookup returns the record for key, if present.
func (h *Hash) Lookup(key []byte) (*Record, bool) {
	b, tag := h.bucketFor(key)
	return b.lookup(tag, key)
}

// GetOrCreate returns the existing record for key, or inserts and returns
// a freshly allocated one with an invalid owner id.
func (h *Hash) GetOrCreate(key []byte) *Record {
	b, tag := h.bucketFor(key)
	if rec, ok := b.lookup(tag, key); ok {
		return rec
	}
	rec := &Record{Owner: *xctid.NewRwLockableXctId(0), Payload: make([]byte, h.payloadSize)}
	if b.insert(tag, append([]byte(nil), key...), rec) {
		return rec
	}
	// lost the race; whoever won is now findable
	if existing, ok := b.lookup(tag, key); ok {
		return existing
	}
	return rec
}

// Delete removes key's slot entirely (a physical delete, distinct from
// setting the tombstone flag on a still-present record's owner id).
func (h *Hash) Delete(key []byte) bool {
	b, tag := h.bucketFor(key)
	return b.delete(tag, key)
}

// Records returns every currently-occupied slot's record, walking each
// bucket's overflow chain under its own lock.
func (h *Hash) Records() []*Record {
	var out []*Record
	for i := range h.buckets {
		cur := &h.buckets[i]
		for cur != nil {
			cur.mu.RLock()
			for _, s := range cur.slots {
				if s.used {
					out = append(out, s.rec)
				}
			}
			next := cur.overflow
			cur.mu.RUnlock()
			cur = next
		}
	}
	return out
}

// LockIDOf derives a stable UniversalLockId for a hash key from its
// bucket index and its hash tag, so lock ordering is consistent
// across transactions racing on the same key.
func (h *Hash) LockIDOf(key []byte) locklist.UniversalLockId {
	sum := xxhash.Sum64(key)
	idx := sum & h.mask
	return locklist.NewUniversalLockId(uint16(h.StorageID), uint32(idx), hashTag(sum>>48))
}
