package storage

import (
	"bytes"
	"sync"

	"github.com/foedus-go/foedus/locklist"
	"github.com/foedus-go/foedus/xctid"
	"github.com/google/btree"
)

// masstreeItem is a btree.Item pairing a variable-length key with its
// record, giving range scans over an otherwise key-opaque storage - the
// one thing Hash cannot offer.
type masstreeItem struct {
	key []byte
	rec *Record
}

func (a masstreeItem) Less(other btree.Item) bool {
	return bytes.Compare(a.key, other.(masstreeItem).key) < 0
}

// Masstree is a range-ordered storage backed by a B-tree, standing in for
// the original engine's trie-of-B-trees masstree index. A single
// google/btree.BTree plus a mutex is a much simpler structure than the
// original's layered border/interior pages, but it preserves the
// property client code actually depends on: ordered range scans over
// variable-length keys. See DESIGN.md for the tradeoff.
type Masstree struct {
	Metadata
	mu          sync.Mutex
	tree        *btree.BTree
	payloadSize int
}

// NewMasstree constructs an empty Masstree storage. degree follows
// google/btree.New's branching-factor parameter.
func NewMasstree(id StorageID, name string, degree int, payloadSize int) *Masstree {
	return &Masstree{
		Metadata:    Metadata{StorageID: id, StorageName: name, Kind: TypeMasstree},
		tree:        btree.New(degree),
		payloadSize: payloadSize,
	}
}

// Lookup returns the record for key, if present.
func (m *Masstree) Lookup(key []byte) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.tree.Get(masstreeItem{key: key})
	if item == nil {
		return nil, false
	}
	return item.(masstreeItem).rec, true
}

// GetOrCreate returns the existing record for key, or inserts and returns
// a freshly allocated one with an invalid owner id.
func (m *Masstree) GetOrCreate(key []byte) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item := m.tree.Get(masstreeItem{key: key}); item != nil {
		return item.(masstreeItem).rec
	}
	rec := &Record{Owner: *xctid.NewRwLockableXctId(0), Payload: make([]byte, m.payloadSize)}
	owned := append([]byte(nil), key...)
	m.tree.ReplaceOrInsert(masstreeItem{key: owned, rec: rec})
	return rec
}

// Delete removes key's entry entirely.
func (m *Masstree) Delete(key []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree.Delete(masstreeItem{key: key}) != nil
}

// Scan calls fn for every key in [minKey, maxKey), in ascending order,
// stopping early if fn returns false.
func (m *Masstree) Scan(minKey, maxKey []byte, fn func(key []byte, rec *Record) bool) {
	m.mu.Lock()
	var items []masstreeItem
	m.tree.AscendRange(masstreeItem{key: minKey}, masstreeItem{key: maxKey}, func(i btree.Item) bool {
		items = append(items, i.(masstreeItem))
		return true
	})
	m.mu.Unlock()

	for _, it := range items {
		if !fn(it.key, it.rec) {
			return
		}
	}
}

// Records returns every record currently in the tree, in key order.
func (m *Masstree) Records() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Record, 0, m.tree.Len())
	m.tree.Ascend(func(i btree.Item) bool {
		out = append(out, i.(masstreeItem).rec)
		return true
	})
	return out
}

// LockIDOf derives a stable UniversalLockId from key's hash, so repeated
// lookups of the same key always produce the same lock ordering.
func (m *Masstree) LockIDOf(key []byte) locklist.UniversalLockId {
	var h uint32
	for _, b := range key {
		h = h*31 + uint32(b)
	}
	return locklist.NewUniversalLockId(uint16(m.StorageID), h, 0)
}
