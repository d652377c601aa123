// Package partition implements the partitioner (component C12): routing
// a (storage, key) pair to a NUMA node for mapper/reducer assignment in
// the snapshot pipeline (§2's "mappers partition records by NUMA node and
// storage").
//
// Two independent hash families are used deliberately: cespare/xxhash
// (already in use for storage.Hash's bucket selection) picks the bucket a
// key lives in, and spaolacci/murmur3 picks the NUMA partition, so that a
// hash table's internal bucket layout and the engine's partition
// assignment never correlate - two keys landing in the same hash bucket
// should not therefore also land on the same NUMA node.
package partition

import (
	"github.com/cespare/xxhash"
	"github.com/foedus-go/foedus/storage"
	"github.com/spaolacci/murmur3"
)

// Partitioner maps storage keys to one of a fixed number of partitions,
// each corresponding to one NUMA node's worth of mappers/reducers.
type Partitioner struct {
	partitionCount uint16
}

// New constructs a Partitioner for the given number of NUMA partitions.
// partitionCount must be at least 1.
func New(partitionCount uint16) *Partitioner {
	if partitionCount == 0 {
		partitionCount = 1
	}
	return &Partitioner{partitionCount: partitionCount}
}

// Count returns the number of partitions.
func (p *Partitioner) Count() uint16 { return p.partitionCount }

// PartitionOf returns the NUMA partition for a key within storageID.
// storageID salts the hash so the same byte key in two different
// storages does not collide onto the same partition for a correlated
// reason.
func (p *Partitioner) PartitionOf(storageID storage.StorageID, key []byte) uint16 {
	salted := make([]byte, 4+len(key))
	salted[0] = byte(storageID)
	salted[1] = byte(storageID >> 8)
	salted[2] = byte(storageID >> 16)
	salted[3] = byte(storageID >> 24)
	copy(salted[4:], key)

	h := murmur3.Sum32(salted)
	return uint16(h) % p.partitionCount
}

// BucketOf is the companion hash used by storage.Hash for intra-partition
// bucket selection - exposed here so callers that need both the bucket
// and the partition for a key (e.g. the mapper, assigning work within a
// partition) use the same xxhash family the hash storage itself does,
// rather than introducing a third.
func BucketOf(key []byte, bits uint) uint64 {
	mask := uint64(1)<<bits - 1
	return xxhash.Sum64(key) & mask
}
