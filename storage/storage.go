package storage

import "fmt"

// StorageType tags which access method backs a StorageID, mirroring the
// original engine's array/hash/masstree/sequential storage family.
type StorageType uint8

const (
	TypeArray StorageType = iota
	TypeHash
	TypeMasstree
	TypeSequential
)

func (t StorageType) String() string {
	switch t {
	case TypeArray:
		return "array"
	case TypeHash:
		return "hash"
	case TypeMasstree:
		return "masstree"
	case TypeSequential:
		return "sequential"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// Storage is the common interface every access method implements, enough
// for the snapshot pipeline and the engine's storage registry to treat
// them uniformly regardless of backing structure.
type Storage interface {
	ID() StorageID
	Name() string
	Type() StorageType
	// Records returns every record instance the storage currently holds
	// live, in no particular order. The snapshot pipeline's drop_volatiles
	// pass uses this to inspect each record's committed owner epoch
	// without needing to know how the storage indexes its keys.
	Records() []*Record
}

// Metadata describes a storage's identity, independent of its backing
// structure. Each concrete storage embeds one.
type Metadata struct {
	StorageID StorageID
	StorageName string
	Kind        StorageType
}

func (m Metadata) ID() StorageID   { return m.StorageID }
func (m Metadata) Name() string    { return m.StorageName }
func (m Metadata) Type() StorageType { return m.Kind }
