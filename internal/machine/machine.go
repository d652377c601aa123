// Package machine collects the handful of hardware constants that hot
// structures (the epoch clock's per-thread entries, handle table and
// trigger counter) are padded and sized against.
package machine

const (
	// CacheLine is the assumed size, in bytes, of an x86-64 cache line.
	CacheLine = 64

	// MaxThreadBits is the number of bits reserved for a thread/handle id
	// inside packed words and fixed-size per-thread tables.
	MaxThreadBits = 8

	// MaxThreads bounds the number of concurrently active worker threads
	// (application transaction threads plus gleaner mapper/reducer
	// threads) the engine can hand out handles to.
	MaxThreads = 1 << MaxThreadBits

	// MaxNumaNodes bounds the number of NUMA nodes the partitioner and
	// affinity hook will address.
	MaxNumaNodes = 64

	// MaxSlice is an upper bound on slice element counts, kept as a sanity
	// bound for debug assertions; no package in this module refers to it.
	MaxSlice = 1<<50 - 1
)

type ( // ensure MaxThreads matches MaxThreadBits.
	_ [MaxThreads - 1<<MaxThreadBits]byte
	_ [1<<MaxThreadBits - MaxThreads]byte
)

type (
	Pad64 [64]uint8
	Pad56 [56]uint8
	Pad48 [48]uint8
	Pad40 [40]uint8
	Pad32 [32]uint8
	Pad24 [24]uint8
	Pad16 [16]uint8
	Pad8  [8]uint8
)
