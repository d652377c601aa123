package epoch

import (
	"unsafe"

	"github.com/foedus-go/foedus/internal/machine"
)

// entry is one thread's epoch-protection slot. local holds the epoch the
// thread was in when it last called Protect, or 0 if it is not currently
// protected. Padded to a full cache line so that threads spinning on
// distinct entries never false-share.
type entry struct {
	local uint64
	_     machine.Pad56
}

type ( // ensure entries are exactly the size of a cache line
	_ [unsafe.Sizeof(entry{}) - machine.CacheLine]byte
	_ [machine.CacheLine - unsafe.Sizeof(entry{})]byte
)
