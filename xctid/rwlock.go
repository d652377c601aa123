package xctid

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"
)

// LockMode is the acquisition mode for a RwLockableXctId: shared (S) or
// exclusive (X). X is mutually exclusive with any S and with other X; S is
// mutually exclusive with X only.
type LockMode uint8

const (
	ModeNone LockMode = iota
	ModeShared
	ModeExclusive
)

func (m LockMode) String() string {
	switch m {
	case ModeShared:
		return "S"
	case ModeExclusive:
		return "X"
	default:
		return "none"
	}
}

// Ticket is one waiter's slot in the MCS queue. granted transitions
// 0 (waiting) -> 2 (a grant is in progress for this node, see grant) -> 1
// (ready to proceed); waiters spin for exactly 1 so that the mid-grant
// state never lets two goroutines believe they both completed the
// hand-off.
type Ticket struct {
	next    unsafe.Pointer // *Ticket, atomic
	mode    LockMode
	granted uint32 // atomic
}

// RwLockableXctId is the record header (component C2): a 128-bit-ish
// ownership word pairing the commit-timestamp XctId with an MCS-style
// reader/writer lock.
//
// The specification describes the lock tail as packed into the same
// 128-bit word as the XctId (owner_tail:48 | reader_count:16). This
// rewrite keeps the two pieces of state (the MCS tail pointer and the
// active-reader count) as separate atomic fields instead of hand-packing
// a live pointer into 48 bits, which would fight the garbage collector.
// The visible protocol - TryLock never blocks, Lock queues in MCS order,
// readers batch-wake each other, a writer waits at the queue head for the
// reader count to drain, SetXctId may only be called by the X holder and
// must strictly advance the id - is unchanged. See DESIGN.md.
type RwLockableXctId struct {
	id      uint64         // atomic XctId
	tail    unsafe.Pointer // atomic *Ticket; nil == unlocked, no waiters
	readers int32          // atomic: count of currently-active shared holders
}

// NewRwLockableXctId constructs a header with the given initial XctId and
// no lock held.
func NewRwLockableXctId(initial XctId) *RwLockableXctId {
	return &RwLockableXctId{id: uint64(initial)}
}

// ID atomically reads the current XctId.
func (l *RwLockableXctId) ID() XctId {
	return XctId(atomic.LoadUint64(&l.id))
}

// ReaderCount reports the number of currently-active shared holders. For
// diagnostics/metrics only.
func (l *RwLockableXctId) ReaderCount() int32 {
	return atomic.LoadInt32(&l.readers)
}

// TryResult is the outcome of a non-blocking lock attempt.
type TryResult int

const (
	TryAcquired TryResult = iota
	TryWouldBlock
)

// TryLock attempts to acquire the lock in mode without blocking. It only
// succeeds when the lock is entirely free (no holder, no queued waiter);
// this is intentionally conservative, matching "try_lock never blocks".
func (l *RwLockableXctId) TryLock(mode LockMode) (*Ticket, TryResult) {
	node := &Ticket{mode: mode}
	if !atomic.CompareAndSwapPointer(&l.tail, nil, unsafe.Pointer(node)) {
		return nil, TryWouldBlock
	}
	l.grant(node)
	return node, TryAcquired
}

// Lock acquires the lock in mode, blocking (via a spin/MCS wait, not an OS
// timeout) until it is granted. There is no cancellation at this layer;
// deadlock avoidance is the lock list's job (see package locklist).
func (l *RwLockableXctId) Lock(mode LockMode) *Ticket {
	node := &Ticket{mode: mode}
	prev := (*Ticket)(atomic.SwapPointer(&l.tail, unsafe.Pointer(node)))
	if prev == nil {
		l.grant(node)
		return node
	}
	atomic.StorePointer(&prev.next, unsafe.Pointer(node))
	// A reader queued behind an already-granted reader joins it at once;
	// grant's own cascade only covers waiters linked before that grant.
	if mode == ModeShared && prev.mode == ModeShared && atomic.LoadUint32(&prev.granted) == 1 {
		l.grant(node)
	}
	for atomic.LoadUint32(&node.granted) != 1 {
		runtime.Gosched()
	}
	return node
}

// grant performs the one-time hand-off of lock ownership to node: for an
// exclusive node it spins until the reader count drains, for a shared
// node it joins the active-reader count and then tries to cascade the
// grant to an immediately-following shared waiter (reader batching), so
// that a run of queued readers does not wake each other one at a time.
//
// The CompareAndSwap on granted (0 -> 2) makes grant idempotent: both the
// node's direct predecessor (via Unlock) and an earlier cascading reader
// may race to grant the same node, and only one may actually perform the
// hand-off.
func (l *RwLockableXctId) grant(node *Ticket) {
	if !atomic.CompareAndSwapUint32(&node.granted, 0, 2) {
		return
	}

	if node.mode == ModeExclusive {
		for atomic.LoadInt32(&l.readers) != 0 {
			runtime.Gosched()
		}
	} else {
		atomic.AddInt32(&l.readers, 1)
	}

	atomic.StoreUint32(&node.granted, 1)

	if node.mode == ModeShared {
		next := (*Ticket)(atomic.LoadPointer(&node.next))
		if next != nil && next.mode == ModeShared {
			l.grant(next)
		}
	}
}

// Unlock releases node, handing the lock off to the next queued waiter if
// any.
func (l *RwLockableXctId) Unlock(node *Ticket) {
	if node.mode == ModeShared {
		atomic.AddInt32(&l.readers, -1)
	}

	next := (*Ticket)(atomic.LoadPointer(&node.next))
	if next == nil {
		if atomic.CompareAndSwapPointer(&l.tail, unsafe.Pointer(node), nil) {
			return
		}
		for {
			next = (*Ticket)(atomic.LoadPointer(&node.next))
			if next != nil {
				break
			}
			runtime.Gosched()
		}
	}
	l.grant(next)
}

// TryUpgradeToExclusive attempts the in-place S -> X upgrade described in
// the lock-list upgrade rule: it succeeds only if node is the sole active
// reader (i.e. no other granted reader is "ahead" - in this single lock,
// that is exactly the case where the reader count is 1 and it is us).
// On failure the caller must Unlock(node) and re-acquire with Lock or
// TryLock(ModeExclusive); the lock list is responsible for reinserting
// the request at the right position in that case.
func (l *RwLockableXctId) TryUpgradeToExclusive(node *Ticket) bool {
	if node.mode != ModeShared {
		panic("xctid: TryUpgradeToExclusive requires a shared holder")
	}
	if !atomic.CompareAndSwapInt32(&l.readers, 1, 0) {
		return false
	}
	node.mode = ModeExclusive
	return true
}

// SetXctId installs a new owning XctId. Only the exclusive holder may call
// this, and the new id must strictly advance (epoch, ordinal) past the
// current one - the core invariant that makes XctId a valid commit
// timestamp.
func (l *RwLockableXctId) SetXctId(node *Ticket, newID XctId) {
	if node.mode != ModeExclusive {
		panic("xctid: SetXctId requires the exclusive holder")
	}
	old := l.ID()
	if old.IsValid() && !old.Before(newID) {
		panic(fmt.Sprintf("xctid: SetXctId must strictly advance: %v -> %v", old, newID))
	}
	atomic.StoreUint64(&l.id, uint64(newID))
}
