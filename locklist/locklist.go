// Package locklist implements per-transaction lock bookkeeping (component
// C4): the Current Lock List (CLL), an ordered record of every lock a
// transaction holds or wants, and the Retrospective Lock List (RLL), a
// carry-over from a prior aborted attempt that seeds the next one.
//
// The ascending-UniversalLockId acquisition order is what makes the whole
// engine deadlock-free: instead of a lock manager detecting cycles, every
// transaction is simply forbidden from requesting a lock "behind" one it
// already holds. The bookkeeping shape (an ordered slice, binary search for
// insertion point, release-by-truncating-a-suffix) is adapted from the
// teacher library's pin.buffer grow-in-place-or-move arena, generalized
// from a single growable byte buffer to a sorted slice of lock entries.
package locklist

import (
	"sort"

	"github.com/foedus-go/foedus/internal/assert"
	"github.com/foedus-go/foedus/xctid"
)

// UniversalLockId totally orders every lockable record header in the
// engine: (storage_id, page_id, slot_index) packed into one comparable
// value.
type UniversalLockId uint64

const (
	storageBits = 16
	pageBits    = 32
	slotBits    = 16

	slotMask  = 1<<slotBits - 1
	pageShift = slotBits
	pageMask  = 1<<pageBits - 1

	storageShift = slotBits + pageBits
)

// NewUniversalLockId packs a (storage, page, slot) triple. slot must fit in
// 16 bits and page in 32 bits; callers pick the slot index within a page so
// this is always true for any reasonably sized page.
func NewUniversalLockId(storageID uint16, pageID uint32, slot uint16) UniversalLockId {
	return UniversalLockId(uint64(storageID)<<storageShift | uint64(pageID&pageMask)<<pageShift | uint64(slot&slotMask))
}

func (id UniversalLockId) StorageID() uint16 {
	return uint16(id >> storageShift)
}

func (id UniversalLockId) PageID() uint32 {
	return uint32(id>>pageShift) & pageMask
}

func (id UniversalLockId) Slot() uint16 {
	return uint16(id) & slotMask
}

// Entry is one lock the owning transaction wants or holds.
type Entry struct {
	ID      UniversalLockId
	Lock    *xctid.RwLockableXctId
	Desired xctid.LockMode
	Current xctid.LockMode
	ticket  *xctid.Ticket
}

// Held reports whether the transaction actually holds Current (as opposed
// to merely wanting Desired).
func (e *Entry) Held() bool {
	return e.Current != xctid.ModeNone
}

// InstallXctId installs a new owner id on the locked record. The caller
// must hold ModeExclusive on this entry - see xctid.RwLockableXctId.SetXctId.
func (e *Entry) InstallXctId(id xctid.XctId) {
	e.Lock.SetXctId(e.ticket, id)
}

// CurrentLockList is the ordered, per-transaction lock list. Entries are
// always kept sorted ascending by ID; AcquireAscending and AcquireNow only
// ever acquire locks in ascending-ID order (AcquireNow releases and
// reacquires higher-ID held entries to keep it so), which is the
// deadlock-free invariant.
type CurrentLockList struct {
	entries []Entry
}

// NewCurrentLockList constructs an empty CLL, optionally reserving capacity
// for the RLL it will likely be pre-seeded from.
func NewCurrentLockList(capacityHint int) *CurrentLockList {
	return &CurrentLockList{entries: make([]Entry, 0, capacityHint)}
}

// Len returns the number of entries (wanted or held).
func (c *CurrentLockList) Len() int { return len(c.entries) }

// Entries exposes the current entries in ascending-ID order. Callers must
// not retain the slice across a Clear.
func (c *CurrentLockList) Entries() []Entry { return c.entries }

// Find returns the entry for id, if any.
func (c *CurrentLockList) Find(id UniversalLockId) (*Entry, bool) {
	i, found := c.find(id)
	if !found {
		return nil, false
	}
	return &c.entries[i], true
}

// Highest returns the highest UniversalLockId with an entry, or false if
// the list is empty.
func (c *CurrentLockList) Highest() (UniversalLockId, bool) {
	if len(c.entries) == 0 {
		return 0, false
	}
	return c.entries[len(c.entries)-1].ID, true
}

// find returns the index of id if present, and whether it was found.
func (c *CurrentLockList) find(id UniversalLockId) (int, bool) {
	i := sort.Search(len(c.entries), func(i int) bool { return c.entries[i].ID >= id })
	if i < len(c.entries) && c.entries[i].ID == id {
		return i, true
	}
	return i, false
}

// RequestOrUpdate records a desire to hold mode on (id, lock), inserting a
// new entry in sorted position if needed, or upgrading Desired if the
// entry already exists and mode is stronger.
func (c *CurrentLockList) RequestOrUpdate(id UniversalLockId, lock *xctid.RwLockableXctId, mode xctid.LockMode) *Entry {
	i, found := c.find(id)
	if found {
		if mode == xctid.ModeExclusive {
			c.entries[i].Desired = xctid.ModeExclusive
		}
		return &c.entries[i]
	}
	c.entries = append(c.entries, Entry{})
	copy(c.entries[i+1:], c.entries[i:])
	c.entries[i] = Entry{ID: id, Lock: lock, Desired: mode}
	assert.That("CLL entries stay sorted ascending by id", func() bool {
		return sort.SliceIsSorted(c.entries, func(a, b int) bool { return c.entries[a].ID < c.entries[b].ID })
	})
	return &c.entries[i]
}

// AscendingViolation reports whether acquiring id right now would violate
// the ascending-id invariant: true if some already-HELD entry has an ID
// greater than id. The caller (AcquireNow, which the transaction manager's
// precommit phase 1 uses) must, in that case, release every held entry
// after id's position, acquire id, then reacquire the released ones - see
// ReleaseAfter and AcquireNow below.
func (c *CurrentLockList) AscendingViolation(id UniversalLockId) bool {
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].ID <= id {
			break
		}
		if c.entries[i].Held() {
			return true
		}
	}
	return false
}

// ReleaseAfter releases (descending order) every held entry whose ID is
// greater than id, returning copies of the released entries in the order
// they were released so the caller can reacquire them afterward.
func (c *CurrentLockList) ReleaseAfter(id UniversalLockId) []Entry {
	var released []Entry
	for i := len(c.entries) - 1; i >= 0; i-- {
		e := &c.entries[i]
		if e.ID <= id {
			break
		}
		if e.Held() {
			e.Lock.Unlock(e.ticket)
			released = append(released, *e)
			e.Current = xctid.ModeNone
			e.ticket = nil
		}
	}
	return released
}

// AcquireNow immediately acquires mode on (id, lock), fixing up the
// ascending-id invariant if needed: if id is lower than the highest
// currently held lock, every held entry above it is released first, id is
// acquired, and the released entries are then reacquired in ascending
// order. The transaction manager's precommit phase 1 calls this once per
// write-set entry, so the invariant holds whatever order the write set is
// in.
func (c *CurrentLockList) AcquireNow(id UniversalLockId, lock *xctid.RwLockableXctId, mode xctid.LockMode) {
	e := c.RequestOrUpdate(id, lock, mode)
	if e.Held() && (e.Current == mode || e.Current == xctid.ModeExclusive) {
		return
	}

	if !c.AscendingViolation(id) {
		c.acquireEntryByID(id, mode)
		return
	}

	released := c.ReleaseAfter(id)
	c.acquireEntryByID(id, mode)
	for _, r := range released {
		c.acquireEntryByID(r.ID, r.Desired)
	}
}

func (c *CurrentLockList) acquireEntryByID(id UniversalLockId, mode xctid.LockMode) {
	i, found := c.find(id)
	if !found {
		return
	}
	e := &c.entries[i]
	if e.Current == mode || e.Current == xctid.ModeExclusive {
		return
	}
	if e.Current == xctid.ModeShared && mode == xctid.ModeExclusive {
		if e.Lock.TryUpgradeToExclusive(e.ticket) {
			e.Current = xctid.ModeExclusive
			return
		}
		e.Lock.Unlock(e.ticket)
		e.Current = xctid.ModeNone
	}
	e.ticket = e.Lock.Lock(mode)
	e.Current = mode
}

// AcquireAscending acquires every entry whose Desired mode is not yet held,
// in ascending ID order, blocking as needed. It is the bulk path for a list
// known not to need any ascending-violation workaround (e.g. a freshly
// pre-seeded-from-RLL CLL); precommit phase 1 uses AcquireNow instead.
func (c *CurrentLockList) AcquireAscending() {
	for i := range c.entries {
		e := &c.entries[i]
		if e.Current == e.Desired || e.Desired == xctid.ModeNone {
			continue
		}
		if e.Current == xctid.ModeShared && e.Desired == xctid.ModeExclusive {
			if e.Lock.TryUpgradeToExclusive(e.ticket) {
				e.Current = xctid.ModeExclusive
				continue
			}
			// in-place upgrade refused (another reader is active): demote
			// and fall through to reacquire as X below.
			e.Lock.Unlock(e.ticket)
			e.Current = xctid.ModeNone
		}
		e.ticket = e.Lock.Lock(e.Desired)
		e.Current = e.Desired
	}
}

// ReleaseAll releases every held entry in descending order, as required at
// commit (after log publish) and at abort.
func (c *CurrentLockList) ReleaseAll() {
	for i := len(c.entries) - 1; i >= 0; i-- {
		e := &c.entries[i]
		if e.Held() {
			e.Lock.Unlock(e.ticket)
			e.Current = xctid.ModeNone
			e.ticket = nil
		}
	}
}

// Clear empties the list without releasing anything; callers must have
// already released (ReleaseAll) or be seeding a fresh activate().
func (c *CurrentLockList) Clear() {
	c.entries = c.entries[:0]
}
