package locklist

import "github.com/foedus-go/foedus/xctid"

// RetrospectiveLockList is the carry-over from an aborted transaction
// attempt: the locks it wanted, in order, whether or not it ever actually
// acquired them. The next Activate call pre-seeds a fresh CurrentLockList
// from this so the retry requests everything it is likely to need
// up-front, in the one order that is guaranteed not to violate the
// ascending-id invariant.
type RetrospectiveLockList struct {
	wanted []Entry
}

// NewRetrospectiveLockList constructs an empty RLL.
func NewRetrospectiveLockList() *RetrospectiveLockList {
	return &RetrospectiveLockList{}
}

// Len reports how many locks the RLL remembers wanting.
func (r *RetrospectiveLockList) Len() int { return len(r.wanted) }

// FillFrom replaces the RLL's contents with a snapshot of cll: every entry
// cll ever requested, regardless of whether it was acquired, in ascending
// order. Call this on abort, before releasing the CLL.
func (r *RetrospectiveLockList) FillFrom(cll *CurrentLockList) {
	r.wanted = append(r.wanted[:0], cll.entries...)
	for i := range r.wanted {
		r.wanted[i].Current = xctid.ModeNone
		r.wanted[i].ticket = nil
	}
}

// Clear empties the RLL, e.g. after a successful commit.
func (r *RetrospectiveLockList) Clear() {
	r.wanted = r.wanted[:0]
}

// SeedCLL pre-populates an empty cll with one entry per RLL entry, in the
// same (ascending) order, with Desired carried over and nothing yet
// acquired. This is Xct.Activate's CLL pre-population step.
func (r *RetrospectiveLockList) SeedCLL(cll *CurrentLockList) {
	cll.entries = cll.entries[:0]
	for _, e := range r.wanted {
		cll.entries = append(cll.entries, Entry{
			ID:      e.ID,
			Lock:    e.Lock,
			Desired: e.Desired,
		})
	}
}
