package storage

import "sync"

// Sequential is an append-only storage with no key lookup: records are
// only ever appended and scanned in insertion order, so there is nothing
// to lock per-record - Xct.AddToLockFreeWriteSet is how callers route
// writes to it, skipping the CLL entirely. This mirrors the original
// engine's sequential storage, used for append-heavy logs where OCC's
// per-record validation would be pure overhead.
type Sequential struct {
	Metadata
	mu      sync.Mutex
	records []*Record
}

// NewSequential constructs an empty Sequential storage.
func NewSequential(id StorageID, name string) *Sequential {
	return &Sequential{Metadata: Metadata{StorageID: id, StorageName: name, Kind: TypeSequential}}
}

// Append adds payload as a new record, returning it so the caller can
// stage a log entry referencing its address before handing it to
// Xct.AddToLockFreeWriteSet.
func (s *Sequential) Append(payload []byte) *Record {
	rec := &Record{Payload: payload}
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return rec
}

// Len returns the number of records appended so far.
func (s *Sequential) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Records returns every appended record, in append order.
func (s *Sequential) Records() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Record(nil), s.records...)
}

// Scan calls fn for every record in append order, stopping early if fn
// returns false. Concurrent appends during a scan are not reflected in
// that scan's range.
func (s *Sequential) Scan(fn func(i int, rec *Record) bool) {
	s.mu.Lock()
	snapshot := append([]*Record(nil), s.records...)
	s.mu.Unlock()

	for i, rec := range snapshot {
		if !fn(i, rec) {
			return
		}
	}
}
