package locklist

import (
	"testing"

	"github.com/foedus-go/foedus/xctid"
	"pgregory.net/rapid"
)

// TestAcquireNowNeverViolatesAscendingOrder checks, for arbitrary sequences
// of AcquireNow calls in arbitrary id order, that the CLL always ends up
// fully held and sorted ascending - the invariant the whole engine's
// deadlock-freedom rests on.
func TestAcquireNowNeverViolatesAscendingOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ids := rapid.SliceOfDistinct(rapid.Uint32Range(1, 500), func(v uint32) uint32 { return v }).Draw(t, "ids")

		cll := NewCurrentLockList(len(ids))
		locks := make(map[UniversalLockId]*xctid.RwLockableXctId, len(ids))

		for _, v := range ids {
			id := UniversalLockId(v)
			lock := newLock()
			locks[id] = lock
			cll.AcquireNow(id, lock, xctid.ModeShared)

			entries := cll.Entries()
			for i := 1; i < len(entries); i++ {
				if entries[i-1].ID >= entries[i].ID {
					t.Fatalf("CLL not ascending after acquiring %v: %v then %v", id, entries[i-1].ID, entries[i].ID)
				}
			}
			for _, e := range entries {
				if !e.Held() {
					t.Fatalf("entry %v not held after AcquireNow(%v)", e.ID, id)
				}
			}
		}

		cll.ReleaseAll()
		for _, e := range cll.Entries() {
			if e.Held() {
				t.Fatalf("entry %v still held after ReleaseAll", e.ID)
			}
		}
	})
}
