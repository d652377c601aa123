package xct

import (
	"testing"

	"github.com/foedus-go/foedus/epoch"
	"github.com/foedus-go/foedus/locklist"
	"github.com/foedus-go/foedus/storage"
	"github.com/foedus-go/foedus/xctid"
)

type fakeLogEntry struct{ n uint16 }

func (f fakeLogEntry) TypeCode() uint16                { return f.n }
func (f fakeLogEntry) PayloadSize() uint32             { return 0 }
func (f fakeLogEntry) WriteTo(buf []byte) int          { return 0 }

func TestActivateDeactivateLifecycle(t *testing.T) {
	x := New(0)
	if x.IsActive() {
		t.Fatal("fresh Xct should not be active")
	}
	if err := x.Activate(IsolationSerializable); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !x.IsActive() || !x.IsReadOnly() {
		t.Fatal("freshly activated transaction should be active and read-only")
	}
	if err := x.Activate(IsolationSerializable); err != ErrAlreadyActive {
		t.Fatalf("double Activate should fail with ErrAlreadyActive, got %v", err)
	}
	if err := x.Deactivate(); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if x.IsActive() {
		t.Fatal("Xct should not be active after Deactivate")
	}
}

func TestDeactivateFailsWithLocksHeld(t *testing.T) {
	x := New(0)
	x.Activate(IsolationSerializable)
	lock := xctid.NewRwLockableXctId(xctid.New(epoch.Initial, 0, 0))
	x.CLL().RequestOrUpdate(locklist.NewUniversalLockId(1, 1, 1), lock, xctid.ModeExclusive)
	x.CLL().AcquireAscending()

	if err := x.Deactivate(); err != ErrLocksHeld {
		t.Fatalf("expected ErrLocksHeld, got %v", err)
	}
	x.CLL().ReleaseAll()
	if err := x.Deactivate(); err != nil {
		t.Fatalf("Deactivate after releasing locks: %v", err)
	}
}

func TestIssueNextIDMonotoneAndRespectsMaxDep(t *testing.T) {
	x := New(0)
	x.Activate(IsolationSerializable)

	id1, _ := x.IssueNextID(xctid.XctId(0), epoch.Initial)
	if id1.Epoch() != epoch.Initial || id1.Ordinal() != 1 {
		t.Fatalf("first issued id = %v, want epoch %v ordinal 1", id1, epoch.Initial)
	}

	id2, _ := x.IssueNextID(xctid.XctId(0), epoch.Initial)
	if !id1.Before(id2) {
		t.Fatalf("second id %v should be after first id %v", id2, id1)
	}

	depID := xctid.New(epoch.Initial, 500, 0)
	id3, _ := x.IssueNextID(depID, epoch.Initial)
	if !depID.Before(id3) {
		t.Fatalf("id3 %v should be strictly after the dependency %v", id3, depID)
	}
}

func TestIssueNextIDOverflowsOrdinalIntoNextEpoch(t *testing.T) {
	x := New(0)
	x.Activate(IsolationSerializable)
	x.id = xctid.New(epoch.Initial, xctid.MaxOrdinal, 0)

	next, e := x.IssueNextID(xctid.XctId(0), epoch.Initial)
	if e != epoch.Initial.OneMore() {
		t.Fatalf("expected epoch to advance past ordinal overflow, got %v", e)
	}
	if next.Ordinal() != 1 {
		t.Fatalf("expected ordinal to reset to 1, got %d", next.Ordinal())
	}
}

func TestAddToPointerSetBounded(t *testing.T) {
	x := New(0)
	x.Activate(IsolationSerializable)
	var ptr storage.VolatilePagePointer = 42
	for i := 0; i < MaxPointerSets; i++ {
		if err := x.AddToPointerSet(&ptr, ptr); err != nil {
			t.Fatalf("unexpected error at entry %d: %v", i, err)
		}
	}
	if err := x.AddToPointerSet(&ptr, ptr); err != ErrTooManyReads {
		t.Fatalf("expected ErrTooManyReads at the bound, got %v", err)
	}
}

func TestAddToWriteSetCrossLinksReadSet(t *testing.T) {
	x := New(0)
	x.Activate(IsolationSerializable)
	lock := xctid.NewRwLockableXctId(xctid.New(epoch.Initial, 0, 0))

	r := x.AddToReadSetForce(1, lock, lock.ID())
	w := x.AddToWriteSet(1, locklist.NewUniversalLockId(1, 1, 1), lock, nil, fakeLogEntry{1})

	if r.RelatedWrite != w {
		t.Fatal("read-set entry should be cross-linked to its write-set entry")
	}
	if w.RelatedRead != r {
		t.Fatal("write-set entry should be cross-linked to its read-set entry")
	}
}

func TestAddToReadSetElidedAtSnapshotIsolation(t *testing.T) {
	x := New(0)
	x.Activate(IsolationSnapshot)
	lock := xctid.NewRwLockableXctId(xctid.New(epoch.Initial, 0, 0))
	x.AddToReadSet(1, lock, lock.ID())
	if len(x.ReadSet()) != 0 {
		t.Fatal("AddToReadSet should be a no-op at snapshot isolation")
	}
	x.AddToReadSetForce(1, lock, lock.ID())
	if len(x.ReadSet()) != 1 {
		t.Fatal("AddToReadSetForce should always record")
	}
}

func TestActivateSeedsCLLFromRLL(t *testing.T) {
	x := New(0)
	x.Activate(IsolationSerializable)
	lock := xctid.NewRwLockableXctId(xctid.New(epoch.Initial, 0, 0))
	x.CLL().RequestOrUpdate(locklist.NewUniversalLockId(1, 1, 1), lock, xctid.ModeExclusive)
	x.CLL().AcquireAscending()
	x.RLL().FillFrom(x.CLL())
	x.CLL().ReleaseAll()
	x.Deactivate()

	x.Activate(IsolationSerializable)
	if x.CLL().Len() != 1 {
		t.Fatalf("expected CLL pre-seeded from RLL, got %d entries", x.CLL().Len())
	}
	for _, e := range x.CLL().Entries() {
		if e.Held() {
			t.Fatal("pre-seeded entries should not be pre-acquired")
		}
	}
	x.CLL().AcquireAscending()
	x.CLL().ReleaseAll()
}

func TestAcquireLocalWorkMemoryGrows(t *testing.T) {
	x := New(0)
	x.Activate(IsolationSerializable)
	big := x.AcquireLocalWorkMemory(localWorkMemoryInitialSize*2, 8)
	if len(big) < localWorkMemoryInitialSize*2 {
		t.Fatalf("expected local work memory to grow to fit request, got %d bytes", len(big))
	}
}
