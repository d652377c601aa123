package engine

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/foedus-go/foedus/config"
	"github.com/foedus-go/foedus/storage"
	"github.com/foedus-go/foedus/xct"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type balanceUpdate struct {
	amount int64
}

func (b balanceUpdate) TypeCode() uint16    { return 1 }
func (b balanceUpdate) PayloadSize() uint32 { return 8 }
func (b balanceUpdate) WriteTo(buf []byte) int {
	for i := 0; i < 8; i++ {
		buf[i] = byte(b.amount >> (8 * i))
	}
	return 8
}

func TestEngineStartStop(t *testing.T) {
	e := New(config.DefaultEngineOptions(), nil)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Start(); err == nil {
		t.Fatal("expected second Start to fail")
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := e.Stop(); err == nil {
		t.Fatal("expected second Stop to fail")
	}
}

func TestEngineCommitsATransactionAgainstArrayStorage(t *testing.T) {
	e := New(config.DefaultEngineOptions(), nil)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	accounts := storage.NewArray(1, "accounts", 4, 8)
	e.RegisterStorage(accounts)

	w := e.NewWorker(0)

	commitEpoch, err := IssueXct(w, xct.IsolationSerializable, 0, func(x *xct.Xct) error {
		return accounts.Overwrite(x, 2, balanceUpdate{amount: 500})
	})
	if err != nil {
		t.Fatalf("IssueXct: %v", err)
	}
	if !commitEpoch.IsValid() {
		t.Fatal("expected a valid commit epoch")
	}

	rec, err := accounts.Record(2)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !rec.Owner.ID().IsValid() {
		t.Fatal("expected the record's owner id to be stamped after commit")
	}
	if got := int64(rec.Payload[0]) | int64(rec.Payload[1])<<8; got != 500 {
		t.Fatalf("payload after commit = %d, want 500", got)
	}
}

func TestEngineRunSnapshotProducesReadableRoot(t *testing.T) {
	e := New(config.DefaultEngineOptions(), nil)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	accounts := storage.NewArray(1, "accounts", 4, 8)
	e.RegisterStorage(accounts)
	w := e.NewWorker(0)

	for i := 0; i < 3; i++ {
		offset := i
		_, err := IssueXct(w, xct.IsolationSerializable, 0, func(x *xct.Xct) error {
			return accounts.Overwrite(x, offset, balanceUpdate{amount: int64(offset)})
		})
		if err != nil {
			t.Fatalf("IssueXct(%d): %v", i, err)
		}
	}

	deadline := time.After(2 * time.Second)
	for e.Clock().Current() <= 1 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the epoch advancer to move the clock")
		case <-time.After(time.Millisecond):
		}
	}

	dir := t.TempDir()
	snap, roots, err := e.RunSnapshot(dir, 1, e.Clock().Current(), 4096)
	if err != nil {
		t.Fatalf("RunSnapshot: %v", err)
	}
	if _, ok := roots[accounts.ID()]; !ok {
		t.Fatal("expected a root pointer for the accounts storage")
	}
	if snap.ID != 1 {
		t.Fatalf("Snapshot.ID = %d, want 1", snap.ID)
	}
}

// BenchmarkTPCBStyleAccountUpdate exercises a TPC-B-shaped workload: pick a
// pseudo-random account offset with a deterministic PRNG (so runs are
// reproducible) and post a balance update to it in its own transaction.
func BenchmarkTPCBStyleAccountUpdate(b *testing.B) {
	e := New(config.DefaultEngineOptions(), nil)
	if err := e.Start(); err != nil {
		b.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	const numAccounts = 1024
	accounts := storage.NewArray(1, "accounts", numAccounts, 8)
	e.RegisterStorage(accounts)
	w := e.NewWorker(0)

	// A fixed seed keeps the workload reproducible across runs; rand.NewPCG
	// gives the same generator family the corpus used to hand-roll, without
	// duplicating it here.
	rng := rand.New(rand.NewPCG(uint64(b.N), 0xa5))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		offset := rng.IntN(numAccounts)
		amount := int64(rng.IntN(1000))
		_, err := IssueXct(w, xct.IsolationSerializable, 3, func(x *xct.Xct) error {
			return accounts.Overwrite(x, offset, balanceUpdate{amount: amount})
		})
		if err != nil {
			b.Fatalf("IssueXct: %v", err)
		}
	}
}
