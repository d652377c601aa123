package xctmgr

import (
	"sync"
	"testing"

	"github.com/foedus-go/foedus/epoch"
	"github.com/foedus-go/foedus/locklist"
	"github.com/foedus-go/foedus/storage"
	"github.com/foedus-go/foedus/walog"
	"github.com/foedus-go/foedus/xct"
	"github.com/foedus-go/foedus/xctid"
)

type intLog struct{ delta int64 }

func (intLog) TypeCode() uint16    { return 1 }
func (intLog) PayloadSize() uint32 { return 8 }
func (l intLog) WriteTo(buf []byte) int {
	for i := 0; i < 8; i++ {
		buf[i] = byte(l.delta >> (8 * i))
	}
	return 8
}

// newWorker constructs a Worker on clock with its own fresh log buffer.
func newWorker(clock *epoch.Clock) (*Worker, *walog.Buffer) {
	buf := walog.NewBuffer(0)
	return NewWorker(0, clock, buf, nil, nil), buf
}

func TestPrecommitSingleThreadReadWrite(t *testing.T) {
	clock := epoch.NewClock()
	w, _ := newWorker(clock)
	defer w.Close()

	rec := storage.NewRecord(xctid.XctId(0), 8)

	if err := w.BeginXct(xct.IsolationSerializable); err != nil {
		t.Fatalf("BeginXct: %v", err)
	}
	lockID := locklist.NewUniversalLockId(1, 1, 0)
	observed := rec.Owner.ID()
	w.Xct().AddToReadAndWriteSet(1, lockID, observed, &rec.Owner, rec.Payload, intLog{delta: 100})

	commitEpoch, err := w.PrecommitXct()
	if err != nil {
		t.Fatalf("PrecommitXct: %v", err)
	}
	if !commitEpoch.IsValid() {
		t.Fatal("expected a valid commit epoch")
	}
	if !rec.Owner.ID().IsValid() {
		t.Fatal("owner id should be installed after commit")
	}
}

func TestPrecommitReadOnlySkipsLocking(t *testing.T) {
	clock := epoch.NewClock()
	w, _ := newWorker(clock)
	defer w.Close()

	rec := storage.NewRecord(xctid.XctId(0), 8)

	if err := w.BeginXct(xct.IsolationSerializable); err != nil {
		t.Fatalf("BeginXct: %v", err)
	}
	w.Xct().AddToReadSetForce(1, &rec.Owner, rec.Owner.ID())
	if _, err := w.PrecommitXct(); err != nil {
		t.Fatalf("read-only PrecommitXct: %v", err)
	}
	if rec.Owner.ReaderCount() != 0 {
		t.Fatal("read-only commit should not leave any lock held")
	}
}

func TestPrecommitFailsValidationOnConcurrentWrite(t *testing.T) {
	clock := epoch.NewClock()
	w1, _ := newWorker(clock)
	w2, _ := newWorker(clock)
	defer w1.Close()
	defer w2.Close()

	rec := storage.NewRecord(xctid.XctId(0), 8)
	lockID := locklist.NewUniversalLockId(1, 1, 0)

	w1.BeginXct(xct.IsolationSerializable)
	observed := rec.Owner.ID()
	w1.Xct().AddToReadSetForce(1, &rec.Owner, observed)

	w2.BeginXct(xct.IsolationSerializable)
	w2.Xct().AddToReadAndWriteSet(1, lockID, rec.Owner.ID(), &rec.Owner, rec.Payload, intLog{delta: 1})
	if _, err := w2.PrecommitXct(); err != nil {
		t.Fatalf("w2 PrecommitXct: %v", err)
	}

	if _, err := w1.PrecommitXct(); err != ErrValidationFailed {
		t.Fatalf("expected ErrValidationFailed for w1, got %v", err)
	}
	if w1.Xct().RLL().Len() == 0 {
		t.Fatal("aborted transaction should seed its RLL for retry")
	}
}

func TestPrecommitContendedWritesSerialize(t *testing.T) {
	clock := epoch.NewClock()
	rec := storage.NewRecord(xctid.XctId(0), 8)
	lockID := locklist.NewUniversalLockId(1, 1, 0)

	const workers = 4
	var wg sync.WaitGroup
	var successes int64
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, _ := newWorker(clock)
			defer w.Close()
			for attempt := 0; attempt < 20; attempt++ {
				w.BeginXct(xct.IsolationSerializable)
				observed := rec.Owner.ID()
				w.Xct().AddToReadAndWriteSet(1, lockID, observed, &rec.Owner, rec.Payload, intLog{delta: 1})
				if _, err := w.PrecommitXct(); err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
					return
				}
			}
		}()
	}
	wg.Wait()
	if successes == 0 {
		t.Fatal("expected at least one worker to commit under contention")
	}
}
