package xctid

import (
	"testing"

	"github.com/foedus-go/foedus/epoch"
)

func TestNewAndAccessors(t *testing.T) {
	id := New(epoch.Epoch(7), 12345, flagDeleted|flagMoved)
	if id.Epoch() != epoch.Epoch(7) {
		t.Fatalf("Epoch() = %v, want 7", id.Epoch())
	}
	if id.Ordinal() != 12345 {
		t.Fatalf("Ordinal() = %v, want 12345", id.Ordinal())
	}
	if !id.Deleted() || !id.Moved() {
		t.Fatal("expected Deleted and Moved flags set")
	}
	if id.NextLayer() || id.BeingWritten() {
		t.Fatal("unexpected flags set")
	}
}

func TestNewPanicsOnOversizedOrdinal(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on oversized ordinal")
		}
	}()
	New(epoch.Initial, MaxOrdinal+1, 0)
}

func TestWithFlagRoundtrip(t *testing.T) {
	id := New(epoch.Initial, 1, 0)
	id = id.WithDeleted(true)
	if !id.Deleted() {
		t.Fatal("WithDeleted(true) did not set the flag")
	}
	id = id.WithDeleted(false)
	if id.Deleted() {
		t.Fatal("WithDeleted(false) did not clear the flag")
	}
	// unrelated flags and the epoch/ordinal must be untouched
	if id.Epoch() != epoch.Initial || id.Ordinal() != 1 {
		t.Fatal("WithDeleted disturbed unrelated bits")
	}
}

func TestBeforeOrdersByEpochThenOrdinal(t *testing.T) {
	a := New(epoch.Epoch(1), 100, 0)
	b := New(epoch.Epoch(1), 101, 0)
	c := New(epoch.Epoch(2), 0, 0)
	if !a.Before(b) {
		t.Fatal("a should be before b (same epoch, smaller ordinal)")
	}
	if !b.Before(c) {
		t.Fatal("b should be before c (smaller epoch)")
	}
	if c.Before(a) {
		t.Fatal("c should not be before a")
	}
}

func TestSameOwnerIgnoresFlags(t *testing.T) {
	a := New(epoch.Epoch(3), 9, 0)
	b := New(epoch.Epoch(3), 9, flagDeleted)
	if !a.SameOwner(b) {
		t.Fatal("SameOwner should ignore status flags")
	}
	c := New(epoch.Epoch(3), 10, 0)
	if a.SameOwner(c) {
		t.Fatal("SameOwner should distinguish different ordinals")
	}
}

func TestIsValid(t *testing.T) {
	var zero XctId
	if zero.IsValid() {
		t.Fatal("zero-value XctId should be invalid")
	}
	valid := New(epoch.Initial, 0, 0)
	if !valid.IsValid() {
		t.Fatal("XctId with Initial epoch should be valid")
	}
}
