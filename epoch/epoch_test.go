package epoch

import (
	"testing"
)

func TestBeforeWraparound(t *testing.T) {
	if !Epoch(10).Before(Epoch(20)) {
		t.Fatal("10 should be before 20")
	}
	if Epoch(20).Before(Epoch(10)) {
		t.Fatal("20 should not be before 10")
	}
	// wraparound: a huge epoch is "before" a small one if the small one
	// is reached by advancing less than 2^31 steps.
	huge := Epoch(^uint32(0) - 5)
	small := Epoch(4)
	if !huge.Before(small) {
		t.Fatal("huge should wrap around to be before small")
	}
	if small.Before(huge) {
		t.Fatal("small should not be before huge across the wrap")
	}
}

func TestStoreMax(t *testing.T) {
	if got := StoreMax(Invalid, Epoch(5)); got != Epoch(5) {
		t.Fatalf("StoreMax(invalid, 5) = %v, want 5", got)
	}
	if got := StoreMax(Epoch(5), Invalid); got != Epoch(5) {
		t.Fatalf("StoreMax(5, invalid) = %v, want 5", got)
	}
	if got := StoreMax(Epoch(3), Epoch(9)); got != Epoch(9) {
		t.Fatalf("StoreMax(3, 9) = %v, want 9", got)
	}
}

func TestAddSkipsInvalid(t *testing.T) {
	e := Epoch(^uint32(0))
	next := e.OneMore()
	if next != Initial {
		t.Fatalf("wraparound add landed on %v, want it to skip Invalid", next)
	}
}

func TestProtectUnprotectComputeSafe(t *testing.T) {
	c := NewClock()
	h1 := c.AcquireHandle()
	h2 := c.AcquireHandle()
	defer c.ReleaseHandle(h1)
	defer c.ReleaseHandle(h2)

	c.Protect(h1)
	c.Bump() // current is now Initial+1, h1 still protected at Initial
	c.Protect(h2)

	safe := c.ComputeSafe(c.Current())
	if safe != Initial-1 {
		t.Fatalf("safe = %v, want one before the oldest protected epoch (%v)", safe, Initial)
	}

	c.Unprotect(h1)
	safe = c.ComputeSafe(c.Current())
	if safe.Before(Initial) {
		t.Fatalf("safe should have advanced once h1 unprotected, got %v", safe)
	}
}

func TestBumpWithRunsOnceSafe(t *testing.T) {
	c := NewClock()
	h := c.AcquireHandle()
	defer c.ReleaseHandle(h)

	c.Protect(h)

	ran := make(chan struct{}, 1)
	c.BumpWith(func() { ran <- struct{}{} })

	select {
	case <-ran:
		t.Fatal("trigger ran before its epoch became safe")
	default:
	}

	c.Unprotect(h)
	c.Drain(c.Bump())

	select {
	case <-ran:
	default:
		t.Fatal("trigger did not run once its epoch became safe")
	}
}
