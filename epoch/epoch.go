// Package epoch implements the engine's global epoch clock (component C1)
// together with the per-thread protection table and deferred trigger queue
// that the transaction manager and gleaner use to know when no protected
// thread can still be working in an older epoch.
//
// The protection table and trigger queue are adapted from the teacher
// library's epoch package, which used the identical "protect / compute
// safe / drain triggers once safe" shape for lock-free memory reclamation.
// Here the "safe" watermark is one less than the oldest epoch a protected
// transaction entered, and triggers are used to defer the gleaner's
// drop_volatiles check until no in-flight transaction can still be
// committing against an epoch the snapshot predates.
package epoch

import (
	"sync/atomic"

	"github.com/foedus-go/foedus/internal/machine"
)

// Epoch is a 32-bit cyclic counter. Comparisons treat the counter space as
// a circle of radius 2^31 so that wraparound after ~4 billion epochs is
// harmless.
type Epoch uint32

const (
	// Invalid is never a valid epoch value.
	Invalid Epoch = 0
	// Initial is the first epoch the engine ever runs transactions in.
	Initial Epoch = 1
)

// IsValid reports whether e is usable as a commit or snapshot epoch.
func (e Epoch) IsValid() bool {
	return e != Invalid
}

// Before reports whether e precedes other in the modular epoch order.
func (e Epoch) Before(other Epoch) bool {
	if !e.IsValid() || !other.IsValid() {
		return false
	}
	diff := uint32(other) - uint32(e)
	return diff != 0 && diff < (1<<31)
}

// After reports whether e follows other in the modular epoch order.
func (e Epoch) After(other Epoch) bool {
	return other.Before(e)
}

// Add returns the epoch k steps after e, skipping over the reserved
// Invalid value on wraparound.
func (e Epoch) Add(k uint32) Epoch {
	next := Epoch(uint32(e) + k)
	if next == Invalid {
		next++
	}
	return next
}

// OneMore is Add(1), the common case of advancing to the next epoch.
func (e Epoch) OneMore() Epoch {
	return e.Add(1)
}

// StoreMax returns whichever of a and b is "after" in modular order,
// treating an invalid epoch as smaller than any valid one. This is the
// same "later epoch wins" rule xct.Xct.IssueNextID applies when it picks
// a commit epoch no older than its lower bound.
func StoreMax(a, b Epoch) Epoch {
	if !a.IsValid() {
		return b
	}
	if !b.IsValid() {
		return a
	}
	if a.Before(b) {
		return b
	}
	return a
}

const drainSlots = 256

// Clock is the engine-wide epoch clock. The zero value is not usable;
// construct with NewClock.
type Clock struct {
	current uint64 // atomic Epoch
	_       machine.Pad56
	safe    uint64 // atomic Epoch: derived watermark, see ComputeSafe
	_       machine.Pad56

	entries [machine.MaxThreads]entry
	handles handlePool

	triggerCount uint64 // atomic
	_            machine.Pad56
	triggers     [drainSlots]trigger
}

// NewClock constructs a Clock starting at Initial.
func NewClock() *Clock {
	c := &Clock{current: uint64(Initial), safe: uint64(Invalid)}
	for i := range c.triggers {
		c.triggers[i].epoch = triggerFree
	}
	return c
}

// Current returns the current global epoch.
func (c *Clock) Current() Epoch {
	return Epoch(atomic.LoadUint64(&c.current))
}

// Safe returns the most recently computed safe epoch: every thread that
// was protected has, as of the last ComputeSafe, reported being at an
// epoch no older than Safe+1.
func (c *Clock) Safe() Epoch {
	return Epoch(atomic.LoadUint64(&c.safe))
}

func (c *Clock) entry(h Handle) *entry {
	return &c.entries[h.id%machine.MaxThreads]
}

// Protect marks h as active in the current epoch and returns it. The
// thread must call Unprotect (directly, or by committing/aborting its
// transaction) before the epoch clock can consider it safe to advance
// past this point.
func (c *Clock) Protect(h Handle) Epoch {
	e := c.Current()
	atomic.StoreUint64(&c.entry(h).local, uint64(e))
	return e
}

// ProtectAndDrain is Protect, additionally running any deferred triggers
// that have become safe. xctmgr.Worker.BeginXct calls this instead of Protect so
// reclamation keeps up without a dedicated thread.
func (c *Clock) ProtectAndDrain(h Handle) Epoch {
	e := c.Protect(h)
	if atomic.LoadUint64(&c.triggerCount) > 0 {
		c.Drain(e)
	}
	return e
}

// IsProtected reports whether h is currently inside a protected region.
func (c *Clock) IsProtected(h Handle) bool {
	return atomic.LoadUint64(&c.entry(h).local) != 0
}

// Unprotect exits the protected region for h.
func (c *Clock) Unprotect(h Handle) {
	atomic.StoreUint64(&c.entry(h).local, 0)
}

// ComputeSafe recomputes the safe epoch as one less than the oldest epoch
// any currently-protected thread reports, using epoch as an upper bound.
// When the oldest epoch is Initial the result is Invalid: nothing is safe
// yet.
func (c *Clock) ComputeSafe(epoch Epoch) Epoch {
	oldest := epoch
	for i := range c.entries {
		local := Epoch(atomic.LoadUint64(&c.entries[i].local))
		if local.IsValid() && local.Before(oldest) {
			oldest = local
		}
	}
	safe := Epoch(uint32(oldest) - 1) // oldest - 1, wraparound-safe
	atomic.StoreUint64(&c.safe, uint64(safe))
	return safe
}

// Drain runs any triggers that are now safe to run.
//
// Trigger slots use the sentinel values triggerFree/triggerLocked, which
// sit far outside any epoch a real clock will ever reach; they are
// compared for exact equality rather than with Before/After so that the
// modular (wraparound) epoch comparison is never applied to them.
func (c *Clock) Drain(epoch Epoch) {
	c.ComputeSafe(epoch)
	safe := c.Safe()
	if !safe.IsValid() {
		return
	}

	for i := range c.triggers {
		trig := &c.triggers[i]
		e := trig.Epoch()
		if e == triggerFree || e == triggerLocked {
			continue
		}

		if !e.After(safe) &&
			trig.Run(e) &&
			atomic.AddUint64(&c.triggerCount, ^uint64(0)) == 0 {
			break
		}
	}
}

// Bump advances the global epoch by one and drains any triggers that
// become runnable as a result. It returns the new epoch.
func (c *Clock) Bump() Epoch {
	next := Epoch(atomic.AddUint64(&c.current, 1))
	if atomic.LoadUint64(&c.triggerCount) > 0 {
		c.Drain(next)
	}
	return next
}

// BumpWith advances the global epoch and schedules action to run once the
// epoch the bump departed from is safe - i.e. once no protected thread can
// still be observing state from before it. The gleaner uses this to run
// its drop_volatiles check only after every thread that might still be
// mid-commit in an older epoch has moved on.
func (c *Clock) BumpWith(action func()) Epoch {
	prior := c.Bump() - 1

	for {
		for i := range c.triggers {
			trig := &c.triggers[i]
			e := trig.Epoch()

			if e == triggerFree && trig.Store(prior, action) {
				atomic.AddUint64(&c.triggerCount, 1)
				return prior + 1
			}

			if e == triggerFree || e == triggerLocked {
				continue
			}
			safe := c.Safe()
			if safe.IsValid() && !e.After(safe) && trig.Swap(e, prior, action) {
				atomic.AddUint64(&c.triggerCount, 1)
				return prior + 1
			}
		}
	}
}

// OldestProtected returns the oldest epoch any currently protected thread
// is in, or Invalid if no thread is protected.
func (c *Clock) OldestProtected() Epoch {
	var oldest Epoch
	for i := range c.entries {
		local := Epoch(atomic.LoadUint64(&c.entries[i].local))
		if !local.IsValid() {
			continue
		}
		if !oldest.IsValid() || local.Before(oldest) {
			oldest = local
		}
	}
	return oldest
}
