package epoch

import "sync/atomic"

const (
	triggerFree   = Epoch(^uint32(0))
	triggerLocked = Epoch(^uint32(0) - 1)
)

// trigger holds one deferred action, gated on an epoch becoming safe. See
// Clock.BumpWith.
type trigger struct {
	epoch  Epoch // atomic
	action func()
}

// Epoch returns the epoch the trigger is currently scheduled for.
func (t *trigger) Epoch() Epoch {
	return Epoch(atomic.LoadUint32((*uint32)(&t.epoch)))
}

// Free reports whether the slot is available for Store.
func (t *trigger) Free() bool {
	return t.Epoch() == triggerFree
}

// Run attempts to run the action scheduled for epoch, but only if the
// trigger is still scheduled for exactly that epoch. Returns true if the
// action ran.
func (t *trigger) Run(epoch Epoch) bool {
	if !atomic.CompareAndSwapUint32((*uint32)(&t.epoch), uint32(epoch), uint32(triggerLocked)) {
		return false
	}

	action := t.action
	t.action = nil
	atomic.StoreUint32((*uint32)(&t.epoch), uint32(triggerFree))

	action()
	return true
}

// Store claims a free slot for action, scheduled at epoch. Returns true on
// success.
func (t *trigger) Store(epoch Epoch, action func()) bool {
	if !atomic.CompareAndSwapUint32((*uint32)(&t.epoch), uint32(triggerFree), uint32(triggerLocked)) {
		return false
	}

	t.action = action
	atomic.StoreUint32((*uint32)(&t.epoch), uint32(epoch))
	return true
}

// Swap atomically replaces a trigger scheduled at epoch with newAction
// scheduled at newEpoch, running the old action first since it is known to
// be safe. Returns true on success.
func (t *trigger) Swap(epoch, newEpoch Epoch, newAction func()) bool {
	if !atomic.CompareAndSwapUint32((*uint32)(&t.epoch), uint32(epoch), uint32(newEpoch)) {
		return false
	}

	action := t.action
	t.action = newAction

	action()
	return true
}
