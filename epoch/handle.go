package epoch

import (
	"sync/atomic"

	"github.com/foedus-go/foedus/internal/machine"
)

// Handle identifies a worker thread (application transaction thread, or
// gleaner mapper/reducer thread) to the epoch clock. It should not cross
// goroutines for maximum performance, and calls involving the same Handle
// must not happen concurrently.
//
// Handles are scoped to one Clock (and so to one Engine instance) rather
// than being a process-wide resource, so that multiple engines can run in
// the same process without fighting over a shared handle table.
type Handle struct {
	id uint32
}

// handlePool hands out small dense thread ids, recycling released ones.
// Embedded directly in Clock rather than kept as a package-level global so
// that handle allocation follows the engine's own init/teardown lifecycle.
type handlePool struct {
	next uint32
	used [machine.MaxThreads]uint32
}

// AcquireHandle acquires a unique Handle for the calling thread.
func (c *Clock) AcquireHandle() Handle {
	start := atomic.AddUint32(&c.handles.next, 1)
	end := start + machine.MaxThreads*2

	for {
		if start == end {
			panic("too many thread handles")
		}
		id := start % machine.MaxThreads

		if atomic.CompareAndSwapUint32(&c.handles.used[id], 0, 1) {
			return Handle{id: id}
		}
		start++
	}
}

// ReleaseHandle releases h, letting another thread reuse it.
func (c *Clock) ReleaseHandle(h Handle) {
	atomic.StoreUint32(&c.handles.used[h.id%machine.MaxThreads], 0)
}
