//go:build !linux

package affinity

import "runtime"

// NoopPinner is the fallback Pinner for platforms without a
// sched_setaffinity-style syscall. It always succeeds and does nothing -
// the engine still runs, just without NUMA-aware thread placement.
type NoopPinner struct{}

// NewPinner constructs the no-op Pinner for this platform.
func NewPinner() Pinner { return NoopPinner{} }

func (NoopPinner) PinCurrentThread(core CoreID) error { return nil }

// NumCPU returns runtime.NumCPU, since there is no affinity mask to
// consult on this platform.
func NumCPU() (int, error) { return runtime.NumCPU(), nil }
