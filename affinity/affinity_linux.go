//go:build linux

package affinity

import (
	"golang.org/x/sys/unix"
)

// LinuxPinner pins OS threads via sched_setaffinity.
type LinuxPinner struct{}

// NewPinner constructs the real, syscall-backed Pinner.
func NewPinner() Pinner { return LinuxPinner{} }

// PinCurrentThread restricts the calling OS thread to core. The caller
// must have already called runtime.LockOSThread.
func (LinuxPinner) PinCurrentThread(core CoreID) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(int(core))
	return unix.SchedSetaffinity(0, &set)
}

// NumCPU returns the number of CPUs available to the calling process,
// per its current affinity mask.
func NumCPU() (int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 0, err
	}
	return set.Count(), nil
}
