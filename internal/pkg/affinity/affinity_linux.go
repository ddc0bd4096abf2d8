//go:build linux

package affinity

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Available returns the logical CPUs in the calling process's affinity mask.
func Available() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("reading affinity mask: %w", err)
	}

	cpus := make([]int, 0, set.Count())
	for cpu := 0; len(cpus) < set.Count(); cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	return cpus, nil
}

// BindToCPU locks the calling goroutine to its OS thread and restricts that
// thread to cpu. The goroutine stays locked, so the thread is discarded
// rather than returned to the runtime's pool when the goroutine exits.
func BindToCPU(cpu int) error {
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("binding to cpu %d: %w", cpu, err)
	}
	return nil
}
