//go:build !linux

package affinity

import (
	"runtime"
)

// Available returns 0..NumCPU-1; the runtime cannot see an affinity mask here.
func Available() ([]int, error) {
	cpus := make([]int, runtime.NumCPU())
	for i := range cpus {
		cpus[i] = i
	}
	return cpus, nil
}

// BindToCPU always fails with ErrUnsupported.
func BindToCPU(cpu int) error {
	return ErrUnsupported
}
