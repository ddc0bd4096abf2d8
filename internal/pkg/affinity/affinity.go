// Package affinity discovers the logical CPUs available to the process and
// pins worker threads to them.
package affinity

import (
	"errors"
)

// ErrUnsupported is returned by BindToCPU on platforms without thread
// affinity support.
var ErrUnsupported = errors.New("cpu binding is not supported on this platform")

// Distribute assigns each of threads workers a CPU from cpus. Every CPU
// receives threads/len(cpus) workers and the first threads%len(cpus) CPUs
// receive one more. Workers placed on the same CPU are adjacent.
func Distribute(threads int, cpus []int) []int {
	if threads <= 0 || len(cpus) == 0 {
		return []int{}
	}

	perCPU := threads / len(cpus)
	extra := threads % len(cpus)

	placement := make([]int, 0, threads)
	for i, cpu := range cpus {
		n := perCPU
		if i < extra {
			n++
		}
		for j := 0; j < n; j++ {
			placement = append(placement, cpu)
		}
	}
	return placement
}
