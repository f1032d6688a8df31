//go:build linux

package oscontrol

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Policy is a Linux scheduling policy, mirroring the closed set the harness
// ever assigns.
type Policy int

const (
	// PolicyOther is SCHED_OTHER, the normal time-shared policy.
	PolicyOther Policy = iota
	// PolicyFIFO is SCHED_FIFO at a caller-supplied priority.
	PolicyFIFO
	// PolicyRR is SCHED_RR at a caller-supplied priority.
	PolicyRR
)

// SetScheduler applies policy (and, for FIFO/RR, priority 1..99) to pid.
// pid 0 means the calling thread.
func SetScheduler(pid int, policy Policy, priority int) error {
	var (
		linuxPolicy int
		param       unix.SchedParam
	)

	switch policy {
	case PolicyOther:
		linuxPolicy = unix.SCHED_OTHER
	case PolicyFIFO:
		linuxPolicy = unix.SCHED_FIFO
		param.Priority = int32(priority)
	case PolicyRR:
		linuxPolicy = unix.SCHED_RR
		param.Priority = int32(priority)
	default:
		return fmt.Errorf("oscontrol: unknown policy %d", policy)
	}

	if err := unix.SchedSetscheduler(pid, linuxPolicy, &param); err != nil {
		return fmt.Errorf("oscontrol: sched_setscheduler(pid=%d, policy=%d, prio=%d): %w", pid, linuxPolicy, priority, err)
	}

	return nil
}

// CPUSet is a bitmask over online CPUs.
type CPUSet struct {
	set unix.CPUSet
}

// AllCPUs returns a CPUSet spanning every CPU visible to the process.
func AllCPUs() (CPUSet, error) {
	n := runtime.NumCPU()

	var set unix.CPUSet
	for cpu := 0; cpu < n; cpu++ {
		set.Set(cpu)
	}

	return CPUSet{set: set}, nil
}

// AnySubset returns a deterministic k-subset of the online CPUs: the first
// k CPU indices in ascending order. The spec leaves the exact subset
// unspecified as long as it is deterministic within a process; ascending
// order keeps runs reproducible and makes the choice easy to reason about
// in logs.
func AnySubset(k uint64) (CPUSet, error) {
	n := uint64(runtime.NumCPU())
	if k == 0 || k > n {
		return CPUSet{}, fmt.Errorf("oscontrol: cannot select %d cpus out of %d online", k, n)
	}

	var set unix.CPUSet
	for cpu := uint64(0); cpu < k; cpu++ {
		set.Set(int(cpu))
	}

	return CPUSet{set: set}, nil
}

// SetAffinity pins pid (0 for the calling thread) to cpuset.
func SetAffinity(pid int, cpuset CPUSet) error {
	if err := unix.SchedSetaffinity(pid, &cpuset.set); err != nil {
		return fmt.Errorf("oscontrol: sched_setaffinity(pid=%d): %w", pid, err)
	}

	return nil
}
