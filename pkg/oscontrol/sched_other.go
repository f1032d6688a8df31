//go:build !linux

package oscontrol

import "errors"

// ErrUnsupportedPlatform is returned by every function in this file: the
// harness's scheduling and affinity control depends on Linux's
// sched_setscheduler/sched_setaffinity syscalls and cgroup v1, which have
// no equivalent on other platforms. Cross-platform support is an explicit
// non-goal (spec), but the non-goal excludes the feature, not a clean
// build — this file exists so non-Linux builds fail loudly at the call
// site instead of silently compiling a no-op harness.
var ErrUnsupportedPlatform = errors.New("oscontrol: unsupported on this platform, Linux required")

// Policy mirrors the Linux-only type so callers compile on every platform.
type Policy int

const (
	PolicyOther Policy = iota
	PolicyFIFO
	PolicyRR
)

// CPUSet mirrors the Linux-only type so callers compile on every platform.
type CPUSet struct{}

func SetScheduler(pid int, policy Policy, priority int) error {
	return ErrUnsupportedPlatform
}

func AllCPUs() (CPUSet, error) {
	return CPUSet{}, ErrUnsupportedPlatform
}

func AnySubset(k uint64) (CPUSet, error) {
	return CPUSet{}, ErrUnsupportedPlatform
}

func SetAffinity(pid int, cpuset CPUSet) error {
	return ErrUnsupportedPlatform
}
