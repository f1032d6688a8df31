package workload

import (
	"hcbs-harness/pkg/rtmodel"
)

// BaseArgs carries the CLI parameters every adapter needs to run a taskset:
// the experiment cgroup's name and the per-job instance count.
type BaseArgs struct {
	CgroupName         string
	NumInstancesPerJob uint64
}

// Adapter is the common contract both workload back-ends implement
// (spec.md §4.6): calibrate once per batch, then execute a taskset run
// inside an already-provisioned cgroup and return its parsed results.
// Cgroup provisioning and cpuset restriction around the call are done by the
// driver (driver.RunSession), not the adapter; neither of them changes the
// driver process's scheduling policy. RunTaskset only spawns the workload
// process, waits for it, and parses its output.
type Adapter interface {
	// ComputeCPUSpeed runs the backend's calibration procedure and returns
	// a host-speed figure (interpretation is backend-specific: CPU cycles
	// for periodic_thread, calibration nanoseconds for rt-app).
	ComputeCPUSpeed() (uint64, error)

	// RunTaskset spawns the workload for one taskset/config pair, which
	// inherits the caller's cgroup, scheduling policy and cpuset, and returns
	// its parsed per-job results.
	RunTaskset(run rtmodel.TasksetRun, base BaseArgs, cycles uint64) (rtmodel.TasksetRunResult, error)
}
