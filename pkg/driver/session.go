package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"hcbs-harness/pkg/oscontrol"
	"hcbs-harness/pkg/rtime"
)

// RunSession scopes the OS-facing state one taskset run needs: a freshly
// provisioned cgroup, the driver process migrated into it, and its CPU
// affinity restricted to the config's cpuset. Close restores the driver's
// affinity to every online CPU, moves the driver back into the root cgroup,
// and tears down the cgroup, in that order, on every exit path — callers must defer Close immediately after a successful
// NewRunSession.
type RunSession struct {
	cgroup *oscontrol.Cgroup
	logger *zap.Logger
}

// NewRunSession creates <root>/<name> with the given RT bandwidth, migrates
// the calling process into it, and pins the calling process to the first
// cpus cores. Workload processes spawned afterward inherit both the cgroup
// membership and the affinity mask from their parent.
func NewRunSession(root, name string, runtime, period rtime.Duration, cpus uint64, logger *zap.Logger) (*RunSession, error) {
	cg, err := oscontrol.New(root, name, runtime, period, logger)
	if err != nil {
		return nil, err
	}

	pid := os.Getpid()

	if err := cg.Migrate(pid); err != nil {
		_ = cg.Close()
		return nil, err
	}

	cpuset, err := oscontrol.AnySubset(cpus)
	if err != nil {
		_ = cg.Close()
		return nil, err
	}

	if err := oscontrol.SetAffinity(pid, cpuset); err != nil {
		_ = cg.Close()
		return nil, fmt.Errorf("driver: pin session to %d cpus: %w", cpus, err)
	}

	return &RunSession{cgroup: cg, logger: logger}, nil
}

// Path returns the session's cgroup directory.
func (s *RunSession) Path() string {
	return s.cgroup.Path()
}

// Close restores the driver process to every online CPU, moves it back into
// the root cgroup, and destroys the session's cgroup. Failure to restore
// affinity or membership is logged, not returned, since the cgroup teardown
// must still run.
func (s *RunSession) Close() error {
	if s.cgroup == nil {
		return nil
	}

	all, err := oscontrol.AllCPUs()
	if err != nil {
		s.logger.Warn("could not enumerate online cpus to restore affinity", zap.Error(err))
	} else if err := oscontrol.SetAffinity(os.Getpid(), all); err != nil {
		s.logger.Warn("could not restore driver affinity after run", zap.Error(err))
	}

	rootTasks := filepath.Join(filepath.Dir(s.cgroup.Path()), "tasks")
	if err := os.WriteFile(rootTasks, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		s.logger.Warn("could not move driver back to the root cgroup", zap.Error(err))
	}

	return s.cgroup.Close()
}
