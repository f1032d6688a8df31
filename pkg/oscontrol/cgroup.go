// Package oscontrol manipulates the Linux cgroup v1 RT bandwidth
// controller, scheduling policy, and CPU affinity that the driver brackets
// around every workload run. It mirrors the teacher's layering in
// pkg/shape: one file per OS-facing concern, Linux-only behavior isolated
// behind a build tag, and errors wrapped at the syscall boundary.
package oscontrol

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"hcbs-harness/pkg/rtime"
)

// ErrCgroupUnavailable is returned when the cgroup v1 cpu controller is not
// mounted where expected.
var ErrCgroupUnavailable = errors.New("oscontrol: cgroup v1 cpu controller unavailable")

// ErrRootBandwidthInsufficient is returned by CheckRootBandwidth when the
// root cgroup's own RT bandwidth is below what a batch run requests.
var ErrRootBandwidthInsufficient = errors.New("oscontrol: root cgroup bandwidth insufficient")

// DefaultCgroupRoot is the conventional cgroup v1 cpu/cpuacct mount point.
const DefaultCgroupRoot = "/sys/fs/cgroup/cpu,cpuacct"

// Cgroup is an exclusively-owned handle to a created cgroup v1 RT group.
// Close best-effort removes the directory; callers MUST defer Close
// immediately after a successful New so teardown runs on every exit path.
type Cgroup struct {
	path   string
	logger *zap.Logger
}

// New creates <root>/<name>, writes cpu.rt_runtime_us and cpu.rt_period_us,
// and returns a handle whose Close removes the directory.
//
// cpu.rt_period_us must be written before cpu.rt_runtime_us when the
// current runtime would exceed the new period, and vice versa; the kernel
// rejects whichever write it sees first in that case with EINVAL. This
// repository writes period then runtime and retries the opposite order once
// on EINVAL, following runc's cgroupfs cpu controller.
func New(root, name string, runtime, period rtime.Duration, logger *zap.Logger) (*Cgroup, error) {
	path := filepath.Join(root, name)

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("oscontrol: create cgroup %s: %w", path, err)
	}

	cg := &Cgroup{path: path, logger: logger}

	if err := cg.writeBandwidth(runtime, period); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	logger.Info("cgroup created", zap.String("path", path), zap.Int64("runtime_us", runtime.Micros()), zap.Int64("period_us", period.Micros()))

	return cg, nil
}

func (c *Cgroup) writeBandwidth(runtime, period rtime.Duration) error {
	periodErr := writeCgroupFile(c.path, "cpu.rt_period_us", period.Micros())
	runtimeErr := writeCgroupFile(c.path, "cpu.rt_runtime_us", runtime.Micros())

	if (periodErr != nil && errors.Is(periodErr, syscall.EINVAL)) ||
		(runtimeErr != nil && errors.Is(runtimeErr, syscall.EINVAL)) {
		// Retry in the other order: the new runtime may only fit under the
		// new period, but the kernel validates each write against the
		// group's *current* counterpart value.
		if err := writeCgroupFile(c.path, "cpu.rt_runtime_us", runtime.Micros()); err == nil {
			return writeCgroupFile(c.path, "cpu.rt_period_us", period.Micros())
		}
	}

	if periodErr != nil {
		return fmt.Errorf("oscontrol: write cpu.rt_period_us: %w", periodErr)
	}

	if runtimeErr != nil {
		return fmt.Errorf("oscontrol: write cpu.rt_runtime_us: %w", runtimeErr)
	}

	return nil
}

// Path returns the cgroup's directory.
func (c *Cgroup) Path() string {
	return c.path
}

// Migrate appends pid to the cgroup's tasks file.
func (c *Cgroup) Migrate(pid int) error {
	if err := writeCgroupFile(c.path, "tasks", int64(pid)); err != nil {
		return fmt.Errorf("oscontrol: migrate pid %d into %s: %w", pid, c.path, err)
	}

	return nil
}

// Close best-effort removes the cgroup directory. It never returns an
// error a caller could act on; failures are logged, matching the spec's
// "destructor SHOULD log but not throw" contract.
func (c *Cgroup) Close() error {
	if err := os.RemoveAll(c.path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("cgroup teardown failed", zap.String("path", c.path), zap.Error(err))
	} else {
		c.logger.Info("cgroup destroyed", zap.String("path", c.path))
	}

	return nil
}

// RuntimeUs reads cpu.rt_runtime_us from the cgroup at path.
func RuntimeUs(path string) (int64, error) {
	return readCgroupFile(path, "cpu.rt_runtime_us")
}

// PeriodUs reads cpu.rt_period_us from the cgroup at path.
func PeriodUs(path string) (int64, error) {
	return readCgroupFile(path, "cpu.rt_period_us")
}

// CheckRootBandwidth reads the root cgroup's own RT bandwidth and fails if
// it is below maxAllocableBW, the aggregate bandwidth a batch run intends
// to hand out across every experiment cgroup it creates. This is the
// "root-cgroup precondition check" run once per batch.
func CheckRootBandwidth(root string, maxAllocableBW float64) error {
	runtimeUs, err := RuntimeUs(root)
	if err != nil {
		return fmt.Errorf("oscontrol: read root cgroup runtime: %w", err)
	}

	periodUs, err := PeriodUs(root)
	if err != nil {
		return fmt.Errorf("oscontrol: read root cgroup period: %w", err)
	}

	rootBW := rtime.FromMicros(runtimeUs).Ratio(rtime.FromMicros(periodUs))
	if rootBW < maxAllocableBW {
		return fmt.Errorf(
			"%w: root cgroup provides %.4f (runtime=%dus period=%dus), batch requests %.4f",
			ErrRootBandwidthInsufficient, rootBW, runtimeUs, periodUs, maxAllocableBW,
		)
	}

	return nil
}

func writeCgroupFile(path, file string, value int64) error {
	return os.WriteFile(filepath.Join(path, file), []byte(strconv.FormatInt(value, 10)), 0o644)
}

func readCgroupFile(path, file string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(path, file))
	if err != nil {
		return 0, err
	}

	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}
