package driver

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"hcbs-harness/pkg/rtmodel"
	"hcbs-harness/pkg/workload"
	"hcbs-harness/pkg/workload/periodicthread"
	"hcbs-harness/pkg/workload/rtapp"
)

// Backend selects which workload binary the driver spawns.
type Backend string

const (
	// BackendPeriodicThread runs the periodic_thread calibration binary.
	BackendPeriodicThread Backend = "periodic-thread"
	// BackendRTApp runs rt-app.
	BackendRTApp Backend = "rt-app"
)

// NewAdapter builds the workload.Adapter for backend, rooting its scratch
// files (calibration output, per-run config, per-task logs) under
// scratchDir.
func NewAdapter(backend Backend, scratchDir string, logger *zap.Logger) (workload.Adapter, error) {
	switch backend {
	case BackendPeriodicThread:
		return &periodicThreadAdapter{inner: periodicthread.New(logger), scratchDir: scratchDir}, nil
	case BackendRTApp:
		return &rtAppAdapter{inner: rtapp.New(logger), scratchDir: scratchDir}, nil
	default:
		return nil, fmt.Errorf("driver: unknown backend %q", backend)
	}
}

type periodicThreadAdapter struct {
	inner      *periodicthread.Adapter
	scratchDir string
}

func (a *periodicThreadAdapter) ComputeCPUSpeed() (uint64, error) {
	return a.inner.ComputeCPUSpeed(filepath.Join(a.scratchDir, "calibration.out"))
}

func (a *periodicThreadAdapter) RunTaskset(run rtmodel.TasksetRun, base workload.BaseArgs, cycles uint64) (rtmodel.TasksetRunResult, error) {
	return a.inner.RunTaskset(run, base, cycles, filepath.Join(a.scratchDir, "taskset.out"))
}

type rtAppAdapter struct {
	inner      *rtapp.Adapter
	scratchDir string
}

func (a *rtAppAdapter) ComputeCPUSpeed() (uint64, error) {
	return a.inner.ComputeCPUSpeed(
		filepath.Join(a.scratchDir, "calibration.json"),
		filepath.Join(a.scratchDir, "calibration.out"),
	)
}

func (a *rtAppAdapter) RunTaskset(run rtmodel.TasksetRun, base workload.BaseArgs, cycles uint64) (rtmodel.TasksetRunResult, error) {
	return a.inner.RunTaskset(
		run, base, cycles,
		filepath.Join(a.scratchDir, "logs"),
		filepath.Join(a.scratchDir, "run.json"),
		filepath.Join(a.scratchDir, "run.out"),
	)
}
