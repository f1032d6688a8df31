// Package driver orchestrates batch and single-run execution: per-run
// admissibility checks, cgroup/affinity provisioning via pkg/oscontrol,
// workload spawning via pkg/workload adapters, result persistence via
// pkg/serde, and insight reporting via pkg/metrics. Grounded on the
// original test suite's tests/skeleton/mod.rs run loop, translated from
// Drop-based RAII to explicit defer/Close scoping.
package driver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"hcbs-harness/pkg/metrics"
	"hcbs-harness/pkg/oscontrol"
	"hcbs-harness/pkg/planner"
	"hcbs-harness/pkg/rtmodel"
	"hcbs-harness/pkg/serde"
	"hcbs-harness/pkg/workload"
)

// ErrBatchAlreadyRunning is returned when another process already holds the
// batch's exclusivity lock.
var ErrBatchAlreadyRunning = errors.New("driver: another batch run already holds the lock")

// ErrNotAdmissible is returned when a run fails planner.CanRun.
var ErrNotAdmissible = errors.New("driver: run is not admissible on this machine")

// BackgroundLoad selects an auxiliary load generator the driver holds
// running, alongside the primary workload, for the duration of a run.
type BackgroundLoad string

const (
	// BackgroundLoadNone runs no auxiliary load generator.
	BackgroundLoadNone BackgroundLoad = ""
	// BackgroundLoadHog runs the cpu_hog auxiliary load generator.
	BackgroundLoadHog BackgroundLoad = "hog"
	// BackgroundLoadYes runs the "yes" auxiliary load generator.
	BackgroundLoadYes BackgroundLoad = "yes"
)

// Options parameterizes a batch or single run.
type Options struct {
	CgroupRoot         string
	CgroupName         string
	MaxNumCPUs         uint64
	MaxAllocableBW     float64
	NumInstancesPerJob uint64
	ScratchDir         string
	BackgroundLoad     BackgroundLoad
	Logger             *zap.Logger
}

// Driver executes runs against an Adapter, persisting results and reporting
// progress as it goes.
type Driver struct {
	opts     Options
	adapter  workload.Adapter
	reporter *Reporter
	lock     *flock.Flock

	calibrationBreaker *gobreaker.CircuitBreaker[uint64]
	runBreaker         *gobreaker.CircuitBreaker[rtmodel.TasksetRunResult]

	// newSession is overridable in tests; it defaults to the real
	// cgroup/affinity-backed constructor.
	newSession func(cfg rtmodel.NamedConfig) (*RunSession, error)

	// startBackgroundLoad is overridable in tests; it defaults to spawning
	// opts.BackgroundLoad's generator, or doing nothing when unset.
	startBackgroundLoad func() (*workload.ManagedProcess, error)
}

// New builds a Driver. reporter may be nil, in which case progress banners
// are written to os.Stdout.
func New(opts Options, adapter workload.Adapter, reporter *Reporter) *Driver {
	if reporter == nil {
		reporter = NewReporter(os.Stdout)
	}

	breakerSettings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}
	}

	d := &Driver{
		opts:               opts,
		adapter:            adapter,
		reporter:           reporter,
		lock:               flock.New(filepath.Join(opts.ScratchDir, "harness.lock")),
		calibrationBreaker: gobreaker.NewCircuitBreaker[uint64](breakerSettings("calibration")),
		runBreaker:         gobreaker.NewCircuitBreaker[rtmodel.TasksetRunResult](breakerSettings("workload-run")),
	}

	d.newSession = func(cfg rtmodel.NamedConfig) (*RunSession, error) {
		return NewRunSession(opts.CgroupRoot, opts.CgroupName, cfg.Runtime, cfg.Period, cfg.CPUs, opts.Logger)
	}

	d.startBackgroundLoad = func() (*workload.ManagedProcess, error) {
		switch opts.BackgroundLoad {
		case BackgroundLoadNone:
			return nil, nil
		case BackgroundLoadHog:
			return workload.StartHog(opts.Logger)
		case BackgroundLoadYes:
			return workload.StartYes(opts.Logger)
		default:
			return nil, fmt.Errorf("driver: unknown background load %q", opts.BackgroundLoad)
		}
	}

	return d
}

// RunAll checks the root cgroup's bandwidth precondition, acquires the
// batch exclusivity lock, calibrates once, and then executes every run in
// order, logging (but not aborting the batch on) individual run failures.
func (d *Driver) RunAll(runs []rtmodel.TasksetRun) error {
	if err := oscontrol.CheckRootBandwidth(d.opts.CgroupRoot, d.opts.MaxAllocableBW); err != nil {
		return err
	}

	if err := os.MkdirAll(d.opts.ScratchDir, 0o755); err != nil {
		return fmt.Errorf("driver: create scratch dir %s: %w", d.opts.ScratchDir, err)
	}

	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("driver: acquire batch lock: %w", err)
	}

	if !locked {
		return ErrBatchAlreadyRunning
	}

	defer d.lock.Unlock() //nolint:errcheck // best-effort unlock on exit

	cycles, err := d.calibrate()
	if err != nil {
		return err
	}

	var total, failures uint64

	for _, run := range runs {
		insights, err := d.runOne(run, cycles)
		if err != nil {
			d.opts.Logger.Error("run failed",
				zap.String("taskset", run.Taskset.Name),
				zap.String("config", run.Config.Name),
				zap.Error(err),
			)

			continue
		}

		total++
		if insights.NumOverruns > 0 {
			failures++
		}
	}

	var ratio float64
	if total > 0 {
		ratio = float64(failures) / float64(total)
	}

	d.reporter.Summary(failures, total, ratio)

	return nil
}

// RunSingle calibrates and executes exactly one run, returning its result.
func (d *Driver) RunSingle(run rtmodel.TasksetRun) (rtmodel.TasksetRunResult, error) {
	cycles, err := d.calibrate()
	if err != nil {
		return rtmodel.TasksetRunResult{}, err
	}

	if err := d.RunOne(run, cycles); err != nil {
		return rtmodel.TasksetRunResult{}, err
	}

	return readBack(run)
}

func (d *Driver) calibrate() (uint64, error) {
	cycles, err := d.calibrationBreaker.Execute(d.adapter.ComputeCPUSpeed)
	if err != nil {
		return 0, fmt.Errorf("driver: calibration: %w", err)
	}

	return cycles, nil
}

// RunOne executes a single (taskset, config) run: loads and reports the
// persisted result if already run, rejects it if inadmissible, provisions
// and tears down its OS state, spawns the workload, persists the result, and
// reports insights.
func (d *Driver) RunOne(run rtmodel.TasksetRun, cycles uint64) error {
	_, err := d.runOne(run, cycles)
	return err
}

// runOne is RunOne's implementation. It additionally returns the run's
// insights on every non-error path (including a loaded, already-persisted
// result), so RunAll can fold them into the batch-wide failure aggregate.
func (d *Driver) runOne(run rtmodel.TasksetRun, cycles uint64) (rtmodel.TasksetRunResultInsights, error) {
	if _, err := os.Stat(run.ResultsFilePath); err == nil {
		d.reporter.Skipped(run.Taskset.Name, run.Config.Name)

		result, err := readBack(run)
		if err != nil {
			d.reporter.Failure(err)
			return rtmodel.TasksetRunResultInsights{}, err
		}

		insights := metrics.ComputeResultInsights(result)
		d.reporter.Success(insights)

		return insights, nil
	}

	if !planner.CanRun(run, d.opts.MaxNumCPUs, d.opts.MaxAllocableBW) {
		d.reporter.Inadmissible(run.Taskset.Name, run.Config.Name)
		return rtmodel.TasksetRunResultInsights{}, fmt.Errorf("%w: %s on %s", ErrNotAdmissible, run.Taskset.Name, run.Config.Name)
	}

	expected := planner.ExpectedRuntime(run, d.opts.NumInstancesPerJob)
	d.reporter.Header(run.Taskset.Name, run.Config.Name, expected)

	session, err := d.newSession(run.Config)
	if err != nil {
		d.reporter.Failure(err)
		return rtmodel.TasksetRunResultInsights{}, fmt.Errorf("driver: provision run session: %w", err)
	}

	defer session.Close() //nolint:errcheck // best-effort teardown, logged internally

	load, err := d.startBackgroundLoad()
	if err != nil {
		d.reporter.Failure(err)
		return rtmodel.TasksetRunResultInsights{}, fmt.Errorf("driver: start background load: %w", err)
	}

	if load != nil {
		defer load.Close() //nolint:errcheck // best-effort teardown, logged internally
	}

	base := workload.BaseArgs{CgroupName: d.opts.CgroupName, NumInstancesPerJob: d.opts.NumInstancesPerJob}

	result, err := d.runBreaker.Execute(func() (rtmodel.TasksetRunResult, error) {
		return d.adapter.RunTaskset(run, base, cycles)
	})
	if err != nil {
		d.reporter.Failure(err)
		return rtmodel.TasksetRunResultInsights{}, fmt.Errorf("driver: run %s on %s: %w", run.Taskset.Name, run.Config.Name, err)
	}

	if err := persistResult(run, result); err != nil {
		d.reporter.Failure(err)
		return rtmodel.TasksetRunResultInsights{}, err
	}

	insights := metrics.ComputeResultInsights(result)
	d.reporter.Success(insights)

	return insights, nil
}

func persistResult(run rtmodel.TasksetRun, result rtmodel.TasksetRunResult) error {
	if err := os.MkdirAll(filepath.Dir(run.ResultsFilePath), 0o755); err != nil {
		return fmt.Errorf("driver: create results dir: %w", err)
	}

	data, err := serde.SerializeResult(run.Taskset, result.Results)
	if err != nil {
		return fmt.Errorf("driver: serialize result: %w", err)
	}

	if err := os.WriteFile(run.ResultsFilePath, []byte(data), 0o644); err != nil {
		return fmt.Errorf("driver: write result to %s: %w", run.ResultsFilePath, err)
	}

	return nil
}

func readBack(run rtmodel.TasksetRun) (rtmodel.TasksetRunResult, error) {
	data, err := os.ReadFile(run.ResultsFilePath)
	if err != nil {
		return rtmodel.TasksetRunResult{}, fmt.Errorf("driver: read back result %s: %w", run.ResultsFilePath, err)
	}

	instances, err := serde.ParseResult(run.Taskset, string(data))
	if err != nil {
		return rtmodel.TasksetRunResult{}, err
	}

	return rtmodel.TasksetRunResult{Taskset: run.Taskset, Config: run.Config, Results: instances}, nil
}
