package driver

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"hcbs-harness/pkg/rtime"
	"hcbs-harness/pkg/rtmodel"
	"hcbs-harness/pkg/serde"
	"hcbs-harness/pkg/workload"
)

type fakeAdapter struct {
	cpuSpeed   uint64
	speedErr   error
	result     rtmodel.TasksetRunResult
	runErr     error
	runCalls   int
	speedCalls int
}

func (f *fakeAdapter) ComputeCPUSpeed() (uint64, error) {
	f.speedCalls++
	return f.cpuSpeed, f.speedErr
}

func (f *fakeAdapter) RunTaskset(run rtmodel.TasksetRun, base workload.BaseArgs, cycles uint64) (rtmodel.TasksetRunResult, error) {
	f.runCalls++
	return f.result, f.runErr
}

func mustTaskset(t *testing.T) rtmodel.NamedTaskset {
	t.Helper()

	task, err := rtmodel.NewRTTask(rtime.FromMillis(10), rtime.FromMillis(100), rtime.FromMillis(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ts, err := rtmodel.NewNamedTaskset("demo", []rtmodel.RTTask{task})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return ts
}

func mustConfig(t *testing.T) rtmodel.NamedConfig {
	t.Helper()

	cfg, err := rtmodel.NewNamedConfig("cfg0", 1, rtime.FromMillis(14), rtime.FromMillis(20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return cfg
}

func newTestDriver(t *testing.T, adapter workload.Adapter, buf *bytes.Buffer) *Driver {
	t.Helper()

	d := New(Options{
		CgroupRoot:         t.TempDir(),
		CgroupName:         "g0",
		MaxNumCPUs:         4,
		MaxAllocableBW:     0.9,
		NumInstancesPerJob: 10,
		ScratchDir:         t.TempDir(),
		Logger:             zap.NewNop(),
	}, adapter, NewReporter(buf))

	d.newSession = func(cfg rtmodel.NamedConfig) (*RunSession, error) {
		return &RunSession{cgroup: nil, logger: zap.NewNop()}, nil
	}

	return d
}

func TestRunOneLoadsAndReportsAlreadyPersistedResult(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	adapter := &fakeAdapter{}
	d := newTestDriver(t, adapter, &buf)

	ts := mustTaskset(t)

	data, err := serde.SerializeResult(ts, []rtmodel.TasksetRunResultInstance{
		{TaskIndex: 0, InstanceIndex: 0, RelFinishTime: rtime.FromMillis(90)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resultsPath := filepath.Join(t.TempDir(), "output")
	if err := os.WriteFile(resultsPath, []byte(data), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	run := rtmodel.TasksetRun{Taskset: ts, Config: mustConfig(t), ResultsFilePath: resultsPath}

	insights, err := d.runOne(run, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if adapter.runCalls != 0 {
		t.Fatalf("expected RunTaskset not to be called for an already-run result, got %d calls", adapter.runCalls)
	}

	if insights.NumOverruns != 0 {
		t.Fatalf("expected the loaded result to report no overruns, got %+v", insights)
	}

	if !strings.Contains(buf.String(), "already run") {
		t.Fatalf("expected the skipped banner to be printed, got %q", buf.String())
	}
}

func TestRunOneRejectsInadmissibleRun(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	adapter := &fakeAdapter{}
	d := newTestDriver(t, adapter, &buf)
	d.opts.MaxNumCPUs = 0 // forces every run to fail planner.CanRun's cpu check

	run := rtmodel.TasksetRun{
		Taskset:         mustTaskset(t),
		Config:          mustConfig(t),
		ResultsFilePath: filepath.Join(t.TempDir(), "output"),
	}

	if err := d.RunOne(run, 1000); !errors.Is(err, ErrNotAdmissible) {
		t.Fatalf("expected ErrNotAdmissible, got %v", err)
	}

	if adapter.runCalls != 0 {
		t.Fatalf("expected RunTaskset not to be called for an inadmissible run, got %d calls", adapter.runCalls)
	}
}

func TestRunOnePersistsResultAndReportsSuccess(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	ts := mustTaskset(t)
	adapter := &fakeAdapter{
		cpuSpeed: 1000,
		result: rtmodel.TasksetRunResult{
			Taskset: ts,
			Config:  mustConfig(t),
			Results: []rtmodel.TasksetRunResultInstance{
				{TaskIndex: 0, InstanceIndex: 0, RelFinishTime: rtime.FromMillis(90)},
			},
		},
	}

	d := newTestDriver(t, adapter, &buf)

	resultsPath := filepath.Join(t.TempDir(), "results", "output-cfg0")
	run := rtmodel.TasksetRun{Taskset: ts, Config: mustConfig(t), ResultsFilePath: resultsPath}

	if err := d.RunOne(run, 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(resultsPath); err != nil {
		t.Fatalf("expected result file to be written: %v", err)
	}

	if adapter.runCalls != 1 {
		t.Fatalf("expected exactly one RunTaskset call, got %d", adapter.runCalls)
	}
}

func TestRunOneStartsConfiguredBackgroundLoadBeforeRunningWorkload(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	ts := mustTaskset(t)
	adapter := &fakeAdapter{
		cpuSpeed: 1000,
		result: rtmodel.TasksetRunResult{
			Taskset: ts,
			Config:  mustConfig(t),
			Results: []rtmodel.TasksetRunResultInstance{
				{TaskIndex: 0, InstanceIndex: 0, RelFinishTime: rtime.FromMillis(90)},
			},
		},
	}

	d := newTestDriver(t, adapter, &buf)
	d.opts.BackgroundLoad = BackgroundLoadHog

	startCalls := 0

	d.startBackgroundLoad = func() (*workload.ManagedProcess, error) {
		startCalls++
		return nil, nil
	}

	resultsPath := filepath.Join(t.TempDir(), "results", "output-cfg0")
	run := rtmodel.TasksetRun{Taskset: ts, Config: mustConfig(t), ResultsFilePath: resultsPath}

	if err := d.RunOne(run, 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if startCalls != 1 {
		t.Fatalf("expected startBackgroundLoad to be called exactly once, got %d", startCalls)
	}

	if adapter.runCalls != 1 {
		t.Fatalf("expected the workload to still run once background load is started, got %d calls", adapter.runCalls)
	}
}

func TestRunOneFailsWhenBackgroundLoadCannotStart(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	adapter := &fakeAdapter{}
	d := newTestDriver(t, adapter, &buf)
	d.opts.BackgroundLoad = BackgroundLoadHog

	startErr := errors.New("tools binary not found")
	d.startBackgroundLoad = func() (*workload.ManagedProcess, error) {
		return nil, startErr
	}

	run := rtmodel.TasksetRun{
		Taskset:         mustTaskset(t),
		Config:          mustConfig(t),
		ResultsFilePath: filepath.Join(t.TempDir(), "output"),
	}

	if err := d.RunOne(run, 1000); !errors.Is(err, startErr) {
		t.Fatalf("expected the background load error to surface, got %v", err)
	}

	if adapter.runCalls != 0 {
		t.Fatalf("expected RunTaskset not to be called when background load fails, got %d calls", adapter.runCalls)
	}
}

func TestRunOneReportsFailureWhenAdapterErrors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	adapter := &fakeAdapter{runErr: errors.New("workload crashed")}
	d := newTestDriver(t, adapter, &buf)

	run := rtmodel.TasksetRun{
		Taskset:         mustTaskset(t),
		Config:          mustConfig(t),
		ResultsFilePath: filepath.Join(t.TempDir(), "output"),
	}

	if err := d.RunOne(run, 1000); err == nil {
		t.Fatalf("expected an error when the adapter fails")
	}
}

func TestReporterSummaryPrintsAggregate(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	NewReporter(&buf).Summary(2, 8, 0.25)

	if got := buf.String(); got != "2/8 failures/tests, 0.2500 failure ratio\n" {
		t.Fatalf("unexpected summary line: %q", got)
	}
}
