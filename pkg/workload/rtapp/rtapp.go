package rtapp

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"hcbs-harness/pkg/rtime"
	"hcbs-harness/pkg/rtmodel"
	"hcbs-harness/pkg/workload"
)

// ErrNoCalibration is returned when rt-app's calibration stdout never
// produced a "pLoad =" line.
var ErrNoCalibration = errors.New("rtapp: calibration load not found in output")

// ErrMissingLog is returned when a task's expected per-task log file is
// absent after an rt-app run.
var ErrMissingLog = errors.New("rtapp: missing per-task log file")

const defaultBinDir = "/bin"

// Adapter runs rt-app as the workload back-end.
type Adapter struct {
	Logger *zap.Logger
}

// New constructs an Adapter.
func New(logger *zap.Logger) *Adapter {
	return &Adapter{Logger: logger}
}

// ComputeCPUSpeed runs rt-app's built-in CPU0 calibration and parses the
// "pLoad =" line from its stdout, extracting the nanosecond figure from the
// fifth whitespace-separated token (stripping the trailing "ns").
func (a *Adapter) ComputeCPUSpeed(configFile, stdoutFile string) (uint64, error) {
	if err := os.WriteFile(configFile, calibrationConfig(), 0o644); err != nil {
		return 0, fmt.Errorf("rtapp: write calibration config: %w", err)
	}

	proc, err := spawn(configFile, stdoutFile, a.Logger)
	if err != nil {
		return 0, err
	}
	defer proc.Close()

	if err := proc.Wait(); err != nil {
		return 0, fmt.Errorf("rtapp: calibration run: %w", err)
	}

	return parseCalibration(stdoutFile)
}

// RunTaskset generates the taskset's JSON config, spawns rt-app, waits for
// exit, and parses every task's per-task log file under logDir. rt-app
// inherits the current process's cgroup and cpuset, which the driver's
// RunSession sets up beforehand.
func (a *Adapter) RunTaskset(run rtmodel.TasksetRun, base workload.BaseArgs, cycles uint64, logDir, configFile, stdoutFile string) (rtmodel.TasksetRunResult, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return rtmodel.TasksetRunResult{}, fmt.Errorf("rtapp: create log dir %s: %w", logDir, err)
	}

	config := TaskRunConfig(run.Taskset, base.NumInstancesPerJob, logDir, cycles)
	if err := os.WriteFile(configFile, config, 0o644); err != nil {
		return rtmodel.TasksetRunResult{}, fmt.Errorf("rtapp: write config: %w", err)
	}

	proc, err := spawn(configFile, stdoutFile, a.Logger)
	if err != nil {
		return rtmodel.TasksetRunResult{}, err
	}
	defer proc.Close()

	if err := proc.Wait(); err != nil {
		return rtmodel.TasksetRunResult{}, fmt.Errorf("rtapp: run taskset %s: %w", run.Taskset.Name, err)
	}

	results, err := parseTasksetResults(run.Taskset, logDir)
	if err != nil {
		return rtmodel.TasksetRunResult{}, err
	}

	return rtmodel.TasksetRunResult{Taskset: run.Taskset, Config: run.Config, Results: results}, nil
}

func spawn(configFile, stdoutFile string, logger *zap.Logger) (*workload.ManagedProcess, error) {
	path, err := workload.ResolveBinary(defaultBinDir, "rt-app")
	if err != nil {
		return nil, err
	}

	out, err := os.OpenFile(stdoutFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rtapp: create stdout file %s: %w", stdoutFile, err)
	}
	defer out.Close()

	cmd := exec.Command(path, configFile)
	cmd.Stdin = nil
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("rtapp: start: %w", err)
	}

	return workload.NewManagedProcess(cmd, logger), nil
}

func parseCalibration(stdoutFile string) (uint64, error) {
	f, err := os.Open(stdoutFile)
	if err != nil {
		return 0, fmt.Errorf("rtapp: open calibration output %s: %w", stdoutFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.Contains(line, "pLoad =") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 5 {
			return 0, fmt.Errorf("%w: malformed line %q", ErrNoCalibration, line)
		}

		token := strings.TrimSuffix(fields[4], "ns")

		cycles, err := strconv.ParseUint(token, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrNoCalibration, err)
		}

		return cycles, nil
	}

	return 0, ErrNoCalibration
}

func parseTasksetResults(taskset rtmodel.NamedTaskset, logDir string) ([]rtmodel.TasksetRunResultInstance, error) {
	var all []rtmodel.TasksetRunResultInstance

	for i := range taskset.Tasks {
		logName := filepath.Join(logDir, fmt.Sprintf("rt-app-task%02d-%d.log", i, i))

		if _, err := os.Stat(logName); err != nil {
			return nil, fmt.Errorf("%w: task %d, %s: %w", ErrMissingLog, i, logName, err)
		}

		instances, err := parseTaskLog(uint64(i), logName)
		if err != nil {
			return nil, err
		}

		all = append(all, instances...)
	}

	return all, nil
}

// parseTaskLog skips the three-row header and parses each 13-field data
// row, deriving abs_activation = start, rel_finish = c_period - slack,
// rel_start = rel_finish - run (spec.md §4.6.2); instance is assigned as
// the row's index within the file.
func parseTaskLog(taskIndex uint64, logName string) ([]rtmodel.TasksetRunResultInstance, error) {
	data, err := os.ReadFile(logName)
	if err != nil {
		return nil, fmt.Errorf("rtapp: read log %s: %w", logName, err)
	}

	var (
		instances  []rtmodel.TasksetRunResultInstance
		headerRows = 3
		rowIndex   uint64
	)

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if headerRows > 0 {
			headerRows--
			continue
		}

		inst, err := parseTaskLogRow(taskIndex, rowIndex, line)
		if err != nil {
			return nil, fmt.Errorf("rtapp: %s: %w", logName, err)
		}

		instances = append(instances, inst)
		rowIndex++
	}

	return instances, nil
}

const taskLogFieldCount = 13

func parseTaskLogRow(taskIndex, rowIndex uint64, line string) (rtmodel.TasksetRunResultInstance, error) {
	fields := strings.Fields(line)
	if len(fields) != taskLogFieldCount {
		return rtmodel.TasksetRunResultInstance{}, fmt.Errorf("result row %q wants %d fields, got %d", line, taskLogFieldCount, len(fields))
	}

	run, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return rtmodel.TasksetRunResultInstance{}, fmt.Errorf("run field %q: %w", fields[2], err)
	}

	start, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return rtmodel.TasksetRunResultInstance{}, fmt.Errorf("start field %q: %w", fields[4], err)
	}

	slack, err := strconv.ParseInt(fields[7], 10, 64)
	if err != nil {
		return rtmodel.TasksetRunResultInstance{}, fmt.Errorf("slack field %q: %w", fields[7], err)
	}

	cPeriod, err := strconv.ParseInt(fields[9], 10, 64)
	if err != nil {
		return rtmodel.TasksetRunResultInstance{}, fmt.Errorf("c_period field %q: %w", fields[9], err)
	}

	relFinish := cPeriod - slack

	return rtmodel.TasksetRunResultInstance{
		TaskIndex:         taskIndex,
		InstanceIndex:     rowIndex,
		AbsActivationTime: rtime.FromMicros(start),
		RelStartTime:      rtime.FromMicros(relFinish - run),
		RelFinishTime:     rtime.FromMicros(relFinish),
	}, nil
}
