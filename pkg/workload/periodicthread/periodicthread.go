// Package periodicthread adapts the periodic_thread workload binary to
// the workload.Adapter contract (spec.md §4.6.1). Grounded on
// tests/periodic_thread/mod.rs in the original test suite.
package periodicthread

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"hcbs-harness/pkg/rtime"
	"hcbs-harness/pkg/rtmodel"
	"hcbs-harness/pkg/workload"
)

func buildCommand(path string, args []string, stdout *os.File) *exec.Cmd {
	cmd := exec.Command(path, args...)
	cmd.Stdin = nil
	cmd.Stdout = stdout
	cmd.Stderr = nil

	return cmd
}

// ErrNoCycles is returned when the binary's stdout never produced a
// "#Cycles:" calibration line.
var ErrNoCycles = errors.New("periodicthread: calibration cycles not found in output")

// ErrInstanceCountMismatch is returned when the parsed output does not
// contain exactly numInstancesPerJob instances for every task.
var ErrInstanceCountMismatch = errors.New("periodicthread: generated an incorrect output")

const defaultBinDir = "/bin"

// Adapter runs periodic_thread as the workload back-end.
type Adapter struct {
	Logger *zap.Logger
}

// New constructs an Adapter.
func New(logger *zap.Logger) *Adapter {
	return &Adapter{Logger: logger}
}

// ComputeCPUSpeed runs a single-task (wcet 10ms, period 100ms),
// single-instance calibration pass with the task at priority 99, and parses
// the resulting "#Cycles: <n>" line. Neither ComputeCPUSpeed nor the
// driver's calibration step pins the process to a CPU or changes its
// scheduling policy; ComputeCPUSpeed only spawns the binary and parses its
// output.
func (a *Adapter) ComputeCPUSpeed(outFile string) (uint64, error) {
	calibrationTask, err := rtmodel.NewRTTask(rtime.FromMillis(10), rtime.FromMillis(100), rtime.FromMillis(100))
	if err != nil {
		return 0, fmt.Errorf("periodicthread: build calibration task: %w", err)
	}

	proc, err := spawn(spawnArgs{
		startPriority:      99,
		cpuSpeed:           nil,
		tasks:              []rtmodel.RTTask{calibrationTask},
		numInstancesPerJob: 1,
		outFile:            outFile,
	}, a.Logger)
	if err != nil {
		return 0, err
	}
	defer proc.Close()

	if err := proc.Wait(); err != nil {
		return 0, fmt.Errorf("periodicthread: calibration run: %w", err)
	}

	return parseCycles(outFile)
}

// RunTaskset assembles the per-task CLI flags, spawns periodic_thread with
// its stdout redirected to outFile, waits for exit, and parses the result.
// The workload inherits the current process's cgroup, cpuset and scheduling
// policy; the driver's RunSession sets up the cgroup and cpuset beforehand.
func (a *Adapter) RunTaskset(run rtmodel.TasksetRun, base workload.BaseArgs, cycles uint64, outFile string) (rtmodel.TasksetRunResult, error) {
	if _, err := os.Stat(outFile); err == nil {
		if err := os.Remove(outFile); err != nil {
			return rtmodel.TasksetRunResult{}, fmt.Errorf("periodicthread: remove stale output %s: %w", outFile, err)
		}
	}

	proc, err := spawn(spawnArgs{
		startPriority:      98,
		cpuSpeed:           &cycles,
		tasks:              run.Taskset.Tasks,
		numInstancesPerJob: base.NumInstancesPerJob,
		outFile:            outFile,
	}, a.Logger)
	if err != nil {
		return rtmodel.TasksetRunResult{}, err
	}
	defer proc.Close()

	if err := proc.Wait(); err != nil {
		return rtmodel.TasksetRunResult{}, fmt.Errorf("periodicthread: run taskset %s: %w", run.Taskset.Name, err)
	}

	results, err := ParseOutput(outFile)
	if err != nil {
		return rtmodel.TasksetRunResult{}, err
	}

	if err := validateInstanceCounts(run.Taskset, run.Config.Name, results, base.NumInstancesPerJob); err != nil {
		return rtmodel.TasksetRunResult{}, err
	}

	return rtmodel.TasksetRunResult{Taskset: run.Taskset, Config: run.Config, Results: results}, nil
}

type spawnArgs struct {
	startPriority      uint64
	cpuSpeed           *uint64
	tasks              []rtmodel.RTTask
	numInstancesPerJob uint64
	outFile            string
}

func spawn(args spawnArgs, logger *zap.Logger) (*workload.ManagedProcess, error) {
	if len(args.tasks) == 0 {
		return nil, errors.New("periodicthread: no tasks to run")
	}

	path, err := workload.ResolveBinary(defaultBinDir, "periodic_thread")
	if err != nil {
		return nil, err
	}

	cmdArgs := buildArgs(args)

	out, err := os.OpenFile(args.outFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("periodicthread: create output file %s: %w", args.outFile, err)
	}
	defer out.Close()

	cmd := buildCommand(path, cmdArgs, out)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("periodicthread: start: %w", err)
	}

	return workload.NewManagedProcess(cmd, logger), nil
}

// buildArgs assembles the "-C wcet -p period -P prio" triple per task in
// descending priority order (shorter period = higher priority, matching
// rate-monotonic, since tasks are already period-ascending), followed by
// "-R cycles -N instances -n num_tasks".
func buildArgs(args spawnArgs) []string {
	cmdArgs := make([]string, 0, len(args.tasks)*6+6)

	priority := args.startPriority
	for _, task := range args.tasks {
		cmdArgs = append(cmdArgs,
			"-C", strconv.FormatInt(task.WCET.Micros(), 10),
			"-p", strconv.FormatInt(task.Period.Micros(), 10),
			"-P", strconv.FormatUint(priority, 10),
		)

		priority--
	}

	if args.cpuSpeed != nil {
		cmdArgs = append(cmdArgs, "-R", strconv.FormatUint(*args.cpuSpeed, 10))
	}

	cmdArgs = append(cmdArgs,
		"-N", strconv.FormatUint(args.numInstancesPerJob, 10),
		"-n", strconv.Itoa(len(args.tasks)),
	)

	return cmdArgs
}

func parseCycles(outFile string) (uint64, error) {
	f, err := os.Open(outFile)
	if err != nil {
		return 0, fmt.Errorf("periodicthread: open calibration output %s: %w", outFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "#Cycles:") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("%w: malformed line %q", ErrNoCycles, line)
		}

		cycles, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrNoCycles, err)
		}

		return cycles, nil
	}

	return 0, ErrNoCycles
}

// ParseOutput parses periodic_thread's stdout: lines starting with "#" are
// comments, everything else is five whitespace-separated integers
// (task, instance, abs_finish_us, rel_finish_us, runtime_us) followed by a
// signed decimal deadline-offset the original discards. This is a
// narrower, distinct format from the on-disk result format (pkg/serde);
// abs_activation_time and rel_start_time are derived here rather than read
// directly.
func ParseOutput(outFile string) ([]rtmodel.TasksetRunResultInstance, error) {
	data, err := os.ReadFile(outFile)
	if err != nil {
		return nil, fmt.Errorf("periodicthread: read output %s: %w", outFile, err)
	}

	var instances []rtmodel.TasksetRunResultInstance

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		inst, err := parseLine(line)
		if err != nil {
			return nil, err
		}

		instances = append(instances, inst)
	}

	return instances, nil
}

func parseLine(line string) (rtmodel.TasksetRunResultInstance, error) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return rtmodel.TasksetRunResultInstance{}, fmt.Errorf("periodicthread: result line %q wants 6 fields, got %d", line, len(fields))
	}

	task, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return rtmodel.TasksetRunResultInstance{}, fmt.Errorf("periodicthread: task field %q: %w", fields[0], err)
	}

	instance, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return rtmodel.TasksetRunResultInstance{}, fmt.Errorf("periodicthread: instance field %q: %w", fields[1], err)
	}

	absFinishUs, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return rtmodel.TasksetRunResultInstance{}, fmt.Errorf("periodicthread: abs_finish field %q: %w", fields[2], err)
	}

	relFinishUs, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return rtmodel.TasksetRunResultInstance{}, fmt.Errorf("periodicthread: rel_finish field %q: %w", fields[3], err)
	}

	runtimeUs, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return rtmodel.TasksetRunResultInstance{}, fmt.Errorf("periodicthread: runtime field %q: %w", fields[4], err)
	}

	return rtmodel.TasksetRunResultInstance{
		TaskIndex:         task,
		InstanceIndex:     instance,
		AbsActivationTime: rtime.FromMicros(absFinishUs - relFinishUs),
		RelStartTime:      rtime.FromMicros(relFinishUs - runtimeUs),
		RelFinishTime:     rtime.FromMicros(relFinishUs),
	}, nil
}

func validateInstanceCounts(taskset rtmodel.NamedTaskset, configName string, results []rtmodel.TasksetRunResultInstance, expected uint64) error {
	counts := make(map[uint64]uint64, len(taskset.Tasks))
	for _, inst := range results {
		counts[inst.TaskIndex]++
	}

	for i := range taskset.Tasks {
		if counts[uint64(i)] != expected {
			return fmt.Errorf("%w: taskset %s, config %s, task %d has %d instances, wanted %d",
				ErrInstanceCountMismatch, taskset.Name, configName, i, counts[uint64(i)], expected)
		}
	}

	return nil
}
